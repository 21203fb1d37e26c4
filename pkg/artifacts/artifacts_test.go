package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "dev/bravebird/ipview-verify/pkg/config"
	"dev/bravebird/ipview-verify/pkg/models"
)

var png = []byte("\x89PNG\r\n\x1a\nbody")

func TestLocalStoreFlatLayout(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStore(dir, false)

	a, err := s.Save(context.Background(), "run-1", models.PhaseSettle, models.ArtifactTimeout, png)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "debug_timeout.png"), a.Path)
	assert.Equal(t, models.PhaseSettle, a.Phase)
	assert.Equal(t, models.ArtifactTimeout, a.Name)
	assert.False(t, a.CapturedAt.IsZero())

	data, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	assert.Equal(t, png, data)
}

func TestLocalStorePerRunLayout(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStore(dir, true)

	a, err := s.Save(context.Background(), "run-1", models.PhaseToggle, models.ArtifactTogglePost, png)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run-1", "toggle_post.png"), a.Path)

	path, err := s.WriteFile(context.Background(), "run-1", ResultFile, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run-1", "result.json"), path)

	resolved, err := s.Resolve("run-1", "toggle_post.png")
	require.NoError(t, err)
	assert.Equal(t, a.Path, resolved)
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	s := NewLocalStore(t.TempDir(), true)

	for _, name := range []string{"", "..", "../etc/passwd", "a/b", `a\b`} {
		_, err := s.Resolve("run-1", name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
	_, err := s.Resolve("../other", "x.png")
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = s.Save(context.Background(), "run-1", models.PhaseSettle, "../escape", png)
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestLocalStoreHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocalStore(t.TempDir(), false).Save(ctx, "r", models.PhaseSettle, "settled", png)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestS3ClientKeyAndURL(t *testing.T) {
	c := NewS3ClientFrom(nil, "evidence", "/verify/", "http://s3.local/")
	assert.Equal(t, "verify/run-1/settled.png", c.Key("run-1", "settled.png"))
	assert.Equal(t, "http://s3.local/evidence/verify/run-1/settled.png", c.URL("verify/run-1/settled.png"))

	bare := NewS3ClientFrom(nil, "evidence", "", "")
	assert.Equal(t, "settled.png", bare.Key("", "settled.png"))
	assert.Equal(t, "s3://evidence/settled.png", bare.URL("settled.png"))
}

func TestMirrorStoreUploads(t *testing.T) {
	ctx := context.Background()
	remote := TestS3Client(t, "evidence", "runs")
	m := &MirrorStore{Local: NewLocalStore(t.TempDir(), true), Remote: remote}

	a, err := m.Save(ctx, "run-7", models.PhaseToggle, models.ArtifactToggleBaseline, png)
	require.NoError(t, err)
	assert.FileExists(t, a.Path)
	assert.Contains(t, a.URL, "runs/run-7/toggle_baseline.png")

	got, err := remote.GetObject(ctx, "runs/run-7/toggle_baseline.png")
	require.NoError(t, err)
	assert.Equal(t, png, got)

	_, err = m.WriteFile(ctx, "run-7", ResultFile, []byte(`{"status":"success"}`))
	require.NoError(t, err)
	got, err = remote.GetObject(ctx, "runs/run-7/result.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success"}`, string(got))
}

func TestMirrorStoreKeepsLocalWhenUploadFails(t *testing.T) {
	ctx := context.Background()
	remote := TestS3Client(t, "evidence", "")
	remote.bucket = "missing-bucket"
	m := &MirrorStore{Local: NewLocalStore(t.TempDir(), false), Remote: remote}

	a, err := m.Save(ctx, "run-1", models.PhaseSettle, models.ArtifactSettled, png)
	require.NoError(t, err)
	assert.FileExists(t, a.Path)
	assert.Empty(t, a.URL)
}

func TestGetObjectNotFound(t *testing.T) {
	remote := TestS3Client(t, "evidence", "")
	_, err := remote.GetObject(context.Background(), "nope.png")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestNewPicksStoreFromConfig(t *testing.T) {
	s, err := New(context.Background(), appconfig.ArtifactConfig{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	_, ok := s.(*LocalStore)
	assert.True(t, ok)

	s, err = New(context.Background(), appconfig.ArtifactConfig{
		Dir: t.TempDir(),
		S3: appconfig.S3Config{
			Bucket:          "evidence",
			Region:          "us-east-1",
			Endpoint:        "http://127.0.0.1:1",
			AccessKeyID:     "k",
			SecretAccessKey: "s",
			UsePathStyle:    true,
		},
	}, nil)
	require.NoError(t, err)
	_, ok = s.(*MirrorStore)
	assert.True(t, ok)
}

func TestLocalStoreFetch(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir(), true)
	_, err := s.Save(ctx, "run-1", models.PhaseSettle, models.ArtifactSettled, png)
	require.NoError(t, err)

	got, err := s.Fetch(ctx, "run-1", "settled.png")
	require.NoError(t, err)
	assert.Equal(t, png, got)

	_, err = s.Fetch(ctx, "run-1", "structure.png")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Fetch(ctx, "run-1", "../settled.png")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestMirrorStoreFetchFallsBackToBucket(t *testing.T) {
	ctx := context.Background()
	remote := TestS3Client(t, "evidence", "runs")
	require.NoError(t, remote.PutObject(ctx, remote.Key("run-9", "settled.png"), png, "image/png"))
	m := &MirrorStore{Local: NewLocalStore(t.TempDir(), true), Remote: remote}

	got, err := m.Fetch(ctx, "run-9", "settled.png")
	require.NoError(t, err)
	assert.Equal(t, png, got)

	_, err = m.Fetch(ctx, "run-9", "structure.png")
	assert.ErrorIs(t, err, ErrNotFound)
}
