package artifacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	appconfig "dev/bravebird/ipview-verify/pkg/config"
	"dev/bravebird/ipview-verify/pkg/models"
)

// MirrorStore writes locally and then copies each file to S3. The local copy
// is authoritative: an upload failure is logged and the artifact keeps its path.
type MirrorStore struct {
	Local  *LocalStore
	Remote *S3Client
	Logger *slog.Logger
}

func (m *MirrorStore) Save(ctx context.Context, runID string, phase models.Phase, name string, png []byte) (models.Artifact, error) {
	a, err := m.Local.Save(ctx, runID, phase, name, png)
	if err != nil {
		return a, err
	}
	key := m.Remote.Key(runID, name+".png")
	if err := m.Remote.PutObject(ctx, key, png, "image/png"); err != nil {
		m.logger().Warn("artifact mirror failed", "run_id", runID, "artifact", name, "error", err)
		return a, nil
	}
	a.URL = m.Remote.URL(key)
	return a, nil
}

func (m *MirrorStore) WriteFile(ctx context.Context, runID, filename string, data []byte) (string, error) {
	path, err := m.Local.WriteFile(ctx, runID, filename, data)
	if err != nil {
		return path, err
	}
	contentType := http.DetectContentType(data)
	if filepath.Ext(filename) == ".json" {
		contentType = "application/json"
	}
	if err := m.Remote.PutObject(ctx, m.Remote.Key(runID, filename), data, contentType); err != nil {
		m.logger().Warn("artifact mirror failed", "run_id", runID, "file", filename, "error", err)
	}
	return path, nil
}

// Fetch prefers the local copy and falls back to the bucket, so files
// written by a worker on another host can still be served.
func (m *MirrorStore) Fetch(ctx context.Context, runID, filename string) ([]byte, error) {
	data, err := m.Local.Fetch(ctx, runID, filename)
	if !errors.Is(err, ErrNotFound) {
		return data, err
	}
	data, err = m.Remote.GetObject(ctx, m.Remote.Key(runID, filename))
	if errors.Is(err, ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	return data, err
}

func (m *MirrorStore) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// New builds the store described by cfg: local only, or local mirrored to S3
// when a bucket is configured.
func New(ctx context.Context, cfg appconfig.ArtifactConfig, logger *slog.Logger) (Store, error) {
	local := NewLocalStore(cfg.Dir, cfg.PerRun)
	if !cfg.S3.Enabled() {
		return local, nil
	}
	remote, err := NewS3Client(ctx, cfg.S3)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 artifact mirror: %w", err)
	}
	return &MirrorStore{Local: local, Remote: remote, Logger: logger}, nil
}
