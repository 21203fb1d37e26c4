// Package artifacts persists run evidence: one PNG per phase plus result.json.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dev/bravebird/ipview-verify/pkg/models"
)

// ResultFile is the name of the structured result written next to the screenshots.
const ResultFile = "result.json"

// ErrInvalidName is returned for artifact names that would escape the store.
var ErrInvalidName = errors.New("artifacts: invalid name")

// ErrNotFound is returned by Fetch when no copy of a file exists.
var ErrNotFound = errors.New("artifacts: not found")

// Store saves screenshots and auxiliary run files.
type Store interface {
	Save(ctx context.Context, runID string, phase models.Phase, name string, png []byte) (models.Artifact, error)
	WriteFile(ctx context.Context, runID, filename string, data []byte) (string, error)
}

// Fetcher reads back a file written by a Store.
type Fetcher interface {
	Fetch(ctx context.Context, runID, filename string) ([]byte, error)
}

// LocalStore writes artifacts under Dir, in a subdirectory per run when PerRun is set.
type LocalStore struct {
	Dir    string
	PerRun bool
}

// NewLocalStore creates a store rooted at dir
func NewLocalStore(dir string, perRun bool) *LocalStore {
	return &LocalStore{Dir: dir, PerRun: perRun}
}

// RunDir is the directory holding runID's artifacts.
func (s *LocalStore) RunDir(runID string) string {
	if s.PerRun && runID != "" {
		return filepath.Join(s.Dir, runID)
	}
	return s.Dir
}

// Save writes png as <RunDir>/<name>.png
func (s *LocalStore) Save(ctx context.Context, runID string, phase models.Phase, name string, png []byte) (models.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return models.Artifact{}, err
	}
	if err := checkName(name); err != nil {
		return models.Artifact{}, err
	}

	dir := s.RunDir(runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return models.Artifact{}, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	path := filepath.Join(dir, name+".png")
	if err := os.WriteFile(path, png, 0644); err != nil {
		return models.Artifact{}, fmt.Errorf("failed to save screenshot: %w", err)
	}

	return models.Artifact{
		Name:       name,
		Phase:      phase,
		Path:       path,
		CapturedAt: time.Now(),
	}, nil
}

// WriteFile stores an auxiliary file (such as result.json) in the run directory.
func (s *LocalStore) WriteFile(ctx context.Context, runID, filename string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := checkName(filename); err != nil {
		return "", err
	}
	dir := s.RunDir(runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", filename, err)
	}
	return path, nil
}

// Resolve returns the on-disk path of filename for runID, rejecting names that
// are not plain file names.
func (s *LocalStore) Resolve(runID, filename string) (string, error) {
	if err := checkName(filename); err != nil {
		return "", err
	}
	if runID != "" {
		if err := checkName(runID); err != nil {
			return "", err
		}
	}
	return filepath.Join(s.RunDir(runID), filename), nil
}

// Fetch reads filename for runID from disk.
func (s *LocalStore) Fetch(ctx context.Context, runID, filename string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.Resolve(runID, filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	return data, nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
