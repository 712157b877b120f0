// Package local implements a filesystem docstore backend. Documents are
// written atomically through a temporary file and rename. The filesystem has
// no version metadata, so every generation is 0 and conditional writes are
// not enforced.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/pnrr-announcements/internal/docstore"
)

// Config captures the parameters for the local filesystem backend.
type Config struct {
	// BaseDir is the root directory where documents will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Backend stores documents under a base directory.
type Backend struct {
	baseDir string
}

// New creates a new local filesystem backend.
func New(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Backend{baseDir: cfg.BaseDir}, nil
}

// Kind implements docstore.Backend.
func (b *Backend) Kind() string {
	return "local"
}

// Read implements docstore.Backend.
func (b *Backend) Read(_ context.Context, name string) ([]byte, int64, error) {
	fullPath, err := b.resolve(name)
	if err != nil {
		return nil, 0, err
	}
	// #nosec G304 -- path is confined to baseDir by resolve.
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, docstore.ErrNotFound
		}
		return nil, 0, fmt.Errorf("failed to read file: %w", err)
	}
	return data, 0, nil
}

// Write implements docstore.Backend. The generation argument is ignored.
func (b *Backend) Write(_ context.Context, name string, data []byte, _ *int64) (int64, error) {
	fullPath, err := b.resolve(name)
	if err != nil {
		return 0, err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, fmt.Errorf("failed to create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("failed to replace file: %w", err)
	}
	return 0, nil
}

// resolve joins name onto baseDir and rejects paths escaping it.
func (b *Backend) resolve(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("document name is required")
	}
	cleanBaseDir := filepath.Clean(b.baseDir)
	cleanFullPath := filepath.Clean(filepath.Join(b.baseDir, name))
	if !strings.HasPrefix(cleanFullPath, cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return cleanFullPath, nil
}
