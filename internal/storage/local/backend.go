// Package local implements the dataset storage backend over a local
// filesystem directory tree: one directory per farm under the dataset
// root, captures in arbitrary subdirectories below that.
package local

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/farmsight/farmsight/internal/storage"
	"github.com/farmsight/farmsight/pkg/errors"
	"github.com/farmsight/farmsight/pkg/types"
)

// Backend serves the dataset from a directory tree.
type Backend struct {
	fs     afero.Fs
	root   string
	logger *slog.Logger
}

var _ types.Backend = (*Backend)(nil)

// New creates a local backend rooted at the configured dataset directory.
func New(root string, logger *slog.Logger) (*Backend, error) {
	return NewWithFS(afero.NewOsFs(), root, logger)
}

// NewWithFS creates a local backend on the given filesystem. Tests use an
// in-memory filesystem here.
func NewWithFS(fs afero.Fs, root string, logger *slog.Logger) (*Backend, error) {
	if root == "" {
		return nil, errors.New(errors.ErrCodeMissingConfig,
			"dataset root directory is required").
			WithComponent("storage.local")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{fs: fs, root: root, logger: logger}, nil
}

// ListFarms enumerates farm directories under the dataset root. Any
// enumeration failure degrades to an empty list with a logged
// diagnostic; an empty dataset is a safe state for callers.
func (b *Backend) ListFarms(ctx context.Context) ([]string, error) {
	entries, err := afero.ReadDir(b.fs, b.root)
	if err != nil {
		b.logger.Error("failed to list dataset root",
			"root", b.root, "error", err)
		return []string{}, nil
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return storage.NormalizeFarms(ids), nil
}

// ListImages walks a farm's directory recursively and returns the
// forward-slash relative paths of recognized image files. Failures
// degrade to an empty list.
func (b *Backend) ListImages(ctx context.Context, farmID string) ([]string, error) {
	farmRoot := filepath.Join(b.root, farmID)
	var keys []string
	err := afero.Walk(b.fs, farmRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(farmRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if storage.IsImageKey(rel) {
			keys = append(keys, rel)
		}
		return nil
	})
	if err != nil {
		b.logger.Error("failed to list farm images",
			"farm", farmID, "error", err)
		return []string{}, nil
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

// GetImage reads one capture's bytes.
func (b *Backend) GetImage(ctx context.Context, farmID, relativePath string) ([]byte, error) {
	data, err := afero.ReadFile(b.fs, b.imagePath(farmID, relativePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrCodeObjectNotFound,
				"image %s/%s not found", farmID, relativePath).
				WithComponent("storage.local").
				WithOperation("get_image")
		}
		return nil, errors.Wrap(errors.ErrCodeStorageRead,
			"failed to read image", err).
			WithComponent("storage.local").
			WithContext("farm", farmID).
			WithContext("path", relativePath)
	}
	return data, nil
}

// FarmExists reports whether the farm directory is present.
func (b *Backend) FarmExists(ctx context.Context, farmID string) (bool, error) {
	if farmID == "" || farmID == storage.SentinelFarmID {
		return false, nil
	}
	ok, err := afero.DirExists(b.fs, filepath.Join(b.root, farmID))
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeStorageRead,
			"failed to stat farm directory", err).
			WithComponent("storage.local").
			WithContext("farm", farmID)
	}
	return ok, nil
}

// ImageExists reports whether one capture is present.
func (b *Backend) ImageExists(ctx context.Context, farmID, relativePath string) (bool, error) {
	ok, err := afero.Exists(b.fs, b.imagePath(farmID, relativePath))
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeStorageRead,
			"failed to stat image", err).
			WithComponent("storage.local").
			WithContext("farm", farmID).
			WithContext("path", relativePath)
	}
	return ok, nil
}

// HealthCheck verifies the dataset root is a readable directory.
func (b *Backend) HealthCheck(ctx context.Context) error {
	ok, err := afero.DirExists(b.fs, b.root)
	if err != nil || !ok {
		return errors.Newf(errors.ErrCodeInvalidConfig,
			"dataset root %s is not a readable directory", b.root).
			WithComponent("storage.local").
			WithCause(err)
	}
	return nil
}

// ModTime reports the last-modified time for the date parser's mtime
// fallback.
func (b *Backend) ModTime(farmID, relativePath string) (time.Time, bool) {
	info, err := b.fs.Stat(b.imagePath(farmID, relativePath))
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

func (b *Backend) imagePath(farmID, relativePath string) string {
	return filepath.Join(b.root, farmID, filepath.FromSlash(strings.TrimPrefix(relativePath, "/")))
}
