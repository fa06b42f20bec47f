// Package thumbcache implements the content-addressed on-disk store for
// rendered thumbnails. Entries are keyed by source key hash plus output
// dimensions; the cache never re-validates against the source, so a
// changed source stays stale until its key changes.
package thumbcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/spf13/afero"

	"github.com/farmsight/farmsight/internal/raster"
	"github.com/farmsight/farmsight/pkg/errors"
	"github.com/farmsight/farmsight/pkg/types"
)

// RenderFunc produces the normalized pixels for a cache miss.
type RenderFunc func(ctx context.Context) (image.Image, error)

// Cache is a write-once PNG thumbnail store on a flat directory.
type Cache struct {
	fs        afero.Fs
	directory string
	logger    *slog.Logger

	mu       sync.Mutex
	inflight map[string]*sync.Mutex
	stats    types.CacheStats
}

// New creates a thumbnail cache rooted at directory on the host
// filesystem.
func New(directory string, logger *slog.Logger) (*Cache, error) {
	return NewWithFS(afero.NewOsFs(), directory, logger)
}

// NewWithFS creates a thumbnail cache on the given filesystem. Tests use
// an in-memory filesystem here.
func NewWithFS(fs afero.Fs, directory string, logger *slog.Logger) (*Cache, error) {
	if directory == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig,
			"thumbnail cache directory is required").
			WithComponent("thumbcache")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := fs.MkdirAll(directory, 0750); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCacheWrite,
			"failed to create thumbnail cache directory", err).
			WithComponent("thumbcache").
			WithContext("directory", directory)
	}
	return &Cache{
		fs:        fs,
		directory: directory,
		logger:    logger,
		inflight:  make(map[string]*sync.Mutex),
	}, nil
}

// Key derives the cache entry name for a source key and output size.
func Key(sourceKey string, width, height int) string {
	sum := sha256.Sum256([]byte(sourceKey))
	return fmt.Sprintf("%s_%dx%d.png", hex.EncodeToString(sum[:]), width, height)
}

// GetOrRender returns the cached PNG for sourceKey at the requested size,
// rendering and persisting it on a miss. The hit result reports whether
// the entry was served from disk, so callers can attribute latency to a
// render rather than a read. Concurrent requests for the same entry
// render at most once; a failed disk write degrades to returning the
// encoded bytes without caching.
func (c *Cache) GetOrRender(ctx context.Context, sourceKey string, width, height int, render RenderFunc) (data []byte, hit bool, err error) {
	key := Key(sourceKey, width, height)

	lock := c.entryLock(key)
	lock.Lock()
	defer lock.Unlock()

	if data, err := afero.ReadFile(c.fs, c.entryPath(key)); err == nil {
		c.recordHit()
		return data, true, nil
	}
	c.recordMiss()

	if err := ctx.Err(); err != nil {
		return nil, false, errors.Wrap(errors.ErrCodeOperationTimeout,
			"thumbnail render canceled", err).
			WithComponent("thumbcache").
			WithContext("key", key)
	}

	img, err := render(ctx)
	if err != nil {
		return nil, false, err
	}
	c.recordRender()

	data, err = raster.EncodePNG(img)
	if err != nil {
		return nil, false, err
	}

	if err := c.persist(key, data); err != nil {
		// Serve from memory; the next request will try the disk again.
		c.logger.Warn("thumbnail cache write failed, serving uncached",
			"key", key, "error", err)
		return data, false, nil
	}
	return data, false, nil
}

// persist writes an entry through a temp file and rename so readers never
// observe a partial thumbnail.
func (c *Cache) persist(key string, data []byte) error {
	tmp, err := afero.TempFile(c.fs, c.directory, key+".tmp-*")
	if err != nil {
		return errors.Wrap(errors.ErrCodeCacheWrite,
			"failed to create temp cache file", err).
			WithComponent("thumbcache").
			WithContext("key", key)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		c.fs.Remove(tmpName)
		return errors.Wrap(errors.ErrCodeCacheWrite,
			"failed to write cache entry", err).
			WithComponent("thumbcache").
			WithContext("key", key)
	}
	if err := tmp.Close(); err != nil {
		c.fs.Remove(tmpName)
		return errors.Wrap(errors.ErrCodeCacheWrite,
			"failed to close cache entry", err).
			WithComponent("thumbcache").
			WithContext("key", key)
	}
	if err := c.fs.Rename(tmpName, c.entryPath(key)); err != nil {
		c.fs.Remove(tmpName)
		return errors.Wrap(errors.ErrCodeCacheWrite,
			"failed to commit cache entry", err).
			WithComponent("thumbcache").
			WithContext("key", key)
	}

	c.mu.Lock()
	c.stats.Size += int64(len(data))
	c.mu.Unlock()
	return nil
}

// Contains reports whether an entry is already on disk.
func (c *Cache) Contains(sourceKey string, width, height int) bool {
	ok, err := afero.Exists(c.fs, c.entryPath(Key(sourceKey, width, height)))
	return err == nil && ok
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *Cache) entryPath(key string) string {
	return c.directory + "/" + key
}

// entryLock returns the per-entry mutex, creating it on first use. The
// map only grows; entry names are bounded by the dataset size.
func (c *Cache) entryLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.inflight[key]
	if !ok {
		lock = &sync.Mutex{}
		c.inflight[key] = lock
	}
	return lock
}

func (c *Cache) recordHit() {
	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
}

func (c *Cache) recordRender() {
	c.mu.Lock()
	c.stats.Renders++
	c.mu.Unlock()
}
