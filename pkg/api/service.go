// Package api composes the storage backend, farm index, catalog builder
// and thumbnail cache into the service surface consumed by the
// annotation frontend.
package api

import (
	"bytes"
	"context"
	stderr "errors"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/farmsight/farmsight/internal/catalog"
	"github.com/farmsight/farmsight/internal/config"
	"github.com/farmsight/farmsight/internal/imagery"
	"github.com/farmsight/farmsight/internal/metrics"
	"github.com/farmsight/farmsight/internal/raster"
	"github.com/farmsight/farmsight/internal/storage/local"
	"github.com/farmsight/farmsight/internal/storage/s3"
	"github.com/farmsight/farmsight/internal/thumbcache"
	"github.com/farmsight/farmsight/pkg/errors"
	"github.com/farmsight/farmsight/pkg/types"
	"github.com/farmsight/farmsight/pkg/utils"
)

// Service is the composition root. The storage backend is selected once
// from configuration at construction and held for the process lifetime.
type Service struct {
	cfg       *config.Configuration
	backend   types.Backend
	index     *catalog.FarmIndex
	builder   *catalog.Builder
	cache     *thumbcache.Cache
	collector *metrics.Collector
	logger    *slog.Logger
}

// New builds a Service from configuration. Backend misconfiguration
// (missing credentials, absent bucket, denied access) fails here rather
// than on the first request.
func New(ctx context.Context, cfg *config.Configuration, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		var err error
		logger, err = utils.SetupLogging(cfg.Global.LogLevel, cfg.Global.LogFormat, cfg.Global.LogFile)
		if err != nil {
			return nil, err
		}
	}

	var backend types.Backend
	var parser imagery.Parser
	switch cfg.Storage.Mode {
	case config.StorageModeLocal:
		lb, err := local.New(cfg.Storage.Local.DatasetRoot, logger)
		if err != nil {
			return nil, err
		}
		backend = lb
		parser = imagery.Parser{ModTime: func(path string) (time.Time, bool) {
			farmID, rel, ok := splitKey(path)
			if !ok {
				return time.Time{}, false
			}
			return lb.ModTime(farmID, rel)
		}}
	case config.StorageModeS3:
		sb, err := s3.New(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		backend = sb
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfig,
			"unknown storage mode %q", cfg.Storage.Mode).
			WithComponent("api")
	}

	cache, err := thumbcache.New(cfg.Thumbnail.CacheDir, logger)
	if err != nil {
		return nil, err
	}

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Port:    cfg.Metrics.Port,
		Path:    cfg.Metrics.Path,
	})
	if err != nil {
		return nil, err
	}
	if err := collector.Start(ctx); err != nil {
		return nil, err
	}

	return &Service{
		cfg:       cfg,
		backend:   backend,
		index:     catalog.NewFarmIndex(backend, logger),
		builder:   catalog.NewBuilder(backend, parser, cfg.Catalog.YearsOfInterest, logger),
		cache:     cache,
		collector: collector,
		logger:    logger,
	}, nil
}

// NewWithBackend builds a Service on an already-constructed backend.
// Tests and embedders use this to skip backend construction.
func NewWithBackend(cfg *config.Configuration, backend types.Backend, cache *thumbcache.Cache, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	collector, err := metrics.NewCollector(&metrics.Config{Enabled: false})
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:       cfg,
		backend:   backend,
		index:     catalog.NewFarmIndex(backend, logger),
		builder:   catalog.NewBuilder(backend, imagery.Parser{}, cfg.Catalog.YearsOfInterest, logger),
		cache:     cache,
		collector: collector,
		logger:    logger,
	}, nil
}

// ListFarms returns the memoized farm list.
func (s *Service) ListFarms(ctx context.Context) ([]string, error) {
	farms, err := s.index.Farms(ctx, false)
	s.collector.RecordStorageOp("list_farms", err == nil)
	if err != nil {
		return nil, err
	}
	s.collector.SetFarmCount(len(farms))
	return farms, nil
}

// RefreshFarms rebuilds the farm index from the backend.
func (s *Service) RefreshFarms(ctx context.Context) ([]string, error) {
	farms, err := s.index.Farms(ctx, true)
	s.collector.RecordStorageOp("list_farms", err == nil)
	if err != nil {
		return nil, err
	}
	s.collector.SetFarmCount(len(farms))
	return farms, nil
}

// FarmExists reports whether the backend knows the farm.
func (s *Service) FarmExists(ctx context.Context, farmID string) (bool, error) {
	return s.backend.FarmExists(ctx, farmID)
}

// BuildCatalog assembles the year-bucketed comparison catalog for one
// farm.
func (s *Service) BuildCatalog(ctx context.Context, farmID string) (*catalog.Catalog, error) {
	cat, err := s.builder.Build(ctx, farmID)
	s.collector.RecordCatalogBuild(err == nil)
	if err != nil {
		s.recordError(err)
		return nil, err
	}
	return cat, nil
}

// GetImage fetches one capture's raw bytes.
func (s *Service) GetImage(ctx context.Context, farmID, relativePath string) ([]byte, error) {
	data, err := s.backend.GetImage(ctx, farmID, relativePath)
	s.collector.RecordStorageOp("get_image", err == nil)
	if err != nil {
		s.recordError(err)
		return nil, err
	}
	return data, nil
}

// ImageExists probes one capture.
func (s *Service) ImageExists(ctx context.Context, farmID, relativePath string) (bool, error) {
	return s.backend.ImageExists(ctx, farmID, relativePath)
}

// Thumbnail returns the cached aspect-preserving thumbnail for a
// capture, rendering it on first request. Width and height default to
// the configured thumbnail box.
func (s *Service) Thumbnail(ctx context.Context, farmID, relativePath string, width, height int) ([]byte, error) {
	if width <= 0 {
		width = s.cfg.Thumbnail.DefaultWidth
	}
	if height <= 0 {
		height = s.cfg.Thumbnail.DefaultHeight
	}
	sourceKey := farmID + "/" + relativePath

	start := time.Now()
	data, hit, err := s.cache.GetOrRender(ctx, sourceKey, width, height,
		func(ctx context.Context) (image.Image, error) {
			raw, err := s.backend.GetImage(ctx, farmID, relativePath)
			s.collector.RecordStorageOp("get_image", err == nil)
			if err != nil {
				return nil, err
			}
			r, err := raster.DecodeBytes(raw)
			if err != nil {
				return nil, err
			}
			img, err := raster.Normalize(r)
			if err != nil {
				return nil, err
			}
			return raster.ResizeFit(img, width, height), nil
		})
	if err != nil {
		s.recordError(err)
		return nil, err
	}
	if hit {
		s.collector.RecordCacheHit()
	} else {
		s.collector.RecordCacheMiss()
		s.collector.RecordRender("thumbnail", time.Since(start))
	}
	return data, nil
}

// CompositeView renders a capture at an exact box with the per-channel
// percentile stretch. Already-rendered PNG captures skip normalization
// and are only resized to the requested box; JPEG and multispectral
// sources are normalized. The result is not cached.
func (s *Service) CompositeView(ctx context.Context, farmID, relativePath string, width, height int) ([]byte, error) {
	if width <= 0 {
		width = s.cfg.Thumbnail.CompositeWidth
	}
	if height <= 0 {
		height = s.cfg.Thumbnail.CompositeHeight
	}

	raw, err := s.backend.GetImage(ctx, farmID, relativePath)
	s.collector.RecordStorageOp("get_image", err == nil)
	if err != nil {
		s.recordError(err)
		return nil, err
	}

	if isRenderedPNG(relativePath) {
		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			werr := errors.Wrap(errors.ErrCodeUnreadableSource,
				"failed to decode rendered capture", err).WithComponent("api")
			s.recordError(werr)
			return nil, werr
		}
		bounds := img.Bounds()
		if bounds.Dx() == width && bounds.Dy() == height {
			return raw, nil
		}
		return raster.EncodePNG(raster.ResizeExact(img, width, height))
	}

	start := time.Now()
	r, err := raster.DecodeBytes(raw)
	if err != nil {
		s.recordError(err)
		return nil, err
	}
	img, err := raster.NormalizeComposite(r)
	if err != nil {
		s.recordError(err)
		return nil, err
	}
	data, err := raster.EncodePNG(raster.ResizeExact(img, width, height))
	if err != nil {
		return nil, err
	}
	s.collector.RecordRender("composite", time.Since(start))
	return data, nil
}

// CacheStats returns the thumbnail cache counters.
func (s *Service) CacheStats() types.CacheStats {
	return s.cache.Stats()
}

// HealthCheck verifies the backend is reachable.
func (s *Service) HealthCheck(ctx context.Context) error {
	return s.backend.HealthCheck(ctx)
}

// Close shuts down the metrics endpoint.
func (s *Service) Close(ctx context.Context) error {
	return s.collector.Stop(ctx)
}

func (s *Service) recordError(err error) {
	var fe *errors.Error
	if stderr.As(err, &fe) {
		s.collector.RecordStorageError(string(fe.Category))
	}
}

// isRenderedPNG reports whether a capture is already a display-ready
// PNG rather than a raster needing normalization. JPEG captures still
// go through the normalize path.
func isRenderedPNG(relativePath string) bool {
	return strings.HasSuffix(strings.ToLower(relativePath), ".png")
}

// splitKey separates a farm-qualified key into its farm id and relative
// path.
func splitKey(key string) (farmID, relativePath string, ok bool) {
	idx := strings.Index(key, "/")
	if idx <= 0 || idx == len(key)-1 {
		return "", "", false
	}
	return key[:idx], key[idx+1:], true
}
