// Package catalog builds the per-farm, year-bucketed capture catalogs
// and maintains the memoized farm index.
package catalog

import (
	"context"
	"log/slog"
	"sync"

	"github.com/farmsight/farmsight/pkg/types"
)

// FarmIndex memoizes the backend's farm listing. Rebuilds are guarded by
// a single-writer discipline; readers observe either the previous or the
// fully rebuilt list, never a partial one.
type FarmIndex struct {
	backend types.Backend
	logger  *slog.Logger

	mu    sync.RWMutex
	farms []string
	built bool
}

// NewFarmIndex creates an index over the given backend. The first call
// to Farms populates it.
func NewFarmIndex(backend types.Backend, logger *slog.Logger) *FarmIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &FarmIndex{backend: backend, logger: logger}
}

// Farms returns the cached farm list, building it on first use. With
// force set the index is rebuilt from the backend regardless.
func (i *FarmIndex) Farms(ctx context.Context, force bool) ([]string, error) {
	if !force {
		i.mu.RLock()
		if i.built {
			farms := i.farms
			i.mu.RUnlock()
			return farms, nil
		}
		i.mu.RUnlock()
	}
	return i.rebuild(ctx)
}

// Contains reports whether a farm id is in the current index, building
// it on first use.
func (i *FarmIndex) Contains(ctx context.Context, farmID string) (bool, error) {
	farms, err := i.Farms(ctx, false)
	if err != nil {
		return false, err
	}
	for _, id := range farms {
		if id == farmID {
			return true, nil
		}
	}
	return false, nil
}

func (i *FarmIndex) rebuild(ctx context.Context) ([]string, error) {
	// Listing happens outside the lock so readers are never blocked on
	// backend I/O.
	farms, err := i.backend.ListFarms(ctx)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	i.farms = farms
	i.built = true
	i.mu.Unlock()

	i.logger.Debug("farm index rebuilt", "farms", len(farms))
	return farms, nil
}
