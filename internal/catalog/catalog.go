package catalog

import (
	"context"
	"log/slog"
	"sort"

	"github.com/farmsight/farmsight/internal/imagery"
	"github.com/farmsight/farmsight/pkg/errors"
	"github.com/farmsight/farmsight/pkg/types"
)

// YearBucket groups a calendar year's captures, re-indexed from zero and
// sorted ascending by capture date.
type YearBucket struct {
	Year   int                     `json:"year"`
	Images []types.ImageDescriptor `json:"images"`
}

// Catalog is the comparison view of one farm's captures.
type Catalog struct {
	FarmID     string       `json:"farm_id"`
	ImageCount int          `json:"image_count"`
	Buckets    []YearBucket `json:"buckets"`
}

// Builder assembles catalogs from the active storage backend.
type Builder struct {
	backend types.Backend
	parser  imagery.Parser
	years   []int
	logger  *slog.Logger
}

// NewBuilder creates a catalog builder bucketing on the configured years
// of interest.
func NewBuilder(backend types.Backend, parser imagery.Parser, years []int, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	sorted := append([]int(nil), years...)
	sort.Ints(sorted)
	return &Builder{backend: backend, parser: parser, years: sorted, logger: logger}
}

// Build lists a farm's captures, dates each one, and partitions them
// into the configured year buckets. Fails only when the farm itself is
// absent; dating never fails and listing failures surface as an empty
// catalog.
func (b *Builder) Build(ctx context.Context, farmID string) (*Catalog, error) {
	exists, err := b.backend.FarmExists(ctx, farmID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.Newf(errors.ErrCodeFarmNotFound,
			"farm %s not found", farmID).
			WithComponent("catalog").
			WithOperation("build")
	}

	keys, err := b.backend.ListImages(ctx, farmID)
	if err != nil {
		return nil, err
	}

	descriptors := make([]types.ImageDescriptor, 0, len(keys))
	for _, key := range keys {
		// Farm-qualified so the parser's mtime fallback can locate the
		// file; pattern matching only ever sees the basename.
		date := b.parser.ParseDate(farmID + "/" + key)
		descriptors = append(descriptors, types.ImageDescriptor{
			RelativePath: key,
			CaptureDate:  date,
			DisplayLabel: imagery.DisplayLabel(date),
		})
	}
	sort.SliceStable(descriptors, func(i, j int) bool {
		return descriptors[i].CaptureDate.Less(descriptors[j].CaptureDate)
	})

	catalog := &Catalog{
		FarmID:     farmID,
		ImageCount: len(descriptors),
		Buckets:    make([]YearBucket, 0, len(b.years)),
	}
	for _, year := range b.years {
		bucket := YearBucket{Year: year, Images: []types.ImageDescriptor{}}
		for _, d := range descriptors {
			if d.CaptureDate.Year == year {
				d.Index = len(bucket.Images)
				bucket.Images = append(bucket.Images, d)
			}
		}
		catalog.Buckets = append(catalog.Buckets, bucket)
	}
	return catalog, nil
}

// Bucket returns the bucket for one year, if configured.
func (c *Catalog) Bucket(year int) (YearBucket, bool) {
	for _, b := range c.Buckets {
		if b.Year == year {
			return b, true
		}
	}
	return YearBucket{}, false
}

// Find locates a capture's descriptor by relative path.
func (c *Catalog) Find(relativePath string) (types.ImageDescriptor, bool) {
	for _, b := range c.Buckets {
		for _, d := range b.Images {
			if d.RelativePath == relativePath {
				return d, true
			}
		}
	}
	return types.ImageDescriptor{}, false
}
