package types

import "context"

// Backend defines the interface shared by the dataset storage backends.
// Farms are top-level groupings under the dataset root; image keys are
// forward-slash paths relative to that root.
type Backend interface {
	// Farm operations
	ListFarms(ctx context.Context) ([]string, error)
	FarmExists(ctx context.Context, farmID string) (bool, error)

	// Image operations. Relative paths use forward slashes and are
	// rooted at the farm's directory or prefix.
	ListImages(ctx context.Context, farmID string) ([]string, error)
	GetImage(ctx context.Context, farmID, relativePath string) ([]byte, error)
	ImageExists(ctx context.Context, farmID, relativePath string) (bool, error)

	// Health check
	HealthCheck(ctx context.Context) error
}
