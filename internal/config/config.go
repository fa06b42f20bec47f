package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Storage mode selectors. The mode is resolved once at startup; there is no
// runtime switching between backends.
const (
	StorageModeLocal = "local"
	StorageModeS3    = "s3"
)

// Configuration represents the complete application configuration.
type Configuration struct {
	Global    GlobalConfig    `yaml:"global"`
	Storage   StorageConfig   `yaml:"storage"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Thumbnail ThumbnailConfig `yaml:"thumbnail"`
	Network   NetworkConfig   `yaml:"network"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// GlobalConfig represents global application settings.
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// StorageConfig selects and configures the imagery storage backend.
type StorageConfig struct {
	Mode  string      `yaml:"mode"`
	Local LocalConfig `yaml:"local"`
	S3    S3Config    `yaml:"s3"`
}

// LocalConfig configures the local filesystem backend.
type LocalConfig struct {
	// DatasetRoot is the directory whose top-level subdirectories are farms.
	DatasetRoot string `yaml:"dataset_root"`
}

// S3Config configures the remote object store backend.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	// Prefix is the key prefix modeling the dataset root; farm ids are the
	// first path segment under it.
	Prefix string `yaml:"prefix"`
}

// CatalogConfig configures catalog building.
type CatalogConfig struct {
	// YearsOfInterest are the calendar years the catalog partitions
	// descriptors into for side-by-side comparison.
	YearsOfInterest []int `yaml:"years_of_interest"`
}

// ThumbnailConfig configures thumbnail rendering and caching.
type ThumbnailConfig struct {
	CacheDir string `yaml:"cache_dir"`

	// DefaultWidth/DefaultHeight bound the cached fit-within-box thumbnails.
	DefaultWidth  int `yaml:"default_width"`
	DefaultHeight int `yaml:"default_height"`

	// CompositeWidth/CompositeHeight size the exact-box composite view.
	CompositeWidth  int `yaml:"composite_width"`
	CompositeHeight int `yaml:"composite_height"`
}

// NetworkConfig bounds remote object store calls.
type NetworkConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Storage: StorageConfig{
			Mode: StorageModeLocal,
			Local: LocalConfig{
				DatasetRoot: "farm_dataset",
			},
			S3: S3Config{
				Region: "ap-south-1",
				Prefix: "farm_dataset/",
			},
		},
		Catalog: CatalogConfig{
			YearsOfInterest: []int{2024, 2025},
		},
		Thumbnail: ThumbnailConfig{
			CacheDir:        "thumbnail_cache",
			DefaultWidth:    300,
			DefaultHeight:   300,
			CompositeWidth:  500,
			CompositeHeight: 500,
		},
		Network: NetworkConfig{
			RequestTimeout: 30 * time.Second,
			MaxRetries:     3,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment overrides, in that order. A .env file in the working
// directory is read first if present.
func Load(filename string) (*Configuration, error) {
	// Missing .env is not an error; deployments may use real env vars.
	_ = godotenv.Load()

	cfg := NewDefault()
	if filename != "" {
		if err := cfg.LoadFromFile(filename); err != nil {
			return nil, err
		}
	}
	cfg.LoadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv applies environment variable overrides. USE_S3, S3_BUCKET_NAME,
// AWS_REGION, and the AWS credential variables follow the deployment's
// existing naming; everything else is FARMSIGHT_-prefixed.
func (c *Configuration) LoadFromEnv() {
	if val := os.Getenv("FARMSIGHT_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("FARMSIGHT_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv("FARMSIGHT_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}

	if val := os.Getenv("USE_S3"); val != "" {
		if strings.ToLower(val) == "true" {
			c.Storage.Mode = StorageModeS3
		} else {
			c.Storage.Mode = StorageModeLocal
		}
	}
	if val := os.Getenv("FARMSIGHT_DATASET_ROOT"); val != "" {
		c.Storage.Local.DatasetRoot = val
	}
	if val := os.Getenv("S3_BUCKET_NAME"); val != "" {
		c.Storage.S3.Bucket = val
	}
	if val := os.Getenv("AWS_REGION"); val != "" {
		c.Storage.S3.Region = val
	}
	if val := os.Getenv("AWS_ACCESS_KEY_ID"); val != "" {
		c.Storage.S3.AccessKeyID = val
	}
	if val := os.Getenv("AWS_SECRET_ACCESS_KEY"); val != "" {
		c.Storage.S3.SecretAccessKey = val
	}
	if val := os.Getenv("FARMSIGHT_S3_PREFIX"); val != "" {
		c.Storage.S3.Prefix = val
	}
	if val := os.Getenv("FARMSIGHT_S3_ENDPOINT"); val != "" {
		c.Storage.S3.Endpoint = val
	}

	if val := os.Getenv("FARMSIGHT_CACHE_DIR"); val != "" {
		c.Thumbnail.CacheDir = val
	}
	if val := os.Getenv("FARMSIGHT_YEARS"); val != "" {
		var years []int
		for _, part := range strings.Split(val, ",") {
			if year, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
				years = append(years, year)
			}
		}
		if len(years) > 0 {
			c.Catalog.YearsOfInterest = years
		}
	}

	if val := os.Getenv("FARMSIGHT_REQUEST_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Network.RequestTimeout = d
		}
	}
	if val := os.Getenv("FARMSIGHT_MAX_RETRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Network.MaxRetries = n
		}
	}

	if val := os.Getenv("FARMSIGHT_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("FARMSIGHT_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Metrics.Port = port
		}
	}
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	switch c.Storage.Mode {
	case StorageModeLocal:
		if c.Storage.Local.DatasetRoot == "" {
			return fmt.Errorf("dataset_root must be set for local storage")
		}
	case StorageModeS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("bucket must be set for s3 storage")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("region must be set for s3 storage")
		}
	default:
		return fmt.Errorf("invalid storage mode: %s (must be %s or %s)",
			c.Storage.Mode, StorageModeLocal, StorageModeS3)
	}

	if len(c.Catalog.YearsOfInterest) == 0 {
		return fmt.Errorf("years_of_interest must not be empty")
	}
	if c.Thumbnail.DefaultWidth <= 0 || c.Thumbnail.DefaultHeight <= 0 {
		return fmt.Errorf("thumbnail dimensions must be positive")
	}
	if c.Thumbnail.CompositeWidth <= 0 || c.Thumbnail.CompositeHeight <= 0 {
		return fmt.Errorf("composite dimensions must be positive")
	}
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}

	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	levelValid := false
	for _, level := range validLevels {
		if strings.EqualFold(c.Global.LogLevel, level) {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLevels, ", "))
	}

	return nil
}

// SaveToFile writes the configuration to a YAML file.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
