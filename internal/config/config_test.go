package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Storage.Mode != StorageModeLocal {
		t.Errorf("default mode = %s, want %s", cfg.Storage.Mode, StorageModeLocal)
	}
	if got := cfg.Catalog.YearsOfInterest; len(got) != 2 || got[0] != 2024 || got[1] != 2025 {
		t.Errorf("default years = %v, want [2024 2025]", got)
	}
	if cfg.Thumbnail.DefaultWidth != 300 || cfg.Thumbnail.DefaultHeight != 300 {
		t.Errorf("default thumbnail size = %dx%d, want 300x300",
			cfg.Thumbnail.DefaultWidth, cfg.Thumbnail.DefaultHeight)
	}
	if cfg.Thumbnail.CompositeWidth != 500 {
		t.Errorf("composite width = %d, want 500", cfg.Thumbnail.CompositeWidth)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
storage:
  mode: s3
  s3:
    bucket: harvest-imagery
    region: us-west-2
    prefix: farm_dataset/
catalog:
  years_of_interest: [2023, 2024, 2025]
network:
  request_timeout: 10s
  max_retries: 5
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Storage.Mode != StorageModeS3 {
		t.Errorf("mode = %s, want s3", cfg.Storage.Mode)
	}
	if cfg.Storage.S3.Bucket != "harvest-imagery" {
		t.Errorf("bucket = %s", cfg.Storage.S3.Bucket)
	}
	if len(cfg.Catalog.YearsOfInterest) != 3 {
		t.Errorf("years = %v", cfg.Catalog.YearsOfInterest)
	}
	if cfg.Network.RequestTimeout != 10*time.Second {
		t.Errorf("request timeout = %v", cfg.Network.RequestTimeout)
	}
	if cfg.Network.MaxRetries != 5 {
		t.Errorf("max retries = %d", cfg.Network.MaxRetries)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("USE_S3", "true")
	t.Setenv("S3_BUCKET_NAME", "env-bucket")
	t.Setenv("AWS_REGION", "eu-central-1")
	t.Setenv("FARMSIGHT_YEARS", "2022, 2023")
	t.Setenv("FARMSIGHT_CACHE_DIR", "/var/cache/farmsight")

	cfg := NewDefault()
	cfg.LoadFromEnv()

	if cfg.Storage.Mode != StorageModeS3 {
		t.Errorf("mode = %s, want s3", cfg.Storage.Mode)
	}
	if cfg.Storage.S3.Bucket != "env-bucket" {
		t.Errorf("bucket = %s", cfg.Storage.S3.Bucket)
	}
	if cfg.Storage.S3.Region != "eu-central-1" {
		t.Errorf("region = %s", cfg.Storage.S3.Region)
	}
	if got := cfg.Catalog.YearsOfInterest; len(got) != 2 || got[0] != 2022 || got[1] != 2023 {
		t.Errorf("years = %v, want [2022 2023]", got)
	}
	if cfg.Thumbnail.CacheDir != "/var/cache/farmsight" {
		t.Errorf("cache dir = %s", cfg.Thumbnail.CacheDir)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Configuration)
		wantErr bool
	}{
		{"valid defaults", func(c *Configuration) {}, false},
		{"unknown mode", func(c *Configuration) { c.Storage.Mode = "ftp" }, true},
		{"local without root", func(c *Configuration) { c.Storage.Local.DatasetRoot = "" }, true},
		{"s3 without bucket", func(c *Configuration) { c.Storage.Mode = StorageModeS3 }, true},
		{"s3 with bucket", func(c *Configuration) {
			c.Storage.Mode = StorageModeS3
			c.Storage.S3.Bucket = "b"
		}, false},
		{"no years", func(c *Configuration) { c.Catalog.YearsOfInterest = nil }, true},
		{"zero thumbnail width", func(c *Configuration) { c.Thumbnail.DefaultWidth = 0 }, true},
		{"negative retries", func(c *Configuration) { c.Network.MaxRetries = -1 }, true},
		{"bad log level", func(c *Configuration) { c.Global.LogLevel = "TRACE" }, true},
		{"lowercase log level ok", func(c *Configuration) { c.Global.LogLevel = "debug" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
