package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func enabledCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(&Config{Enabled: true, Port: 0, Path: "/metrics"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	return c
}

func TestDisabledCollectorIsNoOp(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	// None of these should panic on a disabled collector.
	c.RecordStorageOp("get_image", true)
	c.RecordStorageError("connection")
	c.RecordRender("thumbnail", time.Millisecond)
	c.RecordCacheHit()
	c.RecordCacheMiss()
	c.RecordCatalogBuild(true)
	c.SetFarmCount(3)
	if err := c.Start(context.Background()); err != nil {
		t.Errorf("Start() error = %v", err)
	}
}

func TestRecordStorageOp(t *testing.T) {
	c := enabledCollector(t)
	c.RecordStorageOp("get_image", true)
	c.RecordStorageOp("get_image", true)
	c.RecordStorageOp("get_image", false)

	if got := testutil.ToFloat64(c.storageOps.WithLabelValues("get_image", "success")); got != 2 {
		t.Errorf("success counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.storageOps.WithLabelValues("get_image", "error")); got != 1 {
		t.Errorf("error counter = %v, want 1", got)
	}
}

func TestRecordCacheCounters(t *testing.T) {
	c := enabledCollector(t)
	c.RecordCacheHit()
	c.RecordCacheHit()
	c.RecordCacheMiss()

	if got := testutil.ToFloat64(c.cacheHits); got != 2 {
		t.Errorf("hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.cacheMisses); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
}

func TestSetFarmCount(t *testing.T) {
	c := enabledCollector(t)
	c.SetFarmCount(7)
	if got := testutil.ToFloat64(c.farmsGauge); got != 7 {
		t.Errorf("farms gauge = %v, want 7", got)
	}
}

func TestRecordCatalogBuild(t *testing.T) {
	c := enabledCollector(t)
	c.RecordCatalogBuild(true)
	c.RecordCatalogBuild(false)
	if got := testutil.ToFloat64(c.catalogBuilds.WithLabelValues("success")); got != 1 {
		t.Errorf("success builds = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.catalogBuilds.WithLabelValues("error")); got != 1 {
		t.Errorf("error builds = %v, want 1", got)
	}
}
