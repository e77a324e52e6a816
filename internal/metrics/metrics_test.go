package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistration(t *testing.T) {
	// Create new instances to avoid conflicts with global registry
	registry := prometheus.NewRegistry()

	ops := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_collection_operations_total",
			Help: "Test collection operations",
		},
		[]string{"collection", "operation", "status"},
	)

	observers := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "test_observers_active",
			Help: "Test observers",
		},
	)

	if err := registry.Register(ops); err != nil {
		t.Fatalf("Failed to register operations metric: %v", err)
	}
	if err := registry.Register(observers); err != nil {
		t.Fatalf("Failed to register observers metric: %v", err)
	}

	ops.WithLabelValues("users", "set", "success").Inc()
	observers.Set(3)

	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	if len(metricFamilies) != 2 {
		t.Errorf("Expected 2 metric families, got %d", len(metricFamilies))
	}
}

func TestCollectionMetrics(t *testing.T) {
	counter := CollectionOperationsTotal.WithLabelValues("metrics_test", "get", "success")
	before := testutil.ToFloat64(counter)

	counter.Inc()
	CollectionOperationDuration.WithLabelValues("get").Observe(0.001)
	LazyEvictionsTotal.WithLabelValues("metrics_test").Inc()

	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Errorf("expected counter %v, got %v", before+1, got)
	}
}

func TestFileStoreMetrics(t *testing.T) {
	FileStoreWritesTotal.WithLabelValues("primary", "success").Inc()
	FileStoreWritesTotal.WithLabelValues("backup", "error").Inc()
	FileStoreWriteBytes.Observe(4096)
	FileStoreRestoresTotal.WithLabelValues("success").Inc()
}

func TestStatus(t *testing.T) {
	if Status(nil) != "success" {
		t.Error("expected success for nil error")
	}
	if Status(errors.New("x")) != "error" {
		t.Error("expected error for non-nil error")
	}
}
