package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StoreMetrics provides observability for attribute store backends.
//
// This interface is optional - if not provided to a store, operations
// proceed without metrics collection (zero overhead).
//
// Example usage:
//
//	// With metrics enabled
//	m := metrics.NewStoreMetrics("badger")
//	st, err := badger.New(ctx, cfg, m)
//
//	// Without metrics (no-op)
//	st, err := badger.New(ctx, cfg, nil)
type StoreMetrics interface {
	// RecordStorageOperation records a low-level storage operation.
	//
	// Parameters:
	//   - operation: Storage operation (e.g., "probe", "read", "write", "delete", "enumerate")
	//   - duration: Time taken
	//   - err: Error if failed
	RecordStorageOperation(operation string, duration time.Duration, err error)
}

// storeMetrics is the Prometheus implementation of StoreMetrics.
type storeMetrics struct {
	storeType          string
	storageOpsTotal    *prometheus.CounterVec
	storageOpsDuration *prometheus.HistogramVec
}

// NewStoreMetrics creates a Prometheus-backed StoreMetrics instance.
//
// Parameters:
//   - storeType: Type of store (e.g., "memory", "badger", "s3")
//     Used as a label to distinguish metrics from different store implementations.
//
// Returns a no-op implementation if metrics are not enabled.
func NewStoreMetrics(storeType string) StoreMetrics {
	if !IsEnabled() {
		return NewNoopStoreMetrics()
	}

	reg := GetRegistry()

	return &storeMetrics{
		storeType: storeType,
		storageOpsTotal: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomds_store_operations_total",
				Help: "Total number of attribute store operations by store type, operation, and status",
			},
			[]string{"store_type", "operation", "status"},
		)),
		storageOpsDuration: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittomds_store_operation_duration_seconds",
				Help: "Duration of attribute store operations in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.025,  // 25ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
				},
			},
			[]string{"store_type", "operation"},
		)),
	}
}

func (m *storeMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsTotal.WithLabelValues(m.storeType, operation, statusLabel(err)).Inc()
	m.storageOpsDuration.WithLabelValues(m.storeType, operation).Observe(duration.Seconds())
}

// NewNoopStoreMetrics returns a StoreMetrics that records nothing.
func NewNoopStoreMetrics() StoreMetrics {
	return noopStoreMetrics{}
}

// noopStoreMetrics is a no-op implementation of StoreMetrics with zero overhead.
type noopStoreMetrics struct{}

func (noopStoreMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
