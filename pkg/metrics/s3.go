package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// S3Metrics observes the S3 API calls made by the S3 attribute store.
//
// StoreMetrics records one sample per store operation; a single Write can
// issue a HeadObject, a conditional PutObject and a retried CAS loop, and
// S3Metrics sees each of those calls.
type S3Metrics interface {
	// ObserveOperation records one S3 API call.
	//
	// Parameters:
	//   - operation: S3 API name (e.g., "HeadObject", "PutObject", "ListObjectsV2")
	//   - duration: Time taken
	//   - err: Error if failed (not-found and precondition failures included)
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records value bytes moved to or from S3.
	//
	// Parameters:
	//   - direction: "read" or "write"
	RecordBytes(direction string, bytes int64)

	// RecordCASConflict records a conditional write that lost a race.
	//
	// Parameters:
	//   - target: "object" for object records, "attribute" for values
	RecordCASConflict(target string)
}

// s3Metrics is the Prometheus implementation of S3Metrics.
type s3Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
	casConflicts      *prometheus.CounterVec
}

// NewS3Metrics creates a Prometheus-backed S3Metrics instance.
//
// Returns a no-op implementation if metrics are not enabled.
func NewS3Metrics() S3Metrics {
	if !IsEnabled() {
		return NewNoopS3Metrics()
	}

	reg := GetRegistry()

	return &s3Metrics{
		operationsTotal: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomds_s3_operations_total",
				Help: "Total number of S3 API calls by operation and status",
			},
			[]string{"operation", "status"},
		)),
		operationDuration: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittomds_s3_operation_duration_seconds",
				Help: "Duration of S3 API calls in seconds",
				Buckets: []float64{
					0.005, // 5ms
					0.01,  // 10ms
					0.025, // 25ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.25,  // 250ms
					0.5,   // 500ms
					1.0,   // 1s
					2.5,   // 2.5s
					5.0,   // 5s
				},
			},
			[]string{"operation"},
		)),
		bytesTransferred: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomds_s3_bytes_transferred_total",
				Help: "Total attribute value bytes transferred to or from S3",
			},
			[]string{"direction"},
		)),
		casConflicts: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomds_s3_cas_conflicts_total",
				Help: "Total number of conditional S3 writes rejected by a concurrent change",
			},
			[]string{"target"},
		)),
	}
}

func (m *s3Metrics) ObserveOperation(operation string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *s3Metrics) RecordBytes(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func (m *s3Metrics) RecordCASConflict(target string) {
	m.casConflicts.WithLabelValues(target).Inc()
}

// NewNoopS3Metrics returns an S3Metrics that records nothing.
func NewNoopS3Metrics() S3Metrics {
	return noopS3Metrics{}
}

type noopS3Metrics struct{}

func (noopS3Metrics) ObserveOperation(operation string, duration time.Duration, err error) {}
func (noopS3Metrics) RecordBytes(direction string, bytes int64)                            {}
func (noopS3Metrics) RecordCASConflict(target string)                                      {}
