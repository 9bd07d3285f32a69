package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// XattrMetrics provides observability for extended-attribute requests.
//
// This interface is optional - if not provided to the handler, a no-op
// implementation is used with zero overhead.
type XattrMetrics interface {
	// RecordRequest records a completed request.
	//
	// Parameters:
	//   - operation: Operation name (e.g., "GETXATTR", "SETXATTR")
	//   - duration: Time taken to process the request
	//   - status: Reply status name ("OK", "ENODATA", ...)
	RecordRequest(operation string, duration time.Duration, status string)

	// RecordReplyBytes records the payload bytes packed into a reply.
	RecordReplyBytes(operation string, bytes int)

	// RecordLockWait records how long a mutation waited for its lock scope.
	RecordLockWait(scope string, duration time.Duration)

	// RecordNoOp records a mutation of a reserved attribute that was
	// acknowledged without effect.
	RecordNoOp(operation string)
}

type xattrMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	replyBytes      *prometheus.HistogramVec
	lockWait        *prometheus.HistogramVec
	noops           *prometheus.CounterVec
}

// NewXattrMetrics creates a Prometheus-backed XattrMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled.
func NewXattrMetrics() XattrMetrics {
	if !IsEnabled() {
		return NewNoopXattrMetrics()
	}

	reg := GetRegistry()

	return &xattrMetrics{
		requestsTotal: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomds_xattr_requests_total",
				Help: "Total number of extended-attribute requests by operation and status",
			},
			[]string{"operation", "status"},
		)),
		requestDuration: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittomds_xattr_request_duration_milliseconds",
				Help: "Duration of extended-attribute requests in milliseconds",
				Buckets: []float64{
					0.1,  // 100µs
					1,    // 1ms
					10,   // 10ms
					100,  // 100ms
					1000, // 1s
				},
			},
			[]string{"operation"},
		)),
		replyBytes: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dittomds_xattr_reply_bytes",
				Help:    "Payload bytes packed into extended-attribute replies",
				Buckets: prometheus.ExponentialBuckets(16, 4, 7),
			},
			[]string{"operation"},
		)),
		lockWait: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittomds_xattr_lock_wait_seconds",
				Help: "Time mutations spent waiting for their lock scope",
				Buckets: []float64{
					0.0001, // 100µs
					0.001,  // 1ms
					0.01,   // 10ms
					0.1,    // 100ms
					1.0,    // 1s
				},
			},
			[]string{"scope"},
		)),
		noops: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomds_xattr_reserved_noop_total",
				Help: "Mutations of reserved attributes acknowledged without effect",
			},
			[]string{"operation"},
		)),
	}
}

func (m *xattrMetrics) RecordRequest(operation string, duration time.Duration, status string) {
	m.requestsTotal.WithLabelValues(operation, status).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *xattrMetrics) RecordReplyBytes(operation string, bytes int) {
	m.replyBytes.WithLabelValues(operation).Observe(float64(bytes))
}

func (m *xattrMetrics) RecordLockWait(scope string, duration time.Duration) {
	m.lockWait.WithLabelValues(scope).Observe(duration.Seconds())
}

func (m *xattrMetrics) RecordNoOp(operation string) {
	m.noops.WithLabelValues(operation).Inc()
}

// NewNoopXattrMetrics returns an XattrMetrics that records nothing.
func NewNoopXattrMetrics() XattrMetrics {
	return noopXattrMetrics{}
}

type noopXattrMetrics struct{}

func (noopXattrMetrics) RecordRequest(operation string, duration time.Duration, status string) {}
func (noopXattrMetrics) RecordReplyBytes(operation string, bytes int)                          {}
func (noopXattrMetrics) RecordLockWait(scope string, duration time.Duration)                   {}
func (noopXattrMetrics) RecordNoOp(operation string)                                           {}
