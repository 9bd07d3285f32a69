// Package stats keeps the per-operation counters of a running server.
//
// A Registry is created once per server, started with Init when the server
// starts serving and stopped with Teardown when it shuts down. Increments
// outside that window are dropped, so a handler used without a running
// server never needs a registry of its own.
package stats

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/marmos91/dittomds/internal/logger"
)

// Counter identifies one per-operation counter.
type Counter int

const (
	// CounterGetxattr counts successful Get/List/GetAll requests.
	CounterGetxattr Counter = iota
	// CounterSetxattr counts successful Set/Remove requests.
	CounterSetxattr

	numCounters
)

var counterNames = [numCounters]string{
	CounterGetxattr: "getxattr",
	CounterSetxattr: "setxattr",
}

func (c Counter) String() string {
	if c < 0 || c >= numCounters {
		return "unknown"
	}
	return counterNames[c]
}

// Registry is a process-wide set of atomic counters with an explicit
// lifecycle. All methods are safe for concurrent use.
type Registry struct {
	live     atomic.Bool
	counters [numCounters]atomic.Uint64

	mu        sync.RWMutex // Protects startTime
	startTime time.Time
}

// NewRegistry returns a registry that is not yet live.
func NewRegistry() *Registry {
	return &Registry{}
}

// Init resets every counter and starts accepting increments.
func (r *Registry) Init() {
	for i := range r.counters {
		r.counters[i].Store(0)
	}
	r.mu.Lock()
	r.startTime = time.Now()
	r.mu.Unlock()
	r.live.Store(true)
}

// Teardown stops accepting increments. Counter values stay readable.
func (r *Registry) Teardown() {
	r.live.Store(false)
}

// Live reports whether the registry is between Init and Teardown.
func (r *Registry) Live() bool {
	return r != nil && r.live.Load()
}

// Incr adds one to c. It is a no-op on a nil or stopped registry.
func (r *Registry) Incr(c Counter) {
	if !r.Live() || c < 0 || c >= numCounters {
		return
	}
	r.counters[c].Inc()
}

// Get returns the current value of c.
func (r *Registry) Get(c Counter) uint64 {
	if r == nil || c < 0 || c >= numCounters {
		return 0
	}
	return r.counters[c].Load()
}

// Snapshot is a point-in-time copy of the registry.
type Snapshot struct {
	StartTime    time.Time
	SnapshotTime time.Time
	Uptime       time.Duration
	Counters     map[string]uint64
}

// Snapshot captures the current counter values.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	startTime := r.startTime
	r.mu.RUnlock()

	now := time.Now()
	snap := &Snapshot{
		StartTime:    startTime,
		SnapshotTime: now,
		Counters:     make(map[string]uint64, numCounters),
	}
	if !startTime.IsZero() {
		snap.Uptime = now.Sub(startTime)
	}
	for c := Counter(0); c < numCounters; c++ {
		snap.Counters[c.String()] = r.counters[c].Load()
	}
	return snap
}

// LogSnapshot logs a formatted snapshot at INFO level.
func (r *Registry) LogSnapshot() {
	snap := r.Snapshot()

	logger.Info("=== Xattr Stats ===")
	logger.Info("Uptime: %v", snap.Uptime.Round(time.Second))
	logger.Info("Requests: %d getxattr, %d setxattr",
		snap.Counters[CounterGetxattr.String()], snap.Counters[CounterSetxattr.String()])
}

// StartReporter logs a snapshot every interval until ctx is cancelled.
// An interval of zero disables reporting.
func (r *Registry) StartReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if r.Live() {
					r.LogSnapshot()
				}
			}
		}
	}()
}
