package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry()

	r.Incr(CounterGetxattr)
	assert.Equal(t, uint64(0), r.Get(CounterGetxattr), "increments before Init are dropped")

	r.Init()
	r.Incr(CounterGetxattr)
	r.Incr(CounterGetxattr)
	r.Incr(CounterSetxattr)
	assert.Equal(t, uint64(2), r.Get(CounterGetxattr))
	assert.Equal(t, uint64(1), r.Get(CounterSetxattr))

	r.Teardown()
	r.Incr(CounterSetxattr)
	assert.Equal(t, uint64(1), r.Get(CounterSetxattr), "increments after Teardown are dropped")

	r.Init()
	assert.Equal(t, uint64(0), r.Get(CounterGetxattr), "Init resets counters")
}

func TestRegistry_Nil(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() { r.Incr(CounterGetxattr) })
	assert.False(t, r.Live())
	assert.Equal(t, uint64(0), r.Get(CounterGetxattr))
}

func TestRegistry_ConcurrentIncr(t *testing.T) {
	r := NewRegistry()
	r.Init()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				r.Incr(CounterSetxattr)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(8000), r.Get(CounterSetxattr))
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry()
	r.Init()
	r.Incr(CounterGetxattr)

	snap := r.Snapshot()
	assert.Equal(t, uint64(1), snap.Counters["getxattr"])
	assert.Equal(t, uint64(0), snap.Counters["setxattr"])
	assert.False(t, snap.StartTime.IsZero())
}

func TestCounter_String(t *testing.T) {
	assert.Equal(t, "getxattr", CounterGetxattr.String())
	assert.Equal(t, "setxattr", CounterSetxattr.String())
	assert.Equal(t, "unknown", Counter(42).String())
}

func TestRegistry_StartReporter(t *testing.T) {
	r := NewRegistry()
	r.Init()

	ctx, cancel := context.WithCancel(context.Background())
	r.StartReporter(ctx, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	cancel()

	r.StartReporter(context.Background(), 0)
}
