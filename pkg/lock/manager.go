package lock

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"github.com/marmos91/dittomds/pkg/fid"
)

// Cookie identifies a lock granted to a client so the client can cancel
// it later. Zero is never a valid cookie.
type Cookie uint64

// Coordinator grants and cancels exclusive scope locks.
type Coordinator interface {
	// Acquire blocks until every bit of scope is held on f or ctx ends.
	// The handle belongs to the caller and is released only through it.
	Acquire(ctx context.Context, f fid.FID, scope Scope) (*Handle, error)

	// Grant acquires scope on f on behalf of owner, a client connection,
	// and records it under a cookie that only owner can cancel.
	Grant(ctx context.Context, owner string, f fid.FID, scope Scope) (*Handle, error)

	// Cancel releases the grants of owner identified by cookies. Unknown
	// cookies and cookies granted to other owners are ignored. It returns
	// the number of locks released.
	Cancel(owner string, cookies []Cookie) int

	// ReleaseOwner releases every grant held by owner.
	ReleaseOwner(owner string) int
}

type slotKey struct {
	fid fid.FID
	bit Scope
}

// slot is a one-token semaphore for one scope bit of one object. refs
// counts waiters and holders so idle slots can be dropped.
type slot struct {
	sem  chan struct{}
	refs int
}

// Manager is an in-process Coordinator.
//
// Every (object, scope bit) pair is an independent exclusive lock. Bits
// are always taken in ascending order so two requests on the same object
// can never wait on each other in a cycle. Locks on different objects do
// not interact.
//
// Only grants are registered under a cookie. Handles returned by Acquire
// are held inside one request and no cancellation can reach them.
type Manager struct {
	mu      sync.Mutex
	slots   map[slotKey]*slot
	granted map[Cookie]*Handle
	next    atomic.Uint64
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	return &Manager{
		slots:   make(map[slotKey]*slot),
		granted: make(map[Cookie]*Handle),
	}
}

// Handle is a granted set of scope locks on one object.
type Handle struct {
	m      *Manager
	fid    fid.FID
	scope  Scope
	owner  string
	cookie Cookie
	held   []Scope
	once   sync.Once
}

// Acquire implements Coordinator.
func (m *Manager) Acquire(ctx context.Context, f fid.FID, scope Scope) (*Handle, error) {
	h := &Handle{m: m, fid: f, scope: scope}
	if err := m.lock(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Grant implements Coordinator.
func (m *Manager) Grant(ctx context.Context, owner string, f fid.FID, scope Scope) (*Handle, error) {
	h := &Handle{m: m, fid: f, scope: scope, owner: owner}
	if err := m.lock(ctx, h); err != nil {
		return nil, err
	}

	h.cookie = Cookie(m.next.Inc())

	m.mu.Lock()
	m.granted[h.cookie] = h
	m.mu.Unlock()

	return h, nil
}

func (m *Manager) lock(ctx context.Context, h *Handle) error {
	for _, bit := range h.scope.Bits() {
		k := slotKey{fid: h.fid, bit: bit}
		s := m.ref(k)

		select {
		case s.sem <- struct{}{}:
			h.held = append(h.held, bit)
		case <-ctx.Done():
			m.unref(k)
			h.unlockHeld()
			return ctx.Err()
		}
	}
	return nil
}

// Cancel implements Coordinator.
func (m *Manager) Cancel(owner string, cookies []Cookie) int {
	released := 0
	for _, c := range cookies {
		m.mu.Lock()
		h, ok := m.granted[c]
		m.mu.Unlock()
		if !ok || h.owner != owner {
			continue
		}
		if h.release() {
			released++
		}
	}
	return released
}

// ReleaseOwner implements Coordinator.
func (m *Manager) ReleaseOwner(owner string) int {
	m.mu.Lock()
	var owned []*Handle
	for _, h := range m.granted {
		if h.owner == owner {
			owned = append(owned, h)
		}
	}
	m.mu.Unlock()

	released := 0
	for _, h := range owned {
		if h.release() {
			released++
		}
	}
	return released
}

// held returns the scope bits currently locked on f.
func (m *Manager) held(f fid.FID) Scope {
	m.mu.Lock()
	defer m.mu.Unlock()

	var held Scope
	for k, s := range m.slots {
		if k.fid == f && len(s.sem) > 0 {
			held |= k.bit
		}
	}
	return held
}

// grants returns the number of outstanding grants.
func (m *Manager) grants() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.granted)
}

func (m *Manager) ref(k slotKey) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[k]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		m.slots[k] = s
	}
	s.refs++
	return s
}

func (m *Manager) unref(k slotKey) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[k]
	if !ok {
		return
	}
	s.refs--
	if s.refs == 0 {
		delete(m.slots, k)
	}
}

func (m *Manager) unlock(k slotKey) {
	m.mu.Lock()
	s := m.slots[k]
	m.mu.Unlock()

	<-s.sem
	m.unref(k)
}

// FID returns the locked object.
func (h *Handle) FID() fid.FID { return h.fid }

// Scope returns the locked scope.
func (h *Handle) Scope() Scope { return h.scope }

// Cookie returns the cancellation cookie of a grant. Handles returned by
// Acquire have none and report zero.
func (h *Handle) Cookie() Cookie { return h.cookie }

// Release drops every lock held by h. It is safe to call more than once
// and on a nil handle.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.release()
}

func (h *Handle) release() bool {
	released := false
	h.once.Do(func() {
		h.m.mu.Lock()
		delete(h.m.granted, h.cookie)
		h.m.mu.Unlock()

		h.unlockHeld()
		released = true
	})
	return released
}

func (h *Handle) unlockHeld() {
	for i := len(h.held) - 1; i >= 0; i-- {
		h.m.unlock(slotKey{fid: h.fid, bit: h.held[i]})
	}
	h.held = nil
}
