// Package handler implements the extended-attribute request handler of
// the metadata service.
//
// A Handler answers two request families:
//
//   - GetXattr: Get of one value, List of the names, or GetAll of every
//     name and value in one reply
//   - SetXattr: Set or Remove of one value
//
// Lock grants a scope to a client connection; the client hands it back
// with a cookie piggybacked on a later SetXattr.
//
// Replies are sized before any value byte is read: the xattr.Sizer
// computes a layout, the xattr.Allocator turns it into fixed-capacity
// fields, and the fetch step only fills and shrinks those fields.
// Mutations run under an exclusive lock scope chosen by lock.ScopeFor and
// update the object's change time and version only when they succeed.
//
// Errors are reported through the reply's Status field. The Go error
// return is reserved for a cancelled request context.
package handler

import (
	"time"

	"go.uber.org/atomic"

	"github.com/marmos91/dittomds/internal/logger"
	"github.com/marmos91/dittomds/pkg/idmap"
	"github.com/marmos91/dittomds/pkg/lock"
	"github.com/marmos91/dittomds/pkg/metrics"
	"github.com/marmos91/dittomds/pkg/stats"
	"github.com/marmos91/dittomds/pkg/store"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// DefaultMaxEASize is the largest value the handler accepts when Options
// leaves MaxEASize unset.
const DefaultMaxEASize = xattr.SizeMax

// AllocLimitFactor sizes the default allocation limit from MaxReplySize:
// a GetAll reply reserves the bound three times plus the ACL field.
const AllocLimitFactor = 4

// FaultPoints are failure injection switches used by tests. All points
// are off by default and safe to flip while requests are running.
type FaultPoints struct {
	// PackFail fails Get requests with ENOMEM right after the reply
	// buffers are allocated
	PackFail atomic.Bool

	// SetxattrFail fails Set and Remove requests with ENOMEM before any
	// work is done
	SetxattrFail atomic.Bool

	// WriteFail fails the store mutation of Set requests with EIO
	WriteFail atomic.Bool
}

// Options configures a Handler.
type Options struct {
	// Store holds the attributes and the per-object records. Required.
	Store store.Store

	// Locks grants mutation lock scopes. Required.
	Locks lock.Coordinator

	// Resolver maps the claimed caller to the identity requests run as.
	// Nil runs requests with the claimed identity.
	Resolver idmap.Resolver

	// Translator remaps identities inside ACL payloads.
	// Nil passes ACLs through unchanged.
	Translator idmap.Translator

	// Allocator allocates reply buffers.
	// Default: xattr.HeapAllocator limited to AllocLimitFactor times
	// MaxReplySize
	Allocator xattr.Allocator

	// MaxReplySize is the largest reply bound a GetAll request may declare.
	// Larger bounds fail with EINVAL before the store is touched.
	// Default: xattr.DefaultMaxReplySize
	MaxReplySize int

	// Stats receives the per-operation success counters. May be nil.
	Stats *stats.Registry

	// Metrics receives Prometheus observations. May be nil.
	Metrics metrics.XattrMetrics

	// Faults enables failure injection. May be nil.
	Faults *FaultPoints

	// MaxEASize is the largest ACL payload translated.
	// Default: DefaultMaxEASize
	MaxEASize int

	// LockTimeout bounds the wait for a mutation lock scope. A request
	// that times out fails with ETIMEDOUT. 0 waits for as long as the
	// request context allows.
	LockTimeout time.Duration

	// Now returns the current time for change times the client did not
	// supply. Default: time.Now
	Now func() time.Time
}

// Handler serves extended-attribute requests.
//
// Thread Safety:
// A Handler holds no per-request state and is safe for concurrent use.
// Mutations on one object serialize through the lock coordinator; reads
// take no lock and may observe either side of a concurrent mutation.
type Handler struct {
	store      store.Store
	sizer      *xattr.Sizer
	allocator  xattr.Allocator
	locks      lock.Coordinator
	resolver   idmap.Resolver
	translator idmap.Translator
	limits     idmap.Limits
	stats      *stats.Registry
	metrics    metrics.XattrMetrics
	faults     *FaultPoints
	lockWait   time.Duration
	now        func() time.Time
}

// New creates a Handler. It panics if Store or Locks is missing.
func New(opts Options) *Handler {
	if opts.Store == nil {
		panic("handler: Store is required")
	}
	if opts.Locks == nil {
		panic("handler: Locks is required")
	}
	if opts.MaxReplySize <= 0 {
		opts.MaxReplySize = xattr.DefaultMaxReplySize
	}
	if opts.Allocator == nil {
		opts.Allocator = xattr.HeapAllocator{Limit: AllocLimitFactor * opts.MaxReplySize}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopXattrMetrics()
	}
	if opts.Faults == nil {
		opts.Faults = &FaultPoints{}
	}
	if opts.MaxEASize <= 0 {
		opts.MaxEASize = DefaultMaxEASize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	sizer := xattr.NewSizer(opts.Store)
	sizer.MaxReplySize = opts.MaxReplySize

	return &Handler{
		store:      opts.Store,
		sizer:      sizer,
		allocator:  opts.Allocator,
		locks:      opts.Locks,
		resolver:   opts.Resolver,
		translator: opts.Translator,
		limits:     idmap.Limits{MaxEASize: opts.MaxEASize},
		stats:      opts.Stats,
		metrics:    opts.Metrics,
		faults:     opts.Faults,
		lockWait:   opts.LockTimeout,
		now:        opts.Now,
	}
}

// Faults returns the handler's failure injection switches.
func (h *Handler) Faults() *FaultPoints {
	return h.faults
}

// resolveCaller runs the claimed identity through the nodemap. A failure
// aborts the request before any other work.
func (h *Handler) resolveCaller(rctx *RequestContext) (xattr.Caller, error) {
	if h.resolver == nil {
		return rctx.Caller, nil
	}
	return h.resolver.ResolveCaller(rctx.ctx(), rctx.Conn, rctx.Caller)
}

// finish records metrics for a completed request and logs failures at a
// level matching who caused them.
func (h *Handler) finish(op xattr.Op, start time.Time, err error, rctx *RequestContext, fidStr, name string) {
	errno := xattr.ToErrno(err)
	h.metrics.RecordRequest(op.String(), time.Since(start), errno.String())

	if err == nil {
		return
	}

	switch {
	case xattr.Silent(err):
		logger.Debug("%s: fid=%s name='%s' client=%s status=%s: %v",
			op, fidStr, name, rctx.clientAddr(), errno, err)
	case errno == xattr.EIO || errno == xattr.ENOMEM:
		logger.Error("%s failed: fid=%s name='%s' client=%s status=%s: %v",
			op, fidStr, name, rctx.clientAddr(), errno, err)
	default:
		logger.Warn("%s failed: fid=%s name='%s' client=%s status=%s: %v",
			op, fidStr, name, rctx.clientAddr(), errno, err)
	}
}

// contextError returns the request context's error, if any. Handlers
// return it alongside the reply so the transport can drop replies to
// clients that went away.
func contextError(rctx *RequestContext) error {
	return rctx.ctx().Err()
}
