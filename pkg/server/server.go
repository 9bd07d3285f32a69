// Package server exposes a handler.Handler over TCP using the pkg/wire
// protocol.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"

	"github.com/marmos91/dittomds/internal/logger"
	"github.com/marmos91/dittomds/internal/ratelimiter"
	"github.com/marmos91/dittomds/pkg/handler"
	"github.com/marmos91/dittomds/pkg/metrics"
	"github.com/marmos91/dittomds/pkg/stats"
	"github.com/marmos91/dittomds/pkg/wire"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// DefaultListenAddress is used when Config leaves ListenAddress empty.
const DefaultListenAddress = ":7988"

// Config configures the request server.
type Config struct {
	// ListenAddress is the TCP address to listen on ("host:port").
	// Default: DefaultListenAddress
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address"`

	// MaxConnections limits concurrent client connections. 0 = unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"min=0"`

	// Workers is the size of the shared worker pool running handlers.
	// Default: 16
	Workers int `mapstructure:"workers" yaml:"workers" validate:"min=0"`

	// MaxInFlight bounds the pipelined requests of one connection whose
	// replies are not yet written. The reader stops reading beyond it.
	// Default: 64
	MaxInFlight int `mapstructure:"max_in_flight" yaml:"max_in_flight" validate:"min=0"`

	// MaxFrameSize bounds a request record in bytes.
	// Default: wire.DefaultMaxFrameSize
	MaxFrameSize uint32 `mapstructure:"max_frame_size" yaml:"max_frame_size"`

	// RequestTimeout bounds one request, including lock waits.
	// Default: 30s
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" validate:"min=0"`

	// IdleTimeout closes connections with no incoming request.
	// Default: 5m
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"min=0"`

	// WriteTimeout bounds writing one reply.
	// Default: 30s
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"min=0"`

	// ShutdownTimeout is how long Stop waits for connections to drain
	// before force-closing them.
	// Default: 30s
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"min=0"`

	// StatsInterval logs the per-operation counters periodically. 0
	// disables the reporter.
	StatsInterval time.Duration `mapstructure:"stats_interval" yaml:"stats_interval" validate:"min=0"`

	// RateLimit configures request admission.
	RateLimit ratelimiter.Config `mapstructure:"rate_limit" yaml:"rate_limit"`

	// Features is the mask of connection features the server grants.
	// A client receives the intersection with what it asks for.
	Features xattr.Features `mapstructure:"-" yaml:"-" json:"-"`

	// MaxEASize is advertised to clients in the connect reply.
	// Default: handler.DefaultMaxEASize
	MaxEASize int `mapstructure:"-" yaml:"-" json:"-"`
}

func (c *Config) applyDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if c.Workers <= 0 {
		c.Workers = 16
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 64
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = wire.DefaultMaxFrameSize
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MaxEASize <= 0 {
		c.MaxEASize = handler.DefaultMaxEASize
	}
}

func (c *Config) validate() error {
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.RequestTimeout < 0 || c.IdleTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("timeouts must be >= 0")
	}
	return nil
}

// Server accepts client connections and runs their requests on a shared
// worker pool.
//
// Request flow:
//  1. A per-connection reader decodes frames; the first call must be
//     ProcConnect, which fixes the connection's features and credentials
//  2. Each call waits for a rate limiter token and is submitted to the
//     worker pool
//  3. A per-connection writer sends replies in request order
//  4. Once the connection closes and its last reply is out, every lock
//     granted to it through ProcLock is released
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. In-flight request contexts cancelled
//  4. Wait for connections to finish (up to ShutdownTimeout)
//  5. Force-close any remaining connections
//
// Thread safety:
// All methods are safe for concurrent use. Shutdown is idempotent.
type Server struct {
	config  Config
	handler *handler.Handler
	limiter *ratelimiter.Limiter
	pool    *workerpool.WorkerPool
	stats   *stats.Registry
	metrics metrics.ServerMetrics

	// listener is set once Serve has bound the address
	listener net.Listener
	ready    chan struct{}

	shutdownOnce sync.Once
	shutdown     chan struct{}

	// requestCtx is cancelled on shutdown to abort in-flight requests
	requestCtx     context.Context
	cancelRequests context.CancelFunc

	activeConns   sync.WaitGroup
	connCount     atomic.Int32
	connSemaphore chan struct{}

	// connections maps connection ids to their net.Conn for force-close
	connections sync.Map
}

// New creates a Server. st and m may be nil. It panics on an invalid
// configuration or a nil handler.
func New(cfg Config, h *handler.Handler, st *stats.Registry, m metrics.ServerMetrics) *Server {
	if h == nil {
		panic("server: handler is required")
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		panic(fmt.Sprintf("invalid server config: %v", err))
	}

	var connSemaphore chan struct{}
	if cfg.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, cfg.MaxConnections)
	}

	if m == nil {
		m = metrics.NewNoopServerMetrics()
	}

	requestCtx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:         cfg,
		handler:        h,
		limiter:        ratelimiter.New(cfg.RateLimit),
		pool:           workerpool.New(cfg.Workers),
		stats:          st,
		metrics:        m,
		ready:          make(chan struct{}),
		shutdown:       make(chan struct{}),
		requestCtx:     requestCtx,
		cancelRequests: cancel,
		connSemaphore:  connSemaphore,
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listener address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	select {
	case <-s.ready:
		return s.listener.Addr()
	default:
		return nil
	}
}

// Healthy returns nil while the server accepts connections: after the
// listener is bound and before shutdown starts.
func (s *Server) Healthy(ctx context.Context) error {
	select {
	case <-s.shutdown:
		return errors.New("server is shutting down")
	default:
	}
	select {
	case <-s.ready:
		return nil
	default:
		return errors.New("server is not listening yet")
	}
}

// ActiveConnections returns the number of open client connections.
func (s *Server) ActiveConnections() int32 {
	return s.connCount.Load()
}

// Serve listens and serves connections until ctx is cancelled or Stop is
// called. It returns nil after a clean drain and an error when the drain
// timed out or the listener could not be created.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	s.listener = listener
	close(s.ready)

	if s.stats != nil {
		s.stats.Init()
		if s.config.StatsInterval > 0 {
			s.stats.StartReporter(s.requestCtx, s.config.StatsInterval)
		}
	}

	logger.Info("DittoMDS server listening on %s", listener.Addr())
	logger.Debug("Server config: workers=%d max_connections=%d max_in_flight=%d request_timeout=%v idle_timeout=%v features=%s",
		s.config.Workers, s.config.MaxConnections, s.config.MaxInFlight,
		s.config.RequestTimeout, s.config.IdleTimeout, s.config.Features)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}

			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting connection: %v", err)
				continue
			}
		}

		id := uuid.NewString()

		s.activeConns.Add(1)
		current := s.connCount.Add(1)
		s.connections.Store(id, tcpConn)

		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveConnections(current)

		logger.Debug("Connection %s accepted from %s (active: %d)", id, tcpConn.RemoteAddr(), current)

		c := newConn(s, id, tcpConn)
		go func() {
			defer func() {
				s.connections.Delete(id)
				s.activeConns.Done()
				current := s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}

				s.metrics.RecordConnectionClosed()
				s.metrics.SetActiveConnections(current)

				logger.Debug("Connection %s closed (active: %d)", id, current)
			}()

			c.serve(s.requestCtx)
		}()
	}
}

// initiateShutdown stops accepting connections and cancels in-flight
// requests. Safe to call more than once.
func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("Server shutdown initiated")

		close(s.shutdown)

		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing listener: %v", err)
			}
		}

		s.cancelRequests()
	})
}

func (s *Server) gracefulShutdown() error {
	defer s.finish()

	active := s.connCount.Load()
	logger.Info("Graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		active, s.config.ShutdownTimeout)

	if s.waitConnections(time.After(s.config.ShutdownTimeout)) {
		logger.Info("Graceful shutdown complete: all connections closed")
		return nil
	}

	remaining := s.connCount.Load()
	logger.Warn("Shutdown timeout exceeded: %d connection(s) still active after %v, forcing closure",
		remaining, s.config.ShutdownTimeout)
	s.forceCloseConnections()

	return fmt.Errorf("shutdown timeout: %d connections force-closed", remaining)
}

// finish releases the worker pool and stops the counters once every
// connection is gone.
func (s *Server) finish() {
	s.activeConns.Wait()
	s.pool.StopWait()

	if s.stats != nil {
		s.stats.LogSnapshot()
		s.stats.Teardown()
	}
}

func (s *Server) waitConnections(timeout <-chan time.Time) bool {
	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-timeout:
		return false
	}
}

// forceCloseConnections closes every tracked connection. Their readers
// then fail and the goroutines exit.
func (s *Server) forceCloseConnections() {
	closed := 0
	s.connections.Range(func(key, value any) bool {
		if err := value.(net.Conn).Close(); err != nil {
			logger.Debug("Error force-closing connection %s: %v", key, err)
		} else {
			closed++
		}
		return true
	})
	if closed > 0 {
		logger.Info("Force-closed %d connection(s)", closed)
	}
}

// Stop initiates shutdown and waits until connections drain or ctx
// expires. Serve performs the forced close when ShutdownTimeout elapses.
func (s *Server) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if ctx == nil {
		ctx = context.Background()
	}

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		logger.Warn("Shutdown context cancelled: %d connection(s) still active: %v",
			s.connCount.Load(), ctx.Err())
		return ctx.Err()
	}
}
