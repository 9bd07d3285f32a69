package e2e

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/marmos91/dittomds/internal/logger"
	"github.com/marmos91/dittomds/pkg/client"
	"github.com/marmos91/dittomds/pkg/config"
	"github.com/marmos91/dittomds/pkg/fid"
	"github.com/marmos91/dittomds/pkg/lock"
	"github.com/marmos91/dittomds/pkg/server"
	"github.com/marmos91/dittomds/pkg/stats"
	"github.com/marmos91/dittomds/pkg/store"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// Objects provisioned on every test server.
var (
	RootFID = fid.FID{Seq: 0x200000007, Oid: 0x1}
	FileFID = fid.FID{Seq: 0x200000401, Oid: 0x2}
)

// Credentials used by test clients.
var (
	UserCaller  = xattr.Caller{UID: 1000, GID: 1000}
	AdminCaller = xattr.Caller{Caps: xattr.CapSysAdmin}
)

// TestContext provides a complete testing environment with:
// - Running DittoMDS server built from a configuration
// - The attribute store it serves
// - Cleanup mechanisms
type TestContext struct {
	T        *testing.T
	Config   *TestConfig
	AppCfg   *config.Config
	Server   *server.Server
	Store    store.Store
	Stats    *stats.Registry
	Addr     string
	Port     int
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan error
	clients  []*client.Client
	tempDirs []string
}

// NewTestContext creates a new test environment with the given
// configuration and starts the server.
func NewTestContext(t *testing.T, cfg *TestConfig) *TestContext {
	t.Helper()

	// Functional tests, not debugging sessions
	logger.SetLevel("ERROR")

	tc := &TestContext{
		T:      t,
		Config: cfg,
		Port:   findFreePort(t),
	}

	appCfg, err := cfg.ServerConfig(tc)
	if err != nil {
		t.Fatalf("Failed to build server configuration: %v", err)
	}
	tc.AppCfg = appCfg

	tc.startServer()
	return tc
}

// startServer wires the store, identity mapping and handler the same way
// the start command does and serves in the background.
func (tc *TestContext) startServer() {
	tc.T.Helper()

	tc.ctx, tc.cancel = context.WithCancel(context.Background())

	m := config.InitializeMetrics(tc.AppCfg)

	st, err := config.CreateStore(tc.ctx, &tc.AppCfg.Store, m.Store)
	if err != nil {
		tc.T.Fatalf("Failed to create store: %v", err)
	}
	tc.Store = st

	if err := config.ProvisionObjects(tc.ctx, st, tc.AppCfg.Store.Objects); err != nil {
		tc.T.Fatalf("Failed to provision objects: %v", err)
	}

	reg, err := config.InitializeIdmap(&tc.AppCfg.Idmap)
	if err != nil {
		tc.T.Fatalf("Failed to initialize identity mapping: %v", err)
	}

	tc.Stats = stats.NewRegistry()
	h := config.CreateHandler(tc.AppCfg, st, reg, lock.NewManager(), tc.Stats, m.Xattr)

	srvCfg, err := config.BuildServerConfig(tc.AppCfg)
	if err != nil {
		tc.T.Fatalf("Failed to build server config: %v", err)
	}
	tc.Server = server.New(srvCfg, h, tc.Stats, m.Connections)

	tc.done = make(chan error, 1)
	go func() {
		tc.done <- tc.Server.Serve(tc.ctx)
	}()

	tc.waitForServer()
	tc.Addr = tc.Server.Addr().String()
}

// waitForServer waits for the listener to be bound
func (tc *TestContext) waitForServer() {
	tc.T.Helper()

	select {
	case <-tc.Server.Ready():
	case err := <-tc.done:
		tc.T.Fatalf("Server exited before becoming ready: %v", err)
	case <-time.After(10 * time.Second):
		tc.T.Fatal("Timeout waiting for server to start")
	}
}

// stopServer shuts the server down and closes its store
func (tc *TestContext) stopServer() {
	tc.T.Helper()

	for _, c := range tc.clients {
		_ = c.Close()
	}
	tc.clients = nil

	if tc.cancel != nil {
		tc.cancel()
		select {
		case err := <-tc.done:
			if err != nil {
				tc.T.Logf("Server error: %v", err)
			}
		case <-time.After(10 * time.Second):
			tc.T.Logf("Server stop timeout")
		}
		tc.cancel = nil
	}

	if tc.Store != nil {
		if err := tc.Store.Close(); err != nil {
			tc.T.Logf("Failed to close store: %v", err)
		}
		tc.Store = nil
	}
}

// Restart stops the server and starts a new one on the same store
// configuration. Clients opened before the restart are closed.
func (tc *TestContext) Restart() {
	tc.T.Helper()

	tc.stopServer()
	tc.startServer()
}

// Dial opens a client connection as caller, requesting every feature.
// The connection is closed by Cleanup.
func (tc *TestContext) Dial(caller xattr.Caller) *client.Client {
	tc.T.Helper()

	return tc.DialFeatures(caller, xattr.FeatureXattr|xattr.FeatureACL|xattr.FeatureLargeACL)
}

// DialFeatures opens a client connection requesting only features.
func (tc *TestContext) DialFeatures(caller xattr.Caller, features xattr.Features) *client.Client {
	tc.T.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, tc.Addr, client.Options{
		Features: features,
		Caller:   caller,
	})
	if err != nil {
		tc.T.Fatalf("Failed to connect to %s: %v", tc.Addr, err)
	}
	tc.clients = append(tc.clients, c)
	return c
}

// Cleanup stops the server and removes temporary files
func (tc *TestContext) Cleanup() {
	tc.T.Helper()

	tc.stopServer()

	for _, dir := range tc.tempDirs {
		_ = os.RemoveAll(dir)
	}
}

// CreateTempDir creates a temporary directory and registers it for cleanup
func (tc *TestContext) CreateTempDir(prefix string) string {
	tc.T.Helper()

	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		tc.T.Fatalf("Failed to create temp directory: %v", err)
	}
	tc.tempDirs = append(tc.tempDirs, dir)
	return dir
}

// GetConfig returns the test configuration
func (tc *TestContext) GetConfig() *TestConfig {
	return tc.Config
}

// GetPort returns the server port
func (tc *TestContext) GetPort() int {
	return tc.Port
}

// findFreePort finds an available TCP port
func findFreePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}
	defer func() { _ = listener.Close() }()

	return listener.Addr().(*net.TCPAddr).Port
}
