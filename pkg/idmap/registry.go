package idmap

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/marmos91/dittomds/pkg/xattr"
)

// Translator rewrites ACL payloads crossing the client/filesystem
// boundary.
type Translator interface {
	MapACL(ctx context.Context, conn *xattr.Connection, buf []byte, dir Direction) ([]byte, error)
}

// Resolver maps a caller's client credentials to filesystem credentials.
type Resolver interface {
	ResolveCaller(ctx context.Context, conn *xattr.Connection, caller xattr.Caller) (xattr.Caller, error)
}

// Registry selects the nodemap serving a connection.
//
// Nodemaps are matched in registration order against the client address;
// connections outside every range use the default nodemap.
type Registry struct {
	mu       sync.RWMutex
	nodemaps []*Nodemap
	byName   map[string]*Nodemap
	def      *Nodemap
}

// NewRegistry builds a registry. A nil def selects a trusted default
// nodemap that passes identities through unchanged.
func NewRegistry(def *Nodemap) *Registry {
	if def == nil {
		def = &Nodemap{
			Name:      "default",
			Trusted:   true,
			Admin:     true,
			SquashUID: DefaultSquashUID,
			SquashGID: DefaultSquashGID,
		}
	}
	return &Registry{
		byName: make(map[string]*Nodemap),
		def:    def,
	}
}

// Add registers a nodemap.
func (r *Registry) Add(n *Nodemap) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[n.Name]; exists || n.Name == r.def.Name {
		return fmt.Errorf("nodemap %q already registered", n.Name)
	}
	r.byName[n.Name] = n
	r.nodemaps = append(r.nodemaps, n)
	return nil
}

// Get returns a nodemap by name.
func (r *Registry) Get(name string) (*Nodemap, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == r.def.Name {
		return r.def, true
	}
	n, ok := r.byName[name]
	return n, ok
}

// Default returns the default nodemap.
func (r *Registry) Default() *Nodemap {
	return r.def
}

// Lookup returns the nodemap serving addr ("host:port" or a bare host).
func (r *Registry) Lookup(addr string) *Nodemap {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return r.def
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, n := range r.nodemaps {
		if n.Contains(ip) {
			return n
		}
	}
	return r.def
}

func (r *Registry) forConn(conn *xattr.Connection) *Nodemap {
	if conn == nil {
		return r.def
	}
	return r.Lookup(conn.Addr)
}

// MapACL implements Translator.
func (r *Registry) MapACL(ctx context.Context, conn *xattr.Connection, buf []byte, dir Direction) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.forConn(conn).MapACL(buf, dir)
}

// ResolveCaller implements Resolver.
func (r *Registry) ResolveCaller(ctx context.Context, conn *xattr.Connection, caller xattr.Caller) (xattr.Caller, error) {
	if err := ctx.Err(); err != nil {
		return xattr.Caller{}, err
	}
	return r.forConn(conn).ResolveCaller(caller)
}
