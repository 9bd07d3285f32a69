// Package idmap translates identities between a client's namespace and
// the filesystem's namespace.
//
// Clients are grouped into nodemaps by network address. A nodemap carries
// uid and gid translation tables and squash identities for anything it
// cannot map. The same tables rewrite caller credentials and the ids
// embedded in POSIX ACL attribute values.
package idmap

import (
	"fmt"
	"net/netip"

	"github.com/marmos91/dittomds/pkg/xattr"
)

// Direction selects which way an id or ACL is translated.
type Direction int

const (
	// ClientToFS translates incoming client ids to filesystem ids
	ClientToFS Direction = iota

	// FSToClient translates stored filesystem ids for a client
	FSToClient
)

func (d Direction) String() string {
	if d == FSToClient {
		return "fs_to_client"
	}
	return "client_to_fs"
}

// IDKind distinguishes user ids from group ids.
type IDKind int

const (
	KindUID IDKind = iota
	KindGID
)

const (
	// DefaultSquashUID is the uid unmapped users become ("nobody")
	DefaultSquashUID uint32 = 65534

	// DefaultSquashGID is the gid unmapped groups become ("nogroup")
	DefaultSquashGID uint32 = 65534
)

// IDPair maps one client id to one filesystem id.
type IDPair struct {
	Client uint32
	FS     uint32
}

type idTable struct {
	toFS     map[uint32]uint32
	toClient map[uint32]uint32
}

func newIDTable(pairs []IDPair) (idTable, error) {
	t := idTable{
		toFS:     make(map[uint32]uint32, len(pairs)),
		toClient: make(map[uint32]uint32, len(pairs)),
	}
	for _, p := range pairs {
		if _, dup := t.toFS[p.Client]; dup {
			return t, fmt.Errorf("client id %d mapped twice", p.Client)
		}
		if _, dup := t.toClient[p.FS]; dup {
			return t, fmt.Errorf("filesystem id %d mapped twice", p.FS)
		}
		t.toFS[p.Client] = p.FS
		t.toClient[p.FS] = p.Client
	}
	return t, nil
}

func (t idTable) lookup(dir Direction, id uint32) (uint32, bool) {
	if dir == ClientToFS {
		v, ok := t.toFS[id]
		return v, ok
	}
	v, ok := t.toClient[id]
	return v, ok
}

// Options configures a Nodemap.
type Options struct {
	Name string

	// Ranges are the client address prefixes (CIDR) served by the nodemap
	Ranges []string

	// Trusted nodemaps pass every id through unchanged
	Trusted bool

	// Admin keeps root as root instead of squashing it
	Admin bool

	// DenyUnknown refuses requests from callers whose uid cannot be mapped
	DenyUnknown bool

	// SquashUID and SquashGID replace unmapped ids. Zero values select
	// the defaults.
	SquashUID uint32
	SquashGID uint32

	UIDs []IDPair
	GIDs []IDPair
}

// Nodemap is the identity policy for one group of clients.
type Nodemap struct {
	Name        string
	Ranges      []netip.Prefix
	Trusted     bool
	Admin       bool
	DenyUnknown bool
	SquashUID   uint32
	SquashGID   uint32

	uids idTable
	gids idTable
}

// NewNodemap validates opts and builds a Nodemap.
func NewNodemap(opts Options) (*Nodemap, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("nodemap name is required")
	}

	n := &Nodemap{
		Name:        opts.Name,
		Trusted:     opts.Trusted,
		Admin:       opts.Admin,
		DenyUnknown: opts.DenyUnknown,
		SquashUID:   opts.SquashUID,
		SquashGID:   opts.SquashGID,
	}
	if n.SquashUID == 0 {
		n.SquashUID = DefaultSquashUID
	}
	if n.SquashGID == 0 {
		n.SquashGID = DefaultSquashGID
	}

	for _, r := range opts.Ranges {
		prefix, err := netip.ParsePrefix(r)
		if err != nil {
			return nil, fmt.Errorf("nodemap %s: invalid range %q: %w", opts.Name, r, err)
		}
		n.Ranges = append(n.Ranges, prefix.Masked())
	}

	var err error
	if n.uids, err = newIDTable(opts.UIDs); err != nil {
		return nil, fmt.Errorf("nodemap %s: uid map: %w", opts.Name, err)
	}
	if n.gids, err = newIDTable(opts.GIDs); err != nil {
		return nil, fmt.Errorf("nodemap %s: gid map: %w", opts.Name, err)
	}

	return n, nil
}

// Contains reports whether addr falls in one of the nodemap's ranges.
func (n *Nodemap) Contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range n.Ranges {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (n *Nodemap) squash(kind IDKind) uint32 {
	if kind == KindGID {
		return n.SquashGID
	}
	return n.SquashUID
}

// MapID translates one id.
//
// Ids present in the tables are translated. Root is kept on admin
// nodemaps. Anything else becomes the squash id.
func (n *Nodemap) MapID(kind IDKind, dir Direction, id uint32) uint32 {
	if n.Trusted {
		return id
	}

	table := n.uids
	if kind == KindGID {
		table = n.gids
	}
	if mapped, ok := table.lookup(dir, id); ok {
		return mapped
	}
	if id == 0 && n.Admin {
		return 0
	}
	return n.squash(kind)
}

// MapACL rewrites the user and group ids in an encoded ACL.
//
// Named user and group entries whose id maps to the squash id are
// dropped, so the result may be shorter than buf. Trusted nodemaps return
// buf unchanged.
func (n *Nodemap) MapACL(buf []byte, dir Direction) ([]byte, error) {
	if n.Trusted {
		return buf, nil
	}

	acl, err := DecodeACL(buf)
	if err != nil {
		return nil, err
	}

	kept := acl.Entries[:0]
	for _, e := range acl.Entries {
		switch e.Tag {
		case TagUser:
			e.ID = n.MapID(KindUID, dir, e.ID)
			if e.ID == n.SquashUID {
				continue
			}
		case TagGroup:
			e.ID = n.MapID(KindGID, dir, e.ID)
			if e.ID == n.SquashGID {
				continue
			}
		}
		kept = append(kept, e)
	}
	acl.Entries = kept

	return acl.Encode(), nil
}

// ResolveCaller maps client credentials into the filesystem namespace.
//
// A caller whose uid is squashed loses every capability. On a
// deny-unknown nodemap such a caller is refused with ErrAccess.
func (n *Nodemap) ResolveCaller(c xattr.Caller) (xattr.Caller, error) {
	if n.Trusted {
		return c, nil
	}

	out := xattr.Caller{
		UID:  n.MapID(KindUID, ClientToFS, c.UID),
		GID:  n.MapID(KindGID, ClientToFS, c.GID),
		Caps: c.Caps,
	}

	squashed := out.UID == n.SquashUID && c.UID != n.SquashUID
	if squashed {
		if n.DenyUnknown {
			return xattr.Caller{}, xattr.NewError(xattr.ErrAccess, "", "uid %d unknown to nodemap %s", c.UID, n.Name)
		}
		out.Caps = 0
	}

	for _, g := range c.Groups {
		out.Groups = append(out.Groups, n.MapID(KindGID, ClientToFS, g))
	}

	return out, nil
}
