package xattr

import (
	"fmt"
	"strings"
)

// Op is the extended-attribute operation requested by a client.
type Op int

const (
	// OpUnknown is produced when the request selector bits do not name a
	// supported operation
	OpUnknown Op = iota
	OpGet
	OpList
	OpGetAll
	OpSet
	OpRemove
)

var opNames = [...]string{
	OpUnknown: "UNKNOWN",
	OpGet:     "GETXATTR",
	OpList:    "LISTXATTR",
	OpGetAll:  "GETXATTR_ALL",
	OpSet:     "SETXATTR",
	OpRemove:  "REMOVEXATTR",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// IsRead reports whether the operation only reads attributes.
func (o Op) IsRead() bool {
	return o == OpGet || o == OpList || o == OpGetAll
}

// Capabilities is the capability mask carried by a caller's credentials.
type Capabilities uint64

const (
	// CapSysAdmin grants access to the trusted namespace
	CapSysAdmin Capabilities = 1 << 21
)

// Has reports whether every capability in c2 is present.
func (c Capabilities) Has(c2 Capabilities) bool {
	return c&c2 == c2
}

// Features is the feature mask negotiated on a client connection.
type Features uint64

const (
	// FeatureXattr enables the user attribute namespace
	FeatureXattr Features = 1 << iota

	// FeatureACL advertises POSIX ACL support. It is negotiated and
	// reported back to the client but does not gate the system.posix_acl_*
	// names, which are checked by the namespace rules alone.
	FeatureACL

	// FeatureLargeACL lifts the legacy ACL size limit
	FeatureLargeACL
)

var featureNames = map[string]Features{
	"xattr":     FeatureXattr,
	"acl":       FeatureACL,
	"large_acl": FeatureLargeACL,
}

// Has reports whether every feature in f2 is present.
func (f Features) Has(f2 Features) bool {
	return f&f2 == f2
}

func (f Features) String() string {
	var parts []string
	for _, name := range []string{"xattr", "acl", "large_acl"} {
		if f.Has(featureNames[name]) {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseFeatures converts feature names (as used in configuration) into a
// mask.
func ParseFeatures(names []string) (Features, error) {
	var f Features
	for _, n := range names {
		bit, ok := featureNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return 0, fmt.Errorf("unknown connection feature %q", n)
		}
		f |= bit
	}
	return f, nil
}

// Caller is the resolved identity a request runs as.
type Caller struct {
	UID    uint32
	GID    uint32
	Groups []uint32
	Caps   Capabilities
}

// Connection describes the client connection a request arrived on.
type Connection struct {
	// ID uniquely identifies the connection for logging
	ID string

	// Addr is the client's network address ("host:port")
	Addr string

	// Features is the negotiated feature mask
	Features Features
}

// Decision is the outcome of a successful authorization.
type Decision int

const (
	// Allow means the operation proceeds
	Allow Decision = iota

	// NoOp means the operation reports success without touching the store
	NoOp
)

func (d Decision) String() string {
	if d == NoOp {
		return "noop"
	}
	return "allow"
}

// Authorize decides whether caller may run op on the named attribute over
// conn.
//
// Reads of a single name validate the name and gate the user namespace on
// FeatureXattr. List and GetAll carry no name and are always allowed.
// Every other operation is treated as a mutation: the user namespace is
// gated the same way, the trusted namespace requires CapSysAdmin (reserved
// names then become a NoOp) and layout names must be one of the three
// accepted sub-operations.
func Authorize(class Class, name string, op Op, caller *Caller, conn *Connection) (Decision, error) {
	if op == OpList || op == OpGetAll {
		return Allow, nil
	}

	if err := ValidateName(name); err != nil {
		return Allow, err
	}

	var features Features
	if conn != nil {
		features = conn.Features
	}

	if class == ClassUser && !features.Has(FeatureXattr) {
		return Allow, NewError(ErrNotSupported, name, "user attributes not enabled on this connection")
	}

	if op == OpGet {
		return Allow, nil
	}

	if class.IsPrivileged() {
		if caller == nil || !caller.Caps.Has(CapSysAdmin) {
			return Allow, NewError(ErrPermission, name, "trusted attributes require CAP_SYS_ADMIN")
		}
		if class == ClassReserved {
			return NoOp, nil
		}
	}

	if class == ClassLayout {
		if _, ok := LayoutOp(name); !ok {
			return Allow, NewError(ErrInvalid, name, "unsupported layout operation")
		}
	}

	return Allow, nil
}
