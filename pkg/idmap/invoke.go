package idmap

import (
	"context"

	"github.com/marmos91/dittomds/pkg/xattr"
)

// Limits bounds the ACL payloads handed to a Translator.
type Limits struct {
	// MaxEASize is the largest attribute value the filesystem stores.
	// Zero disables the check.
	MaxEASize int
}

// MapIfACL translates buf when name is an ACL attribute and returns it
// unchanged otherwise.
//
// Payloads larger than MaxEASize, or larger than the legacy ACL size on
// connections without FeatureLargeACL, fail with ErrRange before the
// translator runs. Incoming ACLs must translate without losing entries:
// a length change fails with ErrPermission. Outgoing ACLs may shrink.
// A nil translator still applies the size checks.
func MapIfACL(ctx context.Context, t Translator, limits Limits, conn *xattr.Connection, name string, buf []byte, dir Direction) ([]byte, error) {
	if !xattr.Classify(name).IsACL() {
		return buf, nil
	}

	if limits.MaxEASize > 0 && len(buf) > limits.MaxEASize {
		return nil, xattr.NewError(xattr.ErrRange, name, "ACL of %d bytes exceeds maximum %d", len(buf), limits.MaxEASize)
	}

	var features xattr.Features
	if conn != nil {
		features = conn.Features
	}
	if !features.Has(xattr.FeatureLargeACL) && len(buf) > xattr.LegacyMaxACLSize {
		return nil, xattr.NewError(xattr.ErrRange, name, "ACL of %d bytes exceeds legacy maximum %d", len(buf), xattr.LegacyMaxACLSize)
	}

	if t == nil {
		return buf, nil
	}

	out, err := t.MapACL(ctx, conn, buf, dir)
	if err != nil {
		return nil, err
	}

	if dir == ClientToFS && len(out) != len(buf) {
		return nil, xattr.NewError(xattr.ErrPermission, name, "ACL entries could not be mapped (%d -> %d bytes)", len(buf), len(out))
	}

	return out, nil
}
