package xattr

import (
	"context"

	"github.com/marmos91/dittomds/pkg/fid"
)

// LegacyMaxACLSize is the largest ACL payload accepted from connections
// without FeatureLargeACL: a 4-byte header plus 32 entries of 8 bytes.
const LegacyMaxACLSize = 4 + 32*8

// DefaultMaxReplySize is the largest GetAll reply bound a client may
// declare when the Sizer is not given one. GetAll reserves the bound for
// three fields, so the whole reply stays within one default wire frame.
const DefaultMaxReplySize = 16 * SizeMax

// SizeProber is the subset of the attribute store needed to size replies.
type SizeProber interface {
	// ProbeSize returns the size of the named value
	ProbeSize(ctx context.Context, f fid.FID, name string) (int, error)

	// Enumerate with a nil buffer returns the size of the name blob
	Enumerate(ctx context.Context, f fid.FID, buf []byte) (int, error)
}

// SizeRequest is the input of Sizer.Layout.
type SizeRequest struct {
	FID  fid.FID
	Op   Op
	Name string

	// MaxReplySize is the buffer size declared by the client. Zero asks
	// for the size only (Get and List) and is invalid for GetAll.
	MaxReplySize int
}

// Sizing is the output of Sizer.Layout.
type Sizing struct {
	// Layout holds the field sizes to allocate
	Layout Layout

	// Size is the probed payload size (Get/List) or the reserved bound
	// (GetAll)
	Size int

	// Legacy is set when an absent layout attribute was normalized to a
	// present empty value
	Legacy bool
}

// Sizer computes reply layouts before any value byte is read.
type Sizer struct {
	Store SizeProber

	// ACLFieldSize is the size reserved for the legacy ACL field
	ACLFieldSize int

	// MaxReplySize caps the bound a GetAll request may declare. 0 leaves
	// it uncapped.
	MaxReplySize int
}

// NewSizer returns a Sizer over store with the default reply cap.
func NewSizer(store SizeProber) *Sizer {
	return &Sizer{Store: store, ACLFieldSize: LegacyMaxACLSize, MaxReplySize: DefaultMaxReplySize}
}

// Layout probes the store and returns the field sizes for req.
//
// A Get of an absent trusted.lov succeeds with size zero so old clients
// that always ask for the layout keep working. Every other probe failure
// is returned before anything is allocated.
func (s *Sizer) Layout(ctx context.Context, req SizeRequest) (Sizing, error) {
	var out Sizing

	switch req.Op {
	case OpGet:
		size, err := s.Store.ProbeSize(ctx, req.FID, req.Name)
		if err != nil {
			if !IsNotFound(err) || req.Name != NameLOV {
				return out, err
			}
			size = 0
			out.Legacy = true
		}
		out.Size = size

	case OpList:
		size, err := s.Store.Enumerate(ctx, req.FID, nil)
		if err != nil {
			return out, err
		}
		out.Size = size

	case OpGetAll:
		if req.MaxReplySize <= 0 {
			return out, NewError(ErrInvalid, "", "getxattr_all requires a reply size")
		}
		if s.MaxReplySize > 0 && req.MaxReplySize > s.MaxReplySize {
			return out, NewError(ErrInvalid, "", "getxattr_all reply size %d exceeds server maximum %d",
				req.MaxReplySize, s.MaxReplySize)
		}
		out.Size = req.MaxReplySize
		out.Layout.Set(FieldEAVals, req.MaxReplySize)
		out.Layout.Set(FieldEAValsLens, req.MaxReplySize)

	default:
		return out, NewError(ErrInvalid, req.Name, "unsupported getxattr operation %s", req.Op)
	}

	if req.MaxReplySize == 0 {
		out.Layout.Set(FieldEAData, 0)
	} else {
		out.Layout.Set(FieldEAData, out.Size)
	}
	out.Layout.Set(FieldACL, s.ACLFieldSize)

	return out, nil
}
