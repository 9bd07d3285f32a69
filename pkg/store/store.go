// Package store defines the storage contracts behind the extended-attribute
// handler.
//
// A Store keeps, for every object, a small record (change time and version)
// and a set of named attribute values. Implementations live in the memory,
// badger and s3 subpackages; all of them pass the conformance suite in
// pkg/store/testing.
//
// Error contract:
//   - operations on an unknown object return xattr.ErrNoObject
//   - reading, probing or deleting an absent attribute returns xattr.ErrNoData
//   - a buffer too small for the requested data returns xattr.ErrRange
//   - create/replace violations return xattr.ErrExists / xattr.ErrNoData
//   - infrastructure failures are wrapped with fmt.Errorf and %w
package store

import (
	"context"
	"time"

	"github.com/marmos91/dittomds/pkg/fid"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// AttributeStore is byte-oriented access to the named attributes of an
// object.
type AttributeStore interface {
	// ProbeSize returns the size of the named value without reading it.
	ProbeSize(ctx context.Context, f fid.FID, name string) (int, error)

	// Read copies the named value into buf and returns its length. A buf
	// shorter than the value fails with ErrRange and leaves buf undefined.
	Read(ctx context.Context, f fid.FID, name string, buf []byte) (int, error)

	// Write stores value under name honouring the create/replace flags.
	Write(ctx context.Context, f fid.FID, name string, value []byte, flags xattr.SetFlags) error

	// Delete removes the named attribute.
	Delete(ctx context.Context, f fid.FID, name string) error

	// Enumerate writes the object's attribute names into buf as a
	// NUL-terminated name blob in name order and returns its length. A nil
	// buf only returns the length.
	Enumerate(ctx context.Context, f fid.FID, buf []byte) (int, error)
}

// Object is the per-object record maintained next to the attributes.
type Object struct {
	FID     fid.FID   `json:"-"`
	Ctime   time.Time `json:"ctime"`
	Version uint64    `json:"version"`
}

// ObjectStore manages the per-object record.
type ObjectStore interface {
	// CreateObject provisions an empty object. Creating an existing object
	// fails with ErrExists.
	CreateObject(ctx context.Context, f fid.FID) error

	// GetObject returns the object's record.
	GetObject(ctx context.Context, f fid.FID) (*Object, error)

	// SetCtime updates the change time. It is an internal update and does
	// not check the caller's permissions.
	SetCtime(ctx context.Context, f fid.FID, t time.Time) error

	// BumpVersion increments the object version and returns the new value.
	BumpVersion(ctx context.Context, f fid.FID) (uint64, error)
}

// Store is a complete backend.
type Store interface {
	AttributeStore
	ObjectStore

	// Close releases the backend's resources.
	Close() error
}

// CopyBlob writes names into buf as a name blob, or only sizes it when buf
// is nil. Backends share it to implement Enumerate.
func CopyBlob(names []string, buf []byte) (int, error) {
	size := xattr.NamesSize(names)
	if buf == nil {
		return size, nil
	}
	if len(buf) < size {
		return 0, xattr.NewError(xattr.ErrRange, "", "name list of %d bytes does not fit in %d", size, len(buf))
	}
	off := 0
	for _, n := range names {
		off += copy(buf[off:], n)
		buf[off] = 0
		off++
	}
	return size, nil
}

// CopyValue copies value into buf, failing with ErrRange when it does not
// fit.
func CopyValue(name string, value []byte, buf []byte) (int, error) {
	if len(value) > len(buf) {
		return 0, xattr.NewError(xattr.ErrRange, name, "value of %d bytes does not fit in %d", len(value), len(buf))
	}
	return copy(buf, value), nil
}

// ValidateValue rejects values larger than xattr.SizeMax.
func ValidateValue(name string, value []byte) error {
	if len(value) > xattr.SizeMax {
		return xattr.NewError(xattr.ErrRange, name, "value of %d bytes exceeds maximum %d", len(value), xattr.SizeMax)
	}
	return nil
}

// ErrNoObject builds the error returned for unknown objects.
func ErrNoObject(f fid.FID) error {
	return xattr.NewError(xattr.ErrNoObject, f.String(), "object not found")
}

// ErrNoAttr builds the error returned for absent attributes.
func ErrNoAttr(name string) error {
	return xattr.NewError(xattr.ErrNoData, name, "attribute does not exist")
}
