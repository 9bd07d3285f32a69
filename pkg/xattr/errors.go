package xattr

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode represents the kind of failure an extended-attribute operation
// ran into.
//
// Codes are protocol independent; Errno translates them to the POSIX values
// returned to clients.
type ErrorCode int

const (
	// ErrNoData indicates the named attribute does not exist on the object
	ErrNoData ErrorCode = iota

	// ErrExists indicates a create-only write found an existing attribute
	ErrExists

	// ErrNotSupported indicates the namespace or operation is not enabled
	// for this connection or store
	ErrNotSupported

	// ErrPermission indicates the caller lacks the capability required by
	// the attribute namespace, or ACL entries could not be mapped
	ErrPermission

	// ErrAccess indicates the caller identity was refused by the identity
	// mapping (unknown users on a deny-unknown nodemap)
	ErrAccess

	// ErrRange indicates a value or reply does not fit in the space
	// available for it
	ErrRange

	// ErrInvalid indicates a malformed request: bad name, conflicting
	// flags or unknown operation selector
	ErrInvalid

	// ErrFault indicates a required request field is missing
	ErrFault

	// ErrNoMemory indicates a reply buffer could not be allocated
	ErrNoMemory

	// ErrIO indicates a backend storage failure
	ErrIO

	// ErrNoObject indicates the addressed object does not exist
	ErrNoObject

	// ErrVersionMismatch indicates the object changed since the version
	// the client based its request on
	ErrVersionMismatch
)

// Errno is a POSIX error number as carried in replies.
type Errno uint32

// POSIX errno values used in replies (Linux numbering).
const (
	OK         Errno = 0
	EPERM      Errno = 1
	ENOENT     Errno = 2
	EIO        Errno = 5
	ENOMEM     Errno = 12
	EACCES     Errno = 13
	EFAULT     Errno = 14
	EEXIST     Errno = 17
	EINVAL     Errno = 22
	ERANGE     Errno = 34
	ENODATA    Errno = 61
	EOVERFLOW  Errno = 75
	EOPNOTSUPP Errno = 95
	ETIMEDOUT  Errno = 110
)

var errnoNames = map[Errno]string{
	OK:         "OK",
	EPERM:      "EPERM",
	ENOENT:     "ENOENT",
	EIO:        "EIO",
	ENOMEM:     "ENOMEM",
	EACCES:     "EACCES",
	EFAULT:     "EFAULT",
	EEXIST:     "EEXIST",
	EINVAL:     "EINVAL",
	ERANGE:     "ERANGE",
	ENODATA:    "ENODATA",
	EOVERFLOW:  "EOVERFLOW",
	EOPNOTSUPP: "EOPNOTSUPP",
	ETIMEDOUT:  "ETIMEDOUT",
}

func (e Errno) String() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return fmt.Sprintf("errno(%d)", uint32(e))
}

var codeErrno = map[ErrorCode]Errno{
	ErrNoData:          ENODATA,
	ErrExists:          EEXIST,
	ErrNotSupported:    EOPNOTSUPP,
	ErrPermission:      EPERM,
	ErrAccess:          EACCES,
	ErrRange:           ERANGE,
	ErrInvalid:         EINVAL,
	ErrFault:           EFAULT,
	ErrNoMemory:        ENOMEM,
	ErrIO:              EIO,
	ErrNoObject:        ENOENT,
	ErrVersionMismatch: EOVERFLOW,
}

// Errno returns the POSIX error number for the code.
func (c ErrorCode) Errno() Errno {
	if errno, ok := codeErrno[c]; ok {
		return errno
	}
	return EIO
}

var errnoCode = func() map[Errno]ErrorCode {
	m := make(map[Errno]ErrorCode, len(codeErrno))
	for code, errno := range codeErrno {
		m[errno] = code
	}
	return m
}()

// FromErrno rebuilds an error from a reply status. OK maps to nil and
// ETIMEDOUT to context.DeadlineExceeded. Unknown numbers become ErrIO.
func FromErrno(e Errno, name string) error {
	switch e {
	case OK:
		return nil
	case ETIMEDOUT:
		return fmt.Errorf("server request timed out: %w", context.DeadlineExceeded)
	}
	code, ok := errnoCode[e]
	if !ok {
		return NewError(ErrIO, name, "server returned %s", e)
	}
	return NewError(code, name, "server returned %s", e)
}

// Error is the typed error returned by every layer of the attribute path.
//
// Stores, the name policy, the identity translator and the handler all
// return *Error for business failures so the transport can report a
// precise status without string matching.
type Error struct {
	Code    ErrorCode
	Message string
	Name    string
}

func (e *Error) Error() string {
	if e.Name != "" {
		return e.Message + ": " + e.Name
	}
	return e.Message
}

// Errno returns the POSIX error number for this error.
func (e *Error) Errno() Errno {
	return e.Code.Errno()
}

// NewError builds an *Error with a formatted message.
func NewError(code ErrorCode, name string, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Name:    name,
	}
}

// CodeOf extracts the ErrorCode from err if it wraps an *Error.
func CodeOf(err error) (ErrorCode, bool) {
	var xerr *Error
	if errors.As(err, &xerr) {
		return xerr.Code, true
	}
	return 0, false
}

// IsCode reports whether err wraps an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsNotFound reports whether err means the attribute is absent.
func IsNotFound(err error) bool {
	return IsCode(err, ErrNoData)
}

// ToErrno maps any error to the status reported to clients.
//
// nil maps to OK, typed errors to their errno, context expiry to
// ETIMEDOUT and everything else to EIO.
func ToErrno(err error) Errno {
	if err == nil {
		return OK
	}
	var xerr *Error
	if errors.As(err, &xerr) {
		return xerr.Errno()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ETIMEDOUT
	}
	return EIO
}

// Silent reports whether err is an expected outcome that should not be
// logged at error level (absent attribute, unsupported namespace, missing
// object).
func Silent(err error) bool {
	code, ok := CodeOf(err)
	if !ok {
		return false
	}
	switch code {
	case ErrNoData, ErrNotSupported, ErrNoObject:
		return true
	}
	return false
}
