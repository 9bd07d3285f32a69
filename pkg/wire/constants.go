// Package wire defines the DittoMDS client protocol: record-marked frames
// carrying XDR-encoded calls and replies.
//
// Every frame body starts with a header (CallHeader or ReplyHeader)
// followed by the procedure's arguments or results. A connection opens
// with a ProcConnect call that negotiates features and the credentials
// later requests run as.
package wire

// ProtocolVersion is the version sent in ConnectArgs.
const ProtocolVersion = 1

// Procedure identifies the operation a call invokes.
type Procedure uint32

// Procedures
const (
	// ProcNull does nothing; clients use it as a ping
	ProcNull Procedure = 0

	// ProcConnect opens a session and must be the first call
	ProcConnect Procedure = 1

	// ProcGetxattr serves Get, List and GetAll
	ProcGetxattr Procedure = 2

	// ProcSetxattr serves Set and Remove
	ProcSetxattr Procedure = 3

	// ProcLock grants a lock scope to the connection
	ProcLock Procedure = 4
)

func (p Procedure) String() string {
	switch p {
	case ProcNull:
		return "NULL"
	case ProcConnect:
		return "CONNECT"
	case ProcGetxattr:
		return "GETXATTR"
	case ProcSetxattr:
		return "SETXATTR"
	case ProcLock:
		return "LOCK"
	}
	return "UNKNOWN"
}

// AcceptStat reports whether a call reached its procedure.
type AcceptStat uint32

// Accept statuses. Procedure failures are reported inside the results
// with an errno; these only describe the transport.
const (
	// Accepted means the results follow the header
	Accepted AcceptStat = 0

	// ProcUnavail means the procedure number is unknown
	ProcUnavail AcceptStat = 1

	// GarbageArgs means the arguments could not be decoded
	GarbageArgs AcceptStat = 2

	// SystemErr means the server refused the call (rate limit, shutdown)
	SystemErr AcceptStat = 3

	// NotConnected means a call arrived before ProcConnect
	NotConnected AcceptStat = 4
)

func (s AcceptStat) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case ProcUnavail:
		return "proc_unavail"
	case GarbageArgs:
		return "garbage_args"
	case SystemErr:
		return "system_err"
	case NotConnected:
		return "not_connected"
	}
	return "unknown"
}

// Record marking constants.
const (
	// lastFragment is set on the final fragment of a record
	lastFragment = 0x80000000

	// fragmentLengthMask extracts the fragment length
	fragmentLengthMask = 0x7FFFFFFF

	// DefaultMaxFrameSize bounds a reassembled record. It leaves room for
	// a GetAll reply of several maximum-size values.
	DefaultMaxFrameSize = 4 << 20
)
