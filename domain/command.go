package domain

import "github.com/nestybox/sid/corerr"

// CmdState is the command context's state machine position (C6).
type CmdState int

const (
	StateInitializing CmdState = iota
	StateExecScheduled
	StateExecuting
	StateExecFinished
	StateExpectingData
	StateExpectingExpbufAck
	StateExpbufAcked
	StateOK
	StateError
)

func (s CmdState) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateExecScheduled:
		return "EXEC_SCHEDULED"
	case StateExecuting:
		return "EXECUTING"
	case StateExecFinished:
		return "EXEC_FINISHED"
	case StateExpectingData:
		return "EXPECTING_DATA"
	case StateExpectingExpbufAck:
		return "EXPECTING_EXPBUF_ACK"
	case StateExpbufAcked:
		return "EXPBUF_ACKED"
	case StateOK:
		return "OK"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Cmd identifies a wire-protocol command (spec section 6).
type Cmd int

const (
	CmdActive Cmd = iota
	CmdCheckpoint
	CmdScan
	CmdVersion
	CmdDBDump
	CmdDBStats
	CmdResources
	CmdReply
	CmdUnknown
)

// PrivilegedCmds require the peer's effective UID to be 0.
var PrivilegedCmds = map[Cmd]bool{
	CmdCheckpoint: true,
	CmdScan:       true,
	CmdDBDump:     true,
	CmdDBStats:    true,
	CmdResources:  true,
}

// ExpectExpbufAck reports whether cmd must hold its client response until
// the worker-proxy sync handshake completes (spec section 4.5): today,
// only SCAN does.
func ExpectExpbufAck(c Cmd) bool {
	return c == CmdScan
}

// CommandContextIface is what a scan pipeline phase and a module callback
// see of the in-flight command: a store handle scoped to the rules of the
// current phase, the device being processed, and the state-machine
// transition points modules may legally trigger themselves.
type CommandContextIface interface {
	DevNo() DevNo
	Phase() Phase
	State() CmdState

	Store() Store

	// SetReady/SetReserved enforce the phase capability mask described in
	// domain.Capabilities; calling one outside its permitted phase returns
	// a *corerr.CmdError of KindPhaseForbidden and performs no store write.
	SetReady(value string) error
	SetReserved(value string) error

	// Owner is the module name attributed to writes this context performs
	// through the module-facing Set/SetReady/SetReserved helpers, so a
	// module never has to thread its own name through every call.
	Owner() string
}

// PhaseForbidden is the sentinel error SetReady/SetReserved return when
// called outside their capability-masked phase.
var PhaseForbidden = corerr.ErrPhaseForbidden
