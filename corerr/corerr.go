// Package corerr defines SID's typed command/store error kinds. Each kind
// carries the syscall.Errno its callers (the bridge protocol, sidctl) are
// expected to surface to the far end, mirroring the way the teacher's fuse
// package wraps arbitrary I/O errors into a single errno-bearing type for
// a protocol boundary that can only carry numeric codes.
package corerr

import (
	"fmt"
	"syscall"
)

// Kind classifies a CmdError independent of its wire errno, so callers can
// branch on "what kind of rejection was this" with errors.Is without
// string-matching Message.
type Kind string

const (
	// KindFlagConflict: a write was rejected because the existing record's
	// ownership flags forbid a different owner from touching it.
	KindFlagConflict Kind = "flag_conflict"
	// KindPhaseForbidden: a module attempted an operation its current scan
	// phase's capability mask does not permit.
	KindPhaseForbidden Kind = "phase_forbidden"
	// KindOwnerMismatch: an unset/alias operation named an owner that does
	// not match the record's recorded owner.
	KindOwnerMismatch Kind = "owner_mismatch"
	// KindStaleSeqnum: an imported SYNC record's seqnum did not advance
	// the target's current seqnum and was discarded.
	KindStaleSeqnum Kind = "stale_seqnum"
)

// defaultErrno is the syscall.Errno each Kind maps to.
var defaultErrno = map[Kind]syscall.Errno{
	KindFlagConflict:   syscall.EACCES,
	KindPhaseForbidden: syscall.EPERM,
	KindOwnerMismatch:  syscall.EPERM,
	KindStaleSeqnum:    syscall.EALREADY,
}

// CmdError is SID's command/store error type: a Kind, for errors.Is-style
// branching, paired with the syscall.Errno a protocol boundary exposes.
type CmdError struct {
	Kind    Kind
	Errno   syscall.Errno
	Message string
	cause   error
}

func (e *CmdError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("sid: %s: %s", e.Kind, e.Errno)
}

func (e *CmdError) Unwrap() error { return e.cause }

// Is lets errors.Is(err, corerr.New(k, nil)) match any CmdError of the
// same Kind, regardless of message or wrapped cause.
func (e *CmdError) Is(target error) bool {
	other, ok := target.(*CmdError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// New constructs a CmdError of the given kind, with Errno taken from
// defaultErrno for that kind.
func New(kind Kind, cause error) *CmdError {
	return &CmdError{
		Kind:  kind,
		Errno: defaultErrno[kind],
		cause: cause,
	}
}

// Newf constructs a CmdError with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *CmdError {
	e := New(kind, nil)
	e.Message = fmt.Sprintf(format, args...)
	return e
}

// Sentinel values for errors.Is comparisons that don't need a cause or
// custom message.
var (
	ErrFlagConflict   = New(KindFlagConflict, nil)
	ErrPhaseForbidden = New(KindPhaseForbidden, nil)
	ErrOwnerMismatch  = New(KindOwnerMismatch, nil)
	ErrStaleSeqnum    = New(KindStaleSeqnum, nil)
)
