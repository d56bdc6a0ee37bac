package domain

// Phase is one step of the scan pipeline's fixed phase sequence (C7).
type Phase int

const (
	PhaseInit Phase = iota
	PhaseIdent
	PhaseScanPre
	PhaseScanCurrent
	PhaseScanNext
	PhaseScanPostCurrent
	PhaseScanPostNext
	PhaseWaiting
	PhaseExit
	PhaseTriggerActionCurrent
	PhaseTriggerActionNext
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "INIT"
	case PhaseIdent:
		return "IDENT"
	case PhaseScanPre:
		return "SCAN_PRE"
	case PhaseScanCurrent:
		return "SCAN_CURRENT"
	case PhaseScanNext:
		return "SCAN_NEXT"
	case PhaseScanPostCurrent:
		return "SCAN_POST_CURRENT"
	case PhaseScanPostNext:
		return "SCAN_POST_NEXT"
	case PhaseWaiting:
		return "WAITING"
	case PhaseExit:
		return "EXIT"
	case PhaseTriggerActionCurrent:
		return "TRIGGER_ACTION_CURRENT"
	case PhaseTriggerActionNext:
		return "TRIGGER_ACTION_NEXT"
	case PhaseError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Order is the declared phase sequence the scan pipeline walks, in order.
// TRIGGER_ACTION_* phases are not part of the default walk; they run only
// when a module schedules one.
var Order = []Phase{
	PhaseInit,
	PhaseIdent,
	PhaseScanPre,
	PhaseScanCurrent,
	PhaseScanNext,
	PhaseScanPostCurrent,
	PhaseScanPostNext,
	PhaseWaiting,
	PhaseExit,
}

// Capability is a bitmask of what a phase permits a module callback to do.
type Capability uint32

const (
	// CapRDY permits set_ready (only SCAN_PRE, SCAN_CURRENT).
	CapRDY Capability = 1 << iota
	// CapRES permits set_reserved (only SCAN_NEXT).
	CapRES
	// CapCoreOnly marks a phase core-only: no module callback runs.
	CapCoreOnly
)

// Capabilities maps each phase to its capability mask (spec section 4.4).
var Capabilities = map[Phase]Capability{
	PhaseInit:                 CapCoreOnly,
	PhaseIdent:                0,
	PhaseScanPre:              CapRDY,
	PhaseScanCurrent:          CapRDY,
	PhaseScanNext:             CapRES,
	PhaseScanPostCurrent:      0,
	PhaseScanPostNext:         0,
	PhaseWaiting:              0,
	PhaseExit:                 CapCoreOnly,
	PhaseTriggerActionCurrent: 0,
	PhaseTriggerActionNext:    0,
}

// ModuleKind distinguishes the two module roles the scan pipeline fans out
// to at each phase: every loaded block module runs at every phase, while
// exactly one type module (chosen by IDENT) runs for the "current" device
// layer and, from SCAN_NEXT onward, optionally a second for the "next"
// layer named by the previous phase's SID_NEXT_MOD key.
type ModuleKind int

const (
	ModuleKindBlock ModuleKind = iota
	ModuleKindType
)

// ModuleIface is the callback contract every sid module (block or type)
// implements. A phase method returns a non-nil error to fail the phase;
// Core maps that into the scan pipeline's ERROR transition. Phases the
// module does not care about may be left as a no-op returning nil --
// callers invoke whichever of these the dispatcher maps to the current
// Phase, so a module need not implement all of them meaningfully.
type ModuleIface interface {
	Name() string
	Kind() ModuleKind

	// Phase dispatches req for the named phase. Implementations switch on
	// req.Phase; Core never calls this for PhaseInit/PhaseExit (core-only).
	Phase(ctx CommandContextIface, req *ModuleRequest) error

	// Error runs once, for every module that registered one, when a
	// non-INIT/EXIT phase fails and the command enters PhaseError.
	Error(ctx CommandContextIface, req *ModuleRequest) error
}

// ModuleRequest carries the per-phase-invocation arguments passed to a
// module callback. CurrentMod and NextMod are sid's own bookkeeping (no
// built-in module reads them today) rather than part of the teacher-style
// callback contract; they exist so the scan pipeline can tell fanOut which
// type module(s) to invoke per phase without a second lookup.
type ModuleRequest struct {
	Phase Phase
	DevNo DevNo

	// CurrentMod is the type module IDENT resolved for this device's own
	// layer; it is fanned out on every phase from IDENT onward.
	CurrentMod string

	// NextMod is the SID_NEXT_MOD key's value, re-read fresh every phase
	// from SCAN_NEXT onward (never before) -- a module may have
	// overwritten SID_NEXT_MOD during SCAN_PRE/SCAN_CURRENT to redirect
	// the next-layer module away from CurrentMod.
	NextMod string
}

// DevNo is a packed kernel device number (major, minor).
type DevNo struct {
	Major uint32
	Minor uint32
}

// ModuleRegistry resolves module names to instances and enumerates block
// modules in registration order (the teacher's HandlerServiceIface /
// iradix-backed HandlerDB plays the analogous role for FUSE handlers).
type ModuleRegistry interface {
	RegisterBlock(m ModuleIface) error
	RegisterType(m ModuleIface) error
	BlockModules() []ModuleIface
	TypeModule(name string) (ModuleIface, bool)
}
