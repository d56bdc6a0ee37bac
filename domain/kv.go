package domain

import (
	"errors"

	"github.com/nestybox/sid/keycodec"
)

// Flags is a bitset over a KV record's protection/replication attributes
// (spec section 3).
type Flags uint32

const (
	FlagSync Flags = 1 << iota
	FlagPersistent
	FlagModProtected
	FlagModPrivate
	FlagModReserved
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Record is the value half of a KV-store entry. A record is either a single
// blob (IsVector == false, Payload holds exactly one element) or a vector of
// byte-slices (IsVector == true), per spec section 3. For vector records,
// Payload[0:] past any header convention is the application-visible element
// list; the store does not itself special-case a "header" slice -- callers
// that need a vector's element list (as opposed to its raw byte-slices) use
// Elements(), which is an alias for Payload.
type Record struct {
	Gennum   uint64
	Seqnum   uint64
	Flags    Flags
	Owner    string
	IsVector bool
	// Payload holds the record's data: for a blob record, exactly one
	// element; for a vector record, zero or more elements maintained in
	// strictly ascending byte-wise order (spec section 3 invariant).
	Payload [][]byte
}

// Blob returns the record's single data slice. Only valid when !IsVector.
func (r Record) Blob() []byte {
	if len(r.Payload) == 0 {
		return nil
	}
	return r.Payload[0]
}

// Elements returns a vector record's ordered element list.
func (r Record) Elements() [][]byte {
	return r.Payload
}

// Clone returns a deep copy of r, safe to mutate independently.
func (r Record) Clone() Record {
	out := r
	out.Payload = make([][]byte, len(r.Payload))
	for i, e := range r.Payload {
		b := make([]byte, len(e))
		copy(b, e)
		out.Payload[i] = b
	}
	return out
}

// MergeOp selects how Store.Set treats caller-supplied buffers.
type MergeOp int

const (
	// MergeOpCopy duplicates externally supplied buffers into store-owned
	// storage (named MERGE in spec section 4.2).
	MergeOpCopy MergeOp = iota
	// MergeOpNoCopy stores references directly (NO_OP in spec section 4.2).
	MergeOpNoCopy
)

// Predicate gates a Set/Unset: given the old record (ok=false if absent)
// and the candidate new record, it decides whether the write proceeds.
// The store itself maintains the SYNC/index-alias invariant from each
// record's Flags, so a predicate need only decide accept/reject.
type Predicate func(old Record, oldOK bool, new Record) (accept bool)

// Store errors, named precisely per spec section 4.2.
var (
	ErrPrivate       = errors.New("sid: EACCES: record is MOD_PRIVATE")
	ErrProtected     = errors.New("sid: EPERM: record is MOD_PROTECTED")
	ErrReserved      = errors.New("sid: EBUSY: record is MOD_RESERVED")
	ErrNoMemory      = errors.New("sid: ENOMEM")
	ErrPredicateVeto = errors.New("sid: EREMOTEIO: predicate rejected write")
)

// StoreStats summarizes store occupancy, returned by Store.Size (spec 4.2).
type StoreStats struct {
	Records    uint64
	Vectors    uint64
	Blobs      uint64
	AliasCount uint64
	Gennum     uint64
}

// Store is the KV-store contract (C2, spec section 4.2). Implementations
// must uphold: SYNC-flagged record existence iff its alias exists; vector
// element ordering; owner immutability; namespace UDEV blob-only.
type Store interface {
	Get(key string) (Record, bool)
	Set(key string, rec Record, merge MergeOp, pred Predicate) (accepted bool, stored Record, err error)
	Unset(key string, pred Predicate) error
	AddAlias(from, to string, force bool) error
	// Iter walks all keys k such that lo <= k < hi in store order, calling
	// fn for each. Iteration stops early if fn returns false. Iteration
	// must be stable against concurrent mutation of keys outside [lo, hi).
	Iter(lo, hi string, fn func(key string, rec Record) bool)
	Size() StoreStats

	// Gennum returns the store's current process-generation counter value.
	Gennum() uint64
}

// Re-export the key vocabulary so callers need not import keycodec
// directly for common cases.
type (
	Key       = keycodec.Key
	KeyOp     = keycodec.Op
	KeyNs     = keycodec.Namespace
	KeyDomain = keycodec.Domain
)

const (
	OpSet     = keycodec.OpSet
	OpPlus    = keycodec.OpPlus
	OpMinus   = keycodec.OpMinus
	OpIllegal = keycodec.OpIllegal

	NsUndefined = keycodec.NsUndefined
	NsUdev      = keycodec.NsUdev
	NsDevice    = keycodec.NsDevice
	NsModule    = keycodec.NsModule
	NsGlobal    = keycodec.NsGlobal

	DomNone = keycodec.DomNone
	DomLyr  = keycodec.DomLyr
	DomUsr  = keycodec.DomUsr
)

// Reserved GLOBAL-namespace keys (spec section 3).
const (
	GlobalBootID = "BOOT_ID"
	GlobalDBGen  = "DB_GENERATION"
)

// Reserved DEVICE-namespace core keys (spec sections 3, 4.4).
const (
	CoreReady    = "#RDY"
	CoreReserved = "#RES"
	CoreNextMod  = "SID_NEXT_MOD"
)

// Ready/Reserved record values (spec section 4.4/8 scenario 1).
const (
	StateUnprocessed = "UNPROCESSED"
	StatePublic      = "PUBLIC"
	StatePrivate     = "PRIVATE"
	StateShared      = "SHARED"
)

// Relation core suffixes used by the hierarchy/group-membership delta
// propagation (spec section 4.4): GMB is the forward (group-members) key,
// GIN its inverse (group-membership-of) counterpart.
const (
	CoreGroupMembers = "GMB"
	CoreGroupInverse = "GIN"
)
