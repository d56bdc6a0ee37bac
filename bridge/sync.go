package bridge

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nestybox/sid/delta"
	"github.com/nestybox/sid/domain"
	"github.com/nestybox/sid/keycodec"
	"github.com/nestybox/sid/sysio"
)

// MergeSyncBuffer applies a worker's export buffer to the main store
// under the proxy-side merge rules (spec section 4.7): an unset is
// gated by an owner-match predicate; a SET is gated by seqnum ordering
// (the store's own ownership-flag check supplies the overwrite-
// authorization half); PLUS/MINUS replay through the delta engine in
// DiffOnly mode, since the worker already propagated any inverse
// relation. Per-record errors are logged and skipped rather than
// aborting the whole buffer, so one late or rejected record doesn't
// discard an otherwise-valid sync.
func MergeSyncBuffer(store domain.Store, buf []byte) error {
	entries, err := sysio.DecodeExportBuffer(buf)
	if err != nil {
		return fmt.Errorf("bridge: decoding export buffer: %w", err)
	}

	for _, e := range entries {
		if err := mergeOne(store, e); err != nil {
			logrus.Warnf("bridge: sync merge rejected %s: %v", e.Key, err)
		}
	}
	return nil
}

func mergeOne(store domain.Store, e sysio.ExportEntry) error {
	parsed, err := keycodec.Parse(e.Key)
	if err != nil {
		return fmt.Errorf("parsing key %s: %w", e.Key, err)
	}
	op := parsed.Op
	// The op-slot character only selects the merge operator; the absolute
	// record it targets is addressed by the same key with the operator
	// stripped back to SET (spec section 4.7: "strip the operator byte").
	mainKey := parsed.WithOp(keycodec.OpSet).Compose()

	if isUnset(e.Record) {
		owner := e.Record.Owner
		pred := func(old domain.Record, oldOK bool, _ domain.Record) bool {
			return !oldOK || old.Owner == owner
		}
		return store.Unset(mainKey, pred)
	}

	switch op {
	case keycodec.OpSet:
		pred := func(old domain.Record, oldOK bool, new domain.Record) bool {
			return !oldOK || new.Seqnum >= old.Seqnum
		}
		_, _, err := store.Set(mainKey, e.Record, domain.MergeOpCopy, pred)
		return err

	case keycodec.OpPlus, keycodec.OpMinus:
		_, _, _, err := delta.Apply(store, mainKey, op, e.Record.Owner, e.Record.Elements(), delta.DiffOnly)
		return err

	default:
		return fmt.Errorf("unsupported sync op %q for key %s", op, mainKey)
	}
}

// isUnset reports whether rec represents a retraction: a header-only
// vector, or a blob with no data bytes -- and not RESERVED, since a
// RESERVED record's emptiness is meaningful state rather than a
// deletion marker.
func isUnset(rec domain.Record) bool {
	if rec.Flags.Has(domain.FlagModReserved) {
		return false
	}
	if rec.IsVector {
		return len(rec.Payload) == 0
	}
	return len(rec.Blob()) == 0
}
