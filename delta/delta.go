// Package delta implements the SET/PLUS/MINUS vector-diffing algebra (C4):
// it merges an incoming vector against a record's stored vector, producing
// the final stored vector plus the plus/minus delta vectors callers need to
// propagate to related records.
package delta

import (
	"bytes"
	"sort"

	"github.com/nestybox/sid/domain"
	"github.com/nestybox/sid/keycodec"
)

// Mode selects how far a delta Apply call propagates. DiffOnly computes and
// returns plus/minus without touching anything but the target key.
// WithRelation additionally walks the target's inverse-relation key and
// applies the mirrored change there -- but only one level deep: the
// recursive inverse-side Apply always runs in DiffOnly mode, so a
// WithRelation call can never cascade past its immediate counterpart.
type Mode int

const (
	DiffOnly Mode = iota
	WithRelation
)

// sortedUnique returns a new, sorted, duplicate-free copy of elems.
func sortedUnique(elems [][]byte) [][]byte {
	out := make([][]byte, len(elems))
	copy(out, elems)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })

	dedup := out[:0]
	for i, e := range out {
		if i == 0 || !bytes.Equal(e, dedup[len(dedup)-1]) {
			dedup = append(dedup, e)
		}
	}
	return dedup
}

// Diff computes the result of applying op with incoming against old, both
// of which must already be sorted ascending per the store's vector-element
// invariant. It returns the new stored vector and, separately, the
// elements added (plus) and removed (minus) by the operation.
func Diff(op keycodec.Op, old, incoming [][]byte) (final, plus, minus [][]byte) {
	switch op {
	case keycodec.OpSet:
		return diffSet(old, incoming)
	case keycodec.OpPlus:
		return diffPlus(old, incoming)
	case keycodec.OpMinus:
		return diffMinus(old, incoming)
	default:
		return old, nil, nil
	}
}

// diffSet replaces old wholesale with incoming (deduped, sorted), reporting
// the symmetric difference as plus/minus. SET is idempotent: SET(v) twice
// in a row yields an empty plus/minus the second time.
func diffSet(old, incoming [][]byte) (final, plus, minus [][]byte) {
	final = sortedUnique(incoming)
	plus = sortedDifference(final, old)
	minus = sortedDifference(old, final)
	return final, plus, minus
}

// diffPlus unions incoming into old; plus is whatever from incoming wasn't
// already present, minus is always empty.
func diffPlus(old, incoming [][]byte) (final, plus, minus [][]byte) {
	plus = sortedDifference(sortedUnique(incoming), old)
	final = sortedMerge(old, plus)
	return final, plus, nil
}

// diffMinus removes incoming from old; minus is whatever of incoming was
// actually present to remove, plus is always empty.
func diffMinus(old, incoming [][]byte) (final, plus, minus [][]byte) {
	toRemove := sortedUnique(incoming)
	minus = sortedIntersection(old, toRemove)
	final = sortedDifference(old, toRemove)
	return final, nil, minus
}

// sortedMerge merges two already-sorted, duplicate-free slices into one
// sorted, duplicate-free result.
func sortedMerge(a, b [][]byte) [][]byte {
	out := make([][]byte, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		c := bytes.Compare(a[i], b[j])
		switch {
		case c < 0:
			out = append(out, a[i])
			i++
		case c > 0:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// sortedDifference returns elements of a not present in b (both sorted,
// duplicate-free).
func sortedDifference(a, b [][]byte) [][]byte {
	var out [][]byte
	i, j := 0, 0
	for i < len(a) {
		if j >= len(b) {
			out = append(out, a[i])
			i++
			continue
		}
		c := bytes.Compare(a[i], b[j])
		switch {
		case c < 0:
			out = append(out, a[i])
			i++
		case c > 0:
			j++
		default:
			i++
			j++
		}
	}
	return out
}

// sortedIntersection returns elements present in both a and b (both sorted,
// duplicate-free).
func sortedIntersection(a, b [][]byte) [][]byte {
	var out [][]byte
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		c := bytes.Compare(a[i], b[j])
		switch {
		case c < 0:
			i++
		case c > 0:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// acceptAllPredicate is the always-accept predicate Apply and its
// companion-key writes use: the ownership/flag gating a caller needs has
// already happened (or is deliberately bypassed) by the time Apply's own
// store.Set calls run.
func acceptAllPredicate(domain.Record, bool, domain.Record) bool { return true }

// Apply runs Diff against the vector currently stored at key, writes the
// resulting final vector back through store, persists the plus/minus as
// SYNC-flagged `+`/`-` companion keys merged against whatever absolute
// delta was already there (spec section 4.3's "absolute-delta
// calculation"), and -- in WithRelation mode -- propagates the mirrored
// plus/minus to key's inverse-relation counterpart (GMB <-> GIN, spec
// section 4.4), recursing exactly once in DiffOnly mode so the inverse
// side cannot itself trigger a further propagation.
func Apply(
	store domain.Store,
	rawKey string,
	op keycodec.Op,
	owner string,
	incoming [][]byte,
	mode Mode,
) (final, plus, minus [][]byte, err error) {

	old, oldOK := store.Get(rawKey)
	var oldVec [][]byte
	if oldOK {
		oldVec = old.Elements()
	}

	final, plus, minus = Diff(op, oldVec, incoming)

	rec := domain.Record{
		Owner:    owner,
		Flags:    old.Flags,
		IsVector: true,
		Payload:  final,
	}
	_, _, err = store.Set(rawKey, rec, domain.MergeOpCopy, acceptAllPredicate)
	if err != nil {
		return nil, nil, nil, err
	}

	if err = persistAbsoluteDelta(store, rawKey, owner, plus, minus); err != nil {
		return final, plus, minus, err
	}

	if mode == WithRelation && (len(plus) > 0 || len(minus) > 0) {
		if ierr := propagateInverse(store, rawKey, owner, plus, minus); ierr != nil {
			return final, plus, minus, ierr
		}
	}

	return final, plus, minus, nil
}

// persistAbsoluteDelta writes this step's plus/minus back as the `+`/`-`
// companion keys for rawKey (spec section 4.3), merging them against
// whatever absolute delta a prior Apply call against the same key already
// persisted via mergeAbsoluteDelta. The companion records are themselves
// flagged SYNC: they are the "absolute-delta records, flagged SYNC" the
// spec names, independent of whatever flags the base key carries.
func persistAbsoluteDelta(store domain.Store, rawKey, owner string, plus, minus [][]byte) error {
	parsed, perr := keycodec.Parse(rawKey)
	if perr != nil {
		return perr
	}
	plusKey := parsed.WithOp(keycodec.OpPlus).Compose()
	minusKey := parsed.WithOp(keycodec.OpMinus).Compose()

	oldPlus, _ := store.Get(plusKey)
	oldMinus, _ := store.Get(minusKey)

	mergedPlus, mergedMinus := mergeAbsoluteDelta(oldPlus.Elements(), oldMinus.Elements(), plus, minus)

	if _, _, err := store.Set(plusKey, domain.Record{
		Owner:    owner,
		Flags:    domain.FlagSync,
		IsVector: true,
		Payload:  mergedPlus,
	}, domain.MergeOpCopy, acceptAllPredicate); err != nil {
		return err
	}
	if _, _, err := store.Set(minusKey, domain.Record{
		Owner:    owner,
		Flags:    domain.FlagSync,
		IsVector: true,
		Payload:  mergedMinus,
	}, domain.MergeOpCopy, acceptAllPredicate); err != nil {
		return err
	}
	return nil
}

// mergeAbsoluteDelta implements spec section 4.3's absolute-delta
// cross-comparison: the previously persisted `+`/`-` companion vectors are
// merged against this step's plus/minus by a synchronized sorted walk
// (sortedMerge/sortedIntersection/sortedDifference, the same primitives
// Diff itself uses) that treats an entry appearing in both the accumulated
// plus side and the accumulated minus side as contradictory and drops it
// from the merged result entirely, per "positions marked as contradictory
// in both bitmaps are dropped from the merged result."
func mergeAbsoluteDelta(oldPlus, oldMinus, plus, minus [][]byte) (mergedPlus, mergedMinus [][]byte) {
	candidatePlus := sortedMerge(sortedUnique(oldPlus), sortedUnique(plus))
	candidateMinus := sortedMerge(sortedUnique(oldMinus), sortedUnique(minus))

	contradictions := sortedIntersection(candidatePlus, candidateMinus)

	mergedPlus = sortedDifference(candidatePlus, contradictions)
	mergedMinus = sortedDifference(candidateMinus, contradictions)
	return mergedPlus, mergedMinus
}

// propagateInverse mirrors a GMB-side plus/minus onto each affected
// member's GIN key (or vice versa), one level deep only: each of these
// sub-applies runs in DiffOnly mode.
func propagateInverse(store domain.Store, rawKey, owner string, plus, minus [][]byte) error {
	parsed, perr := keycodec.Parse(rawKey)
	if perr != nil {
		return perr
	}

	inverseCore, ok := inverseOf(parsed.Core)
	if !ok {
		return nil
	}

	anchor := []byte(parsed.ComposePrefix())

	for _, member := range plus {
		invKey := keycodec.Key{
			Dom:    parsed.Dom,
			Ns:     parsed.Ns,
			NsPart: string(member),
			ID:     string(member),
			Core:   inverseCore,
		}.Compose()
		if _, _, _, err := Apply(store, invKey, keycodec.OpPlus, owner, [][]byte{anchor}, DiffOnly); err != nil {
			return err
		}
	}
	for _, member := range minus {
		invKey := keycodec.Key{
			Dom:    parsed.Dom,
			Ns:     parsed.Ns,
			NsPart: string(member),
			ID:     string(member),
			Core:   inverseCore,
		}.Compose()
		if _, _, _, err := Apply(store, invKey, keycodec.OpMinus, owner, [][]byte{anchor}, DiffOnly); err != nil {
			return err
		}
	}
	return nil
}

func inverseOf(core string) (string, bool) {
	switch core {
	case domain.CoreGroupMembers:
		return domain.CoreGroupInverse, true
	case domain.CoreGroupInverse:
		return domain.CoreGroupMembers, true
	default:
		return "", false
	}
}

