// Package keycodec composes and parses SID's composite KV-store keys.
//
// A key has the wire form:
//
//	<slot><op>:<dom>:<ns>:<ns_part>:<id>:<id_part>:<core>
//
// where <slot> is a single reserved byte that lets a key be rewritten in
// place into its companion SYNC index alias (leading '>') without
// reallocating the underlying bytes, and <op> is zero or one byte (SET
// encodes as no byte at all). All other fields are delimited by ':'.
package keycodec

import (
	"errors"
	"strings"
)

// Op is the merge operator encoded in a key's leading slot.
type Op string

const (
	OpSet     Op = ""
	OpPlus    Op = "+"
	OpMinus   Op = "-"
	OpIllegal Op = "X"
)

// Namespace selects a key's visibility/scope.
type Namespace string

const (
	NsUndefined Namespace = ""
	NsUdev      Namespace = "U"
	NsDevice    Namespace = "D"
	NsModule    Namespace = "M"
	NsGlobal    Namespace = "G"
)

// Domain distinguishes layer/hierarchy records from user/module records.
type Domain string

const (
	DomNone Domain = ""
	DomLyr  Domain = "LYR"
	DomUsr  Domain = "USR"
)

const (
	slotBlank byte = ' '
	slotAlias byte = '>'
	delim     byte = ':'
)

// ErrMalformed is returned when a key string cannot be parsed.
var ErrMalformed = errors.New("keycodec: malformed key")

// Key is the decomposed form of a composite KV-store key.
type Key struct {
	Op     Op
	Dom    Domain
	Ns     Namespace
	NsPart string
	ID     string
	IDPart string
	Core   string
}

// Compose renders k into its primary (non-alias) wire form.
func (k Key) Compose() string {
	return k.compose(slotBlank)
}

// ComposeAlias renders k into its SYNC index-alias wire form: identical to
// Compose except for the leading slot byte, which is the alias marker '>'.
// This is the "rewrite a key in place" operation named in spec section 3.
func (k Key) ComposeAlias() string {
	return k.compose(slotAlias)
}

// ComposePrefix renders the key with everything up to and including
// IDPart, omitting the final ":core" segment. Used as the anchor of a
// relation's inverse value and as an iteration prefix.
func (k Key) ComposePrefix() string {
	var b strings.Builder
	b.WriteByte(slotBlank)
	b.WriteString(string(k.Op))
	b.WriteByte(delim)
	b.WriteString(string(k.Dom))
	b.WriteByte(delim)
	b.WriteString(string(k.Ns))
	b.WriteByte(delim)
	b.WriteString(k.NsPart)
	b.WriteByte(delim)
	b.WriteString(k.ID)
	b.WriteByte(delim)
	b.WriteString(k.IDPart)
	return b.String()
}

func (k Key) compose(slot byte) string {
	var b strings.Builder
	b.WriteByte(slot)
	b.WriteString(string(k.Op))
	b.WriteByte(delim)
	b.WriteString(string(k.Dom))
	b.WriteByte(delim)
	b.WriteString(string(k.Ns))
	b.WriteByte(delim)
	b.WriteString(k.NsPart)
	b.WriteByte(delim)
	b.WriteString(k.ID)
	b.WriteByte(delim)
	b.WriteString(k.IDPart)
	b.WriteByte(delim)
	b.WriteString(k.Core)
	return b.String()
}

// WithCore returns a copy of k with Core replaced. The '+' / '-'
// absolute-delta companion keys differ from a base key in Op, not Core,
// and are derived with WithOp.
func (k Key) WithCore(core string) Key {
	k.Core = core
	return k
}

// WithOp returns a copy of k with Op replaced.
func (k Key) WithOp(op Op) Key {
	k.Op = op
	return k
}

// IsAlias reports whether raw (a wire-form key) carries the alias slot.
func IsAlias(raw string) bool {
	return len(raw) > 0 && raw[0] == slotAlias
}

// ToAlias rewrites raw's leading slot byte into the alias marker, in place
// semantics (no other byte moves).
func ToAlias(raw string) string {
	if raw == "" {
		return string(slotAlias)
	}
	b := []byte(raw)
	b[0] = slotAlias
	return string(b)
}

// ToPrimary rewrites an alias key's leading slot byte back to blank.
func ToPrimary(raw string) string {
	if raw == "" {
		return string(slotBlank)
	}
	b := []byte(raw)
	b[0] = slotBlank
	return string(b)
}

// Parse decodes a wire-form key back into its fields.
func Parse(raw string) (Key, error) {
	if len(raw) < 1 {
		return Key{}, ErrMalformed
	}

	rest := raw[1:]

	// The op char, if present, is whatever precedes the first ':'.
	i := strings.IndexByte(rest, delim)
	if i < 0 {
		return Key{}, ErrMalformed
	}
	opStr := rest[:i]
	var op Op
	switch opStr {
	case string(OpSet):
		op = OpSet
	case string(OpPlus):
		op = OpPlus
	case string(OpMinus):
		op = OpMinus
	case string(OpIllegal):
		op = OpIllegal
	default:
		return Key{}, ErrMalformed
	}
	rest = rest[i+1:]

	fields := strings.SplitN(rest, string(delim), 5)
	if len(fields) != 5 {
		return Key{}, ErrMalformed
	}

	// fields[4] still holds "id_part:core" combined, since SplitN stopped
	// once it filled 5 slots.
	idPart, core := splitOnce(fields[4])

	return Key{
		Op:     op,
		Dom:    Domain(fields[0]),
		Ns:     Namespace(fields[1]),
		NsPart: fields[2],
		ID:     fields[3],
		IDPart: idPart,
		Core:   core,
	}, nil
}

func splitOnce(s string) (first, rest string) {
	i := strings.IndexByte(s, delim)
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}

// OpChar returns the operator encoded in raw by scanning its first
// slot+op bytes directly rather than going through Parse. Sync-record
// import (bridge.MergeSyncBuffer) uses Parse, not this.
func OpChar(raw string) (Op, error) {
	if len(raw) < 1 {
		return "", ErrMalformed
	}
	rest := raw[1:]
	i := strings.IndexByte(rest, delim)
	if i < 0 {
		return "", ErrMalformed
	}
	switch rest[:i] {
	case string(OpSet):
		return OpSet, nil
	case string(OpPlus):
		return OpPlus, nil
	case string(OpMinus):
		return OpMinus, nil
	case string(OpIllegal):
		return OpIllegal, nil
	default:
		return "", ErrMalformed
	}
}
