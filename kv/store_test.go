package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestybox/sid/domain"
	"github.com/nestybox/sid/keycodec"
)

func acceptAll(domain.Record, bool, domain.Record) bool { return true }

func blobKey(core string) string {
	return keycodec.Key{
		Op:   keycodec.OpSet,
		Ns:   keycodec.NsDevice,
		ID:   "sda1",
		Core: core,
	}.Compose()
}

func TestNewBootstrapsGlobals(t *testing.T) {
	s := New(7)

	bootKey := domain.Key{Ns: domain.NsGlobal, Core: domain.GlobalBootID}.Compose()
	genKey := domain.Key{Ns: domain.NsGlobal, Core: domain.GlobalDBGen}.Compose()

	_, ok := s.Get(bootKey)
	assert.True(t, ok)

	rec, ok := s.Get(genKey)
	require.True(t, ok)
	assert.Equal(t, uint64(7), s.Gennum())
	assert.Equal(t, uint64ToBytes(7), rec.Blob())
}

func TestSetAndGetRoundTrip(t *testing.T) {
	s := New(1)
	key := blobKey("FOO")

	ok, stored, err := s.Set(key, domain.Record{
		Owner:   "mod-a",
		Payload: [][]byte{[]byte("hello")},
	}, domain.MergeOpCopy, acceptAll)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", string(stored.Blob()))

	got, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, "hello", string(got.Blob()))
}

// Scenario 3 (ownership veto): a record flagged MOD_PROTECTED by one owner
// rejects a write from a different owner with EPERM.
func TestSetRejectsCrossOwnerWriteWhenProtected(t *testing.T) {
	s := New(1)
	key := blobKey("PROT")

	_, _, err := s.Set(key, domain.Record{
		Owner:   "mod-a",
		Flags:   domain.FlagModProtected,
		Payload: [][]byte{[]byte("v1")},
	}, domain.MergeOpCopy, acceptAll)
	require.NoError(t, err)

	ok, _, err := s.Set(key, domain.Record{
		Owner:   "mod-b",
		Payload: [][]byte{[]byte("v2")},
	}, domain.MergeOpCopy, acceptAll)
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrProtected)

	got, _ := s.Get(key)
	assert.Equal(t, "v1", string(got.Blob()))
}

func TestSetRejectsCrossOwnerWriteWhenPrivate(t *testing.T) {
	s := New(1)
	key := blobKey("PRIV")

	_, _, err := s.Set(key, domain.Record{
		Owner: "mod-a",
		Flags: domain.FlagModPrivate,
	}, domain.MergeOpCopy, acceptAll)
	require.NoError(t, err)

	_, _, err = s.Set(key, domain.Record{Owner: "mod-b"}, domain.MergeOpCopy, acceptAll)
	assert.ErrorIs(t, err, domain.ErrPrivate)
}

func TestSetRejectsCrossOwnerWriteWhenReserved(t *testing.T) {
	s := New(1)
	key := blobKey("RES")

	_, _, err := s.Set(key, domain.Record{
		Owner: "mod-a",
		Flags: domain.FlagModReserved,
	}, domain.MergeOpCopy, acceptAll)
	require.NoError(t, err)

	_, _, err = s.Set(key, domain.Record{Owner: "mod-b"}, domain.MergeOpCopy, acceptAll)
	assert.ErrorIs(t, err, domain.ErrReserved)
}

// Owner is immutable unless the old record carries no ownership flags, in
// which case a different-owner write is allowed and ownership transfers.
func TestSetAllowsOwnershipTransferWhenNoFlags(t *testing.T) {
	s := New(1)
	key := blobKey("OPEN")

	_, _, err := s.Set(key, domain.Record{Owner: "mod-a", Payload: [][]byte{[]byte("v1")}}, domain.MergeOpCopy, acceptAll)
	require.NoError(t, err)

	ok, stored, err := s.Set(key, domain.Record{Owner: "mod-b", Payload: [][]byte{[]byte("v2")}}, domain.MergeOpCopy, acceptAll)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "mod-b", stored.Owner)
}

func TestSetRejectsVectorWriteToUdevNamespace(t *testing.T) {
	s := New(1)
	key := keycodec.Key{Ns: keycodec.NsUdev, ID: "sda1", Core: "X"}.Compose()

	ok, _, err := s.Set(key, domain.Record{
		Owner:    "mod-a",
		IsVector: true,
		Payload:  [][]byte{[]byte("a"), []byte("b")},
	}, domain.MergeOpCopy, acceptAll)
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrPredicateVeto)
}

func TestSetHonorsPredicateVeto(t *testing.T) {
	s := New(1)
	key := blobKey("GATED")

	reject := func(domain.Record, bool, domain.Record) bool { return false }
	ok, _, err := s.Set(key, domain.Record{Owner: "mod-a"}, domain.MergeOpCopy, reject)
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrPredicateVeto)

	_, ok = s.Get(key)
	assert.False(t, ok)
}

// SYNC/alias invariant: a SYNC-flagged record's alias key exists and
// tracks it; clearing the flag (or unsetting the record) retires the alias.
func TestSyncFlagMaintainsAlias(t *testing.T) {
	s := New(1)
	key := blobKey("SYNCED")
	alias := keycodec.ToAlias(key)

	_, _, err := s.Set(key, domain.Record{
		Owner:   "mod-a",
		Flags:   domain.FlagSync,
		Payload: [][]byte{[]byte("v1")},
	}, domain.MergeOpCopy, acceptAll)
	require.NoError(t, err)

	aliasRec, ok := s.Get(alias)
	require.True(t, ok)
	assert.Equal(t, "v1", string(aliasRec.Blob()))

	// Update tracks through the alias.
	_, _, err = s.Set(key, domain.Record{
		Owner:   "mod-a",
		Flags:   domain.FlagSync,
		Payload: [][]byte{[]byte("v2")},
	}, domain.MergeOpCopy, acceptAll)
	require.NoError(t, err)
	aliasRec, ok = s.Get(alias)
	require.True(t, ok)
	assert.Equal(t, "v2", string(aliasRec.Blob()))

	// Clearing the flag retires the alias.
	_, _, err = s.Set(key, domain.Record{
		Owner:   "mod-a",
		Payload: [][]byte{[]byte("v3")},
	}, domain.MergeOpCopy, acceptAll)
	require.NoError(t, err)
	_, ok = s.Get(alias)
	assert.False(t, ok)
}

func TestUnsetRetiresAlias(t *testing.T) {
	s := New(1)
	key := blobKey("SYNCED2")
	alias := keycodec.ToAlias(key)

	_, _, err := s.Set(key, domain.Record{
		Owner: "mod-a",
		Flags: domain.FlagSync,
	}, domain.MergeOpCopy, acceptAll)
	require.NoError(t, err)

	_, ok := s.Get(alias)
	require.True(t, ok)

	require.NoError(t, s.Unset(key, acceptAll))

	_, ok = s.Get(key)
	assert.False(t, ok)
	_, ok = s.Get(alias)
	assert.False(t, ok, "unset of a SYNC record must leave neither the key nor its alias reachable")
}

func TestAddAliasRespectsForceFlag(t *testing.T) {
	s := New(1)
	from := blobKey("SRC")
	to := blobKey("DST")

	_, _, err := s.Set(from, domain.Record{Owner: "mod-a", Payload: [][]byte{[]byte("x")}}, domain.MergeOpCopy, acceptAll)
	require.NoError(t, err)

	require.NoError(t, s.AddAlias(from, to, false))
	got, ok := s.Get(to)
	require.True(t, ok)
	assert.Equal(t, "x", string(got.Blob()))

	err = s.AddAlias(from, to, false)
	assert.Error(t, err)

	err = s.AddAlias(from, to, true)
	assert.NoError(t, err)
}

func TestIterStableAgainstConcurrentMutationOutsideRange(t *testing.T) {
	s := New(1)
	for _, core := range []string{"A", "B", "C"} {
		_, _, err := s.Set(blobKey(core), domain.Record{Owner: "mod-a"}, domain.MergeOpCopy, acceptAll)
		require.NoError(t, err)
	}

	var seen []string
	s.Iter(blobKey("A"), blobKey("D"), func(key string, rec domain.Record) bool {
		seen = append(seen, key)
		// Mutate a key outside the iterated range mid-walk; must not
		// affect this iteration, which holds its own root snapshot.
		_, _, _ = s.Set(blobKey("ZZZ"), domain.Record{Owner: "mod-a"}, domain.MergeOpCopy, acceptAll)
		return true
	})

	assert.Len(t, seen, 3)
}

func TestSizeCountsRecordsAndAliases(t *testing.T) {
	s := New(1)
	_, _, err := s.Set(blobKey("V"), domain.Record{
		Owner:    "mod-a",
		Flags:    domain.FlagSync,
		IsVector: true,
		Payload:  [][]byte{[]byte("a"), []byte("b")},
	}, domain.MergeOpCopy, acceptAll)
	require.NoError(t, err)

	stats := s.Size()
	assert.GreaterOrEqual(t, stats.Vectors, uint64(1))
	assert.GreaterOrEqual(t, stats.AliasCount, uint64(1))
}
