package kv

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestybox/sid/domain"
)

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	src := New(1)
	key := blobKey("FOO")
	_, _, err := src.Set(key, domain.Record{
		Owner:   "mod-a",
		Payload: [][]byte{[]byte("hello")},
	}, domain.MergeOpCopy, acceptAll)
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	require.NoError(t, src.Snapshot(fs, "/run/sid.db"))

	dst := New(1)
	require.NoError(t, dst.Restore(fs, "/run/sid.db"))

	got, ok := dst.Get(key)
	require.True(t, ok)
	assert.Equal(t, "hello", string(got.Blob()))
}

func TestSnapshotOmitsAliasKeysRestoreRederivesThem(t *testing.T) {
	src := New(1)
	key := blobKey("SYNCED")
	_, _, err := src.Set(key, domain.Record{
		Owner:   "mod-a",
		Flags:   domain.FlagSync,
		Payload: [][]byte{[]byte("v")},
	}, domain.MergeOpCopy, acceptAll)
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	require.NoError(t, src.Snapshot(fs, "/run/sid.db"))

	dst := New(1)
	require.NoError(t, dst.Restore(fs, "/run/sid.db"))

	stats := dst.Size()
	assert.Equal(t, stats.AliasCount, src.Size().AliasCount)
	assert.True(t, stats.AliasCount > 0)
}

func TestRestoreFailsCleanlyWhenSnapshotMissing(t *testing.T) {
	dst := New(1)
	err := dst.Restore(afero.NewMemMapFs(), "/run/sid.db")
	assert.Error(t, err)
}
