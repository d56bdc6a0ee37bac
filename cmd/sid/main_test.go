package main

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestybox/sid/config"
	"github.com/nestybox/sid/domain"
	"github.com/nestybox/sid/keycodec"
	"github.com/nestybox/sid/kv"
)

func TestMain(m *testing.M) {
	logrus.SetOutput(ioutil.Discard)
	m.Run()
}

func TestCheckPidFileAllowsStartWhenNoFileExists(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, checkPidFile(filepath.Join(dir, "sid.pid")))
}

func TestCheckPidFileRejectsWhenOwningProcessIsAlive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sid.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644))

	err := checkPidFile(path)
	assert.Error(t, err)
}

func TestCheckPidFileAllowsStartWhenPidFileIsStale(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sid.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0644))

	assert.NoError(t, checkPidFile(path))
}

func TestWritePidFileWritesCurrentPid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sid.pid")
	require.NoError(t, writePidFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestExportSyncedRecordsReturnsOnlyAliasedEntries(t *testing.T) {
	store := kv.New(1)

	syncedKey := keycodec.Key{Ns: keycodec.NsDevice, NsPart: "8_0", ID: "8_0", Core: "#RDY"}.Compose()
	_, _, err := store.Set(syncedKey, domain.Record{
		Owner:   "core",
		Flags:   domain.FlagSync,
		Payload: [][]byte{[]byte("PUBLIC")},
	}, domain.MergeOpCopy, nil)
	require.NoError(t, err)

	plainKey := keycodec.Key{Ns: keycodec.NsUdev, NsPart: "8_0", Core: "ACTION"}.Compose()
	_, _, err = store.Set(plainKey, domain.Record{
		Owner:   "core",
		Payload: [][]byte{[]byte("add")},
	}, domain.MergeOpCopy, nil)
	require.NoError(t, err)

	entries := exportSyncedRecords(store)
	require.Len(t, entries, 1)
	assert.Equal(t, syncedKey, entries[0].Key)
}

func TestSnapshotPathIsUnderRunDir(t *testing.T) {
	cfg := config.Default()
	cfg.RunDir = "/run/sid"
	assert.Equal(t, "/run/sid/sid.db", snapshotPath(cfg))
}
