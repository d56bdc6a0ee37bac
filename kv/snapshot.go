package kv

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/nestybox/sid/domain"
	"github.com/nestybox/sid/keycodec"
	"github.com/nestybox/sid/sysio"
)

// Snapshot dumps every primary (non-alias) record in the store to path on
// fs, in the same {flags, gennum, seqnum, owner, key, value} wire format
// sysio.EncodeExportBuffer already defines for a worker's export buffer
// (C13, spec section 1's "explicit persistent-snapshot command"). Alias
// keys are skipped -- Restore re-derives them through the normal Set
// path, which maintains the SYNC-alias invariant itself.
func (s *Store) Snapshot(fs afero.Fs, path string) error {
	s.mu.Lock()
	root := s.tree.Root()
	s.mu.Unlock()

	var entries []sysio.ExportEntry
	root.Walk(func(k []byte, v interface{}) bool {
		key := string(k)
		if keycodec.IsAlias(key) {
			return false
		}
		entries = append(entries, sysio.ExportEntry{Key: key, Record: v.(domain.Record)})
		return false
	})

	buf, err := sysio.EncodeExportBuffer(entries)
	if err != nil {
		return fmt.Errorf("kv: encoding snapshot: %w", err)
	}

	if err := afero.WriteFile(fs, path, buf, 0600); err != nil {
		return fmt.Errorf("kv: writing snapshot to %s: %w", path, err)
	}
	return nil
}

// Restore repopulates the store from a snapshot previously written by
// Snapshot. Each record is applied through the normal Set path (so
// SYNC-alias bookkeeping and the forced-overwrite semantics are
// consistent with any other write), unconditionally -- a freshly
// restored store has no prior state to protect with a predicate.
func (s *Store) Restore(fs afero.Fs, path string) error {
	buf, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("kv: reading snapshot from %s: %w", path, err)
	}

	entries, err := sysio.DecodeExportBuffer(buf)
	if err != nil {
		return fmt.Errorf("kv: decoding snapshot: %w", err)
	}

	for _, e := range entries {
		if _, _, err := s.Set(e.Key, e.Record, domain.MergeOpCopy, nil); err != nil {
			return fmt.Errorf("kv: restoring key %s: %w", e.Key, err)
		}
	}
	return nil
}
