// Package kv implements SID's versioned, namespaced KV store (C2) on top
// of an immutable radix tree. The tree gives us, for free, exactly the two
// properties spec section 4.2 demands of iteration: ordered traversal over
// a key-prefix range, and stability against concurrent mutation of keys
// outside that range (a walk holds a point-in-time root snapshot; writers
// install a new root via copy-on-write and never mutate a snapshot in
// place).
package kv

import (
	"sync"
	"time"

	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/sirupsen/logrus"

	"github.com/nestybox/sid/domain"
	"github.com/nestybox/sid/keycodec"
	"github.com/nestybox/sid/metrics"
)

// Store is the concrete, radix-backed implementation of domain.Store.
type Store struct {
	mu     sync.Mutex
	tree   *iradix.Tree
	gennum uint64

	// Metrics records per-operation latency. A nil Metrics (the zero
	// value) is a valid no-op collector; set it directly to enable
	// collection.
	Metrics *metrics.Metrics
}

var _ domain.Store = (*Store)(nil)

// New creates an empty store and stamps it with a fresh generation number
// (spec section 3: "Incremented once at startup of each process that opens
// the store"). gennum is supplied by the caller.
func New(gennum uint64) *Store {
	s := &Store{
		tree:   iradix.New(),
		gennum: gennum,
	}
	s.bootstrapGlobals()
	return s
}

func (s *Store) bootstrapGlobals() {
	bootKey := domain.Key{Ns: domain.NsGlobal, Core: domain.GlobalBootID}.Compose()
	genKey := domain.Key{Ns: domain.NsGlobal, Core: domain.GlobalDBGen}.Compose()

	if _, ok := s.tree.Get([]byte(bootKey)); !ok {
		tree, _, _ := s.tree.Insert([]byte(bootKey), domain.Record{
			Gennum: s.gennum,
			Owner:  "core",
			Payload: [][]byte{
				[]byte(""),
			},
		})
		s.tree = tree
	}
	tree, _, _ := s.tree.Insert([]byte(genKey), domain.Record{
		Gennum:  s.gennum,
		Owner:   "core",
		Payload: [][]byte{uint64ToBytes(s.gennum)},
	})
	s.tree = tree
}

func (s *Store) Gennum() uint64 {
	return s.gennum
}

func (s *Store) Get(key string) (domain.Record, bool) {
	defer s.timeOp("get", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.tree.Get([]byte(key))
	if !ok {
		return domain.Record{}, false
	}
	return v.(domain.Record), true
}

// Set applies the store's ownership/flag rules (spec section 3 invariants),
// then the caller-supplied predicate, then -- if both accept -- commits the
// write and maintains the SYNC index-alias invariant.
func (s *Store) Set(
	key string,
	rec domain.Record,
	merge domain.MergeOp,
	pred domain.Predicate,
) (bool, domain.Record, error) {
	defer s.timeOp("set", time.Now())

	if keycodec.Namespace(extractNs(key)) == domain.NsUdev && rec.IsVector {
		logrus.Errorf("kv: rejecting vector write to UDEV-namespace key %s", key)
		return false, domain.Record{}, domain.ErrPredicateVeto
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	oldVal, oldOK := s.tree.Get([]byte(key))
	var old domain.Record
	if oldOK {
		old = oldVal.(domain.Record)
	}

	if oldOK && old.Owner != rec.Owner {
		switch {
		case old.Flags.Has(domain.FlagModPrivate):
			return false, domain.Record{}, domain.ErrPrivate
		case old.Flags.Has(domain.FlagModProtected):
			return false, domain.Record{}, domain.ErrProtected
		case old.Flags.Has(domain.FlagModReserved):
			return false, domain.Record{}, domain.ErrReserved
		}
		// No ownership flags on the old record: a different owner may
		// take over (domain.kv invariant: owner immutable OR no flags).
	}

	if pred != nil && !pred(old, oldOK, rec) {
		return false, domain.Record{}, domain.ErrPredicateVeto
	}

	stored := rec
	if merge == domain.MergeOpCopy {
		stored = rec.Clone()
	}

	tree, _, _ := s.tree.Insert([]byte(key), stored)
	s.tree = tree

	s.syncAliasLocked(key, oldOK, old, stored)

	return true, stored, nil
}

// Unset removes key, subject to pred, and retires its SYNC alias if any.
func (s *Store) Unset(key string, pred domain.Predicate) error {
	defer s.timeOp("unset", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	oldVal, oldOK := s.tree.Get([]byte(key))
	if !oldOK {
		return nil
	}
	old := oldVal.(domain.Record)

	if pred != nil && !pred(old, true, domain.Record{}) {
		return domain.ErrPredicateVeto
	}

	tree, _, _ := s.tree.Delete([]byte(key))
	s.tree = tree

	if old.Flags.Has(domain.FlagSync) {
		alias := keycodec.ToAlias(key)
		tree, _, _ = s.tree.Delete([]byte(alias))
		s.tree = tree
	}

	return nil
}

// syncAliasLocked enforces "a SYNC-flagged record exists iff its alias
// exists" after a write. Caller holds s.mu.
func (s *Store) syncAliasLocked(key string, oldOK bool, old, stored domain.Record) {
	alias := keycodec.ToAlias(key)

	wasSync := oldOK && old.Flags.Has(domain.FlagSync)
	isSync := stored.Flags.Has(domain.FlagSync)

	if isSync && !wasSync {
		tree, _, _ := s.tree.Insert([]byte(alias), stored)
		s.tree = tree
	} else if isSync && wasSync {
		// Alias value must track the primary's updates.
		tree, _, _ := s.tree.Insert([]byte(alias), stored)
		s.tree = tree
	} else if !isSync && wasSync {
		tree, _, _ := s.tree.Delete([]byte(alias))
		s.tree = tree
	}
}

// AddAlias installs an alias key pointing at the same value as from. If
// force is false and to already exists, AddAlias fails without modifying
// the store.
func (s *Store) AddAlias(from, to string, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.tree.Get([]byte(from))
	if !ok {
		return domain.ErrPredicateVeto
	}

	if !force {
		if _, exists := s.tree.Get([]byte(to)); exists {
			return domain.ErrPredicateVeto
		}
	}

	tree, _, _ := s.tree.Insert([]byte(to), v)
	s.tree = tree
	return nil
}

// Iter walks the ordered range [lo, hi) against a single, stable snapshot
// of the tree -- safe against concurrent writers mutating keys elsewhere.
func (s *Store) Iter(lo, hi string, fn func(key string, rec domain.Record) bool) {
	defer s.timeOp("iter", time.Now())
	s.mu.Lock()
	root := s.tree.Root()
	s.mu.Unlock()

	iter := root.Iterator()
	iter.SeekLowerBound([]byte(lo))

	for {
		k, v, ok := iter.Next()
		if !ok {
			return
		}
		key := string(k)
		if hi != "" && key >= hi {
			return
		}
		if !fn(key, v.(domain.Record)) {
			return
		}
	}
}

func (s *Store) Size() domain.StoreStats {
	s.mu.Lock()
	root := s.tree.Root()
	gen := s.gennum
	s.mu.Unlock()

	stats := domain.StoreStats{Gennum: gen}
	root.Walk(func(k []byte, v interface{}) bool {
		rec := v.(domain.Record)
		stats.Records++
		if rec.IsVector {
			stats.Vectors++
		} else {
			stats.Blobs++
		}
		if keycodec.IsAlias(string(k)) {
			stats.AliasCount++
		}
		return false
	})
	return stats
}

func (s *Store) timeOp(op string, start time.Time) {
	s.Metrics.RecordKVOp(op, time.Since(start))
}

func extractNs(key string) keycodec.Namespace {
	parsed, err := keycodec.Parse(key)
	if err != nil {
		return keycodec.NsUndefined
	}
	return parsed.Ns
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * (7 - i)))
	}
	return b
}
