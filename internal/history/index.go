// Package history implements the MVCC history index of spec §4.4: an
// eventually-consistent observer fed by the host's post-commit indexing
// callback, answering point and range reads at arbitrary past revisions
// and supporting compaction. Grounded on original_source/src/app/index.h
// /index.cpp for the revisions-to-keys / keys-to-values shape and
// tombstone semantics, and on the teacher's mvcc/index.go for Go idiom;
// the ordered maps are backed by google/btree, the same dependency
// talent-plan-tinykv carries for its region index.
package history

import (
	"sync"

	"etcdkv/internal/host"
	"etcdkv/internal/kv"

	"github.com/google/btree"
)

const treeDegree = 32

// Snapshot is one entry in a key's chronological history vector. A
// tombstone (CreateRevision == 0, Version == 0) records a deletion, per
// spec §3.
type Snapshot struct {
	ModRevision    int64
	CreateRevision int64
	Version        int64
	Lease          int64
	Data           []byte
}

func (s Snapshot) isTombstone() bool {
	return s.CreateRevision == 0 && s.Version == 0
}

// keyHistory is the chronologically-ordered vector of snapshots for one
// key, sorted ascending by ModRevision since the indexer only ever
// appends and commits arrive in increasing revision order.
type keyHistory struct {
	snapshots []Snapshot
}

type keyItem struct {
	key     string
	history *keyHistory
}

func (it *keyItem) Less(than btree.Item) bool {
	return it.key < than.(*keyItem).key
}

type revItem struct {
	revision int64
	keys     []string
}

func (it *revItem) Less(than btree.Item) bool {
	return it.revision < than.(*revItem).revision
}

// Index is the history index. One Index exists per running server; it is
// fed exclusively by HandleCommittedTransaction and read concurrently by
// Get/Range from RPC handlers.
type Index struct {
	mu sync.RWMutex

	revisionsToKeys *btree.BTree // of *revItem, ordered by revision
	keysToHistory   *btree.BTree // of *keyItem, ordered by key

	currentRevision int64
	compactedAt     int64
}

// New builds an empty history index.
func New() *Index {
	return &Index{
		revisionsToKeys: btree.New(treeDegree),
		keysToHistory:   btree.New(treeDegree),
	}
}

// HandleCommittedTransaction is the host's indexing callback: exactly
// once per committed transaction, apply its diff to the index per spec
// §4.4's maintenance algorithm.
func (idx *Index) HandleCommittedTransaction(id host.TxID, diff host.Diff) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	revision := id.SeqNo
	var changedKeys []string

	for _, change := range diff {
		key := string(change.Key)
		changedKeys = append(changedKeys, key)

		hist := idx.historyFor(key)
		if change.Deleted {
			hist.snapshots = append(hist.snapshots, Snapshot{ModRevision: revision})
			continue
		}

		rec, err := kv.Decode(change.Value)
		if err != nil {
			continue
		}
		createRevision := rec.CreateRevision
		if createRevision == 0 {
			createRevision = revision
		}
		hist.snapshots = append(hist.snapshots, Snapshot{
			ModRevision:    revision,
			CreateRevision: createRevision,
			Version:        rec.Version,
			Lease:          rec.Lease,
			Data:           rec.Data,
		})
	}

	if len(changedKeys) > 0 {
		idx.revisionsToKeys.ReplaceOrInsert(&revItem{revision: revision, keys: changedKeys})
	}
	idx.currentRevision = revision
}

// historyFor returns the keyHistory for key, creating an empty one and
// inserting it into the tree if absent. Caller must hold idx.mu.
func (idx *Index) historyFor(key string) *keyHistory {
	if existing := idx.keysToHistory.Get(&keyItem{key: key}); existing != nil {
		return existing.(*keyItem).history
	}
	hist := &keyHistory{}
	idx.keysToHistory.ReplaceOrInsert(&keyItem{key: key, history: hist})
	return hist
}

// NextRequested returns the revision the host should feed next, per spec
// §4.4 (current_txid.seqno + 1).
func (idx *Index) NextRequested() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.currentRevision + 1
}

// CompactedFloor returns the revision passed to the most recent Compact
// call (0 if compaction has never run). Per spec §9's open question,
// historical reads below this floor are unspecified. Get and Range do not
// consult the floor themselves; internal/rpc's rangeHistorical uses it to
// report such reads as NOT_FOUND rather than return possibly-trimmed data.
func (idx *Index) CompactedFloor() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.compactedAt
}

// Get resolves key's value as of atRevision, per spec §4.4's historical
// point-read algorithm. Returns (snapshot, true) if the key existed and
// was not deleted at atRevision.
func (idx *Index) Get(atRevision int64, key []byte) (Snapshot, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	item := idx.keysToHistory.Get(&keyItem{key: string(key)})
	if item == nil {
		return Snapshot{}, false
	}
	return resolveAt(item.(*keyItem).history, atRevision)
}

// resolveAt walks hist's vector in ascending order, tracking the last
// live (non-tombstone) snapshot with ModRevision <= atRevision.
func resolveAt(hist *keyHistory, atRevision int64) (Snapshot, bool) {
	var last Snapshot
	haveLast := false
	for _, s := range hist.snapshots {
		if s.ModRevision > atRevision {
			break
		}
		if s.isTombstone() {
			haveLast = false
			continue
		}
		last = s
		haveLast = true
	}
	return last, haveLast
}

// Range resolves every key in [from, to) as of atRevision, per spec
// §4.4's historical range-read algorithm, invoking fn for each live
// result in ascending key order. to == nil means unbounded (the RPC
// layer normalizes the etcd "\0" sentinel to this, same convention as
// kv.Store.Range). fn returning false stops iteration early.
func (idx *Index) Range(atRevision int64, from, to []byte, fn func(key []byte, snap Snapshot) bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	pivot := &keyItem{key: string(from)}
	visit := func(item btree.Item) bool {
		ki := item.(*keyItem)
		snap, ok := resolveAt(ki.history, atRevision)
		if !ok {
			return true
		}
		return fn([]byte(ki.key), snap)
	}

	if to == nil {
		idx.keysToHistory.AscendGreaterOrEqual(pivot, visit)
		return
	}
	idx.keysToHistory.AscendRange(pivot, &keyItem{key: string(to)}, visit)
}

// Compact drops history older than atRevision, per spec §4.4's algorithm:
// every revisions_to_keys entry below atRevision is erased, and each
// touched key's vector is trimmed from the front to the first snapshot
// with ModRevision >= atRevision. A key whose vector becomes empty is
// removed entirely. The invariant this preserves: any surviving key
// keeps at least one snapshot >= atRevision, so reads at revisions >=
// atRevision still resolve correctly.
func (idx *Index) Compact(atRevision int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if atRevision > idx.compactedAt {
		idx.compactedAt = atRevision
	}

	touched := make(map[string]struct{})
	var stale []btree.Item
	idx.revisionsToKeys.AscendLessThan(&revItem{revision: atRevision}, func(item btree.Item) bool {
		ri := item.(*revItem)
		for _, k := range ri.keys {
			touched[k] = struct{}{}
		}
		stale = append(stale, item)
		return true
	})
	for _, item := range stale {
		idx.revisionsToKeys.Delete(item)
	}

	for key := range touched {
		item := idx.keysToHistory.Get(&keyItem{key: key})
		if item == nil {
			continue
		}
		hist := item.(*keyItem).history
		trimmed := trimBefore(hist.snapshots, atRevision)
		if len(trimmed) == 0 {
			idx.keysToHistory.Delete(&keyItem{key: key})
			continue
		}
		hist.snapshots = trimmed
	}
}

// trimBefore drops every leading snapshot with ModRevision < atRevision.
func trimBefore(snapshots []Snapshot, atRevision int64) []Snapshot {
	cut := 0
	for cut < len(snapshots) && snapshots[cut].ModRevision < atRevision {
		cut++
	}
	if cut == 0 {
		return snapshots
	}
	out := make([]Snapshot, len(snapshots)-cut)
	copy(out, snapshots[cut:])
	return out
}
