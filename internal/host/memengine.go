package host

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Persister durably records each committed generation so a restart can
// rebuild the in-memory snapshot. It is optional: NewMemEngine with a nil
// persister behaves as a pure in-memory engine.
type Persister interface {
	// PersistCommit is called once per commit, after the new version is
	// installed, with the full diff of both maps.
	PersistCommit(rev SeqNo, records Diff, leases Diff) error

	// Load reconstructs the most recently persisted snapshot.
	Load() (rev SeqNo, records map[string][]byte, leases map[int64][]byte, err error)
}

// MemEngine is the reference Engine: an in-memory, copy-on-write map pair
// with snapshot isolation, grounded on the same commit-lock-plus-atomic-
// pointer-swap design as a generic MVCC map, specialized here to the two
// concrete maps this module needs (records, leases) so both commit
// together under one revision.
type MemEngine struct {
	// commitMu serializes commits. It is held for conflict detection,
	// building and installing the new version, persisting it, and
	// notifying indexers.
	commitMu sync.Mutex
	current  atomic.Pointer[version]
	nextRev  atomic.Int64

	subMu sync.Mutex
	subs  []Indexer

	persister Persister
	logger    *zap.Logger
}

// NewMemEngine constructs an empty engine, or restores one from persister
// if non-nil and it has prior state.
func NewMemEngine(persister Persister, logger *zap.Logger) (*MemEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &MemEngine{persister: persister, logger: logger}

	records := make(map[string]recordVal)
	leases := make(map[int64]leaseVal)
	var rev SeqNo

	if persister != nil {
		restoredRev, rrecords, rleases, err := persister.Load()
		if err != nil {
			return nil, err
		}
		rev = restoredRev
		for k, v := range rrecords {
			records[k] = recordVal{data: v, writtenAt: rev}
		}
		for k, v := range rleases {
			leases[k] = leaseVal{data: v, writtenAt: rev}
		}
	}

	e.current.Store(newVersion(rev, records, leases))
	e.nextRev.Store(rev)
	return e, nil
}

func (e *MemEngine) CurrentRevision() SeqNo {
	return e.current.Load().id
}

func (e *MemEngine) Subscribe(fn Indexer) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.subs = append(e.subs, fn)
}

func (e *MemEngine) Begin(ctx context.Context) Tx {
	snap := e.current.Load()
	return &memTx{
		engine:      e,
		snapshot:    snap,
		writeRec:    make(map[string]*[]byte),
		writeLeases: make(map[int64]*[]byte),
	}
}

// commit applies tx's buffered writes. Called with tx already marked done
// by the caller.
func (e *MemEngine) commit(tx *memTx) (TxID, error) {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	current := e.current.Load()

	for key := range tx.writeRec {
		existing, ok := current.records[key]
		if ok && existing.writtenAt > tx.snapshot.id {
			return TxID{}, ErrConflict
		}
		if _, had := tx.snapshot.records[key]; had && !ok {
			return TxID{}, ErrConflict // deleted since the snapshot
		}
	}
	for id := range tx.writeLeases {
		existing, ok := current.leases[id]
		if ok && existing.writtenAt > tx.snapshot.id {
			return TxID{}, ErrConflict
		}
		if _, had := tx.snapshot.leases[id]; had && !ok {
			return TxID{}, ErrConflict // deleted since the snapshot
		}
	}

	newRev := e.nextRev.Add(1)

	newRecords := current.cloneRecords()
	var recordDiff Diff
	for key, val := range tx.writeRec {
		if val == nil {
			if _, existed := newRecords[key]; existed {
				delete(newRecords, key)
				recordDiff = append(recordDiff, Change{Key: []byte(key), Deleted: true})
			}
			continue
		}
		newRecords[key] = recordVal{data: *val, writtenAt: newRev}
		recordDiff = append(recordDiff, Change{Key: []byte(key), Value: *val})
	}

	newLeases := current.cloneLeases()
	var leaseDiff Diff
	for id, val := range tx.writeLeases {
		key := leaseKeyBytes(id)
		if val == nil {
			if _, existed := newLeases[id]; existed {
				delete(newLeases, id)
				leaseDiff = append(leaseDiff, Change{Key: key, Deleted: true})
			}
			continue
		}
		newLeases[id] = leaseVal{data: *val, writtenAt: newRev}
		leaseDiff = append(leaseDiff, Change{Key: key, Value: *val})
	}

	e.current.Store(newVersion(newRev, newRecords, newLeases))

	if e.persister != nil {
		if err := e.persister.PersistCommit(newRev, recordDiff, leaseDiff); err != nil {
			e.logger.Error("failed to persist commit", zap.Int64("revision", newRev), zap.Error(err))
		}
	}

	id := TxID{SeqNo: newRev}
	// Every commit is delivered, including one with no record changes (its
	// diff is empty), so indexers see every revision in order.
	e.subMu.Lock()
	subs := append([]Indexer(nil), e.subs...)
	e.subMu.Unlock()
	for _, fn := range subs {
		fn(id, recordDiff)
	}

	e.logger.Debug("committed transaction",
		zap.Int64("revision", newRev),
		zap.Int("records_changed", len(recordDiff)),
		zap.Int("leases_changed", len(leaseDiff)),
	)

	return id, nil
}

func leaseKeyBytes(id int64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(id)
		id >>= 8
	}
	return b
}
