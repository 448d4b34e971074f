// Package host is a reference implementation of the "host KV engine" that
// the rest of this module treats as an external collaborator: a
// serializable-transaction store that hands out monotonic commit sequence
// numbers, exposes two versioned maps (byte-keyed records, int64-keyed
// leases), and notifies a subscriber once per committed transaction with the
// set of keys that changed.
//
// A production deployment is expected to swap this out for a real
// replicated engine. The core packages (kv, lease, txn, history, rpc)
// depend only on Engine, Tx, RecordTxn and LeaseTxn; cmd/etcdkvd and the
// tests construct the concrete MemEngine.
package host

import "context"

// SeqNo is a commit sequence number: monotonic and gap-free per replica, as
// assigned by the host at commit time.
type SeqNo = int64

// TxID identifies a committed transaction by the revision it was assigned.
type TxID struct {
	SeqNo SeqNo
}

// Change describes one key that a committed transaction touched.
type Change struct {
	Key     []byte
	Value   []byte // nil when Deleted
	Deleted bool
}

// Diff enumerates every record key changed by one committed transaction.
type Diff []Change

// Indexer is notified, exactly once and in revision order, after each
// transaction commits.
type Indexer func(id TxID, diff Diff)

// Engine is the interface the rest of this module consumes. It never
// blocks outside of Commit, and Commit fails only on a write-write
// conflict (ErrConflict) or on an already-closed transaction (ErrTxDone).
type Engine interface {
	// Begin starts a new transaction against the latest committed snapshot.
	Begin(ctx context.Context) Tx

	// Subscribe registers an indexer. Indexers are invoked synchronously,
	// in commit order, while Commit still holds the engine's commit lock —
	// so two commits are never delivered to indexers out of order, and an
	// indexer observing revision N has also observed every revision < N.
	Subscribe(fn Indexer)

	// CurrentRevision returns the latest committed revision (0 if none).
	CurrentRevision() SeqNo
}

// Tx is one serializable read/write transaction. It must be closed exactly
// once, via Commit or Rollback.
type Tx interface {
	Records() RecordTxn
	Leases() LeaseTxn

	// Commit attempts to apply the transaction's writes. On success it
	// returns the revision the transaction was committed at. On a
	// write-write conflict it returns ErrConflict and the transaction is
	// left rolled back.
	Commit() (TxID, error)

	// Rollback discards the transaction's writes. Safe to call after
	// Commit (no-op) and more than once.
	Rollback()
}

// RecordTxn is the byte-keyed versioned map the KV facade (internal/kv)
// builds on. Range iterates the half-open interval [from, to); to == nil
// means unbounded.
type RecordTxn interface {
	Get(key []byte) ([]byte, bool)
	Put(key, value []byte)
	Delete(key []byte)
	Range(from, to []byte, fn func(key, value []byte) bool)
	Foreach(fn func(key, value []byte) bool)

	// LastWriteVersion returns the revision of the most recent committed
	// write to key, as observed at the start of this transaction. This is
	// the primitive the KV facade's hydration step (spec glossary:
	// "Hydration") relies on to derive mod_revision/create_revision.
	LastWriteVersion(key []byte) (SeqNo, bool)
}

// LeaseTxn is the int64-keyed versioned map the lease store builds on.
type LeaseTxn interface {
	Get(id int64) ([]byte, bool)
	Put(id int64, value []byte)
	Delete(id int64)
	Foreach(fn func(id int64, value []byte) bool)
}
