package kv

import "etcdkv/internal/host"

// Store is the KV store facade described in spec §4.1: get/put/remove/range
// /foreach over the host's records map, with etcd-style value metadata
// hydrated on every read. Every operation runs inside a caller-supplied
// host transaction, so it composes freely with the lease store and the Txn
// evaluator within one atomic host transaction.
type Store struct {
	tx host.RecordTxn
}

// New wraps a host transaction's records map.
func New(tx host.RecordTxn) *Store {
	return &Store{tx: tx}
}

// Get fetches and hydrates the value stored for key, if present.
func (s *Store) Get(key []byte) (*Record, bool) {
	raw, ok := s.tx.Get(key)
	if !ok {
		return nil, false
	}
	rec, err := unmarshalRecord(raw)
	if err != nil {
		return nil, false
	}
	s.hydrate(key, rec)
	return rec, true
}

// hydrate derives ModRevision unconditionally, and CreateRevision when it
// is still the zero sentinel, from the host's last-write-version for key.
func (s *Store) hydrate(key []byte, rec *Record) {
	revision, ok := s.tx.LastWriteVersion(key)
	if !ok {
		return
	}
	rec.ModRevision = revision
	if rec.CreateRevision == 0 {
		rec.CreateRevision = revision
	}
}

// Put stores value under key, composing create/mod-revision/version
// metadata per spec §4.1, and returns the previous record if one existed.
func (s *Store) Put(key []byte, data []byte, lease int64) (*Record, error) {
	old, hadOld := s.Get(key)

	rec := &Record{
		Data:  data,
		Lease: lease,
	}

	if !hadOld {
		rec.Version = 1
		rec.CreateRevision = 0
	} else {
		rec.Version = old.Version + 1
		if old.CreateRevision != 0 {
			rec.CreateRevision = old.CreateRevision
		} else if revision, ok := s.tx.LastWriteVersion(key); ok {
			rec.CreateRevision = revision
		}
	}

	raw, err := rec.marshal()
	if err != nil {
		return nil, err
	}
	s.tx.Put(key, raw)

	return old, nil
}

// Remove deletes key and returns the record that was there, if any.
func (s *Store) Remove(key []byte) (*Record, bool) {
	old, hadOld := s.Get(key)
	s.tx.Delete(key)
	return old, hadOld
}

// Range iterates the half-open byte interval [from, to), hydrating each
// entry before invoking fn. to == nil means "to the end of the keyspace"
// (the RPC layer normalizes the etcd "\0" sentinel to this, per spec §9).
// fn returning false stops iteration early.
func (s *Store) Range(from, to []byte, fn func(key []byte, rec *Record) bool) {
	s.tx.Range(from, to, func(key, raw []byte) bool {
		rec, err := unmarshalRecord(raw)
		if err != nil {
			return true
		}
		s.hydrate(key, rec)
		return fn(key, rec)
	})
}

// Foreach iterates every key in ascending order, hydrating each.
func (s *Store) Foreach(fn func(key []byte, rec *Record) bool) {
	s.Range(nil, nil, fn)
}
