package host

import (
	"bytes"
	"slices"
)

type memTx struct {
	engine   *MemEngine
	snapshot *version
	done     bool

	writeRec    map[string]*[]byte // nil value == delete
	writeLeases map[int64]*[]byte
}

func (tx *memTx) Records() RecordTxn { return recordTxn{tx} }
func (tx *memTx) Leases() LeaseTxn   { return leaseTxn{tx} }

func (tx *memTx) Commit() (TxID, error) {
	if tx.done {
		return TxID{}, ErrTxDone
	}
	tx.done = true
	return tx.engine.commit(tx)
}

func (tx *memTx) Rollback() {
	tx.done = true
}

// recordTxn adapts memTx to RecordTxn, giving read-your-own-writes
// semantics by consulting the local write buffer before the snapshot.
type recordTxn struct{ tx *memTx }

func (r recordTxn) Get(key []byte) ([]byte, bool) {
	k := string(key)
	if v, ok := r.tx.writeRec[k]; ok {
		if v == nil {
			return nil, false
		}
		return *v, true
	}
	if v, ok := r.tx.snapshot.records[k]; ok {
		return v.data, true
	}
	return nil, false
}

func (r recordTxn) Put(key, value []byte) {
	v := append([]byte(nil), value...)
	r.tx.writeRec[string(key)] = &v
}

func (r recordTxn) Delete(key []byte) {
	r.tx.writeRec[string(key)] = nil
}

func (r recordTxn) LastWriteVersion(key []byte) (SeqNo, bool) {
	if v, ok := r.tx.snapshot.records[string(key)]; ok {
		return v.writtenAt, true
	}
	return 0, false
}

// merged returns the sorted set of keys visible in this transaction
// (snapshot overlaid with local writes, tombstoned deletes removed).
func (r recordTxn) merged() []string {
	seen := make(map[string]struct{}, len(r.tx.snapshot.records)+len(r.tx.writeRec))
	for k := range r.tx.snapshot.records {
		seen[k] = struct{}{}
	}
	for k, v := range r.tx.writeRec {
		if v == nil {
			delete(seen, k)
		} else {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (r recordTxn) Range(from, to []byte, fn func(key, value []byte) bool) {
	for _, k := range r.merged() {
		kb := []byte(k)
		if bytes.Compare(kb, from) < 0 {
			continue
		}
		if to != nil && bytes.Compare(kb, to) >= 0 {
			break
		}
		val, ok := r.Get(kb)
		if !ok {
			continue
		}
		if !fn(kb, val) {
			return
		}
	}
}

func (r recordTxn) Foreach(fn func(key, value []byte) bool) {
	r.Range(nil, nil, fn)
}

// leaseTxn adapts memTx to LeaseTxn.
type leaseTxn struct{ tx *memTx }

func (l leaseTxn) Get(id int64) ([]byte, bool) {
	if v, ok := l.tx.writeLeases[id]; ok {
		if v == nil {
			return nil, false
		}
		return *v, true
	}
	if v, ok := l.tx.snapshot.leases[id]; ok {
		return v.data, true
	}
	return nil, false
}

func (l leaseTxn) Put(id int64, value []byte) {
	v := append([]byte(nil), value...)
	l.tx.writeLeases[id] = &v
}

func (l leaseTxn) Delete(id int64) {
	l.tx.writeLeases[id] = nil
}

func (l leaseTxn) Foreach(fn func(id int64, value []byte) bool) {
	seen := make(map[int64]struct{}, len(l.tx.snapshot.leases)+len(l.tx.writeLeases))
	for id := range l.tx.snapshot.leases {
		seen[id] = struct{}{}
	}
	for id, v := range l.tx.writeLeases {
		if v == nil {
			delete(seen, id)
		} else {
			seen[id] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		val, ok := l.Get(id)
		if !ok {
			continue
		}
		if !fn(id, val) {
			return
		}
	}
}
