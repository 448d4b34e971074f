// Package txn implements the compare-and-branch transaction evaluator of
// spec §4.3: evaluate a Compare list against current state, then run one
// of two op sequences, recursing into nested Txns, all inside the single
// host transaction the caller already opened. Grounded on the teacher's
// pkg/server/txn.go for the recursive-op dispatch shape, generalized to
// work directly off a kv.Store/lease.Store pair instead of proposing raft
// commands.
package txn

import (
	"bytes"
	"errors"

	"etcdkv/internal/apierr"
	"etcdkv/internal/kv"
	"etcdkv/internal/lease"
	"etcdkv/internal/rpcpb"
)

// Evaluator runs Txn requests and the plain Range/Put/DeleteRange ops that
// make up its branches. One Evaluator is built per host transaction; it
// carries no state across transactions.
type Evaluator struct {
	kv     *kv.Store
	leases *lease.Store
	nowS   int64
	header func() *rpcpb.ResponseHeader
}

// New builds an Evaluator over an already-open kv/lease pair. header
// produces a fresh ResponseHeader per response, matching whatever the RPC
// layer stamps on every other reply.
func New(kvStore *kv.Store, leaseStore *lease.Store, nowS int64, header func() *rpcpb.ResponseHeader) *Evaluator {
	return &Evaluator{kv: kvStore, leases: leaseStore, nowS: nowS, header: header}
}

// Execute runs req: evaluate every Compare, then run the success or
// failure op list, per spec §4.3 steps 1-6.
func (e *Evaluator) Execute(req *rpcpb.TxnRequest) (*rpcpb.TxnResponse, error) {
	succeeded, err := e.evaluateComparisons(req.Compare)
	if err != nil {
		return nil, err
	}

	ops := req.Failure
	if succeeded {
		ops = req.Success
	}

	responses, err := e.executeOps(ops)
	if err != nil {
		return nil, err
	}

	return &rpcpb.TxnResponse{
		Header:    e.header(),
		Succeeded: succeeded,
		Responses: responses,
	}, nil
}

func (e *Evaluator) executeOps(ops []*rpcpb.RequestOp) ([]*rpcpb.ResponseOp, error) {
	responses := make([]*rpcpb.ResponseOp, len(ops))
	for i, op := range ops {
		resp, err := e.executeOp(op)
		if err != nil {
			return nil, err
		}
		responses[i] = resp
	}
	return responses, nil
}

// executeOp dispatches a single op. A nested request_txn recurses through
// Execute, sharing this Evaluator's host transaction and clock; spec §4.3
// imposes no depth limit beyond the wire's own nesting.
func (e *Evaluator) executeOp(op *rpcpb.RequestOp) (*rpcpb.ResponseOp, error) {
	switch {
	case op.RequestRange != nil:
		resp, err := e.ExecuteRange(op.RequestRange)
		if err != nil {
			return nil, err
		}
		return &rpcpb.ResponseOp{ResponseRange: resp}, nil

	case op.RequestPut != nil:
		resp, err := e.ExecutePut(op.RequestPut)
		if err != nil {
			return nil, err
		}
		return &rpcpb.ResponseOp{ResponsePut: resp}, nil

	case op.RequestDeleteRange != nil:
		resp, err := e.ExecuteDeleteRange(op.RequestDeleteRange)
		if err != nil {
			return nil, err
		}
		return &rpcpb.ResponseOp{ResponseDeleteRange: resp}, nil

	case op.RequestTxn != nil:
		resp, err := e.Execute(op.RequestTxn)
		if err != nil {
			return nil, err
		}
		return &rpcpb.ResponseOp{ResponseTxn: resp}, nil

	default:
		return nil, apierr.InvalidArgumentf("txn request op has no operation set")
	}
}

// ExecuteRange serves a current-state (revision == 0) range read: the KV
// facade's Range/Get, with lease-visibility filtering per spec §4.2
// ("skip any record whose lease != 0 and whose lease is not
// contains-positive at now_s"). Historical (revision > 0) reads are the
// RPC layer's concern since they dispatch to the history index instead,
// per spec §4.5; a nested request_range inside a Txn only ever sees
// current state because it runs inside the not-yet-committed transaction.
func (e *Evaluator) ExecuteRange(req *rpcpb.RangeRequest) (*rpcpb.RangeResponse, error) {
	if err := rejectUnsupportedRangeOptions(req); err != nil {
		return nil, err
	}

	var kvs []*rpcpb.KeyValue

	visit := func(key []byte, rec *kv.Record) bool {
		if e.leaseFiltered(rec) {
			return true
		}
		kvs = append(kvs, toKeyValue(key, rec))
		return true
	}

	if req.RangeEnd == nil {
		if rec, ok := e.kv.Get(req.Key); ok {
			visit(req.Key, rec)
		}
	} else {
		end := req.RangeEnd
		if bytes.Equal(end, []byte{0}) {
			end = nil // "\0": no upper bound
		}
		e.kv.Range(req.Key, end, visit)
	}

	return &rpcpb.RangeResponse{
		Header: e.header(),
		Kvs:    kvs,
		Count:  int64(len(kvs)),
	}, nil
}

// leaseFiltered reports whether rec must be hidden from a current read
// because it carries an expired (or revoked-but-not-yet-swept) lease.
func (e *Evaluator) leaseFiltered(rec *kv.Record) bool {
	return rec.Lease != 0 && !e.leases.Contains(rec.Lease, e.nowS)
}

// Now returns the clock reading this Evaluator was built with, so RPC
// handlers that need a lease's remaining TTL use the same now_s as every
// lease-visibility check in this transaction rather than re-sampling the
// clock.
func (e *Evaluator) Now() int64 { return e.nowS }

// LeaseGrant allocates a new lease, per spec §4.2 grant. A bounded run of
// id collisions (spec §9's open question) is surfaced as
// FAILED_PRECONDITION rather than the internal sentinel lease.Grant
// returns, so the RPC layer doesn't report it as a generic 500.
func (e *Evaluator) LeaseGrant(ttl int64) (int64, *lease.Lease, error) {
	id, l, err := e.leases.Grant(ttl, e.nowS)
	if errors.Is(err, lease.ErrIDCollision) {
		return 0, nil, apierr.FailedPreconditionf("lease grant: %v", err)
	}
	return id, l, err
}

// LeaseRevoke revokes id and removes every key bound to it, per spec
// §4.2's explicit LeaseRevoke contract ("revoke the lease, then iterate
// the KV map and remove every key bound to that lease id"). The bound
// keys are found by scanning the records map's Lease field rather than a
// reverse index on the lease record, since a later Put can rebind a key
// to a different lease and a lease-side index would go stale.
func (e *Evaluator) LeaseRevoke(id int64) {
	e.leases.Revoke(id)
	e.removeKeysWithLease(id)
}

// removeKeysWithLease deletes every record whose Lease field is id.
func (e *Evaluator) removeKeysWithLease(id int64) {
	var stale [][]byte
	e.kv.Foreach(func(key []byte, rec *kv.Record) bool {
		if rec.Lease == id {
			stale = append(stale, append([]byte(nil), key...))
		}
		return true
	})
	for _, key := range stale {
		e.kv.Remove(key)
	}
}

// LeaseKeepAlive refreshes id's start_time and returns its ttl, or 0 if
// id does not exist or has already expired.
func (e *Evaluator) LeaseKeepAlive(id int64) int64 {
	if !e.leases.Contains(id, e.nowS) {
		return 0
	}
	return e.leases.KeepAlive(id, e.nowS)
}

// LeaseGet returns id's lease record, or the expired sentinel if id is
// missing or expired, as of this Evaluator's clock reading.
func (e *Evaluator) LeaseGet(id int64) *lease.Lease {
	return e.leases.Get(id, e.nowS)
}

// LeaseForeach iterates every lease entry, expired or not.
func (e *Evaluator) LeaseForeach(fn func(*lease.Lease) bool) {
	e.leases.Foreach(fn)
}

// RevokeExpiredLeases implements spec §4.2's revoke_expired_leases: every
// lease expired as of this Evaluator's clock reading is revoked, and every
// key that was bound to one of them is removed from the KV map in the same
// host transaction. Invoked by Compact (spec §4.5: "also performs
// revoke_expired_leases as a side effect").
func (e *Evaluator) RevokeExpiredLeases() *rpcpb.ResponseHeader {
	expired := e.leases.RevokeExpiredLeases(e.nowS)
	if len(expired) > 0 {
		expiredSet := make(map[int64]struct{}, len(expired))
		for _, id := range expired {
			expiredSet[id] = struct{}{}
		}
		var stale [][]byte
		e.kv.Foreach(func(key []byte, rec *kv.Record) bool {
			if rec.Lease != 0 {
				if _, ok := expiredSet[rec.Lease]; ok {
					stale = append(stale, append([]byte(nil), key...))
				}
			}
			return true
		})
		for _, key := range stale {
			e.kv.Remove(key)
		}
	}
	return e.header()
}

func rejectUnsupportedRangeOptions(req *rpcpb.RangeRequest) error {
	switch {
	case req.Limit != 0:
		return apierr.FailedPreconditionf("range: limit is not supported")
	case req.SortOrder != 0 || req.SortTarget != 0:
		return apierr.FailedPreconditionf("range: sort order is not supported")
	case req.KeysOnly:
		return apierr.FailedPreconditionf("range: keys_only is not supported")
	case req.CountOnly:
		return apierr.FailedPreconditionf("range: count_only is not supported")
	case req.MinModRevision != 0 || req.MaxModRevision != 0:
		return apierr.FailedPreconditionf("range: mod_revision filters are not supported")
	case req.MinCreateRevision != 0 || req.MaxCreateRevision != 0:
		return apierr.FailedPreconditionf("range: create_revision filters are not supported")
	}
	return nil
}

// ExecutePut serves a Put, including the lease validation spec §4.2
// assigns to the RPC layer ("the RPC layer must verify the lease exists
// and is live").
func (e *Evaluator) ExecutePut(req *rpcpb.PutRequest) (*rpcpb.PutResponse, error) {
	if req.IgnoreValue {
		return nil, apierr.FailedPreconditionf("put: ignore_value is not supported")
	}
	if req.IgnoreLease {
		return nil, apierr.FailedPreconditionf("put: ignore_lease is not supported")
	}
	if req.Lease != 0 && !e.leases.Contains(req.Lease, e.nowS) {
		return nil, apierr.FailedPreconditionf("put: lease %d does not exist or has expired", req.Lease)
	}

	var prevKv *rpcpb.KeyValue
	old, err := e.kv.Put(req.Key, req.Value, req.Lease)
	if err != nil {
		return nil, err
	}
	if req.PrevKv && old != nil {
		prevKv = toKeyValue(req.Key, old)
	}

	return &rpcpb.PutResponse{
		Header: e.header(),
		PrevKv: prevKv,
	}, nil
}

// ExecuteDeleteRange serves a single-key or ranged delete.
func (e *Evaluator) ExecuteDeleteRange(req *rpcpb.DeleteRangeRequest) (*rpcpb.DeleteRangeResponse, error) {
	var prevKvs []*rpcpb.KeyValue
	var deleted int64

	collect := func(key []byte, rec *kv.Record) {
		if req.PrevKv {
			prevKvs = append(prevKvs, toKeyValue(key, rec))
		}
		deleted++
	}

	if req.RangeEnd == nil {
		if rec, ok := e.kv.Remove(req.Key); ok {
			collect(req.Key, rec)
		}
		return &rpcpb.DeleteRangeResponse{Header: e.header(), Deleted: deleted, PrevKvs: prevKvs}, nil
	}

	end := req.RangeEnd
	if bytes.Equal(end, []byte{0}) {
		end = nil // "\0": no upper bound
	}
	var keys [][]byte
	e.kv.Range(req.Key, end, func(key []byte, rec *kv.Record) bool {
		keys = append(keys, append([]byte(nil), key...))
		return true
	})
	for _, key := range keys {
		if rec, ok := e.kv.Remove(key); ok {
			collect(key, rec)
		}
	}

	return &rpcpb.DeleteRangeResponse{Header: e.header(), Deleted: deleted, PrevKvs: prevKvs}, nil
}

// evaluateComparisons implements spec §4.3 steps 1-4: an empty compare
// list is vacuously true; otherwise every predicate must hold.
func (e *Evaluator) evaluateComparisons(compares []*rpcpb.Compare) (bool, error) {
	for _, cmp := range compares {
		ok, err := e.compareOne(cmp)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// defaultRecord is the stand-in compared against when the key is absent,
// per spec §4.3 step 1.
var defaultRecord = &kv.Record{}

func (e *Evaluator) compareOne(cmp *rpcpb.Compare) (bool, error) {
	rec, ok := e.kv.Get(cmp.Key)
	if !ok {
		rec = defaultRecord
	}

	if cmp.Target == rpcpb.CompareValue {
		return compareBytes(cmp.Result, rec.Data, cmp.Value)
	}

	var current, target int64
	switch cmp.Target {
	case rpcpb.CompareVersion:
		current, target = rec.Version, cmp.Version
	case rpcpb.CompareCreate:
		current, target = rec.CreateRevision, cmp.CreateRevision
	case rpcpb.CompareMod:
		current, target = rec.ModRevision, cmp.ModRevision
	case rpcpb.CompareLease:
		current, target = rec.Lease, cmp.Lease
	default:
		return false, apierr.InvalidArgumentf("txn compare: unknown target %v", cmp.Target)
	}

	return compareInt(cmp.Result, current, target)
}

func compareInt(result rpcpb.CompareResult, current, target int64) (bool, error) {
	switch result {
	case rpcpb.CompareEqual:
		return current == target, nil
	case rpcpb.CompareNotEqual:
		return current != target, nil
	case rpcpb.CompareGreater:
		return current > target, nil
	case rpcpb.CompareLess:
		return current < target, nil
	default:
		return false, apierr.InvalidArgumentf("txn compare: unknown result operator %v", result)
	}
}

func compareBytes(result rpcpb.CompareResult, current, target []byte) (bool, error) {
	cmp := bytes.Compare(current, target)
	switch result {
	case rpcpb.CompareEqual:
		return cmp == 0, nil
	case rpcpb.CompareNotEqual:
		return cmp != 0, nil
	case rpcpb.CompareGreater:
		return cmp > 0, nil
	case rpcpb.CompareLess:
		return cmp < 0, nil
	default:
		return false, apierr.InvalidArgumentf("txn compare: unknown result operator %v", result)
	}
}

func toKeyValue(key []byte, rec *kv.Record) *rpcpb.KeyValue {
	return &rpcpb.KeyValue{
		Key:            append([]byte(nil), key...),
		Value:          rec.Data,
		CreateRevision: rec.CreateRevision,
		ModRevision:    rec.ModRevision,
		Version:        rec.Version,
		Lease:          rec.Lease,
	}
}
