package txn_test

import (
	"context"
	"testing"

	"etcdkv/internal/host"
	"etcdkv/internal/kv"
	"etcdkv/internal/lease"
	"etcdkv/internal/rpcpb"
	"etcdkv/internal/txn"

	"github.com/stretchr/testify/require"
)

func newEvaluator(t *testing.T, engine *host.MemEngine, nowS int64) (*txn.Evaluator, host.Tx) {
	t.Helper()
	tx := engine.Begin(context.Background())
	ev := txn.New(kv.New(tx.Records()), lease.New(tx.Leases(), nil, nil), nowS, func() *rpcpb.ResponseHeader {
		return &rpcpb.ResponseHeader{}
	})
	return ev, tx
}

func TestEvaluator_PutThenGetRoundTrips(t *testing.T) {
	engine, err := host.NewMemEngine(nil, nil)
	require.NoError(t, err)
	ev, tx := newEvaluator(t, engine, 0)

	_, err = ev.ExecutePut(&rpcpb.PutRequest{Key: []byte("k"), Value: []byte("v")})
	require.NoError(t, err)

	resp, err := ev.ExecuteRange(&rpcpb.RangeRequest{Key: []byte("k")})
	require.NoError(t, err)
	require.Len(t, resp.Kvs, 1)
	require.Equal(t, []byte("v"), resp.Kvs[0].Value)
	tx.Rollback()
}

func TestEvaluator_PutWithUnknownLeaseFails(t *testing.T) {
	engine, err := host.NewMemEngine(nil, nil)
	require.NoError(t, err)
	ev, tx := newEvaluator(t, engine, 0)
	defer tx.Rollback()

	_, err = ev.ExecutePut(&rpcpb.PutRequest{Key: []byte("k"), Value: []byte("v"), Lease: 42})
	require.Error(t, err)
}

// evaluatorOver builds a second Evaluator over the same already-open host
// transaction but a different clock reading, so a test can simulate time
// passing without needing a commit in between.
func evaluatorOver(tx host.Tx, nowS int64) *txn.Evaluator {
	return txn.New(kv.New(tx.Records()), lease.New(tx.Leases(), nil, nil), nowS, func() *rpcpb.ResponseHeader {
		return &rpcpb.ResponseHeader{}
	})
}

func TestEvaluator_RangeHidesKeyBoundToExpiredLease(t *testing.T) {
	engine, err := host.NewMemEngine(nil, nil)
	require.NoError(t, err)
	ev, tx := newEvaluator(t, engine, 0)
	defer tx.Rollback()

	id, _, err := ev.LeaseGrant(10)
	require.NoError(t, err)

	_, err = ev.ExecutePut(&rpcpb.PutRequest{Key: []byte("k"), Value: []byte("v"), Lease: id})
	require.NoError(t, err)

	resp, err := ev.ExecuteRange(&rpcpb.RangeRequest{Key: []byte("k")})
	require.NoError(t, err)
	require.Len(t, resp.Kvs, 1)

	laterEv := evaluatorOver(tx, 1000)
	resp, err = laterEv.ExecuteRange(&rpcpb.RangeRequest{Key: []byte("k")})
	require.NoError(t, err)
	require.Empty(t, resp.Kvs)
}

func TestEvaluator_TxnCompareValueBranchesOnSuccessOrFailure(t *testing.T) {
	engine, err := host.NewMemEngine(nil, nil)
	require.NoError(t, err)
	ev, tx := newEvaluator(t, engine, 0)
	defer tx.Rollback()

	_, err = ev.ExecutePut(&rpcpb.PutRequest{Key: []byte("k"), Value: []byte("v1")})
	require.NoError(t, err)

	resp, err := ev.Execute(&rpcpb.TxnRequest{
		Compare: []*rpcpb.Compare{{
			Target: rpcpb.CompareValue,
			Result: rpcpb.CompareEqual,
			Key:    []byte("k"),
			Value:  []byte("v1"),
		}},
		Success: []*rpcpb.RequestOp{{RequestPut: &rpcpb.PutRequest{Key: []byte("k"), Value: []byte("v2")}}},
		Failure: []*rpcpb.RequestOp{{RequestPut: &rpcpb.PutRequest{Key: []byte("k"), Value: []byte("unreachable")}}},
	})
	require.NoError(t, err)
	require.True(t, resp.Succeeded)

	get, err := ev.ExecuteRange(&rpcpb.RangeRequest{Key: []byte("k")})
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), get.Kvs[0].Value)
}

func TestEvaluator_TxnCompareFailureRunsFailureBranch(t *testing.T) {
	engine, err := host.NewMemEngine(nil, nil)
	require.NoError(t, err)
	ev, tx := newEvaluator(t, engine, 0)
	defer tx.Rollback()

	_, err = ev.ExecutePut(&rpcpb.PutRequest{Key: []byte("k"), Value: []byte("v1")})
	require.NoError(t, err)

	resp, err := ev.Execute(&rpcpb.TxnRequest{
		Compare: []*rpcpb.Compare{{
			Target: rpcpb.CompareValue,
			Result: rpcpb.CompareEqual,
			Key:    []byte("k"),
			Value:  []byte("does-not-match"),
		}},
		Success: []*rpcpb.RequestOp{{RequestPut: &rpcpb.PutRequest{Key: []byte("k"), Value: []byte("unreachable")}}},
		Failure: []*rpcpb.RequestOp{{RequestPut: &rpcpb.PutRequest{Key: []byte("k"), Value: []byte("failure-branch")}}},
	})
	require.NoError(t, err)
	require.False(t, resp.Succeeded)

	get, err := ev.ExecuteRange(&rpcpb.RangeRequest{Key: []byte("k")})
	require.NoError(t, err)
	require.Equal(t, []byte("failure-branch"), get.Kvs[0].Value)
}

func TestEvaluator_TxnNestedTxnRecurses(t *testing.T) {
	engine, err := host.NewMemEngine(nil, nil)
	require.NoError(t, err)
	ev, tx := newEvaluator(t, engine, 0)
	defer tx.Rollback()

	resp, err := ev.Execute(&rpcpb.TxnRequest{
		Success: []*rpcpb.RequestOp{{RequestTxn: &rpcpb.TxnRequest{
			Success: []*rpcpb.RequestOp{{RequestPut: &rpcpb.PutRequest{Key: []byte("nested"), Value: []byte("v")}}},
		}}},
	})
	require.NoError(t, err)
	require.True(t, resp.Succeeded)

	get, err := ev.ExecuteRange(&rpcpb.RangeRequest{Key: []byte("nested")})
	require.NoError(t, err)
	require.Len(t, get.Kvs, 1)
}

func TestEvaluator_DeleteRangeRemovesEveryKeyInInterval(t *testing.T) {
	engine, err := host.NewMemEngine(nil, nil)
	require.NoError(t, err)
	ev, tx := newEvaluator(t, engine, 0)
	defer tx.Rollback()

	for _, k := range []string{"a", "b", "c"} {
		_, err := ev.ExecutePut(&rpcpb.PutRequest{Key: []byte(k), Value: []byte("v")})
		require.NoError(t, err)
	}

	resp, err := ev.ExecuteDeleteRange(&rpcpb.DeleteRangeRequest{Key: []byte("a"), RangeEnd: []byte("c")})
	require.NoError(t, err)
	require.Equal(t, int64(2), resp.Deleted)

	get, err := ev.ExecuteRange(&rpcpb.RangeRequest{Key: []byte("a"), RangeEnd: []byte{0xff}})
	require.NoError(t, err)
	require.Len(t, get.Kvs, 1)
	require.Equal(t, []byte("c"), get.Kvs[0].Key)
}

func TestEvaluator_RevokeExpiredLeasesCascadesKeyDeletion(t *testing.T) {
	engine, err := host.NewMemEngine(nil, nil)
	require.NoError(t, err)
	ev, tx := newEvaluator(t, engine, 0)
	defer tx.Rollback()

	id, _, err := ev.LeaseGrant(10)
	require.NoError(t, err)
	_, err = ev.ExecutePut(&rpcpb.PutRequest{Key: []byte("bound"), Value: []byte("v"), Lease: id})
	require.NoError(t, err)

	laterEv := evaluatorOver(tx, 100)
	laterEv.RevokeExpiredLeases()

	resp, err := laterEv.ExecuteRange(&rpcpb.RangeRequest{Key: []byte("bound")})
	require.NoError(t, err)
	require.Empty(t, resp.Kvs)

	// the key is gone from the records map, not merely filtered out.
	_, ok := kv.New(tx.Records()).Get([]byte("bound"))
	require.False(t, ok)
}

func TestEvaluator_RevokeExpiredLeasesDoesNotDeleteKeyRebindToLiveLease(t *testing.T) {
	engine, err := host.NewMemEngine(nil, nil)
	require.NoError(t, err)
	ev, tx := newEvaluator(t, engine, 0)
	defer tx.Rollback()

	staleID, _, err := ev.LeaseGrant(1)
	require.NoError(t, err)
	liveID, _, err := ev.LeaseGrant(100)
	require.NoError(t, err)

	_, err = ev.ExecutePut(&rpcpb.PutRequest{Key: []byte("k"), Value: []byte("v1"), Lease: staleID})
	require.NoError(t, err)
	_, err = ev.ExecutePut(&rpcpb.PutRequest{Key: []byte("k"), Value: []byte("v2"), Lease: liveID})
	require.NoError(t, err)

	laterEv := evaluatorOver(tx, 2)
	laterEv.RevokeExpiredLeases()

	resp, err := laterEv.ExecuteRange(&rpcpb.RangeRequest{Key: []byte("k")})
	require.NoError(t, err)
	require.Len(t, resp.Kvs, 1)
	require.Equal(t, []byte("v2"), resp.Kvs[0].Value)
}

func TestEvaluator_RangeOnUnsupportedOptionFails(t *testing.T) {
	engine, err := host.NewMemEngine(nil, nil)
	require.NoError(t, err)
	ev, tx := newEvaluator(t, engine, 0)
	defer tx.Rollback()

	_, err = ev.ExecuteRange(&rpcpb.RangeRequest{Key: []byte("k"), Limit: 1})
	require.Error(t, err)
}
