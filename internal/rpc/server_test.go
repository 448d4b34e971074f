package rpc_test

import (
	"context"
	"testing"

	"etcdkv/internal/cluster"
	"etcdkv/internal/history"
	"etcdkv/internal/host"
	"etcdkv/internal/rpc"
	"etcdkv/internal/rpcpb"

	bolt "go.etcd.io/bbolt"

	"github.com/stretchr/testify/require"
)

// testServer bundles a Server with the collaborators it was built from, so
// a test can spin up a second Server sharing the same engine/history/
// members but a different clock reading (to simulate time passing without
// a real sleep).
type testServer struct {
	engine  *host.MemEngine
	history *history.Index
	members *cluster.MemberStore
}

func newTestServer(t *testing.T, clock rpc.Clock) (*rpc.Server, *testServer) {
	t.Helper()

	engine, err := host.NewMemEngine(nil, nil)
	require.NoError(t, err)

	idx := history.New()
	engine.Subscribe(idx.HandleCommittedTransaction)

	db, err := bolt.Open(t.TempDir()+"/members.db", 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	members, err := cluster.NewMemberStore(db, nil)
	require.NoError(t, err)

	ts := &testServer{engine: engine, history: idx, members: members}
	return ts.server(clock), ts
}

func (ts *testServer) server(clock rpc.Clock) *rpc.Server {
	return rpc.New(rpc.Config{
		Engine:    ts.engine,
		History:   ts.history,
		Members:   ts.members,
		Clock:     clock,
		ClusterID: 1,
		MemberID:  1,
	})
}

func fixedClock(t int64) rpc.Clock {
	return func() int64 { return t }
}

// newTestServerWithClock builds a second Server over ts's existing
// engine/history/members at a different clock reading, so a test can
// simulate time passing (e.g. lease expiry) without a real sleep.
func newTestServerWithClock(t *testing.T, ts *testServer, now int64) *rpc.Server {
	t.Helper()
	return ts.server(fixedClock(now))
}

func TestServer_PutThenRangeRoundTrips(t *testing.T) {
	s, _ := newTestServer(t, fixedClock(0))
	ctx := context.Background()

	_, err := s.Put(ctx, &rpcpb.PutRequest{Key: []byte("k"), Value: []byte("v")})
	require.NoError(t, err)

	resp, err := s.Range(ctx, &rpcpb.RangeRequest{Key: []byte("k")})
	require.NoError(t, err)
	require.Len(t, resp.Kvs, 1)
	require.Equal(t, []byte("v"), resp.Kvs[0].Value)
	require.Equal(t, int64(1), resp.Kvs[0].Version)
}

func TestServer_DeleteRangeOverRangeRemovesAllMatches(t *testing.T) {
	s, _ := newTestServer(t, fixedClock(0))
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		_, err := s.Put(ctx, &rpcpb.PutRequest{Key: []byte(k), Value: []byte("v")})
		require.NoError(t, err)
	}

	resp, err := s.DeleteRange(ctx, &rpcpb.DeleteRangeRequest{Key: []byte("a"), RangeEnd: []byte("c")})
	require.NoError(t, err)
	require.Equal(t, int64(2), resp.Deleted)

	remaining, err := s.Range(ctx, &rpcpb.RangeRequest{Key: []byte("a"), RangeEnd: []byte{0xff}})
	require.NoError(t, err)
	require.Len(t, remaining.Kvs, 1)
	require.Equal(t, []byte("c"), remaining.Kvs[0].Key)
}

func TestServer_TxnCompareAndSwap(t *testing.T) {
	s, _ := newTestServer(t, fixedClock(0))
	ctx := context.Background()

	_, err := s.Put(ctx, &rpcpb.PutRequest{Key: []byte("k"), Value: []byte("v1")})
	require.NoError(t, err)

	resp, err := s.Txn(ctx, &rpcpb.TxnRequest{
		Compare: []*rpcpb.Compare{{Target: rpcpb.CompareValue, Result: rpcpb.CompareEqual, Key: []byte("k"), Value: []byte("v1")}},
		Success: []*rpcpb.RequestOp{{RequestPut: &rpcpb.PutRequest{Key: []byte("k"), Value: []byte("v2")}}},
	})
	require.NoError(t, err)
	require.True(t, resp.Succeeded)

	get, err := s.Range(ctx, &rpcpb.RangeRequest{Key: []byte("k")})
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), get.Kvs[0].Value)
}

func TestServer_LeaseGrantRevokeCascadesKeyDeletion(t *testing.T) {
	s, ts := newTestServer(t, fixedClock(0))
	ctx := context.Background()

	grant, err := s.LeaseGrant(ctx, &rpcpb.LeaseGrantRequest{TTL: 60})
	require.NoError(t, err)
	require.NotZero(t, grant.ID)

	_, err = s.Put(ctx, &rpcpb.PutRequest{Key: []byte("k"), Value: []byte("v"), Lease: grant.ID})
	require.NoError(t, err)

	_, err = s.LeaseRevoke(ctx, &rpcpb.LeaseRevokeRequest{ID: grant.ID})
	require.NoError(t, err)

	resp, err := s.Range(ctx, &rpcpb.RangeRequest{Key: []byte("k")})
	require.NoError(t, err)
	require.Empty(t, resp.Kvs)

	// the key was deleted, not merely hidden: the history index holds a
	// tombstone for it at the revoke's revision.
	_, ok := ts.history.Get(ts.engine.CurrentRevision(), []byte("k"))
	require.False(t, ok)
}

func TestServer_LeaseKeepAliveOnMissingLeaseIsNotFound(t *testing.T) {
	s, _ := newTestServer(t, fixedClock(0))
	_, err := s.LeaseKeepAlive(context.Background(), &rpcpb.LeaseKeepAliveRequest{ID: 99999})
	require.Error(t, err)
}

func TestServer_CompactRevokesExpiredLeasesAndTrimsHistory(t *testing.T) {
	s, ts := newTestServer(t, fixedClock(0))
	ctx := context.Background()

	grant, err := s.LeaseGrant(ctx, &rpcpb.LeaseGrantRequest{TTL: 1})
	require.NoError(t, err)
	_, err = s.Put(ctx, &rpcpb.PutRequest{Key: []byte("bound"), Value: []byte("v"), Lease: grant.ID})
	require.NoError(t, err)

	_, err = s.Put(ctx, &rpcpb.PutRequest{Key: []byte("other"), Value: []byte("v1")})
	require.NoError(t, err)

	late := newTestServerWithClock(t, ts, 100)

	_, err = late.Compact(ctx, &rpcpb.CompactionRequest{Revision: 1})
	require.NoError(t, err)
	require.Equal(t, int64(1), ts.history.CompactedFloor())

	resp, err := late.Range(ctx, &rpcpb.RangeRequest{Key: []byte("bound")})
	require.NoError(t, err)
	require.Empty(t, resp.Kvs)

	// the bound key was deleted by the sweep, not merely hidden.
	_, ok := ts.history.Get(ts.engine.CurrentRevision(), []byte("bound"))
	require.False(t, ok)
}

func TestServer_RangeAtHistoricalRevisionBeforeCompactionFloorIsNotFound(t *testing.T) {
	s, _ := newTestServer(t, fixedClock(0))
	ctx := context.Background()

	_, err := s.Put(ctx, &rpcpb.PutRequest{Key: []byte("k"), Value: []byte("v1")})
	require.NoError(t, err)
	_, err = s.Put(ctx, &rpcpb.PutRequest{Key: []byte("k"), Value: []byte("v2")})
	require.NoError(t, err)

	_, err = s.Compact(ctx, &rpcpb.CompactionRequest{Revision: 2})
	require.NoError(t, err)

	_, err = s.Range(ctx, &rpcpb.RangeRequest{Key: []byte("k"), Revision: 1})
	require.Error(t, err)
}

func TestServer_MemberListReturnsMembersSortedByID(t *testing.T) {
	s, ts := newTestServer(t, fixedClock(0))
	require.NoError(t, ts.members.Add(&cluster.Member{ID: 2, Name: "b"}))
	require.NoError(t, ts.members.Add(&cluster.Member{ID: 1, Name: "a"}))

	resp, err := s.MemberList(context.Background(), &rpcpb.MemberListRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Members, 2)
	require.Equal(t, uint64(1), resp.Members[0].ID)
	require.Equal(t, uint64(2), resp.Members[1].ID)
}
