package history_test

import (
	"encoding/json"
	"testing"

	"etcdkv/internal/history"
	"etcdkv/internal/host"
	"etcdkv/internal/kv"

	"github.com/stretchr/testify/require"
)

// record encodes rec exactly as internal/host's commit diff carries it
// (kv.Store marshals a *kv.Record to JSON before handing it to the host).
func record(t *testing.T, rec *kv.Record) []byte {
	t.Helper()
	out, err := json.Marshal(rec)
	require.NoError(t, err)
	return out
}

func TestIndex_PointReadResolvesMostRecentSnapshotAtOrBeforeRevision(t *testing.T) {
	idx := history.New()

	idx.HandleCommittedTransaction(host.TxID{SeqNo: 1}, host.Diff{
		{Key: []byte("k"), Value: record(t, &kv.Record{Data: []byte("v1"), Version: 1, CreateRevision: 1, ModRevision: 1})},
	})
	idx.HandleCommittedTransaction(host.TxID{SeqNo: 2}, host.Diff{
		{Key: []byte("k"), Value: record(t, &kv.Record{Data: []byte("v2"), Version: 2, CreateRevision: 1, ModRevision: 2})},
	})

	snap, ok := idx.Get(1, []byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte("v1"), snap.Data)

	snap, ok = idx.Get(2, []byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte("v2"), snap.Data)

	// a revision before any write to the key resolves to nothing.
	_, ok = idx.Get(0, []byte("k"))
	require.False(t, ok)
}

func TestIndex_DeleteTombstonesHideTheKeyButPriorReadsStillResolve(t *testing.T) {
	idx := history.New()

	idx.HandleCommittedTransaction(host.TxID{SeqNo: 1}, host.Diff{
		{Key: []byte("k"), Value: record(t, &kv.Record{Data: []byte("v1"), Version: 1, CreateRevision: 1, ModRevision: 1})},
	})
	idx.HandleCommittedTransaction(host.TxID{SeqNo: 2}, host.Diff{
		{Key: []byte("k"), Deleted: true},
	})

	_, ok := idx.Get(2, []byte("k"))
	require.False(t, ok)

	snap, ok := idx.Get(1, []byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte("v1"), snap.Data)
}

func TestIndex_RangeReturnsLiveKeysInAscendingOrder(t *testing.T) {
	idx := history.New()

	idx.HandleCommittedTransaction(host.TxID{SeqNo: 1}, host.Diff{
		{Key: []byte("a"), Value: record(t, &kv.Record{Data: []byte("va"), Version: 1, ModRevision: 1})},
		{Key: []byte("b"), Value: record(t, &kv.Record{Data: []byte("vb"), Version: 1, ModRevision: 1})},
		{Key: []byte("c"), Value: record(t, &kv.Record{Data: []byte("vc"), Version: 1, ModRevision: 1})},
	})

	var keys []string
	idx.Range(1, []byte("a"), []byte("c"), func(key []byte, snap history.Snapshot) bool {
		keys = append(keys, string(key))
		return true
	})
	require.Equal(t, []string{"a", "b"}, keys)
}

func TestIndex_CompactTracksFloorAndDropsOldHistory(t *testing.T) {
	idx := history.New()

	idx.HandleCommittedTransaction(host.TxID{SeqNo: 1}, host.Diff{
		{Key: []byte("k"), Value: record(t, &kv.Record{Data: []byte("v1"), Version: 1, CreateRevision: 1, ModRevision: 1})},
	})
	idx.HandleCommittedTransaction(host.TxID{SeqNo: 2}, host.Diff{
		{Key: []byte("k"), Value: record(t, &kv.Record{Data: []byte("v2"), Version: 2, CreateRevision: 1, ModRevision: 2})},
	})

	require.Equal(t, int64(0), idx.CompactedFloor())
	idx.Compact(2)
	require.Equal(t, int64(2), idx.CompactedFloor())

	snap, ok := idx.Get(2, []byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte("v2"), snap.Data)

	// the revision-1 snapshot was trimmed, so nothing resolves at 1.
	_, ok = idx.Get(1, []byte("k"))
	require.False(t, ok)
}

func TestIndex_NextRequestedFollowsLatestCommittedRevision(t *testing.T) {
	idx := history.New()
	require.Equal(t, int64(1), idx.NextRequested())

	idx.HandleCommittedTransaction(host.TxID{SeqNo: 5}, host.Diff{
		{Key: []byte("k"), Value: record(t, &kv.Record{Data: []byte("v"), Version: 1, ModRevision: 5})},
	})
	require.Equal(t, int64(6), idx.NextRequested())
}
