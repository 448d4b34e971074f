package lease_test

import (
	"context"
	"testing"

	"etcdkv/internal/host"
	"etcdkv/internal/lease"

	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*lease.Store, *host.MemEngine, host.Tx) {
	t.Helper()
	engine, err := host.NewMemEngine(nil, nil)
	require.NoError(t, err)
	tx := engine.Begin(context.Background())
	return lease.New(tx.Leases(), nil, nil), engine, tx
}

func TestStore_GrantAssignsPositiveID(t *testing.T) {
	s, _, _ := newStore(t)
	id, l, err := s.Grant(60, 1000)
	require.NoError(t, err)
	require.NotZero(t, id)
	require.Equal(t, id, l.ID)
	require.Equal(t, int64(60), l.TTL)
	require.Equal(t, int64(1000), l.StartTime)
}

func TestStore_KeepAliveRefreshesStartTime(t *testing.T) {
	s, _, _ := newStore(t)
	id, _, err := s.Grant(60, 1000)
	require.NoError(t, err)

	ttl := s.KeepAlive(id, 1050)
	require.Equal(t, int64(60), ttl)

	l := s.Get(id, 1050)
	require.False(t, l.HasExpired(1050))
	require.Equal(t, int64(60), l.TTLRemaining(1050))
}

func TestStore_KeepAliveOnMissingLeaseReturnsZero(t *testing.T) {
	s, _, _ := newStore(t)
	require.Equal(t, int64(0), s.KeepAlive(12345, 0))
}

func TestStore_GetReturnsExpiredSentinelPastTTL(t *testing.T) {
	s, _, _ := newStore(t)
	id, _, err := s.Grant(10, 0)
	require.NoError(t, err)

	l := s.Get(id, 11)
	require.True(t, l.HasExpired(11))
	require.Equal(t, int64(-1), l.TTLRemaining(11))
}

func TestStore_RevokeRemovesLease(t *testing.T) {
	s, _, _ := newStore(t)
	id, _, err := s.Grant(60, 0)
	require.NoError(t, err)

	s.Revoke(id)
	require.False(t, s.Contains(id, 0))
}

func TestStore_RevokeMissingLeaseIsIdempotent(t *testing.T) {
	s, _, _ := newStore(t)
	require.NotPanics(t, func() { s.Revoke(999) })
}

func TestStore_RevokeExpiredLeasesSweepsOnlyExpired(t *testing.T) {
	s, _, _ := newStore(t)
	liveID, _, err := s.Grant(1000, 0)
	require.NoError(t, err)
	expiredID, _, err := s.Grant(1, 0)
	require.NoError(t, err)

	expired := s.RevokeExpiredLeases(100)
	require.Equal(t, []int64{expiredID}, expired)
	require.True(t, s.Contains(liveID, 100))
	require.False(t, s.Contains(expiredID, 100))
}

func TestStore_ForeachVisitsEveryLease(t *testing.T) {
	s, _, _ := newStore(t)
	id1, _, err := s.Grant(60, 0)
	require.NoError(t, err)
	id2, _, err := s.Grant(60, 0)
	require.NoError(t, err)

	seen := map[int64]bool{}
	s.Foreach(func(l *lease.Lease) bool {
		seen[l.ID] = true
		return true
	})
	require.True(t, seen[id1])
	require.True(t, seen[id2])
}
