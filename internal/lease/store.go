package lease

import (
	"math"
	"math/rand"

	"etcdkv/internal/host"

	"go.uber.org/zap"
)

// maxGrantAttempts bounds lease-id reroll on collision (spec §9: "Lease id
// collision handling... permits either retry or surfacing an error"; this
// store retries a bounded number of times before giving up).
const maxGrantAttempts = 16

// Store is the lease store facade described in spec §4.2. Like kv.Store it
// wraps a single host transaction and does no I/O of its own; the host
// transaction is what makes grant/revoke/keep-alive atomic with whatever
// else the RPC handler does in the same request.
type Store struct {
	tx     host.LeaseTxn
	logger *zap.Logger
	rng    *rand.Rand
}

// New wraps a host transaction's leases map. rng may be nil, in which case
// a package-default source is used; callers that need reproducible ids in
// tests should pass their own.
func New(tx host.LeaseTxn, logger *zap.Logger, rng *rand.Rand) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Store{tx: tx, logger: logger, rng: rng}
}

func (s *Store) get(id int64) (*Lease, bool) {
	raw, ok := s.tx.Get(id)
	if !ok {
		return nil, false
	}
	l, err := unmarshalLease(raw)
	if err != nil {
		return nil, false
	}
	return l, true
}

func (s *Store) put(l *Lease) error {
	raw, err := l.marshal()
	if err != nil {
		return err
	}
	s.tx.Put(l.ID, raw)
	return nil
}

// Grant allocates a lease id uniform in [1, math.MaxInt64], rerolling on
// collision, and stores {ttl, start_time: nowS}.
func (s *Store) Grant(ttl, nowS int64) (int64, *Lease, error) {
	var id int64
	for attempt := 0; ; attempt++ {
		candidate := s.rng.Int63n(math.MaxInt64) + 1 // [1, MaxInt64]
		if _, exists := s.get(candidate); !exists {
			id = candidate
			break
		}
		if attempt+1 >= maxGrantAttempts {
			return 0, nil, ErrIDCollision
		}
	}

	l := &Lease{ID: id, TTL: ttl, StartTime: nowS}
	if err := s.put(l); err != nil {
		return 0, nil, err
	}

	s.logger.Debug("lease granted", zap.Int64("lease_id", id), zap.Int64("ttl", ttl))
	return id, l, nil
}

// Revoke removes the lease entry. Idempotent: revoking a missing id is not
// an error. The caller (internal/txn's Evaluator) is responsible for
// cascading the removal to every key bound to id, per spec §4.2 — it scans
// the KV map's Lease field directly rather than this store keeping a
// reverse index, since a Put can rebind a key to a different lease and a
// lease-side index would go stale.
func (s *Store) Revoke(id int64) {
	if _, ok := s.get(id); !ok {
		return
	}
	s.tx.Delete(id)
	s.logger.Debug("lease revoked", zap.Int64("lease_id", id))
}

// KeepAlive refreshes start_time to nowS and returns the lease's ttl, or 0
// if the lease does not exist (the RPC layer translates 0 to NOT_FOUND).
func (s *Store) KeepAlive(id, nowS int64) int64 {
	l, ok := s.get(id)
	if !ok {
		return 0
	}
	l.StartTime = nowS
	if err := s.put(l); err != nil {
		return 0
	}
	s.logger.Debug("lease kept alive", zap.Int64("lease_id", id), zap.Int64("ttl", l.TTL))
	return l.TTL
}

// Get returns the lease record, or the expired sentinel if missing or
// expired at nowS.
func (s *Store) Get(id, nowS int64) *Lease {
	l, ok := s.get(id)
	if !ok || l.HasExpired(nowS) {
		return expiredSentinel
	}
	return l
}

// Contains reports whether id names a lease that is live at nowS.
func (s *Store) Contains(id, nowS int64) bool {
	l, ok := s.get(id)
	return ok && !l.HasExpired(nowS)
}

// Foreach iterates every lease entry, expired or not.
func (s *Store) Foreach(fn func(*Lease) bool) {
	s.tx.Foreach(func(id int64, raw []byte) bool {
		l, err := unmarshalLease(raw)
		if err != nil {
			return true
		}
		return fn(l)
	})
}

// RevokeExpiredLeases implements spec §4.2's revoke_expired_leases: collect
// every lease expired at nowS and revoke it, returning the collected ids so
// the caller can sweep the records map for keys bound to any of them
// within the same host transaction.
func (s *Store) RevokeExpiredLeases(nowS int64) []int64 {
	var expired []int64
	s.tx.Foreach(func(id int64, raw []byte) bool {
		l, err := unmarshalLease(raw)
		if err != nil {
			return true
		}
		if l.HasExpired(nowS) {
			expired = append(expired, id)
		}
		return true
	})

	for _, id := range expired {
		s.Revoke(id)
	}
	return expired
}
