// Package cluster supplies the governance node-list table spec.md
// treats as an external collaborator (spec §1/§4.5): a bbolt-backed
// member table adapted from the teacher's pkg/cluster/member.go, plus a
// hashicorp/memberlist wrapper (grounded on PairDB's gossip_service.go)
// that keeps it populated from real peer discovery so MemberList has
// something concrete to enumerate.
package cluster

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	bolt "go.etcd.io/bbolt"
)

var (
	membersBucket = []byte("members")
	removedBucket = []byte("members_removed")
)

// Member is a node-list entry, matching rpcpb.Member's fields.
type Member struct {
	ID         uint64   `json:"id"`
	Name       string   `json:"name"`
	PeerURLs   []string `json:"peer_urls"`
	ClientURLs []string `json:"client_urls"`
	IsLearner  bool     `json:"is_learner"`
}

// MemberStore is the in-memory node-list cache, durable via bbolt. It
// replaces the teacher's storage.Storage indirection (whose bbolt backend
// was unimplemented) with a direct *bbolt.DB, since this is the only
// concrete backend in this repo.
type MemberStore struct {
	mu      sync.RWMutex
	members map[uint64]*Member
	removed map[uint64]bool

	db     *bolt.DB
	logger *zap.Logger
}

// NewMemberStore opens (creating if absent) the members/members_removed
// buckets in db and hydrates the in-memory cache from them.
func NewMemberStore(db *bolt.DB, logger *zap.Logger) (*MemberStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ms := &MemberStore{
		members: make(map[uint64]*Member),
		removed: make(map[uint64]bool),
		db:      db,
		logger:  logger,
	}

	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(membersBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(removedBucket); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cluster: opening member buckets: %w", err)
	}

	if err := ms.loadFromBackend(); err != nil {
		return nil, err
	}
	return ms, nil
}

func (ms *MemberStore) loadFromBackend() error {
	return ms.db.View(func(tx *bolt.Tx) error {
		mb := tx.Bucket(membersBucket)
		err := mb.ForEach(func(k, v []byte) error {
			var m Member
			if err := json.Unmarshal(v, &m); err != nil {
				// spec §4.5: a node whose data fails to parse still gets
				// an entry in MemberList, named "default", rather than
				// being dropped.
				id := binary.BigEndian.Uint64(k)
				ms.logger.Warn("failed to unmarshal member, defaulting name", zap.Uint64("id", id), zap.Error(err))
				ms.members[id] = &Member{ID: id, Name: "default"}
				return nil
			}
			ms.members[m.ID] = &m
			return nil
		})
		if err != nil {
			return err
		}

		rb := tx.Bucket(removedBucket)
		return rb.ForEach(func(k, v []byte) error {
			if len(k) == 8 {
				ms.removed[binary.BigEndian.Uint64(k)] = true
			}
			return nil
		})
	})
}

func memberKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func (ms *MemberStore) saveMemberToBackend(m *Member) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("cluster: marshal member %d: %w", m.ID, err)
	}
	return ms.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(membersBucket).Put(memberKey(m.ID), data)
	})
}

func (ms *MemberStore) deleteMemberFromBackend(id uint64) error {
	key := memberKey(id)
	return ms.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(membersBucket).Delete(key); err != nil {
			return err
		}
		return tx.Bucket(removedBucket).Put(key, []byte("true"))
	})
}

// Add registers a new member. Re-adding a previously removed id fails.
func (ms *MemberStore) Add(member *Member) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.members[member.ID]; exists {
		return fmt.Errorf("cluster: member %d already exists", member.ID)
	}
	if ms.removed[member.ID] {
		return fmt.Errorf("cluster: member %d was previously removed", member.ID)
	}
	if err := ms.saveMemberToBackend(member); err != nil {
		return err
	}
	ms.members[member.ID] = member

	ms.logger.Info("member added", zap.Uint64("id", member.ID), zap.String("name", member.Name))
	return nil
}

// Remove removes a member and marks its id as permanently retired.
func (ms *MemberStore) Remove(id uint64) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.members[id]; !exists {
		return fmt.Errorf("cluster: member %d not found", id)
	}
	if err := ms.deleteMemberFromBackend(id); err != nil {
		return err
	}
	delete(ms.members, id)
	ms.removed[id] = true

	ms.logger.Info("member removed", zap.Uint64("id", id))
	return nil
}

// Upsert adds member if new, or overwrites its URLs if it already exists
// (used by the gossip delegate on NotifyJoin/NotifyUpdate, where a peer
// may announce itself more than once).
func (ms *MemberStore) Upsert(member *Member) error {
	ms.mu.Lock()
	if ms.removed[member.ID] {
		ms.mu.Unlock()
		return nil
	}
	ms.members[member.ID] = member
	ms.mu.Unlock()
	return ms.saveMemberToBackend(member)
}

func (ms *MemberStore) Get(id uint64) *Member {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.members[id]
}

// List returns every live member, in no particular order; RPC handlers
// that need stable output should sort by ID.
func (ms *MemberStore) List() []*Member {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	members := make([]*Member, 0, len(ms.members))
	for _, m := range ms.members {
		members = append(members, m)
	}
	return members
}

func (ms *MemberStore) IsRemoved(id uint64) bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.removed[id]
}
