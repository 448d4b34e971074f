package host

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	recordsBucket = []byte("records")
	leasesBucket  = []byte("leases")
	metaBucket    = []byte("meta")
	revisionKey   = []byte("revision")
)

// BoltPersister durably backs MemEngine with a single bbolt file, holding
// the two host-managed typed maps named in spec §6 plus a meta bucket for
// the current revision. Grounded on the teacher's storage/bolt.go open
// sequence, adapted from a stub (the teacher's Get/Put/Delete panicked) to
// a working implementation since this is the engine's durability layer now.
type BoltPersister struct {
	db *bolt.DB
}

// OpenBoltPersister opens (creating if necessary) a bbolt file at path.
func OpenBoltPersister(path string) (*BoltPersister, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{recordsBucket, leasesBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltPersister{db: db}, nil
}

func (b *BoltPersister) Close() error {
	return b.db.Close()
}

// DB exposes the underlying *bbolt.DB so other durable components in the
// same process (internal/cluster's member table) can share one file
// instead of each opening their own.
func (b *BoltPersister) DB() *bolt.DB {
	return b.db
}

func int64Key(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

func parseInt64Key(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key))
}

func (b *BoltPersister) PersistCommit(rev SeqNo, records Diff, leases Diff) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		rb := tx.Bucket(recordsBucket)
		for _, c := range records {
			if c.Deleted {
				if err := rb.Delete(c.Key); err != nil {
					return err
				}
				continue
			}
			if err := rb.Put(c.Key, c.Value); err != nil {
				return err
			}
		}

		lb := tx.Bucket(leasesBucket)
		for _, c := range leases {
			key := int64Key(parseInt64Key(c.Key))
			if c.Deleted {
				if err := lb.Delete(key); err != nil {
					return err
				}
				continue
			}
			if err := lb.Put(key, c.Value); err != nil {
				return err
			}
		}

		revBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(revBytes, uint64(rev))
		return tx.Bucket(metaBucket).Put(revisionKey, revBytes)
	})
}

func (b *BoltPersister) Load() (SeqNo, map[string][]byte, map[int64][]byte, error) {
	records := make(map[string][]byte)
	leases := make(map[int64][]byte)
	var rev SeqNo

	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(metaBucket).Get(revisionKey); v != nil {
			rev = int64(binary.BigEndian.Uint64(v))
		}

		if err := tx.Bucket(recordsBucket).ForEach(func(k, v []byte) error {
			records[string(k)] = append([]byte(nil), v...)
			return nil
		}); err != nil {
			return err
		}

		return tx.Bucket(leasesBucket).ForEach(func(k, v []byte) error {
			leases[parseInt64Key(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return 0, nil, nil, err
	}

	return rev, records, leases, nil
}
