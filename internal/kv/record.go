// Package kv is the MVCC-aware facade over the host engine's byte-keyed
// records map: a thin adapter that turns raw bytes into etcd-flavored
// value metadata (create/mod revision, version, lease).
package kv

import "encoding/json"

// Record is the value etcdkv stores under each key. CreateRevision == 0 is
// the zero sentinel described in spec §3/§9: a write inside a not-yet-
// committed transaction cannot know its own commit revision, so it persists
// zero and the facade materializes the real value on read.
type Record struct {
	Data []byte `json:"data"`

	CreateRevision int64 `json:"create_revision"`
	ModRevision    int64 `json:"mod_revision"`
	Version        int64 `json:"version"`
	Lease          int64 `json:"lease,omitempty"`
}

func (r *Record) marshal() ([]byte, error) {
	return json.Marshal(r)
}

func unmarshalRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Decode exposes unmarshalRecord to packages outside kv (the history
// indexer reads the same raw bytes the host hands it in a commit diff).
func Decode(data []byte) (*Record, error) {
	return unmarshalRecord(data)
}

// Copy returns a deep copy, safe to mutate independently of r.
func (r *Record) Copy() *Record {
	return &Record{
		Data:           append([]byte(nil), r.Data...),
		CreateRevision: r.CreateRevision,
		ModRevision:    r.ModRevision,
		Version:        r.Version,
		Lease:          r.Lease,
	}
}
