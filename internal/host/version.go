package host

import "maps"

// recordVal is one entry in the records map. writtenAt is the revision the
// entry was last written at; it is what LastWriteVersion reports and what
// conflict detection compares against a transaction's snapshot revision.
type recordVal struct {
	data      []byte
	writtenAt SeqNo
}

type leaseVal struct {
	data      []byte
	writtenAt SeqNo
}

// version is an immutable snapshot of both maps at a given revision.
// Commits build a new version by cloning the current one and applying the
// transaction's writes (copy-on-write), so concurrent readers never block
// on a writer.
type version struct {
	id      SeqNo
	records map[string]recordVal
	leases  map[int64]leaseVal
}

func newVersion(id SeqNo, records map[string]recordVal, leases map[int64]leaseVal) *version {
	return &version{id: id, records: records, leases: leases}
}

func (v *version) cloneRecords() map[string]recordVal {
	return maps.Clone(v.records)
}

func (v *version) cloneLeases() map[int64]leaseVal {
	return maps.Clone(v.leases)
}
