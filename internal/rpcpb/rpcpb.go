// Package rpcpb holds the in-process message types for the etcd v3 KV,
// Lease, and Cluster RPC surface named in spec §6. There is no protoc in
// this environment to regenerate the real etcdserverpb stubs, so these are
// hand-written structs shaped like them: same fields, same JSON tags (byte
// fields are plain []byte, which encoding/json already base64-encodes, so
// the JSON-over-HTTP encoding in spec §6 falls out for free). The handlers
// in internal/rpc take and return these types, and the JSON-over-HTTP
// path (internal/httpapi) decodes and encodes them directly.
package rpcpb

// ResponseHeader is attached to every response, per spec §4.5.
type ResponseHeader struct {
	ClusterID uint64 `json:"cluster_id,omitempty"`
	MemberID  uint64 `json:"member_id,omitempty"`
	// Revision is the store revision when the request was applied.
	Revision int64 `json:"revision,omitempty"`
	RaftTerm uint64 `json:"raft_term,omitempty"`
	// CommittedRevision/CommittedRaftTerm mirror the host's last-committed
	// TxID at response time, which may be >= Revision for a read that ran
	// concurrently with a later write.
	CommittedRevision int64  `json:"committed_revision,omitempty"`
	CommittedRaftTerm uint64 `json:"committed_raft_term,omitempty"`
}

// KeyValue is the wire shape of a stored record.
type KeyValue struct {
	Key            []byte `json:"key"`
	Value          []byte `json:"value,omitempty"`
	CreateRevision int64  `json:"create_revision"`
	ModRevision    int64  `json:"mod_revision"`
	Version        int64  `json:"version"`
	Lease          int64  `json:"lease,omitempty"`
}

// RangeRequest reads keys in [Key, RangeEnd). RangeEnd == nil means a
// point lookup of Key; RangeEnd == []byte{0} means "to the end of the
// keyspace" (normalized at the RPC boundary, spec §9).
type RangeRequest struct {
	Key          []byte `json:"key"`
	RangeEnd     []byte `json:"range_end,omitempty"`
	Revision     int64  `json:"revision,omitempty"`
	Serializable bool   `json:"serializable,omitempty"`

	// Fields present on the wire but rejected with FAILED_PRECONDITION
	// per spec §4.5 if set to anything non-default.
	Limit                int64 `json:"limit,omitempty"`
	SortOrder            int32 `json:"sort_order,omitempty"`
	SortTarget           int32 `json:"sort_target,omitempty"`
	KeysOnly             bool  `json:"keys_only,omitempty"`
	CountOnly            bool  `json:"count_only,omitempty"`
	MinModRevision       int64 `json:"min_mod_revision,omitempty"`
	MaxModRevision       int64 `json:"max_mod_revision,omitempty"`
	MinCreateRevision    int64 `json:"min_create_revision,omitempty"`
	MaxCreateRevision    int64 `json:"max_create_revision,omitempty"`
}

type RangeResponse struct {
	Header *ResponseHeader `json:"header,omitempty"`
	Kvs    []*KeyValue     `json:"kvs,omitempty"`
	More   bool            `json:"more,omitempty"`
	Count  int64           `json:"count,omitempty"`
}

type PutRequest struct {
	Key    []byte `json:"key"`
	Value  []byte `json:"value"`
	Lease  int64  `json:"lease,omitempty"`
	PrevKv bool   `json:"prev_kv,omitempty"`

	// Rejected with FAILED_PRECONDITION if set, per spec §4.5.
	IgnoreValue bool `json:"ignore_value,omitempty"`
	IgnoreLease bool `json:"ignore_lease,omitempty"`
}

type PutResponse struct {
	Header *ResponseHeader `json:"header,omitempty"`
	PrevKv *KeyValue       `json:"prev_kv,omitempty"`
}

type DeleteRangeRequest struct {
	Key      []byte `json:"key"`
	RangeEnd []byte `json:"range_end,omitempty"`
	PrevKv   bool   `json:"prev_kv,omitempty"`
}

type DeleteRangeResponse struct {
	Header  *ResponseHeader `json:"header,omitempty"`
	Deleted int64           `json:"deleted"`
	PrevKvs []*KeyValue     `json:"prev_kvs,omitempty"`
}

// CompareTarget names the field a Compare addresses.
type CompareTarget int32

const (
	CompareVersion CompareTarget = iota
	CompareCreate
	CompareMod
	CompareValue
	CompareLease
)

// CompareResult names the comparison operator.
type CompareResult int32

const (
	CompareEqual CompareResult = iota
	CompareGreater
	CompareLess
	CompareNotEqual
)

// Compare is one predicate of a Txn request. range_end is intentionally
// absent: spec §4.3 says it is not supported on compare.
type Compare struct {
	Result CompareResult `json:"result"`
	Target CompareTarget `json:"target"`
	Key    []byte        `json:"key"`

	Value          []byte `json:"value,omitempty"`
	Version        int64  `json:"version,omitempty"`
	CreateRevision int64  `json:"create_revision,omitempty"`
	ModRevision    int64  `json:"mod_revision,omitempty"`
	Lease          int64  `json:"lease,omitempty"`
}

// RequestOp is a tagged union of the four op kinds a Txn can run. Exactly
// one field is non-nil.
type RequestOp struct {
	RequestRange       *RangeRequest       `json:"request_range,omitempty"`
	RequestPut         *PutRequest         `json:"request_put,omitempty"`
	RequestDeleteRange *DeleteRangeRequest `json:"request_delete_range,omitempty"`
	RequestTxn         *TxnRequest         `json:"request_txn,omitempty"`
}

// ResponseOp mirrors RequestOp: exactly one field is non-nil, matching the
// op that produced it.
type ResponseOp struct {
	ResponseRange       *RangeResponse       `json:"response_range,omitempty"`
	ResponsePut         *PutResponse         `json:"response_put,omitempty"`
	ResponseDeleteRange *DeleteRangeResponse `json:"response_delete_range,omitempty"`
	ResponseTxn         *TxnResponse         `json:"response_txn,omitempty"`
}

type TxnRequest struct {
	Compare []*Compare   `json:"compare,omitempty"`
	Success []*RequestOp `json:"success,omitempty"`
	Failure []*RequestOp `json:"failure,omitempty"`
}

type TxnResponse struct {
	Header    *ResponseHeader `json:"header,omitempty"`
	Succeeded bool            `json:"succeeded"`
	Responses []*ResponseOp   `json:"responses,omitempty"`
}

type CompactionRequest struct {
	Revision int64 `json:"revision"`
	// Physical is rejected with FAILED_PRECONDITION if true, per spec §4.5.
	Physical bool `json:"physical,omitempty"`
}

type CompactionResponse struct {
	Header *ResponseHeader `json:"header,omitempty"`
}

type LeaseGrantRequest struct {
	TTL int64 `json:"TTL"`
	ID  int64 `json:"ID,omitempty"`
}

type LeaseGrantResponse struct {
	Header *ResponseHeader `json:"header,omitempty"`
	ID     int64           `json:"ID"`
	TTL    int64           `json:"TTL"`
}

type LeaseRevokeRequest struct {
	ID int64 `json:"ID"`
}

type LeaseRevokeResponse struct {
	Header *ResponseHeader `json:"header,omitempty"`
}

type LeaseKeepAliveRequest struct {
	ID int64 `json:"ID"`
}

type LeaseKeepAliveResponse struct {
	Header *ResponseHeader `json:"header,omitempty"`
	ID     int64           `json:"ID"`
	TTL    int64           `json:"TTL"`
}

type LeaseTimeToLiveRequest struct {
	ID int64 `json:"ID"`
	// Keys is rejected with FAILED_PRECONDITION if true, per spec §4.5.
	Keys bool `json:"keys,omitempty"`
}

type LeaseTimeToLiveResponse struct {
	Header     *ResponseHeader `json:"header,omitempty"`
	ID         int64           `json:"ID"`
	TTL        int64           `json:"TTL"`
	GrantedTTL int64           `json:"grantedTTL"`
	Keys       [][]byte        `json:"keys,omitempty"`
}

type LeaseLeasesRequest struct{}

type LeaseStatus struct {
	ID int64 `json:"ID"`
}

type LeaseLeasesResponse struct {
	Header *ResponseHeader `json:"header,omitempty"`
	Leases []*LeaseStatus  `json:"leases,omitempty"`
}

// Member mirrors one entry of the governance node-list table (spec §4.5
// MemberList).
type Member struct {
	ID         uint64   `json:"ID"`
	Name       string   `json:"name"`
	PeerURLs   []string `json:"peerURLs,omitempty"`
	ClientURLs []string `json:"clientURLs,omitempty"`
	IsLearner  bool     `json:"isLearner,omitempty"`
}

type MemberListRequest struct{}

type MemberListResponse struct {
	Header  *ResponseHeader `json:"header,omitempty"`
	Members []*Member       `json:"members,omitempty"`
}
