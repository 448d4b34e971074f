package rpc

import (
	"context"

	"etcdkv/internal/apierr"
	"etcdkv/internal/lease"
	"etcdkv/internal/rpcpb"
	"etcdkv/internal/txn"

	"go.uber.org/zap"
)

// LeaseGrant allocates a new lease, per spec §4.2 grant.
func (s *Server) LeaseGrant(ctx context.Context, req *rpcpb.LeaseGrantRequest) (*rpcpb.LeaseGrantResponse, error) {
	s.logger.Debug("lease grant request", zap.Int64("ttl", req.TTL))

	resp, err := withWriteTxn(ctx, s, func(ev *txn.Evaluator) (*rpcpb.LeaseGrantResponse, *rpcpb.ResponseHeader, error) {
		id, l, err := ev.LeaseGrant(req.TTL)
		if err != nil {
			return nil, nil, err
		}
		header := &rpcpb.ResponseHeader{ClusterID: s.clusterID, MemberID: s.memberID}
		return &rpcpb.LeaseGrantResponse{Header: header, ID: id, TTL: l.TTL}, header, nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.LeaseGrantsTotal.Inc()
	}
	return resp, nil
}

// LeaseRevoke revokes id, cascading to every key bound to it, per spec
// §4.2's explicit LeaseRevoke contract. Idempotent: revoking a missing id
// is not an error.
func (s *Server) LeaseRevoke(ctx context.Context, req *rpcpb.LeaseRevokeRequest) (*rpcpb.LeaseRevokeResponse, error) {
	s.logger.Debug("lease revoke request", zap.Int64("lease_id", req.ID))

	resp, err := withWriteTxn(ctx, s, func(ev *txn.Evaluator) (*rpcpb.LeaseRevokeResponse, *rpcpb.ResponseHeader, error) {
		ev.LeaseRevoke(req.ID)
		header := &rpcpb.ResponseHeader{ClusterID: s.clusterID, MemberID: s.memberID}
		return &rpcpb.LeaseRevokeResponse{Header: header}, header, nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.LeaseRevokesTotal.Inc()
	}
	return resp, nil
}

// LeaseKeepAlive refreshes id's start_time, per spec §4.2. A missing or
// already-expired id is NOT_FOUND (spec §7).
func (s *Server) LeaseKeepAlive(ctx context.Context, req *rpcpb.LeaseKeepAliveRequest) (*rpcpb.LeaseKeepAliveResponse, error) {
	s.logger.Debug("lease keepalive request", zap.Int64("lease_id", req.ID))

	resp, err := withWriteTxn(ctx, s, func(ev *txn.Evaluator) (*rpcpb.LeaseKeepAliveResponse, *rpcpb.ResponseHeader, error) {
		ttl := ev.LeaseKeepAlive(req.ID)
		if ttl == 0 {
			return nil, nil, apierr.NotFoundf("lease %d not found", req.ID)
		}
		header := &rpcpb.ResponseHeader{ClusterID: s.clusterID, MemberID: s.memberID}
		return &rpcpb.LeaseKeepAliveResponse{Header: header, ID: req.ID, TTL: ttl}, header, nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.LeaseKeepAlivesTotal.Inc()
	}
	return resp, nil
}

// LeaseTimeToLive reports id's remaining and granted TTL, per spec §3's
// lease model.
func (s *Server) LeaseTimeToLive(ctx context.Context, req *rpcpb.LeaseTimeToLiveRequest) (*rpcpb.LeaseTimeToLiveResponse, error) {
	if req.Keys {
		return nil, apierr.FailedPreconditionf("lease_time_to_live: keys is not supported")
	}

	return withReadTxn(ctx, s, func(ev *txn.Evaluator) (*rpcpb.LeaseTimeToLiveResponse, error) {
		l := ev.LeaseGet(req.ID)
		return &rpcpb.LeaseTimeToLiveResponse{
			Header:     s.makeHeader(),
			ID:         req.ID,
			TTL:        l.TTLRemaining(ev.Now()),
			GrantedTTL: l.TTL,
		}, nil
	})
}

// LeaseLeases lists every lease id, expired or not, per spec §4.2 foreach.
func (s *Server) LeaseLeases(ctx context.Context, _ *rpcpb.LeaseLeasesRequest) (*rpcpb.LeaseLeasesResponse, error) {
	return withReadTxn(ctx, s, func(ev *txn.Evaluator) (*rpcpb.LeaseLeasesResponse, error) {
		var leases []*rpcpb.LeaseStatus
		ev.LeaseForeach(func(l *lease.Lease) bool {
			leases = append(leases, &rpcpb.LeaseStatus{ID: l.ID})
			return true
		})
		return &rpcpb.LeaseLeasesResponse{Header: s.makeHeader(), Leases: leases}, nil
	})
}
