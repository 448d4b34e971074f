package rpc

import (
	"bytes"
	"context"

	"etcdkv/internal/apierr"
	"etcdkv/internal/history"
	"etcdkv/internal/rpcpb"
	"etcdkv/internal/txn"

	"go.uber.org/zap"
)

// Range dispatches to the KV facade for current state or the history
// index for a historical revision, per spec §4.5's Range dispatch rule.
func (s *Server) Range(ctx context.Context, req *rpcpb.RangeRequest) (*rpcpb.RangeResponse, error) {
	s.logger.Debug("range request",
		zap.ByteString("key", req.Key),
		zap.ByteString("range_end", req.RangeEnd),
		zap.Int64("revision", req.Revision),
	)

	if req.Revision > 0 {
		resp, err := s.rangeHistorical(req)
		if err != nil {
			return nil, apierr.Wrap(err)
		}
		if s.metrics != nil {
			s.metrics.ObserveRange(0)
		}
		return resp, nil
	}

	resp, err := withReadTxn(ctx, s, func(ev *txn.Evaluator) (*rpcpb.RangeResponse, error) {
		return ev.ExecuteRange(req)
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveRange(0)
	}
	return resp, nil
}

// rangeHistorical serves a revision > 0 Range by consulting the history
// index instead of the KV facade, per spec §4.5. A revision below the
// index's compaction floor is reported as NOT_FOUND rather than silently
// returning trimmed data (spec §9's open question on reads before the
// last compaction point).
func (s *Server) rangeHistorical(req *rpcpb.RangeRequest) (*rpcpb.RangeResponse, error) {
	if req.Limit != 0 || req.SortOrder != 0 || req.SortTarget != 0 || req.KeysOnly || req.CountOnly ||
		req.MinModRevision != 0 || req.MaxModRevision != 0 || req.MinCreateRevision != 0 || req.MaxCreateRevision != 0 {
		return nil, apierr.FailedPreconditionf("range: limit, sort, keys_only, count_only and revision filters are not supported")
	}
	if floor := s.history.CompactedFloor(); floor > 0 && req.Revision < floor {
		return nil, apierr.NotFoundf("requested revision %d has been compacted (floor %d)", req.Revision, floor)
	}

	var kvs []*rpcpb.KeyValue
	visit := func(key []byte, snap history.Snapshot) bool {
		kvs = append(kvs, &rpcpb.KeyValue{
			Key:            append([]byte(nil), key...),
			Value:          snap.Data,
			CreateRevision: snap.CreateRevision,
			ModRevision:    snap.ModRevision,
			Version:        snap.Version,
			Lease:          snap.Lease,
		})
		return true
	}

	if req.RangeEnd == nil {
		if snap, ok := s.history.Get(req.Revision, req.Key); ok {
			visit(req.Key, snap)
		}
	} else {
		end := req.RangeEnd
		if bytes.Equal(end, []byte{0}) {
			end = nil // "\0": no upper bound
		}
		s.history.Range(req.Revision, req.Key, end, visit)
	}

	return &rpcpb.RangeResponse{
		Header: s.makeHeader(),
		Kvs:    kvs,
		Count:  int64(len(kvs)),
	}, nil
}

// Put stores a value, subject to lease validation, per spec §4.1/§4.2.
func (s *Server) Put(ctx context.Context, req *rpcpb.PutRequest) (*rpcpb.PutResponse, error) {
	s.logger.Debug("put request", zap.ByteString("key", req.Key), zap.Int("value_size", len(req.Value)), zap.Int64("lease", req.Lease))

	resp, err := withWriteTxn(ctx, s, func(ev *txn.Evaluator) (*rpcpb.PutResponse, *rpcpb.ResponseHeader, error) {
		resp, err := ev.ExecutePut(req)
		if err != nil {
			return nil, nil, err
		}
		return resp, resp.Header, nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObservePut(0)
	}
	return resp, nil
}

// DeleteRange deletes a single key or a range, per spec §4.1.
func (s *Server) DeleteRange(ctx context.Context, req *rpcpb.DeleteRangeRequest) (*rpcpb.DeleteRangeResponse, error) {
	s.logger.Debug("delete_range request", zap.ByteString("key", req.Key), zap.ByteString("range_end", req.RangeEnd))

	resp, err := withWriteTxn(ctx, s, func(ev *txn.Evaluator) (*rpcpb.DeleteRangeResponse, *rpcpb.ResponseHeader, error) {
		resp, err := ev.ExecuteDeleteRange(req)
		if err != nil {
			return nil, nil, err
		}
		return resp, resp.Header, nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveDeleteRange(0)
	}
	return resp, nil
}

// Txn evaluates a compare-and-branch request, per spec §4.3.
func (s *Server) Txn(ctx context.Context, req *rpcpb.TxnRequest) (*rpcpb.TxnResponse, error) {
	s.logger.Debug("txn request", zap.Int("compares", len(req.Compare)))

	resp, err := withWriteTxn(ctx, s, func(ev *txn.Evaluator) (*rpcpb.TxnResponse, *rpcpb.ResponseHeader, error) {
		resp, err := ev.Execute(req)
		if err != nil {
			return nil, nil, err
		}
		return resp, resp.Header, nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveTxn(resp.Succeeded, 0)
	}
	return resp, nil
}

// Compact runs revoke_expired_leases as a side effect, then compacts the
// history index, per spec §4.5.
func (s *Server) Compact(ctx context.Context, req *rpcpb.CompactionRequest) (*rpcpb.CompactionResponse, error) {
	s.logger.Debug("compact request", zap.Int64("revision", req.Revision))

	if req.Physical {
		return nil, apierr.FailedPreconditionf("compact: physical compaction is not supported")
	}

	header, err := withWriteTxn(ctx, s, func(ev *txn.Evaluator) (*rpcpb.ResponseHeader, *rpcpb.ResponseHeader, error) {
		hdr := ev.RevokeExpiredLeases()
		return hdr, hdr, nil
	})
	if err != nil {
		return nil, err
	}

	s.history.Compact(req.Revision)
	if s.metrics != nil {
		s.metrics.ObserveCompaction(0, 0)
	}

	return &rpcpb.CompactionResponse{Header: header}, nil
}
