package rpc

import (
	"context"

	"etcdkv/internal/rpcpb"
)

// MemberList enumerates the governance node-list table, per spec §4.5:
// one entry per node, sorted by id for deterministic output. A member
// whose persisted record failed to parse is already carried by
// internal/cluster with name "default" (spec §4.5), so there is nothing
// further to default here.
func (s *Server) MemberList(ctx context.Context, _ *rpcpb.MemberListRequest) (*rpcpb.MemberListResponse, error) {
	members := sortedMembers(s.members.List())

	out := make([]*rpcpb.Member, 0, len(members))
	for _, m := range members {
		out = append(out, &rpcpb.Member{
			ID:         m.ID,
			Name:       m.Name,
			PeerURLs:   m.PeerURLs,
			ClientURLs: m.ClientURLs,
			IsLearner:  m.IsLearner,
		})
	}

	return &rpcpb.MemberListResponse{Header: s.makeHeader(), Members: out}, nil
}
