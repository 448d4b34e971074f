package cluster

import (
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
)

// GossipConfig configures peer discovery, grounded on PairDB's
// GossipConfig (bind port, seed nodes, probe/gossip intervals left at
// memberlist's own defaults here since spec.md has no opinion on them).
type GossipConfig struct {
	NodeName  string
	BindAddr  string
	BindPort  int
	SeedNodes []string
	ClientURL string
}

// nodeMeta is what a node announces about itself on join, so peers can
// populate a full Member record instead of just a gossip name.
type nodeMeta struct {
	ClientURL string `json:"client_url"`
}

// Gossip wraps a hashicorp/memberlist instance and upserts members into a
// MemberStore as memberlist reports them joining or updating, per spec
// §4.5's supplemented MemberList feature (see SPEC_FULL.md). A member that
// leaves is logged but stays in the store.
type Gossip struct {
	ml      *memberlist.Memberlist
	store   *MemberStore
	meta    nodeMeta
	logger  *zap.Logger
}

// NewGossip starts memberlist and joins any configured seed nodes. The
// local node is added to store immediately; other members are added as
// memberlist's event delegate observes them joining.
func NewGossip(cfg GossipConfig, store *MemberStore, logger *zap.Logger) (*Gossip, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Gossip{
		store:  store,
		meta:   nodeMeta{ClientURL: cfg.ClientURL},
		logger: logger,
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = cfg.NodeName
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	if cfg.BindPort != 0 {
		mlConfig.BindPort = cfg.BindPort
		mlConfig.AdvertisePort = cfg.BindPort
	}
	mlConfig.Delegate = g
	mlConfig.Events = &eventDelegate{gossip: g}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("cluster: starting memberlist: %w", err)
	}
	g.ml = ml

	if err := store.Upsert(&Member{
		ID:         nameToID(cfg.NodeName),
		Name:       cfg.NodeName,
		ClientURLs: urlsOrEmpty(cfg.ClientURL),
	}); err != nil {
		logger.Warn("failed to register local member", zap.Error(err))
	}

	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("failed to join some seed nodes", zap.Error(err))
		}
	}

	return g, nil
}

func urlsOrEmpty(url string) []string {
	if url == "" {
		return nil
	}
	return []string{url}
}

// nameToID derives a stable member id from a node name, since memberlist
// identifies nodes by name, not by the uint64 ids etcd's MemberList wants.
func nameToID(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}

func (g *Gossip) Shutdown() error {
	if g.ml == nil {
		return nil
	}
	return g.ml.Leave(0)
}

// NodeMeta implements memberlist.Delegate.
func (g *Gossip) NodeMeta(limit int) []byte {
	data, _ := json.Marshal(g.meta)
	if len(data) > limit {
		return data[:limit]
	}
	return data
}

// NotifyMsg implements memberlist.Delegate; this server does not send
// user messages over the gossip channel, only membership metadata.
func (g *Gossip) NotifyMsg(data []byte) {}

// GetBroadcasts implements memberlist.Delegate.
func (g *Gossip) GetBroadcasts(overhead, limit int) [][]byte { return nil }

// LocalState implements memberlist.Delegate.
func (g *Gossip) LocalState(join bool) []byte { return nil }

// MergeRemoteState implements memberlist.Delegate.
func (g *Gossip) MergeRemoteState(buf []byte, join bool) {}

type eventDelegate struct {
	gossip *Gossip
}

func (d *eventDelegate) NotifyJoin(node *memberlist.Node) {
	d.gossip.upsertFromNode(node)
	d.gossip.logger.Info("member joined", zap.String("name", node.Name), zap.String("addr", node.Addr.String()))
}

func (d *eventDelegate) NotifyLeave(node *memberlist.Node) {
	d.gossip.logger.Info("member left", zap.String("name", node.Name))
}

func (d *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.gossip.upsertFromNode(node)
}

func (g *Gossip) upsertFromNode(node *memberlist.Node) {
	var meta nodeMeta
	_ = json.Unmarshal(node.Meta, &meta)

	member := &Member{
		ID:         nameToID(node.Name),
		Name:       node.Name,
		PeerURLs:   []string{node.Address()},
		ClientURLs: urlsOrEmpty(meta.ClientURL),
	}
	if err := g.store.Upsert(member); err != nil {
		g.logger.Warn("failed to upsert member from gossip", zap.Error(err))
	}
}
