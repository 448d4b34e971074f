// Command etcdkvd runs the reference host (internal/host) plus the
// KV/Lease/Cluster core (internal/kv, internal/lease, internal/txn,
// internal/history) behind both wire transports named in spec §6: a bare
// gRPC server (health-check only — see DESIGN.md for the generated-stub
// gap) and the JSON-over-HTTP gateway (internal/httpapi). Grounded on the
// teacher's main.go: flag.* configuration, zap.NewDevelopment/NewProduction
// selected by a -dev flag, signal-driven graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"etcdkv/internal/cluster"
	"etcdkv/internal/history"
	"etcdkv/internal/host"
	"etcdkv/internal/httpapi"
	"etcdkv/internal/metrics"
	"etcdkv/internal/rpc"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	var (
		id           = flag.Uint64("id", 1, "Node ID (must be unique in the cluster)")
		clusterID    = flag.Uint64("cluster-id", 1, "Cluster ID stamped on every response header")
		dataDir      = flag.String("data-dir", "", "Data directory for the bbolt backing store (default: /tmp/etcdkv/node{id})")
		listenClient = flag.String("listen-client", "127.0.0.1:2379", "JSON-over-HTTP client listen address")
		listenGRPC   = flag.String("listen-grpc", "127.0.0.1:2378", "gRPC health-check listen address")
		listenMetric = flag.String("listen-metrics", "127.0.0.1:2381", "Prometheus /metrics listen address, next to the gRPC listener")
		clientURL    = flag.String("client-url", "", "This node's advertised client URL (default: http://+listen-client)")
		gossipBind   = flag.String("gossip-bind-addr", "0.0.0.0", "memberlist gossip bind address")
		gossipPort   = flag.Int("gossip-port", 0, "memberlist gossip bind port (0: memberlist picks its default)")
		seeds        = flag.String("gossip-join", "", "comma-separated memberlist seed addresses to join on startup")
		dev          = flag.Bool("dev", false, "use zap's development logger instead of the production one")
	)
	flag.Parse()

	if *dataDir == "" {
		*dataDir = fmt.Sprintf("/tmp/etcdkv/node%d", *id)
	}
	if *clientURL == "" {
		*clientURL = "http://" + *listenClient
	}

	logger, err := newLogger(*dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting etcdkvd",
		zap.Uint64("id", *id),
		zap.String("data-dir", *dataDir),
		zap.String("listen-client", *listenClient),
		zap.String("listen-grpc", *listenGRPC),
	)

	if err := run(*id, *clusterID, *dataDir, *listenClient, *listenGRPC, *listenMetric, *clientURL, *gossipBind, *gossipPort, *seeds, logger); err != nil {
		logger.Fatal("etcdkvd exited with error", zap.Error(err))
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(id, clusterID uint64, dataDir, listenClient, listenGRPC, listenMetrics, clientURL, gossipBind string, gossipPort int, seeds string, logger *zap.Logger) error {
	persister, err := host.OpenBoltPersister(dataDir + "/db")
	if err != nil {
		return fmt.Errorf("opening bolt persister: %w", err)
	}
	defer persister.Close()

	engine, err := host.NewMemEngine(persister, logger)
	if err != nil {
		return fmt.Errorf("restoring engine: %w", err)
	}

	idx := history.New()
	engine.Subscribe(idx.HandleCommittedTransaction)

	members, err := cluster.NewMemberStore(persister.DB(), logger)
	if err != nil {
		return fmt.Errorf("opening member store: %w", err)
	}

	gossip, err := cluster.NewGossip(cluster.GossipConfig{
		NodeName:  fmt.Sprintf("node%d", id),
		BindAddr:  gossipBind,
		BindPort:  gossipPort,
		SeedNodes: splitNonEmpty(seeds),
		ClientURL: clientURL,
	}, members, logger)
	if err != nil {
		logger.Warn("gossip did not start; member table will not be updated from peer discovery", zap.Error(err))
	} else {
		defer gossip.Shutdown()
	}

	mtr := metrics.New(fmt.Sprintf("node%d", id))

	server := rpc.New(rpc.Config{
		Engine:    engine,
		History:   idx,
		Members:   members,
		Metrics:   mtr,
		Logger:    logger,
		ClusterID: clusterID,
		MemberID:  id,
	})

	httpSrv := &http.Server{
		Addr:         listenClient,
		Handler:      httpapi.NewRouter(server),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: listenMetrics, Handler: metricsMux}

	grpcSrv := newHealthOnlyGRPCServer()
	grpcLis, err := net.Listen("tcp", listenGRPC)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listenGRPC, err)
	}

	go func() {
		logger.Info("JSON-over-HTTP gateway listening", zap.String("addr", listenClient))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("gRPC health server listening", zap.String("addr", listenGRPC))
		if err := grpcSrv.Serve(grpcLis); err != nil {
			logger.Error("grpc server error", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("metrics server listening", zap.String("addr", listenMetrics))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received signal, shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}
	grpcSrv.GracefulStop()

	return nil
}

// newHealthOnlyGRPCServer registers grpc_health_v1, the one real service
// this repo can expose over gRPC without a protoc step to generate the
// etcdserverpb service stubs (see DESIGN.md). The KV/Lease/Cluster RPC
// surface is served over JSON-over-HTTP instead (internal/httpapi), which
// spec §6 requires regardless of the gRPC binding's availability.
func newHealthOnlyGRPCServer() *grpc.Server {
	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("etcdkv", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
