package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nganji523/packetcrypt-rs/internal/config"
	rpc "github.com/nganji523/packetcrypt-rs/internal/grpc"
	"github.com/nganji523/packetcrypt-rs/internal/logging"
	"github.com/nganji523/packetcrypt-rs/internal/metrics"
	"github.com/nganji523/packetcrypt-rs/internal/node"
	"github.com/nganji523/packetcrypt-rs/internal/p2p"
	"github.com/nganji523/packetcrypt-rs/internal/storage"
	"github.com/nganji523/packetcrypt-rs/pkg/packetcrypt"
)

type serveFlags struct {
	configPath string
	dataDir    string
	grpcListen string
	p2pListen  string
	peers      []string
	fresh      bool
}

var serveOpts serveFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the node",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVarP(&serveOpts.configPath, "config", "c", "", "YAML config file")
	f.StringVar(&serveOpts.dataDir, "data-dir", "", "Data directory (overrides config)")
	f.StringVar(&serveOpts.grpcListen, "grpc", "", "gRPC listen address (overrides config)")
	f.StringVar(&serveOpts.p2pListen, "listen", "", "P2P listen multiaddr (overrides config)")
	f.StringSliceVar(&serveOpts.peers, "connect", nil, "Peer multiaddr to connect to, repeatable")
	f.BoolVar(&serveOpts.fresh, "fresh", false, "Delete stored announcements before starting")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if serveOpts.configPath != "" {
		var err error
		if cfg, err = config.Load(serveOpts.configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = serveOpts.dataDir
	}
	if flags.Changed("grpc") {
		cfg.GRPCListen = serveOpts.grpcListen
	}
	if flags.Changed("listen") {
		cfg.P2PListen = serveOpts.p2pListen
	}
	cfg.Peers = append(cfg.Peers, serveOpts.peers...)
	return cfg, cfg.Validate()
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	p, err := cfg.NetworkParams()
	if err != nil {
		return err
	}
	rt := packetcrypt.Init().WithParams(p)

	if serveOpts.fresh {
		logger.Warn("removing stored announcements", zap.String("path", cfg.StoragePath()))
		if err := os.RemoveAll(cfg.StoragePath()); err != nil {
			return errors.Wrap(err, "remove storage")
		}
	}
	store, err := storage.NewStorage(cfg.StoragePath())
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	n := node.New(rt, store, m, logging.Component(logger, "node"), node.Options{
		Workers:       cfg.Workers,
		RetainHeights: cfg.RetainHeights,
	})
	defer n.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	network, err := p2p.NewNetwork(ctx, cfg.P2PListen, n, logging.Component(logger, "p2p"), m)
	if err != nil {
		return err
	}
	defer network.Stop()
	if err := network.Start(); err != nil {
		return err
	}
	n.SetRelay(network)

	for _, peerAddr := range cfg.Peers {
		if err := network.ConnectToPeer(peerAddr); err != nil {
			logger.Warn("failed to connect to peer", zap.String("addr", peerAddr), zap.Error(err))
		}
	}

	server := rpc.NewServer(n, logging.Component(logger, "grpc"))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.MetricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(cfg.GRPCListen)
	})
	g.Go(func() error {
		if cfg.MetricsListen == "" {
			return nil
		}
		logger.Info("metrics listening", zap.String("addr", cfg.MetricsListen))
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "metrics server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		server.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	logger.Info("node started",
		zap.String("network", p.Name),
		zap.String("data_dir", cfg.DataDir),
		zap.Int("workers", cfg.Workers))
	return g.Wait()
}
