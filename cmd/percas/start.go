package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/scopedb/percas/internal/cache"
	"github.com/scopedb/percas/internal/config"
	"github.com/scopedb/percas/internal/ctrlplane"
	"github.com/scopedb/percas/internal/dataplane"
	"github.com/scopedb/percas/internal/gossip"
	"github.com/scopedb/percas/internal/logging"
	"github.com/scopedb/percas/internal/metrics"
	"github.com/scopedb/percas/internal/node"
	"github.com/scopedb/percas/internal/router"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a Percas node",
	RunE:  runStart,
}

var (
	configFile  string
	serviceName string
)

func init() {
	startCmd.Flags().StringVar(&configFile, "config-file", "percas.toml", "path to the TOML config file")
	startCmd.Flags().StringVar(&serviceName, "service-name", "percas", "logical service name reported in logs")
}

// runStart wires the whole process together in dependency order: load
// config, start logging, build the cache engine, load the node identity,
// start gossip, build the router, then bring up the data and control plane
// listeners. On SIGINT/SIGTERM, or when either server fails, it stops the
// gossip loops, then drains the data plane, then the control plane, and
// finally closes the cache engine.
func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:      logging.Level(cfg.Telemetry.Logs.Level),
		JSONOutput: cfg.Telemetry.Logs.JSON,
	})
	log := logging.WithComponent("startup")
	log.Info().Str("service", serviceName).Msg("starting percas node")

	config.WarnIfNotGlobal(log, "server.advertise_data_addr", cfg.Server.AdvertiseDataAddr)
	config.WarnIfNotGlobal(log, "server.advertise_ctrl_addr", cfg.Server.AdvertiseCtrlAddr)

	engine, err := cache.New(cache.Config{
		DataDir:             cfg.Storage.DataDir,
		MemoryCapacityBytes: cfg.Storage.MemoryCapacity,
		DiskCapacityBytes:   cfg.Storage.DiskCapacity,
		Throttle:            throttleFromConfig(cfg.Storage.DiskThrottle),
	})
	if err != nil {
		return fmt.Errorf("build cache engine: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close cache engine")
		}
	}()

	dataURL := "http://" + cfg.Server.AdvertiseDataAddr
	ctrlURL := "http://" + cfg.Server.AdvertiseCtrlAddr

	self, err := node.LoadOrInit(cfg.Server.Dir, cfg.Server.ClusterID, dataURL, ctrlURL)
	if err != nil {
		return fmt.Errorf("load node identity: %w", err)
	}
	log.Info().Str("node_id", self.NodeID.String()).Uint64("incarnation", self.Incarnation).Msg("node identity ready")

	gossipState := gossip.New(self, cfg.Server.InitialPeers, cfg.Server.Dir, logging.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := gossipState.Start(ctx); err != nil {
		return fmt.Errorf("start gossip: %w", err)
	}

	r := router.New(gossipState, logging.Logger)

	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)
	reporter := metrics.NewReporter(reg, engine, logging.Logger)
	go reporter.Run(ctx)

	dataServer := dataplane.New(dataplane.Config{
		ListenAddr: cfg.Server.ListenDataAddr,
		Engine:     engine,
		Router:     r,
		Metrics:    reg,
		Log:        logging.Logger,
	})
	dataLn, err := net.Listen("tcp", cfg.Server.ListenDataAddr)
	if err != nil {
		return fmt.Errorf("listen on data plane address: %w", err)
	}

	ctrlServer := ctrlplane.New(ctrlplane.Config{
		ListenAddr: cfg.Server.ListenCtrlAddr,
		Gossip:     gossipState,
		Log:        logging.Logger,
	})
	ctrlLn, err := net.Listen("tcp", cfg.Server.ListenCtrlAddr)
	if err != nil {
		return fmt.Errorf("listen on control plane address: %w", err)
	}

	var wg sync.WaitGroup
	serveErrs := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := dataServer.Serve(dataLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrs <- fmt.Errorf("data plane: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := ctrlServer.Serve(ctrlLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrs <- fmt.Errorf("control plane: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-serveErrs:
		log.Error().Err(err).Msg("server failed")
	}

	cancel()
	gossipState.Wait()

	shutdownCtx := context.Background()
	if err := dataServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("data plane shutdown error")
	}
	if err := ctrlServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("control plane shutdown error")
	}

	wg.Wait()
	log.Info().Msg("percas node shut down cleanly")
	return nil
}

func throttleFromConfig(t config.DiskThrottle) cache.Throttle {
	if t.ReadIOPS == 0 && t.WriteIOPS == 0 && t.ReadThroughput == 0 && t.WriteThroughput == 0 {
		return cache.DefaultThrottle()
	}
	return cache.NewThrottle(t.ReadIOPS, t.WriteIOPS, t.ReadThroughput, t.WriteThroughput)
}
