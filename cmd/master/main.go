// Command master runs the coordinator: node registry, file/placement
// table, liveness monitor, and rebalance scheduler, exposed over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jaywantadh/distrodepot/internal/config"
	"github.com/jaywantadh/distrodepot/internal/liveness"
	"github.com/jaywantadh/distrodepot/internal/masterapi"
	"github.com/jaywantadh/distrodepot/internal/metrics"
	"github.com/jaywantadh/distrodepot/internal/rebalance"
	"github.com/jaywantadh/distrodepot/internal/store"
	"github.com/jaywantadh/distrodepot/pkg/env"
	"github.com/jaywantadh/distrodepot/pkg/logging"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	env.LoadEnv()
	logging.InitLogger(*debug)
	log := logging.Component("cmd.master")

	cfg := config.LoadMasterConfig(*configPath, log)

	var snap *store.Snapshotter
	if cfg.SnapshotPath != "" {
		var err error
		snap, err = store.OpenSnapshotter(cfg.SnapshotPath, cfg.SnapshotKey)
		if err != nil {
			log.WithError(err).Fatal("could not open snapshot store")
		}
		defer snap.Close()
	}

	st := store.New(cfg.HeartbeatTimeout, snap, log.WithField("component", "store"))
	sched := rebalance.New(st, cfg.ReplicationFactor, cfg.ChunkSize, log.WithField("component", "rebalance"))
	monitor := liveness.New(st, liveness.Period(cfg.HeartbeatTimeout), log.WithField("component", "liveness"))
	server := masterapi.NewServer(st, sched, cfg.ChunkSize, cfg.ReplicationFactor, log.WithField("component", "masterapi"))

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()

	rebalanceTicker := time.NewTicker(cfg.RebalanceInterval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer rebalanceTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-rebalanceTicker.C:
				sched.Tick(now)
			}
		}
	}()

	if cfg.MetricsPort > 0 {
		metrics.Serve(ctx, cfg.MetricsPort, sched, log.WithField("component", "metrics"))
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.BindHost, cfg.BindPort),
		Handler: server.Handler(),
	}

	go func() {
		log.WithField("addr", httpSrv.Addr).Info("master listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("master http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received, stopping background loops")

	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server did not shut down cleanly")
	}
	log.Info("master stopped")
}
