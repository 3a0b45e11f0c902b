// Command agent runs one storage node: it registers with the Master,
// heartbeats on an interval, executes pull-based replication jobs, and
// serves the chunks it holds to peers over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jaywantadh/distrodepot/internal/agent"
	"github.com/jaywantadh/distrodepot/internal/config"
	"github.com/jaywantadh/distrodepot/internal/storage"
	"github.com/jaywantadh/distrodepot/pkg/env"
	"github.com/jaywantadh/distrodepot/pkg/logging"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	env.LoadEnv()
	logging.InitLogger(*debug)
	log := logging.Component("cmd.agent")

	cfg := config.LoadAgentConfig(*configPath, log)
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.New().String()
		log.WithField("node_id", cfg.NodeID).Info("no node_id configured, generated one")
	}

	localStore, err := storage.NewLocalStorage(cfg.DataDir)
	if err != nil {
		log.WithError(err).Fatal("could not prepare local chunk storage")
	}

	a := agent.New(agent.Config{
		NodeID:            cfg.NodeID,
		PublicHost:        cfg.PublicHost,
		Port:              cfg.Port,
		DataDir:           cfg.DataDir,
		MasterBaseURL:     fmt.Sprintf("http://%s:%d", cfg.MasterHost, cfg.MasterPort),
		HeartbeatInterval: cfg.HeartbeatInterval,
		CapacityOverride:  cfg.CapacityOverride,
	}, localStore, log.WithField("component", "agent"))

	ctx, cancel := context.WithCancel(context.Background())

	if err := a.Register(ctx); err != nil {
		log.WithError(err).Fatal("could not register with master")
	}

	chunkSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.PublicHost, cfg.Port),
		Handler: a.ChunkServerMux(),
	}
	go func() {
		log.WithField("addr", chunkSrv.Addr).Info("agent chunk server listening")
		if err := chunkSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("agent chunk server failed")
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	cancel()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := chunkSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("chunk server did not shut down cleanly")
	}
	log.Info("agent stopped")
}
