// Package agent is the storage-node control loop: register with the
// Master on boot, heartbeat on an interval, and execute rebalance
// instructions piggybacked on the heartbeat reply by pulling a chunk
// from a source peer and reporting success.
package agent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/distrodepot/internal/masterapi"
	"github.com/jaywantadh/distrodepot/internal/storage"
)

// Config is everything one storage node needs to run its control loop.
type Config struct {
	NodeID            string
	PublicHost        string
	Port              int
	DataDir           string
	MasterBaseURL     string
	HeartbeatInterval time.Duration
	CapacityOverride  int64
}

// Agent is one storage node's control loop and chunk-serving surface.
type Agent struct {
	cfg    Config
	master *masterClient
	store  storage.Storage
	chunks *chunkServer
	client *http.Client
	log    *logrus.Entry
}

// New builds an Agent backed by the given local chunk store.
func New(cfg Config, store storage.Storage, log *logrus.Entry) *Agent {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "agent").WithField("node_id", cfg.NodeID)
	return &Agent{
		cfg:    cfg,
		master: newMasterClient(cfg.MasterBaseURL),
		store:  store,
		chunks: newChunkServer(store, log),
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log,
	}
}

// ChunkServerMux returns an http.ServeMux exposing this node's chunk
// fetch endpoint, for cmd/agent to serve.
func (a *Agent) ChunkServerMux() *http.ServeMux {
	mux := http.NewServeMux()
	a.chunks.routes(mux)
	return mux
}

// Register tells the Master this node exists.
func (a *Agent) Register(ctx context.Context) error {
	total, free, err := a.sampleDisk()
	if err != nil {
		a.log.WithError(err).Warn("disk stats unavailable at registration, reporting zero capacity")
	}

	return a.master.register(masterapi.RegisterRequest{
		NodeID:       a.cfg.NodeID,
		Host:         a.cfg.PublicHost,
		Port:         a.cfg.Port,
		CapacityByte: total,
		FreeBytes:    free,
	})
}

// Run blocks, heartbeating at the configured interval until ctx is
// cancelled. In-flight replication jobs are allowed to finish or are
// abandoned at the transfer boundary; the loop itself terminates
// cleanly.
func (a *Agent) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("agent control loop stopping")
			return
		case <-ticker.C:
			a.heartbeatOnce(ctx)
		}
	}
}

func (a *Agent) heartbeatOnce(ctx context.Context) {
	_, free, err := a.sampleDisk()
	if err != nil {
		a.log.WithError(err).Warn("disk stats sample failed, reporting zero free bytes this tick")
		free = 0
	}

	resp, err := a.master.heartbeat(masterapi.HeartbeatRequest{
		NodeID:    a.cfg.NodeID,
		FreeBytes: free,
	})
	if err != nil {
		a.log.WithError(err).Warn("heartbeat failed, will retry next tick")
		return
	}
	if !resp.OK {
		a.log.WithField("reason", resp.Reason).Warn("heartbeat rejected by master")
		return
	}

	for _, inst := range resp.Rebalances {
		if inst.Target != a.cfg.NodeID || inst.Source == "" {
			continue
		}
		go a.runReplicationJob(ctx, inst.FileID, inst.ChunkID, inst.Source)
	}
}

// runReplicationJob pulls chunkID from the Master-designated sourceNodeID
// and reports success to the Master. The source may be unhealthy — this
// is a best-effort attempt; the fetch is simply logged and skipped on
// failure rather than substituted with a different replica, since
// honoring the scheduler's choice (internal/rebalance.selectSource) is
// the contract, not finding any replica that happens to answer. Failure
// is observed by the Master only as the absence of a subsequent
// ReportChunkStored — there is no explicit failure RPC.
func (a *Agent) runReplicationJob(ctx context.Context, fileID, chunkID, sourceNodeID string) {
	log := a.log.WithField("chunk_id", chunkID).WithField("file_id", fileID).WithField("source_node_id", sourceNodeID)

	meta, err := a.master.getFileMetadata(fileID)
	if err != nil || !meta.OK {
		log.WithError(err).Warn("replication job: could not resolve owning file, aborting")
		return
	}

	var chunkIndex int
	var sourceHost string
	var sourcePort int
	found := false
	for _, p := range meta.Placements {
		if p.ChunkID != chunkID {
			continue
		}
		chunkIndex = p.ChunkIndex
		for _, r := range p.Replicas {
			if r.NodeID == sourceNodeID {
				sourceHost, sourcePort = r.Host, r.Port
				found = true
			}
		}
	}
	if !found || sourceHost == "" {
		log.Warn("replication job: designated source replica not resolvable, aborting")
		return
	}

	rc, err := fetchChunk(a.client, sourceHost, sourcePort, chunkID)
	if err != nil {
		log.WithError(err).Warn("replication job: fetch from source failed, aborting")
		return
	}
	defer rc.Close()

	if err := a.store.Put(chunkID, rc); err != nil {
		log.WithError(err).Warn("replication job: persisting chunk failed, aborting")
		return
	}

	if err := a.master.reportChunkStored(masterapi.ChunkStoredRequest{
		FileID:     fileID,
		ChunkID:    chunkID,
		ChunkIndex: chunkIndex,
		NodeID:     a.cfg.NodeID,
	}); err != nil {
		log.WithError(err).Warn("replication job: reporting success failed")
		return
	}
	log.Info("replication job: chunk replicated successfully")
}

func (a *Agent) sampleDisk() (total, free int64, err error) {
	total, free, err = diskStats(a.cfg.DataDir)
	if err != nil {
		return 0, 0, fmt.Errorf("sample disk stats for %s: %w", a.cfg.DataDir, err)
	}
	if a.cfg.CapacityOverride > 0 {
		total = a.cfg.CapacityOverride
	}
	return total, free, nil
}
