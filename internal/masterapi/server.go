// Package masterapi is the RPC façade the storage agents and admin
// callers speak to: an HTTP+JSON surface grounded on the teacher's
// transfer-server ServeMux/WriteJSONResponse convention, generalized
// from file-transfer bookkeeping to node registration, heartbeats,
// upload planning, and rebalance instruction delivery.
package masterapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/distrodepot/internal/model"
	"github.com/jaywantadh/distrodepot/internal/placement"
)

// Store is the subset of internal/store.Store the dispatcher drives.
type Store interface {
	RegisterNode(n model.NodeState) error
	UpdateHeartbeat(nodeID string, freeBytes int64, loadFactor float64) error
	SetHealthy(nodeID string, healthy bool) error
	ListHealthyNodes() []*model.NodeState
	ListAllNodes() []*model.NodeState
	GetNode(nodeID string) *model.NodeState
	DeleteNode(nodeID string) error
	PutFile(f model.FileRecord) error
	GetFile(fileID string) *model.FileRecord
	ListAllFiles() []*model.FileRecord
	UpdateChunkReplica(fileID, chunkID string, chunkIndex int, nodeID string) error
}

// Scheduler is the subset of internal/rebalance.Scheduler the
// dispatcher drives.
type Scheduler interface {
	Tick(now time.Time)
	Drain(nodeID string) []*model.Instruction
	Pending() []*model.Instruction
	PendingLen() int
	RecordSucceeded()
	RecordFailed()
}

// Server is the Master's RPC façade.
type Server struct {
	store             Store
	scheduler         Scheduler
	defaultChunkSize  int64
	replicationFactor int
	log               *logrus.Entry
	mux               *http.ServeMux
}

// NewServer wires a Server and registers its routes.
func NewServer(st Store, sched Scheduler, defaultChunkSize int64, replicationFactor int, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		store:             st,
		scheduler:         sched,
		defaultChunkSize:  defaultChunkSize,
		replicationFactor: replicationFactor,
		log:               log.WithField("component", "masterapi"),
		mux:               http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/v1/nodes/register", s.handleRegister)
	s.mux.HandleFunc("/v1/nodes/heartbeat", s.handleHeartbeat)
	s.mux.HandleFunc("/v1/files/plan", s.handlePlan)
	s.mux.HandleFunc("/v1/files/chunk-stored", s.handleChunkStored)
	s.mux.HandleFunc("/v1/nodes", s.handleListNodes)
	s.mux.HandleFunc("/v1/files", s.handleListFiles)
	s.mux.HandleFunc("/v1/rebalances", s.handleListRebalances)
	s.mux.HandleFunc("/v1/files/", s.handleFileByID)
	s.mux.HandleFunc("/v1/nodes/", s.handleNodeByID)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeErr(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, Response{OK: false, Reason: reason})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.NodeID == "" {
		writeErr(w, http.StatusBadRequest, "node_id is required")
		return
	}

	err := s.store.RegisterNode(model.NodeState{
		NodeID:       req.NodeID,
		Host:         req.Host,
		Port:         req.Port,
		CapacityByte: req.CapacityByte,
		FreeBytes:    req.FreeBytes,
		MAC:          req.MAC,
		LoadFactor:   req.LoadFactor,
	})
	if err != nil {
		s.log.WithError(err).Error("register_node failed")
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, Response{OK: true})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	// Opportunistically refresh the schedule before draining when the
	// queue is empty, so a heartbeat can observe freshly-planned work
	// in the same round trip rather than waiting for the next tick.
	if s.scheduler.PendingLen() == 0 {
		s.scheduler.Tick(time.Now())
	}

	if err := s.store.UpdateHeartbeat(req.NodeID, req.FreeBytes, req.LoadFactor); err != nil {
		writeJSON(w, http.StatusOK, HeartbeatResponse{OK: false, Reason: err.Error()})
		return
	}

	drained := s.scheduler.Drain(req.NodeID)
	out := make([]model.Instruction, 0, len(drained))
	for _, inst := range drained {
		out = append(out, *inst)
	}
	writeJSON(w, http.StatusOK, HeartbeatResponse{OK: true, Rebalances: out})
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.FileSize < 0 {
		writeErr(w, http.StatusBadRequest, "file_size must be non-negative")
		return
	}
	if req.ChunkSize < 0 {
		writeErr(w, http.StatusBadRequest, "chunk_size override must be positive when set")
		return
	}

	fileID := req.FileID
	if fileID == "" {
		fileID = uuid.New().String()
	}

	healthy := s.store.ListHealthyNodes()
	effectiveChunkSize, placements := placement.PlanUpload(req.FileSize, req.ChunkSize, s.defaultChunkSize, s.replicationFactor, healthy)

	record := model.FileRecord{
		FileID:     fileID,
		FileName:   req.FileName,
		FileSize:   req.FileSize,
		ChunkSize:  effectiveChunkSize,
		Placements: placements,
	}
	if err := s.store.PutFile(record); err != nil {
		s.log.WithError(err).Error("put_file failed")
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, PlanResponse{
		OK:                true,
		FileID:            fileID,
		ChunkSize:         effectiveChunkSize,
		ReplicationFactor: s.replicationFactor,
		Placements:        s.hydrate(placements),
	})
}

func (s *Server) handleChunkStored(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req ChunkStoredRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := s.store.UpdateChunkReplica(req.FileID, req.ChunkID, req.ChunkIndex, req.NodeID); err != nil {
		s.scheduler.RecordFailed()
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.scheduler.RecordSucceeded()
	writeJSON(w, http.StatusOK, Response{OK: true})
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	nodes := s.store.ListAllNodes()
	out := make([]model.NodeDescriptor, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Descriptor())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	files := s.store.ListAllFiles()
	out := make([]FileMetadataResponse, 0, len(files))
	for _, f := range files {
		out = append(out, s.fileResponse(f))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListRebalances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	pending := s.scheduler.Pending()
	out := make([]model.Instruction, 0, len(pending))
	for _, inst := range pending {
		out = append(out, *inst)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleFileByID serves GET /v1/files/{id}.
func (s *Server) handleFileByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/files/")
	if id == "" {
		writeErr(w, http.StatusNotFound, "file_id is required")
		return
	}
	f := s.store.GetFile(id)
	if f == nil {
		writeJSON(w, http.StatusOK, FileMetadataResponse{OK: false, Reason: "unknown file"})
		return
	}
	writeJSON(w, http.StatusOK, s.fileResponse(f))
}

// handleNodeByID serves the admin overrides on /v1/nodes/{id}[/fail|/restore]
// and DELETE /v1/nodes/{id}.
func (s *Server) handleNodeByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/nodes/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, "node_id is required")
		return
	}
	nodeID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.store.DeleteNode(nodeID); err != nil {
			writeErr(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, Response{OK: true})

	case len(parts) == 2 && parts[1] == "fail" && r.Method == http.MethodPost:
		s.setHealthy(w, nodeID, false)

	case len(parts) == 2 && parts[1] == "restore" && r.Method == http.MethodPost:
		s.setHealthy(w, nodeID, true)

	default:
		writeErr(w, http.StatusNotFound, "unknown route")
	}
}

func (s *Server) setHealthy(w http.ResponseWriter, nodeID string, healthy bool) {
	if err := s.store.SetHealthy(nodeID, healthy); err != nil {
		writeJSON(w, http.StatusOK, Response{OK: false, Reason: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, Response{OK: true})
}

func (s *Server) hydrate(placements []*model.ChunkPlacement) []model.HydratedPlacement {
	out := make([]model.HydratedPlacement, 0, len(placements))
	for _, p := range placements {
		out = append(out, model.HydratedPlacement{
			ChunkID:    p.ChunkID,
			ChunkIndex: p.ChunkIndex,
			Replicas:   s.hydrateReplicas(p.Replicas),
		})
	}
	return out
}

func (s *Server) hydrateReplicas(ids []string) []model.NodeDescriptor {
	out := make([]model.NodeDescriptor, 0, len(ids))
	for _, id := range ids {
		n := s.store.GetNode(id)
		if n == nil {
			out = append(out, model.NodeDescriptor{NodeID: id})
			continue
		}
		out = append(out, n.Descriptor())
	}
	return out
}

func (s *Server) fileResponse(f *model.FileRecord) FileMetadataResponse {
	return FileMetadataResponse{
		OK:         true,
		FileID:     f.FileID,
		FileName:   f.FileName,
		FileSize:   f.FileSize,
		ChunkSize:  f.ChunkSize,
		Placements: s.hydrate(f.Placements),
	}
}
