// Package store is the Master's single source of truth: an in-memory,
// mutation-serialized registry of nodes and files, optionally mirrored
// to a compressed, optionally-encrypted snapshot file for durability.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/distrodepot/internal/model"
)

// ErrNodeUnknown is returned when an operation references a node id the
// store has never registered.
var ErrNodeUnknown = errors.New("node unknown")

// ErrFileUnknown is returned when an operation references a file id the
// store has never recorded.
var ErrFileUnknown = errors.New("file unknown")

// Store is the Metadata Store of the system: it exclusively owns every
// NodeState, FileRecord, and ChunkPlacement value. Every other
// component reaches them only through these methods.
//
// There is no native re-entrant mutex in Go, so the public methods
// below never call each other while holding mu; any work that needs to
// run under an already-held lock goes through an unexported *Locked
// helper instead, which preserves the single-writer-lock semantics the
// system asks for without an actual re-entrant primitive.
type Store struct {
	mu               sync.RWMutex
	nodes            map[string]*model.NodeState
	files            map[string]*model.FileRecord
	heartbeatTimeout time.Duration
	snapshot         *Snapshotter
	log              *logrus.Entry
}

// New constructs an empty Store. heartbeatTimeout drives the
// healthy/overdue computation (I4). If snap is non-nil, every mutation
// ends with a synchronous snapshot write and New attempts to rehydrate
// from it immediately.
func New(heartbeatTimeout time.Duration, snap *Snapshotter, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Store{
		nodes:            make(map[string]*model.NodeState),
		files:            make(map[string]*model.FileRecord),
		heartbeatTimeout: heartbeatTimeout,
		snapshot:         snap,
		log:              log.WithField("component", "store"),
	}
	if snap != nil {
		if err := snap.load(s); err != nil {
			s.log.WithError(err).Warn("snapshot corrupt or unreadable, starting empty")
		}
	}
	return s
}

// RegisterNode inserts or replaces a node by id, resetting liveness
// (I5: re-registration preserves identity, resets liveness).
func (s *Store) RegisterNode(n model.NodeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n.LastSeen = time.Now()
	n.Healthy = true
	s.nodes[n.NodeID] = &n
	return s.flushLocked()
}

// UpdateHeartbeat refreshes a known node's free bytes, load factor, and
// liveness. Fails with ErrNodeUnknown if the node was never registered.
func (s *Store) UpdateHeartbeat(nodeID string, freeBytes int64, loadFactor float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeUnknown, nodeID)
	}
	n.FreeBytes = freeBytes
	n.LoadFactor = loadFactor
	n.LastSeen = time.Now()
	n.Healthy = true
	return s.flushLocked()
}

// MarkUnhealthy clears the healthy flag. Silent (no error) if the node
// is unknown; an already-unhealthy node is a no-op write.
func (s *Store) MarkUnhealthy(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[nodeID]
	if !ok {
		return nil
	}
	if !n.Healthy {
		return nil
	}
	n.Healthy = false
	return s.flushLocked()
}

// SetHealthy is the admin FailNode/RestoreNode override: it sets the
// healthy flag directly regardless of liveness timing.
func (s *Store) SetHealthy(nodeID string, healthy bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeUnknown, nodeID)
	}
	n.Healthy = healthy
	return s.flushLocked()
}

// isHealthyLocked implements I4: healthy flag set AND within timeout.
func (s *Store) isHealthyLocked(n *model.NodeState, now time.Time) bool {
	return n.Healthy && now.Sub(n.LastSeen) <= s.heartbeatTimeout
}

// ListHealthyNodes returns defensive copies of every node currently
// satisfying I4.
func (s *Store) ListHealthyNodes() []*model.NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	out := make([]*model.NodeState, 0, len(s.nodes))
	for _, n := range s.nodes {
		if s.isHealthyLocked(n, now) {
			out = append(out, n.Clone())
		}
	}
	return out
}

// OverdueNodes returns every node whose last heartbeat exceeds the
// timeout, regardless of the healthy flag.
func (s *Store) OverdueNodes() []*model.NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	out := make([]*model.NodeState, 0)
	for _, n := range s.nodes {
		if now.Sub(n.LastSeen) > s.heartbeatTimeout {
			out = append(out, n.Clone())
		}
	}
	return out
}

// ListAllNodes returns defensive copies of every registered node.
func (s *Store) ListAllNodes() []*model.NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.NodeState, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n.Clone())
	}
	return out
}

// GetNode returns a defensive copy of one node, or nil if unknown.
func (s *Store) GetNode(nodeID string) *model.NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[nodeID]
	if !ok {
		return nil
	}
	return n.Clone()
}

// DeleteNode removes a node. Placements are left untouched: stale
// replica ids are treated as unhealthy and repaired by the scheduler.
func (s *Store) DeleteNode(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.nodes, nodeID)
	return s.flushLocked()
}

// PutFile inserts or replaces a FileRecord by file id.
func (s *Store) PutFile(f model.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[f.FileID] = f.Clone()
	return s.flushLocked()
}

// GetFile returns a defensive copy of one file record, or nil if
// unknown.
func (s *Store) GetFile(fileID string) *model.FileRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[fileID]
	if !ok {
		return nil
	}
	return f.Clone()
}

// ListAllFiles returns defensive copies of every file record.
func (s *Store) ListAllFiles() []*model.FileRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.FileRecord, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f.Clone())
	}
	return out
}

// UpdateChunkReplica locates the placement for chunkID within fileID;
// if absent, creates it at chunkIndex. Appends nodeID to its replica
// list if not already present (dedup makes duplicate instruction
// delivery a safe no-op, per the at-most-once/at-least-once note).
// Creates a minimal FileRecord if the file itself is unknown.
func (s *Store) UpdateChunkReplica(fileID, chunkID string, chunkIndex int, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[fileID]
	if !ok {
		f = &model.FileRecord{FileID: fileID}
		s.files[fileID] = f
	}

	p := f.PlacementByChunkID(chunkID)
	if p == nil {
		p = &model.ChunkPlacement{ChunkID: chunkID, ChunkIndex: chunkIndex}
		f.Placements = append(f.Placements, p)
	}
	if !p.HasReplica(nodeID) {
		p.Replicas = append(p.Replicas, nodeID)
	}
	return s.flushLocked()
}

// flushLocked writes a full snapshot if durability is configured. It
// must be called with mu already held.
func (s *Store) flushLocked() error {
	if s.snapshot == nil {
		return nil
	}
	return s.snapshot.save(s)
}

// snapshotViewLocked is used by the snapshotter to read a consistent view
// of both collections while mu is already held by the caller (save is
// always invoked from within a Store method that holds the lock).
func (s *Store) snapshotViewLocked() (nodes []*model.NodeState, files []*model.FileRecord) {
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	for _, f := range s.files {
		files = append(files, f)
	}
	return nodes, files
}

// restoreLocked replaces the in-memory collections wholesale. Used only
// by the snapshotter at startup, before any concurrent access is
// possible.
func (s *Store) restoreLocked(nodes []*model.NodeState, files []*model.FileRecord) {
	s.nodes = make(map[string]*model.NodeState, len(nodes))
	for _, n := range nodes {
		s.nodes[n.NodeID] = n
	}
	s.files = make(map[string]*model.FileRecord, len(files))
	for _, f := range files {
		s.files[f.FileID] = f
	}
}

// Close releases the underlying snapshot database, if durability is
// configured.
func (s *Store) Close() error {
	if s.snapshot == nil {
		return nil
	}
	return s.snapshot.Close()
}
