// Package rebalance scans the file table for under-replicated chunks
// and turns deficits into pull instructions for storage nodes to
// execute on their next heartbeat.
package rebalance

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/distrodepot/internal/model"
)

// Store is the subset of internal/store.Store the scheduler reads.
type Store interface {
	ListHealthyNodes() []*model.NodeState
	ListAllFiles() []*model.FileRecord
}

// Counters are the four monotonic observability counters from the
// external interfaces table.
type Counters struct {
	Planned   uint64
	Delivered uint64
	Succeeded uint64
	Failed    uint64
}

// Scheduler owns the pending rebalance queue exclusively; the
// Dispatcher only ever consumes from it via Drain.
type Scheduler struct {
	store            Store
	replication      int
	defaultChunkSize int64
	log              *logrus.Entry

	mu      sync.Mutex
	pending []*model.Instruction

	planned   uint64
	delivered uint64
	succeeded uint64
	failed    uint64
}

// New builds a Scheduler. replication is the configured replica target
// per chunk; defaultChunkSize stands in for a file's own chunk_size
// when that is zero.
func New(store Store, replication int, defaultChunkSize int64, log *logrus.Entry) *Scheduler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{
		store:            store,
		replication:      replication,
		defaultChunkSize: defaultChunkSize,
		log:              log.WithField("component", "rebalance"),
	}
}

// Plan is the pure planning step: it reads the current store state and
// returns the instructions a fresh tick would enqueue, without
// mutating the scheduler's pending queue (it does add the count to the
// planned counter). Exposed separately from Tick so tests can invoke it
// synchronously; the heartbeat handler's opportunistic refresh goes
// through Tick.
func (s *Scheduler) Plan(now time.Time) []*model.Instruction {
	healthy := s.store.ListHealthyNodes()
	healthyIDs := make(map[string]bool, len(healthy))
	healthyByID := make(map[string]*model.NodeState, len(healthy))
	for _, n := range healthy {
		healthyIDs[n.NodeID] = true
		healthyByID[n.NodeID] = n
	}

	var out []*model.Instruction
	for _, f := range s.store.ListAllFiles() {
		chunkSize := f.ChunkSize
		if chunkSize <= 0 {
			chunkSize = s.defaultChunkSize
		}

		for _, p := range f.Placements {
			healthyReplicas := make([]string, 0, len(p.Replicas))
			for _, r := range p.Replicas {
				if healthyIDs[r] {
					healthyReplicas = append(healthyReplicas, r)
				}
			}

			deficit := s.replication - len(healthyReplicas)
			if deficit <= 0 {
				continue
			}

			candidates := rankCandidates(healthy, p, chunkSize)
			if len(candidates) > deficit {
				candidates = candidates[:deficit]
			}
			if len(candidates) == 0 {
				continue
			}

			source := selectSource(p, healthyByID)
			for _, target := range candidates {
				out = append(out, &model.Instruction{
					ChunkID: p.ChunkID,
					FileID:  f.FileID,
					Source:  source,
					Target:  target.NodeID,
				})
			}
		}
	}

	atomic.AddUint64(&s.planned, uint64(len(out)))
	return out
}

// rankCandidates returns healthy nodes not already holding the chunk
// and with enough free space, ranked by (free_bytes desc,
// capacity_bytes desc).
func rankCandidates(healthy []*model.NodeState, p *model.ChunkPlacement, chunkSize int64) []*model.NodeState {
	eligible := make([]*model.NodeState, 0, len(healthy))
	for _, n := range healthy {
		if p.HasReplica(n.NodeID) {
			continue
		}
		if n.FreeBytes < chunkSize {
			continue
		}
		eligible = append(eligible, n)
	}
	return rankByFreeThenCapacity(eligible)
}

func rankByFreeThenCapacity(nodes []*model.NodeState) []*model.NodeState {
	ranked := append([]*model.NodeState(nil), nodes...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].FreeBytes != ranked[j].FreeBytes {
			return ranked[i].FreeBytes > ranked[j].FreeBytes
		}
		return ranked[i].CapacityByte > ranked[j].CapacityByte
	})
	return ranked
}

// selectSource prefers the healthy replica with the largest free
// bytes; falls back to the first recorded replica (possibly unhealthy)
// if none are healthy, or "" if the placement has no replicas at all.
func selectSource(p *model.ChunkPlacement, healthyByID map[string]*model.NodeState) string {
	var best *model.NodeState
	for _, r := range p.Replicas {
		n, ok := healthyByID[r]
		if !ok {
			continue
		}
		if best == nil || n.FreeBytes > best.FreeBytes || (n.FreeBytes == best.FreeBytes && n.CapacityByte > best.CapacityByte) {
			best = n
		}
	}
	if best != nil {
		return best.NodeID
	}
	if len(p.Replicas) > 0 {
		return p.Replicas[0]
	}
	return ""
}

// Tick runs Plan and atomically replaces the pending queue: scheduling
// is stateless across ticks, so any instruction not yet drained is
// simply recomputed, preserving the no-duplicate-inbound-instruction
// invariant.
func (s *Scheduler) Tick(now time.Time) {
	next := s.Plan(now)

	s.mu.Lock()
	s.pending = next
	s.mu.Unlock()

	if len(next) > 0 {
		s.log.WithField("count", len(next)).Info("rebalance tick planned instructions")
	}
}

// Drain atomically removes and returns every pending instruction whose
// target matches nodeID. This is the only way instructions leave the
// queue.
func (s *Scheduler) Drain(nodeID string) []*model.Instruction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var mine []*model.Instruction
	var rest []*model.Instruction
	for _, inst := range s.pending {
		if inst.Target == nodeID {
			mine = append(mine, inst)
		} else {
			rest = append(rest, inst)
		}
	}
	s.pending = rest

	if len(mine) > 0 {
		atomic.AddUint64(&s.delivered, uint64(len(mine)))
	}
	return mine
}

// PendingLen reports the current queue length; used by the heartbeat
// handler to decide whether an opportunistic refresh is warranted.
func (s *Scheduler) PendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Pending returns a snapshot copy of the queue without draining it, for
// read-only admin listing.
func (s *Scheduler) Pending() []*model.Instruction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Instruction(nil), s.pending...)
}

// RecordSucceeded increments the succeeded counter; called from the
// ReportChunkStored path.
func (s *Scheduler) RecordSucceeded() {
	atomic.AddUint64(&s.succeeded, 1)
}

// RecordFailed increments the failed counter.
func (s *Scheduler) RecordFailed() {
	atomic.AddUint64(&s.failed, 1)
}

// Counters returns a snapshot of the four observability counters.
func (s *Scheduler) Counters() Counters {
	return Counters{
		Planned:   atomic.LoadUint64(&s.planned),
		Delivered: atomic.LoadUint64(&s.delivered),
		Succeeded: atomic.LoadUint64(&s.succeeded),
		Failed:    atomic.LoadUint64(&s.failed),
	}
}

