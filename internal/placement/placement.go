// Package placement is the Master's pure, side-effect-free chunk
// placement planner: no I/O, no locks.
package placement

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jaywantadh/distrodepot/internal/model"
)

// NewChunkID generates an opaque 32-hex-character chunk id.
func NewChunkID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// PlanUpload computes the chunking plan and initial replica assignment
// for a file of fileSize bytes.
//
// effectiveChunkSize is chunkSizeOverride if it is > 0, else
// defaultChunkSize. Chunks are numbered 0..ceil(fileSize/chunkSize)-1,
// with a floor of one chunk (I2: empty files still get chunk index 0).
// Replicas for each chunk are the top `replication` healthy nodes
// ranked by (free_bytes desc, port desc); it is legal to return fewer
// than `replication` replicas when too few healthy nodes exist — the
// rebalance scheduler makes up the deficit later.
func PlanUpload(fileSize, chunkSizeOverride, defaultChunkSize int64, replication int, healthy []*model.NodeState) (effectiveChunkSize int64, placements []*model.ChunkPlacement) {
	effectiveChunkSize = defaultChunkSize
	if chunkSizeOverride > 0 {
		effectiveChunkSize = chunkSizeOverride
	}

	totalChunks := ceilDiv(fileSize, effectiveChunkSize)
	if totalChunks < 1 {
		totalChunks = 1
	}

	ranked := RankByFreeSpace(healthy)

	placements = make([]*model.ChunkPlacement, 0, totalChunks)
	for idx := 0; idx < totalChunks; idx++ {
		n := replication
		if n > len(ranked) {
			n = len(ranked)
		}
		replicas := make([]string, n)
		for i := 0; i < n; i++ {
			replicas[i] = ranked[i].NodeID
		}
		placements = append(placements, &model.ChunkPlacement{
			ChunkID:    NewChunkID(),
			ChunkIndex: idx,
			Replicas:   replicas,
		})
	}
	return effectiveChunkSize, placements
}

// RankByFreeSpace orders nodes by the composite key (free_bytes
// descending, then port descending as a deterministic tiebreaker),
// without mutating the input slice.
func RankByFreeSpace(nodes []*model.NodeState) []*model.NodeState {
	ranked := append([]*model.NodeState(nil), nodes...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].FreeBytes != ranked[j].FreeBytes {
			return ranked[i].FreeBytes > ranked[j].FreeBytes
		}
		return ranked[i].Port > ranked[j].Port
	})
	return ranked
}

func ceilDiv(a, b int64) int {
	if b <= 0 {
		return 0
	}
	if a <= 0 {
		return 0
	}
	q := a / b
	if a%b != 0 {
		q++
	}
	return int(q)
}
