package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/distrodepot/internal/model"
)

func node(id string, port int, free int64) *model.NodeState {
	return &model.NodeState{NodeID: id, Port: port, FreeBytes: free, Healthy: true}
}

func TestPlanUpload_EmptyFileGetsOneChunk(t *testing.T) {
	_, placements := PlanUpload(0, 0, 4096, 1, []*model.NodeState{node("n1", 1, 100)})
	require.Len(t, placements, 1)
	assert.Equal(t, 0, placements[0].ChunkIndex)
}

func TestPlanUpload_RankingAndChunkCount(t *testing.T) {
	healthy := []*model.NodeState{
		node("n1", 101, 50),
		node("n2", 102, 80),
		node("n3", 103, 20),
	}

	chunkSize, placements := PlanUpload(10, 4, 4096, 2, healthy)

	assert.Equal(t, int64(4), chunkSize)
	require.Len(t, placements, 3) // ceil(10/4)
	for _, p := range placements {
		require.Len(t, p.Replicas, 2)
		assert.Equal(t, []string{"n2", "n1"}, p.Replicas)
	}
}

func TestPlanUpload_FewerHealthyThanReplication(t *testing.T) {
	healthy := []*model.NodeState{node("n1", 1, 10)}

	_, placements := PlanUpload(1, 1, 4096, 3, healthy)

	require.Len(t, placements, 1)
	assert.Equal(t, []string{"n1"}, placements[0].Replicas)
}

func TestPlanUpload_ChunkIDsAreOpaqueAndUnique(t *testing.T) {
	healthy := []*model.NodeState{node("n1", 1, 10)}
	_, placements := PlanUpload(4096*3, 4096, 4096, 1, healthy)

	require.Len(t, placements, 3)
	seen := make(map[string]bool)
	for _, p := range placements {
		assert.Len(t, p.ChunkID, 32)
		assert.False(t, seen[p.ChunkID])
		seen[p.ChunkID] = true
	}
}

func TestRankByFreeSpace_TiebreakByPortDescending(t *testing.T) {
	nodes := []*model.NodeState{
		node("a", 100, 50),
		node("b", 200, 50),
	}
	ranked := RankByFreeSpace(nodes)
	require.Len(t, ranked, 2)
	assert.Equal(t, "b", ranked[0].NodeID)
	assert.Equal(t, "a", ranked[1].NodeID)
}
