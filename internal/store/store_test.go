package store

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/distrodepot/internal/model"
)

func newTestStore(timeout time.Duration) *Store {
	return New(timeout, nil, logrus.NewEntry(logrus.New()))
}

func TestRegisterNode_SetsHealthyAndLastSeen(t *testing.T) {
	s := newTestStore(time.Second)
	require.NoError(t, s.RegisterNode(model.NodeState{NodeID: "n1", Host: "h", Port: 9}))

	n := s.GetNode("n1")
	require.NotNil(t, n)
	assert.True(t, n.Healthy)
	assert.WithinDuration(t, time.Now(), n.LastSeen, time.Second)
}

func TestUpdateHeartbeat_UnknownNodeFails(t *testing.T) {
	s := newTestStore(time.Second)
	err := s.UpdateHeartbeat("ghost", 10, 0.1)
	assert.ErrorIs(t, err, ErrNodeUnknown)
}

func TestUpdateHeartbeat_RefreshesLiveness(t *testing.T) {
	s := newTestStore(time.Second)
	require.NoError(t, s.RegisterNode(model.NodeState{NodeID: "n1"}))
	require.NoError(t, s.UpdateHeartbeat("n1", 123, 0.5))

	n := s.GetNode("n1")
	assert.Equal(t, int64(123), n.FreeBytes)
	assert.Equal(t, 0.5, n.LoadFactor)
	assert.True(t, n.Healthy)
}

func TestOverdueAndHealthyListing(t *testing.T) {
	s := newTestStore(100 * time.Millisecond)
	require.NoError(t, s.RegisterNode(model.NodeState{NodeID: "n1"}))

	s.mu.Lock()
	s.nodes["n1"].LastSeen = time.Now().Add(-time.Second)
	s.mu.Unlock()

	overdue := s.OverdueNodes()
	require.Len(t, overdue, 1)
	assert.Equal(t, "n1", overdue[0].NodeID)

	healthy := s.ListHealthyNodes()
	assert.Empty(t, healthy)
}

func TestMarkUnhealthy_SilentWhenUnknown(t *testing.T) {
	s := newTestStore(time.Second)
	assert.NoError(t, s.MarkUnhealthy("ghost"))
}

func TestMarkUnhealthy_IsIdempotent(t *testing.T) {
	s := newTestStore(time.Second)
	require.NoError(t, s.RegisterNode(model.NodeState{NodeID: "n1"}))
	require.NoError(t, s.MarkUnhealthy("n1"))
	require.NoError(t, s.MarkUnhealthy("n1"))

	n := s.GetNode("n1")
	assert.False(t, n.Healthy)
}

func TestUpdateChunkReplica_CreatesMinimalFileAndDedups(t *testing.T) {
	s := newTestStore(time.Second)

	require.NoError(t, s.UpdateChunkReplica("f1", "c1", 0, "n1"))
	require.NoError(t, s.UpdateChunkReplica("f1", "c1", 0, "n1")) // duplicate, no-op
	require.NoError(t, s.UpdateChunkReplica("f1", "c1", 0, "n2"))

	f := s.GetFile("f1")
	require.NotNil(t, f)
	require.Len(t, f.Placements, 1)
	assert.Equal(t, []string{"n1", "n2"}, f.Placements[0].Replicas)
}

func TestDeleteNode_DoesNotRewritePlacements(t *testing.T) {
	s := newTestStore(time.Second)
	require.NoError(t, s.RegisterNode(model.NodeState{NodeID: "n1"}))
	require.NoError(t, s.UpdateChunkReplica("f1", "c1", 0, "n1"))

	require.NoError(t, s.DeleteNode("n1"))

	assert.Nil(t, s.GetNode("n1"))
	f := s.GetFile("f1")
	require.NotNil(t, f)
	assert.Contains(t, f.Placements[0].Replicas, "n1")
}

func TestGetNode_ReturnsDefensiveCopy(t *testing.T) {
	s := newTestStore(time.Second)
	require.NoError(t, s.RegisterNode(model.NodeState{NodeID: "n1", FreeBytes: 10}))

	n := s.GetNode("n1")
	n.FreeBytes = 999

	again := s.GetNode("n1")
	assert.Equal(t, int64(10), again.FreeBytes)
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	snap, err := OpenSnapshotter(dir+"/snap.db", "")
	require.NoError(t, err)

	s := New(time.Second, snap, logrus.NewEntry(logrus.New()))
	require.NoError(t, s.RegisterNode(model.NodeState{NodeID: "n1", Host: "h1", Port: 1}))
	require.NoError(t, s.UpdateChunkReplica("f1", "c1", 0, "n1"))
	require.NoError(t, s.Close())

	snap2, err := OpenSnapshotter(dir+"/snap.db", "")
	require.NoError(t, err)
	reloaded := New(time.Second, snap2, logrus.NewEntry(logrus.New()))
	defer reloaded.Close()

	n := reloaded.GetNode("n1")
	require.NotNil(t, n)
	assert.Equal(t, "h1", n.Host)

	f := reloaded.GetFile("f1")
	require.NotNil(t, f)
	assert.Equal(t, []string{"n1"}, f.Placements[0].Replicas)
}

func TestSnapshotRoundTrip_Encrypted(t *testing.T) {
	dir := t.TempDir()
	snap, err := OpenSnapshotter(dir+"/snap.db", "correct horse battery staple")
	require.NoError(t, err)

	s := New(time.Second, snap, logrus.NewEntry(logrus.New()))
	require.NoError(t, s.RegisterNode(model.NodeState{NodeID: "n1"}))
	require.NoError(t, s.Close())

	snap2, err := OpenSnapshotter(dir+"/snap.db", "correct horse battery staple")
	require.NoError(t, err)
	reloaded := New(time.Second, snap2, logrus.NewEntry(logrus.New()))
	defer reloaded.Close()

	assert.NotNil(t, reloaded.GetNode("n1"))
}
