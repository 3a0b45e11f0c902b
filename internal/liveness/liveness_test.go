package liveness

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/distrodepot/internal/model"
)

type fakeStore struct {
	mu        sync.Mutex
	overdue   []*model.NodeState
	unhealthy map[string]int
}

func (f *fakeStore) OverdueNodes() []*model.NodeState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overdue
}

func (f *fakeStore) MarkUnhealthy(nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unhealthy == nil {
		f.unhealthy = make(map[string]int)
	}
	f.unhealthy[nodeID]++
	return nil
}

func TestPeriod_FloorsAtOneSecond(t *testing.T) {
	assert.Equal(t, time.Second, Period(100*time.Millisecond))
	assert.Equal(t, 5*time.Second, Period(10*time.Second))
}

func TestMonitor_MarksOverdueNodes(t *testing.T) {
	fs := &fakeStore{overdue: []*model.NodeState{{NodeID: "n1"}}}
	m := New(fs, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)

	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return fs.unhealthy["n1"] >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-m.Done()
}
