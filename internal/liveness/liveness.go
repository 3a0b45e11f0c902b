// Package liveness runs the periodic task that marks storage nodes
// unhealthy once their heartbeat goes silent past the configured
// timeout.
package liveness

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/distrodepot/internal/model"
)

// Store is the subset of internal/store.Store the monitor needs.
type Store interface {
	OverdueNodes() []*model.NodeState
	MarkUnhealthy(nodeID string) error
}

// Monitor periodically sweeps the store for overdue nodes and marks
// them unhealthy. Grounded on the teacher's peer registry ticker, but
// cooperatively cancellable via context so the caller can guarantee a
// join at shutdown.
type Monitor struct {
	store  Store
	period time.Duration
	log    *logrus.Entry
	done   chan struct{}
}

// New builds a Monitor. period is clamped to at least 1s by the caller
// (heartbeatTimeout/2, floored at 1s, per the component design).
func New(store Store, period time.Duration, log *logrus.Entry) *Monitor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Monitor{
		store:  store,
		period: period,
		log:    log.WithField("component", "liveness"),
		done:   make(chan struct{}),
	}
}

// Period returns max(1s, heartbeatTimeout/2), the tick interval
// mandated by the component design.
func Period(heartbeatTimeout time.Duration) time.Duration {
	p := heartbeatTimeout / 2
	if p < time.Second {
		p = time.Second
	}
	return p
}

// Run blocks, ticking every period until ctx is cancelled. Callers
// typically invoke this in its own goroutine and wait on Done() (or
// simply join the goroutine) during shutdown.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("liveness monitor stopping")
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// Done reports when Run has returned, for callers that want to join
// without holding a reference to the goroutine itself.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

func (m *Monitor) tick() {
	for _, n := range m.store.OverdueNodes() {
		if err := m.store.MarkUnhealthy(n.NodeID); err != nil {
			m.log.WithError(err).WithField("node_id", n.NodeID).Warn("failed to mark node unhealthy")
			continue
		}
		m.log.WithField("node_id", n.NodeID).Warn("node marked unhealthy: heartbeat overdue")
	}
}
