// Package metrics exposes the rebalance counters in the Prometheus
// text exposition format over a configurable HTTP port.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/distrodepot/internal/rebalance"
)

// CounterSource is anything that can report the four rebalance
// counters; satisfied by *rebalance.Scheduler.
type CounterSource interface {
	Counters() rebalance.Counters
}

var (
	startOnce sync.Mutex
	started   = make(map[int]bool)
)

// Serve starts an HTTP server on port exposing /metrics, idempotently:
// calling Serve twice for the same port is a no-op on the second call,
// matching the original metrics toggle's start-once-per-port guard.
func Serve(ctx context.Context, port int, source CounterSource, log *logrus.Entry) {
	if port <= 0 {
		return
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "metrics")

	startOnce.Lock()
	if started[port] {
		startOnce.Unlock()
		return
	}
	started[port] = true
	startOnce.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		writeExposition(w, source.Counters())
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	go func() {
		log.WithField("port", port).Info("metrics server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
}

func writeExposition(w http.ResponseWriter, c rebalance.Counters) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	writeCounter(w, "rebalance_planned_total", c.Planned)
	writeCounter(w, "rebalance_delivered_total", c.Delivered)
	writeCounter(w, "rebalance_succeeded_total", c.Succeeded)
	writeCounter(w, "rebalance_failed_total", c.Failed)
}

func writeCounter(w http.ResponseWriter, name string, value uint64) {
	fmt.Fprintf(w, "# TYPE %s counter\n%s %d\n", name, name, value)
}
