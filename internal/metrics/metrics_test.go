package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/distrodepot/internal/rebalance"
)

type fakeCounters struct{ c rebalance.Counters }

func (f fakeCounters) Counters() rebalance.Counters { return f.c }

func TestServe_ExposesCountersAsText(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := 19283
	Serve(ctx, port, fakeCounters{c: rebalance.Counters{Planned: 3, Delivered: 2, Succeeded: 1, Failed: 0}}, nil)

	var resp *http.Response
	var err error
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://127.0.0.1:19283/metrics")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "rebalance_planned_total 3")
	assert.Contains(t, string(body), "rebalance_delivered_total 2")
}
