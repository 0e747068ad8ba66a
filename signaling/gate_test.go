package signaling

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peermesh/peermesh/transport"
)

// probeOnlyDialer satisfies transport.Dialer for tests that only care
// about Probe's reachability result.
type probeOnlyDialer struct {
	ok atomic.Bool
}

func newProbeOnlyDialer(ok bool) *probeOnlyDialer {
	d := &probeOnlyDialer{}
	d.ok.Store(ok)
	return d
}

func (d *probeOnlyDialer) CreateEndpoint(ctx context.Context, id string) (transport.Endpoint, error) {
	return nil, transport.ErrAddressUnavailable
}

func (d *probeOnlyDialer) Connect(ctx context.Context, id string) (transport.Channel, error) {
	return nil, transport.ErrAddressUnavailable
}

func (d *probeOnlyDialer) Probe(ctx context.Context) error {
	if d.ok.Load() {
		return nil
	}
	return transport.ErrNetworkDown
}

func TestThrottleBackoffAndDecay(t *testing.T) {
	g := New(newProbeOnlyDialer(true))
	defer g.Close()

	g.ReportFailure()
	g.ReportFailure()
	g.ReportFailure()

	st := g.Snapshot()
	require.Equal(t, 3, st.ThrottleCount)
	// 1.5s * 3^3 = 40.5s, capped at the 15s ceiling (spec.md §4.2 / S5).
	require.Equal(t, maxInterval, st.CurrentInterval)

	// Once the last throttle is older than decayAfterIdle, the idle
	// check resets the counter and the interval.
	g.mu.Lock()
	g.lastThrottle = time.Now().Add(-decayAfterIdle - time.Second)
	g.mu.Unlock()
	g.decayIfIdle()
	st = g.Snapshot()
	require.Equal(t, 0, st.ThrottleCount)
	require.Equal(t, baseInterval, st.CurrentInterval)
}

func TestNetworkDownPausesUntilSuccess(t *testing.T) {
	g := New(newProbeOnlyDialer(false))
	defer g.Close()

	g.ReportFailure()
	require.True(t, g.Snapshot().NetworkDown)

	g.ReportSuccess()
	require.False(t, g.Snapshot().NetworkDown)
}

func TestScheduleRunsHighBeforeNormal(t *testing.T) {
	g := New(newProbeOnlyDialer(true))
	defer g.Close()

	order := make(chan string, 2)
	g.Schedule(func(ctx context.Context) { order <- "normal" }, PriorityNormal)
	g.Schedule(func(ctx context.Context) { order <- "high" }, PriorityHigh)

	first := <-order
	require.Equal(t, "high", first)
}
