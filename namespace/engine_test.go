package namespace

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peermesh/peermesh/signaling"
	"github.com/peermesh/peermesh/transport"
)

func testConfig(label string) Config {
	return Config{
		Label: label,
		RouterID: func(level int) string {
			return fmt.Sprintf("%s-router-%d", label, level)
		},
		DiscoveryID: func(uuid string) string {
			return fmt.Sprintf("%s-disc-%s", label, uuid)
		},
		PeerSlotID: func() string {
			return fmt.Sprintf("%s-p1", label)
		},
	}
}

// testConstants shrinks the wire-level timers so the S1/S2 scenarios
// from spec.md §8 settle in milliseconds instead of minutes.
func testConstants() Constants {
	return Constants{
		TTL:             300 * time.Millisecond,
		TTLGrace:        100 * time.Millisecond,
		PingInterval:    50 * time.Millisecond,
		MonitorInterval: 50 * time.Millisecond,
		PeerSlotProbe:   50 * time.Millisecond,
		MaxLevel:        3,
	}
}

func newTestEngine(t *testing.T, board *transport.Switchboard, label, name string) *Engine {
	t.Helper()
	dialer := board.Peer(name)
	gate := signaling.New(dialer)
	t.Cleanup(gate.Close)

	e := New(testConfig(label), testConstants(), dialer, gate, name, "fp-"+name, name, []byte("pub-"+name))
	t.Cleanup(e.Close)
	return e
}

func waitForRole(t *testing.T, e *Engine, role Role, timeout time.Duration) State {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		st := e.Snapshot()
		if st.Role == role {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for role %s, last snapshot: %+v", role, e.Snapshot())
	return State{}
}

func waitForRegistrySize(t *testing.T, e *Engine, n int, timeout time.Duration) State {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		st := e.Snapshot()
		if len(st.Registry) >= n {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for registry size %d, last snapshot: %+v", n, e.Snapshot())
	return State{}
}

// TestSinglePeerClaimsRouter covers spec.md §8's S1 scenario: the first
// peer to attempt a namespace always wins the router claim at level 1.
func TestSinglePeerClaimsRouter(t *testing.T) {
	board := transport.NewSwitchboard()
	a := newTestEngine(t, board, "pub", "a")
	a.Start()

	st := waitForRole(t, a, RoleRouter, time.Second)
	require.Equal(t, 1, st.Level)
	require.Equal(t, JoinSettled, st.JoinStatus)
}

// TestSecondPeerJoinsAsMember covers the rest of S1: a second peer
// finds the router taken and becomes a member, and the router's
// registry grows to include it.
func TestSecondPeerJoinsAsMember(t *testing.T) {
	board := transport.NewSwitchboard()
	a := newTestEngine(t, board, "pub", "a")
	b := newTestEngine(t, board, "pub", "b")

	a.Start()
	waitForRole(t, a, RoleRouter, time.Second)

	b.Start()
	// Joining takes two gate dispatches (the claim refusal, then the
	// connect) spaced at least 1.5s apart, with b's high-priority
	// discovery endpoint job able to run between them.
	waitForRole(t, b, RoleMember, 5*time.Second)

	waitForRegistrySize(t, a, 2, time.Second)
	waitForRegistrySize(t, b, 2, time.Second)
}

// TestFailoverReElectsRouter covers spec.md §8's S2 scenario: when the
// router disappears, the surviving member notices via the TTL watchdog
// and re-claims the same level.
func TestFailoverReElectsRouter(t *testing.T) {
	board := transport.NewSwitchboard()
	a := newTestEngine(t, board, "pub", "a")
	b := newTestEngine(t, board, "pub", "b")

	a.Start()
	waitForRole(t, a, RoleRouter, time.Second)
	b.Start()
	waitForRole(t, b, RoleMember, 5*time.Second)

	a.Close()

	// TTL+TTLGrace of silence, then up to 3s of failover jitter.
	st := waitForRole(t, b, RoleRouter, 5*time.Second)
	require.Equal(t, 1, st.Level)
}

// TestAppDataRelayedThroughRouter exercises the SendApp path used by
// the group/rendezvous subsystems to ride a namespace's channels.
func TestAppDataRelayedThroughRouter(t *testing.T) {
	board := transport.NewSwitchboard()
	a := newTestEngine(t, board, "grp", "a")
	b := newTestEngine(t, board, "grp", "b")

	a.Start()
	waitForRole(t, a, RoleRouter, time.Second)
	b.Start()
	waitForRole(t, b, RoleMember, 5*time.Second)
	waitForRegistrySize(t, a, 2, time.Second)

	received := make(chan []byte, 1)
	go func() {
		for ev := range a.Events() {
			if ev.Type == EventMessage {
				received <- ev.Payload
				return
			}
		}
	}()

	require.NoError(t, b.BroadcastApp([]byte("hello router")))

	select {
	case payload := <-received:
		require.Equal(t, []byte("hello router"), payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for relayed app payload")
	}
}
