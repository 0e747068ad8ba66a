package namespace

import (
	"context"
	"errors"
	"time"

	"github.com/peermesh/peermesh/signaling"
	"github.com/peermesh/peermesh/transport"
)

// attempt runs one full election pass starting at level, per spec.md
// §4.3's "Joining a namespace": try to claim the router id at this
// level; if taken, join as member; if joining fails, escalate to
// level+1; once MAX_LEVEL is exhausted, fall back to the peer slot.
func (e *Engine) attempt(level int) {
	if level > e.cst.MaxLevel {
		e.tryPeerSlot()
		return
	}
	e.attemptSeq++
	seq := e.attemptSeq
	e.setRole(e.role, level, JoinElecting)

	routerID := e.cfg.RouterID(level)
	e.gate.Schedule(func(ctx context.Context) {
		ep, err := e.dialer.CreateEndpoint(ctx, routerID)
		e.actions <- func() {
			if seq != e.attemptSeq {
				if err == nil {
					ep.Close()
				}
				return // superseded by a later attempt/teardown
			}
			if err == nil {
				e.gate.ReportSuccess()
				e.becomeRouter(level, ep)
				return
			}
			if errors.Is(err, transport.ErrAddressTaken) {
				e.gate.ReportSuccess() // reaching the service at all is success
				e.joinAtLevel(level)
				return
			}
			e.gate.ReportFailure()
			e.log("claim at level %d failed (%v), retrying", level, err)
			e.scheduleRetry(func() { e.attempt(level) })
		}
	}, signaling.PriorityNormal)
}

// joinAtLevel connects to whoever holds the router id at level and
// checks in, per spec.md §4.3. checkinRetries failed attempts fall
// through to the next level.
func (e *Engine) joinAtLevel(level int) {
	e.joinAtLevelTry(level, 1)
}

func (e *Engine) joinAtLevelTry(level, try int) {
	seq := e.attemptSeq
	routerID := e.cfg.RouterID(level)

	e.gate.Schedule(func(ctx context.Context) {
		ctx, cancel := withTimeout(ctx, checkinTimeout)
		defer cancel()
		ch, err := e.dialer.Connect(ctx, routerID)

		e.actions <- func() {
			if seq != e.attemptSeq {
				if err == nil {
					ch.Close()
				}
				return
			}
			if err != nil {
				e.gate.ReportFailure()
				if try >= checkinRetries {
					e.log("join at level %d exhausted after %d tries, escalating", level, try)
					e.attempt(level + 1)
					return
				}
				e.scheduleRetry(func() { e.joinAtLevelTry(level, try+1) })
				return
			}
			e.gate.ReportSuccess()
			e.becomeMember(level, ch)
		}
	}, signaling.PriorityNormal)
}

// tryPeerSlot reserves the fixed peer-slot id and waits for a reverse
// connect, per spec.md §4.3's "last-resort peer slot". No code in this
// package dials the peer-slot id, so the wait lasts until some other
// process connects to it. A signaling failure claiming the peer-slot
// id itself (e.g. another waiter already holds it) is retried with
// jitter up to peerSlotRetries times before giving up entirely.
func (e *Engine) tryPeerSlot() {
	e.tryPeerSlotAttempt(1)
}

func (e *Engine) tryPeerSlotAttempt(try int) {
	seq := e.attemptSeq
	e.setRole(e.role, e.cst.MaxLevel, JoinPeerSlot)

	slotID := e.cfg.PeerSlotID()
	e.gate.Schedule(func(ctx context.Context) {
		ep, err := e.dialer.CreateEndpoint(ctx, slotID)
		e.actions <- func() {
			if seq != e.attemptSeq {
				if err == nil {
					ep.Close()
				}
				return
			}
			if err != nil {
				e.gate.ReportFailure()
				if try >= peerSlotRetries {
					e.log("peer-slot exhausted after %d tries, going offline", try)
					e.setRole(RoleNone, e.level, JoinOffline)
					e.publish(Event{Type: EventOffline})
					return
				}
				wait := jitter(peerSlotJitterLo, peerSlotJitterHi)
				time.AfterFunc(wait, func() {
					e.actions <- func() { e.tryPeerSlotAttempt(try + 1) }
				})
				return
			}
			e.gate.ReportSuccess()
			e.peerSlotEP = ep
			e.role = RolePeerSlotWaiter
			ep.Accept(func(ch transport.Channel) {
				e.actions <- func() { e.onPeerSlotAccepted(ch) }
			})
		}
	}, signaling.PriorityNormal)
}

func (e *Engine) onPeerSlotAccepted(ch transport.Channel) {
	if e.role != RolePeerSlotWaiter {
		ch.Close()
		return
	}
	if e.peerSlotEP != nil {
		e.peerSlotEP.Close()
		e.peerSlotEP = nil
	}
	e.attemptSeq++ // invalidate any in-flight retries
	e.becomeMember(e.cst.MaxLevel, ch)
}

// scheduleRetry re-enters the action loop after a short jitter, so a
// burst of failures doesn't hammer the signaling gate harder than its
// own backoff already enforces.
func (e *Engine) scheduleRetry(fn func()) {
	wait := jitter(failoverJitterMax/3, failoverJitterMax)
	time.AfterFunc(wait, func() {
		e.actions <- fn
	})
}

// onRouterLost fires when a member's TTL-watch decides the router has
// gone silent. Per spec.md §4.3 it re-elects at the same level after a
// jittered wait, so simultaneous members don't all race for the id.
func (e *Engine) onRouterLost() {
	if e.memberChannel != nil {
		e.memberChannel.Close()
		e.memberChannel = nil
	}
	level := e.level
	e.attemptSeq++
	e.setRole(RoleNone, level, JoinElecting)
	wait := jitter(0, failoverJitterMax)
	time.AfterFunc(wait, func() {
		e.actions <- func() { e.attempt(level) }
	})
}

// sendAppTo and broadcastApp are dispatched by role; see router.go and
// member.go for the concrete behavior.
func (e *Engine) sendAppTo(discoveryAddr string, payload []byte) error {
	switch e.role {
	case RoleRouter:
		return e.routerSendTo(discoveryAddr, payload)
	case RoleMember, RolePeerSlotWaiter:
		return e.memberSendTo(discoveryAddr, payload)
	default:
		return ErrNotRouter
	}
}

func (e *Engine) broadcastApp(payload []byte) error {
	switch e.role {
	case RoleRouter:
		return e.routerBroadcast(payload)
	case RoleMember, RolePeerSlotWaiter:
		return e.memberSendToRouter(payload)
	default:
		return ErrNotRouter
	}
}
