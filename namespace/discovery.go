package namespace

import (
	"context"

	"github.com/peermesh/peermesh/signaling"
	"github.com/peermesh/peermesh/transport"
	"github.com/peermesh/peermesh/wire"
)

// maintainDiscoveryEndpoint claims this engine's persistent discovery
// id, independent of router/member role, so peers that already know
// our address can open a direct channel to us (spec.md §4.3's
// "discovery id is independent of election outcome"). It is scheduled
// at High priority, same queue slot as every other namespace's
// discovery endpoint for this process, per spec.md §4.2.
func (e *Engine) maintainDiscoveryEndpoint() {
	id := e.cfg.DiscoveryID(e.selfUUID)
	e.gate.Schedule(func(ctx context.Context) {
		ep, err := e.dialer.CreateEndpoint(ctx, id)
		e.actions <- func() {
			if err != nil {
				e.gate.ReportFailure()
				e.log("discovery endpoint claim failed: %v", err)
				e.scheduleRetry(e.maintainDiscoveryEndpoint)
				return
			}
			e.gate.ReportSuccess()
			e.discoveryEndpoint = ep
			ep.Accept(func(ch transport.Channel) {
				e.actions <- func() { e.onDiscoveryAccept(ch) }
			})
		}
	}, signaling.PriorityHigh)
}

// onDiscoveryAccept handles a direct inbound connect to our discovery
// id. These channels carry application payloads straight through as
// EventMessage, bypassing router/member bookkeeping entirely — this is
// the path the rendezvous subsystem's rvz-exchange uses (spec.md §4.7).
func (e *Engine) onDiscoveryAccept(ch transport.Channel) {
	if e.rawDiscoveryHandler != nil {
		ch.OnMessage(func(raw []byte) {
			e.actions <- func() { e.rawDiscoveryHandler(ch, raw) }
		})
		return
	}
	ch.OnMessage(func(raw []byte) {
		e.actions <- func() {
			msg, err := wire.Decode(raw)
			if err != nil {
				e.log("discovery: malformed frame: %v", err)
				return
			}
			if ad, ok := msg.(*wire.AppData); ok {
				e.publish(Event{Type: EventMessage, Payload: ad.Payload})
				return
			}
			e.log("discovery: unexpected message %T", msg)
		}
	})
}
