package rendezvous

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/peermesh/peermesh/identity"
	"github.com/peermesh/peermesh/transport"
	"github.com/peermesh/peermesh/wire"
)

// signable builds the deterministic byte string an rvz-exchange's
// Signature covers, so spoofing a registry entry's advertised address
// doesn't help an attacker: only the holder of the matching private
// key can produce a valid signature over its own claimed address.
func signable(address, friendlyName string, pubKey []byte, ts int64) []byte {
	buf := make([]byte, 0, len(address)+len(friendlyName)+len(pubKey)+24)
	buf = append(buf, address...)
	buf = append(buf, '|')
	buf = append(buf, friendlyName...)
	buf = append(buf, '|')
	buf = append(buf, pubKey...)
	buf = append(buf, '|')
	buf = append(buf, fmt.Sprintf("%d", ts)...)
	return buf
}

// connectAndExchange dials the peer's rendezvous discovery address
// directly (spec.md §4.6: "open a direct channel to that entry's
// discovery address"), bypassing ar.engine's own router/member
// channels entirely, and sends our half of the exchange.
func (s *Subsystem) connectAndExchange(ar *activeRendezvous, address string) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	ch, err := s.dialer.Connect(ctx, address)
	if err != nil {
		log.Printf("W: [rendezvous] connect to %s for %s failed: %v", address, ar.fp, err)
		s.actions <- func() {
			if cur, ok := s.active[ar.fp]; ok && cur == ar {
				ar.foundAddr = ""
			}
		}
		return
	}
	ch.OnMessage(func(raw []byte) {
		s.actions <- func() { s.handleExchangeFrame(ar, ch, raw) }
	})
	// A brief delay gives the peer's own discovery-accept handoff (also
	// actions-queued, on its engine) time to register its OnMessage
	// callback before our first frame arrives.
	time.AfterFunc(50*time.Millisecond, func() {
		s.actions <- func() { s.sendExchange(ar, ch) }
	})
}

func (s *Subsystem) sendExchange(ar *activeRendezvous, ch transport.Channel) {
	ts := time.Now().Unix()
	sig, err := s.im.Sign(signable(s.selfAddress, s.selfName, s.selfPub, ts))
	if err != nil {
		log.Printf("W: [rendezvous] signing exchange for %s: %v", ar.fp, err)
		return
	}
	raw, err := wire.Encode(&wire.RendezvousExchange{
		Address:      s.selfAddress,
		FriendlyName: s.selfName,
		PublicKey:    s.selfPub,
		Ts:           ts,
		Signature:    sig,
	})
	if err != nil {
		log.Printf("W: [rendezvous] encoding exchange for %s: %v", ar.fp, err)
		return
	}
	if err := ch.Send(raw); err != nil {
		log.Printf("W: [rendezvous] sending exchange to %s: %v", ar.fp, err)
	}
}

// handleExchangeFrame processes one inbound frame on a channel tied to
// ar, whether ar.engine accepted it (we were found) or we dialed out
// ourselves (we found them). Always runs inside the actor loop.
func (s *Subsystem) handleExchangeFrame(ar *activeRendezvous, ch transport.Channel, raw []byte) {
	if ar.settled {
		return
	}
	msg, err := wire.Decode(raw)
	if err != nil {
		log.Printf("W: [rendezvous] malformed exchange frame for %s: %v", ar.fp, err)
		return
	}
	ex, ok := msg.(*wire.RendezvousExchange)
	if !ok {
		log.Printf("I: [rendezvous] unexpected message %T on exchange channel for %s", msg, ar.fp)
		return
	}
	if !publicKeysEqual(ex.PublicKey, ar.pubKey) {
		log.Printf("W: [rendezvous] exchange public key mismatch for %s", ar.fp)
		return
	}
	if time.Since(time.Unix(ex.Ts, 0)) > exchangeTTL {
		log.Printf("W: [rendezvous] stale exchange timestamp from %s", ar.fp)
		return
	}
	if err := identity.Verify(ex.PublicKey, ex.Signature, signable(ex.Address, ex.FriendlyName, ex.PublicKey, ex.Ts)); err != nil {
		log.Printf("W: [rendezvous] exchange signature check failed for %s: %v", ar.fp, err)
		return
	}

	// Ping-pong protection (spec.md §4.6): this channel answers at
	// most once, regardless of how many valid exchanges arrive on it.
	if !ar.answered[ch] {
		ar.answered[ch] = true
		s.sendExchange(ar, ch)
	}

	ar.settled = true
	s.updater.VerifyIdentity(ex.Address, ex.PublicKey, ex.FriendlyName)
	fp := ar.fp
	s.deactivate(fp)
	s.updater.Reconnect(fp)
}
