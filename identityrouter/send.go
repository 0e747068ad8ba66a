package identityrouter

import (
	"log"
	"time"

	"github.com/peermesh/peermesh/chat"
	"github.com/peermesh/peermesh/identity"
	"github.com/peermesh/peermesh/transport"
	"github.com/peermesh/peermesh/wire"
)

// SharedKey returns the cached pairwise AES key for fp, deriving and
// caching it on first use (spec.md §4.5's shared_key(F)).
func (r *Router) SharedKey(fp string) ([]byte, error) {
	reply := make(chan struct {
		key []byte
		err error
	}, 1)
	r.actions <- func() {
		key, err := r.sharedKey(fp)
		reply <- struct {
			key []byte
			err error
		}{key, err}
	}
	res := <-reply
	return res.key, res.err
}

func (r *Router) sharedKey(fp string) ([]byte, error) {
	if key, ok := r.sharedKeys[fp]; ok {
		return key, nil
	}
	c, ok := r.contacts[fp]
	if !ok || len(c.PublicKey) == 0 {
		return nil, ErrUnknownContact
	}
	key, err := r.im.DeriveShared(c.PublicKey)
	if err != nil {
		return nil, err
	}
	r.sharedKeys[fp] = key
	c.SharedKeyFingerprint = identity.FingerprintKey(key)
	r.contacts[fp] = c
	return key, nil
}

// ClearSharedKey invalidates the cached key for fp (spec.md §4.5:
// "Invalidated only on explicit clear").
func (r *Router) ClearSharedKey(fp string) {
	r.actions <- func() { delete(r.sharedKeys, fp) }
}

// Send implements spec.md §4.5's send path: transmit immediately over
// an open channel, or queue and trigger a connect attempt.
func (r *Router) Send(fp string, msg *chat.Message) error {
	reply := make(chan error, 1)
	r.actions <- func() { reply <- r.send(fp, msg) }
	return <-reply
}

func (r *Router) send(fp string, msg *chat.Message) error {
	plaintext := []byte(msg.Body)
	if ch, ok := r.channels[fp]; ok {
		if err := r.transmit(fp, ch, msg, plaintext); err == nil {
			return nil
		}
		delete(r.channels, fp)
	}

	if err := msg.Advance(chat.StatusWaiting); err != nil && msg.Status != chat.StatusWaiting {
		// already waiting or an allowed no-op; ignore transition errors
		// from repeated enqueues.
		_ = err
	}
	r.queues[fp] = append(r.queues[fp], &pendingSend{msg: msg, plaintext: plaintext})
	r.publish(Event{Type: EventMessageStatus, Fingerprint: fp, Message: msg})
	r.connect(fp)
	return nil
}

// transmit encrypts, signs, and sends one message over an already-open
// channel, moving it to the awaiting-ack set on success.
func (r *Router) transmit(fp string, ch transport.Channel, msg *chat.Message, plaintext []byte) error {
	key, err := r.sharedKey(fp)
	if err != nil {
		return err
	}
	iv, ct, err := identity.Encrypt(key, plaintext)
	if err != nil {
		return err
	}
	sig, err := r.im.Sign(ct)
	if err != nil {
		return err
	}
	raw, err := wire.Encode(&wire.ChatMessage{
		ID:        msg.ID,
		Ts:        msg.Timestamp.Unix(),
		IV:        iv,
		CT:        ct,
		Signature: sig,
		E2E:       true,
	})
	if err != nil {
		return err
	}
	if err := ch.Send(raw); err != nil {
		return err
	}
	if err := msg.Advance(chat.StatusSent); err != nil {
		log.Printf("W: [identityrouter] %v", err)
	}
	r.awaiting[fp] = append(r.awaiting[fp], &pendingSend{msg: msg, plaintext: plaintext, sentAt: time.Now()})
	r.publish(Event{Type: EventMessageStatus, Fingerprint: fp, Message: msg})
	return nil
}

// Reconnect triggers an out-of-band connect attempt for fp, e.g. after
// the rendezvous subsystem has learned a fresh address for a contact
// that previously exhausted its retries.
func (r *Router) Reconnect(fp string) {
	r.actions <- func() { r.connect(fp) }
}

// connect triggers spec.md §4.5's connect(F) if not already in flight.
func (r *Router) connect(fp string) {
	if r.inFlight[fp] {
		return
	}
	c, ok := r.contacts[fp]
	if !ok || c.CurrentAddress == "" {
		return
	}
	r.inFlight[fp] = true
	addr := c.CurrentAddress

	go func() {
		ctx, cancel := withTimeout(10 * time.Second)
		defer cancel()
		ch, err := r.dialer.Connect(ctx, addr)
		r.actions <- func() {
			r.inFlight[fp] = false
			if err != nil {
				r.onConnectFailed(fp)
				return
			}
			r.onConnected(fp, ch)
		}
	}()
}

func (r *Router) onConnected(fp string, ch transport.Channel) {
	r.failures[fp] = 0
	r.channels[fp] = ch
	ch.OnClose(func(error) {
		r.actions <- func() {
			if cur, ok := r.channels[fp]; ok && cur == ch {
				delete(r.channels, fp)
			}
		}
	})
	ch.OnMessage(func(raw []byte) {
		r.actions <- func() { r.onInbound(fp, raw) }
	})
	r.flush(fp)
}

func (r *Router) onConnectFailed(fp string) {
	r.failures[fp]++
	if r.failures[fp] < maxConnectRetries {
		if len(r.queues[fp]) > 0 {
			// still have outgoing work for fp: retry after a short 250ms
			// delay rather than waiting for the next sweep, per spec.md §4.5's "after
			// MAX_CONNECT_RETRIES direct attempts fail" contract.
			time.AfterFunc(250*time.Millisecond, func() {
				r.actions <- func() { r.connect(fp) }
			})
		}
		return
	}
	for _, p := range r.queues[fp] {
		if err := p.msg.Advance(chat.StatusFailed); err != nil {
			log.Printf("W: [identityrouter] %v", err)
		}
		r.publish(Event{Type: EventMessageStatus, Fingerprint: fp, Message: p.msg})
	}
	r.queues[fp] = nil
	r.failures[fp] = 0
	if r.enrollRendezvous != nil {
		r.enrollRendezvous(fp)
	}
	r.publish(Event{Type: EventEnrolledRendezvous, Fingerprint: fp})
}

// flush sends every queued message for fp in order over its now-open
// channel, per spec.md §4.5 "On reconnect, the queue flushes in order."
func (r *Router) flush(fp string) {
	ch, ok := r.channels[fp]
	if !ok {
		return
	}
	pending := r.queues[fp]
	r.queues[fp] = nil
	for _, p := range pending {
		if err := r.transmit(fp, ch, p.msg, p.plaintext); err != nil {
			// channel died mid-flush: re-queue the remainder and let the
			// next onConnected() retry.
			r.queues[fp] = append(r.queues[fp], p)
			delete(r.channels, fp)
			r.connect(fp)
			return
		}
	}
}

// onInbound decodes an inbound frame from fp's channel: chat payloads
// are decrypted and surfaced, acks mark the matching awaiting-send
// delivered.
func (r *Router) onInbound(fp string, raw []byte) {
	msg, err := wire.Decode(raw)
	if err != nil {
		log.Printf("W: [identityrouter] malformed frame from %s: %v", fp, err)
		return
	}
	switch m := msg.(type) {
	case *wire.ChatMessage:
		r.deliverChat(fp, m)
	case *wire.MessageAck:
		r.ackReceived(fp, m.ID)
	default:
		log.Printf("I: [identityrouter] unhandled message %T from %s", msg, fp)
	}
}

func (r *Router) deliverChat(fp string, wm *wire.ChatMessage) {
	key, err := r.sharedKey(fp)
	if err != nil {
		log.Printf("W: [identityrouter] no shared key for %s, dropping message", fp)
		return
	}
	c, ok := r.contacts[fp]
	if ok && len(c.PublicKey) > 0 {
		if err := identity.Verify(c.PublicKey, wm.Signature, wm.CT); err != nil {
			log.Printf("W: [identityrouter] signature check failed from %s: %v", fp, err)
			return
		}
	}
	plaintext, err := identity.Decrypt(key, wm.IV, wm.CT)
	if err != nil {
		log.Printf("W: [identityrouter] decrypt failed from %s: %v", fp, err)
		return
	}
	m := &chat.Message{
		ID:        wm.ID,
		Direction: chat.Incoming,
		Kind:      chat.KindText,
		Body:      string(plaintext),
		Timestamp: time.Unix(wm.Ts, 0),
		Status:    chat.StatusDelivered,
	}
	r.publish(Event{Type: EventMessageStatus, Fingerprint: fp, Message: m})

	if ch, ok := r.channels[fp]; ok {
		if raw, err := wire.Encode(&wire.MessageAck{ID: wm.ID}); err == nil {
			ch.Send(raw)
		}
	}
}

func (r *Router) ackReceived(fp, id string) {
	pending := r.awaiting[fp]
	for i, p := range pending {
		if p.msg.ID == id {
			if err := p.msg.Advance(chat.StatusDelivered); err != nil {
				log.Printf("W: [identityrouter] %v", err)
			}
			r.publish(Event{Type: EventMessageStatus, Fingerprint: fp, Message: p.msg})
			r.awaiting[fp] = append(pending[:i], pending[i+1:]...)
			return
		}
	}
}

// checkAckTimeouts resets messages unacked past ackTimeout back to
// waiting so the next flush re-sends them, per spec.md §4.5.
func (r *Router) checkAckTimeouts() {
	cutoff := time.Now().Add(-ackTimeout)
	for fp, pending := range r.awaiting {
		var stillWaiting []*pendingSend
		var timedOut []*pendingSend
		for _, p := range pending {
			if p.sentAt.Before(cutoff) {
				timedOut = append(timedOut, p)
			} else {
				stillWaiting = append(stillWaiting, p)
			}
		}
		if len(timedOut) == 0 {
			continue
		}
		r.awaiting[fp] = stillWaiting
		for _, p := range timedOut {
			if err := p.msg.Advance(chat.StatusWaiting); err != nil {
				log.Printf("W: [identityrouter] %v", err)
				continue
			}
			r.publish(Event{Type: EventMessageStatus, Fingerprint: fp, Message: p.msg})
		}
		r.queues[fp] = append(timedOut, r.queues[fp]...)
		if _, open := r.channels[fp]; open {
			r.flush(fp)
		} else {
			r.connect(fp)
		}
	}
}

// sweep attempts direct reconnection for up to sweepBatch offline
// saved contacts not currently being connected to, staggered
// sweepStagger apart, per spec.md §4.5's contact sweeper.
func (r *Router) sweep() {
	var candidates []string
	for fp, c := range r.contacts {
		if fp == "" || c.CurrentAddress == "" {
			continue
		}
		if _, open := r.channels[fp]; open {
			continue
		}
		if r.inFlight[fp] {
			continue
		}
		candidates = append(candidates, fp)
		if len(candidates) >= sweepBatch {
			break
		}
	}
	for i, fp := range candidates {
		delay := time.Duration(i) * sweepStagger
		fp := fp
		time.AfterFunc(delay, func() {
			r.actions <- func() { r.connect(fp) }
		})
	}
}
