package identityrouter

import (
	"time"

	"github.com/peermesh/peermesh/chat"
	"github.com/peermesh/peermesh/contact"
	"github.com/peermesh/peermesh/identity"
)

// RegisterAddressSeen records that we've observed traffic at address
// with no verified identity yet (e.g. a namespace registry entry with
// no public key, spec.md §4.3's "marked on network" vs. "discovery
// candidate" split). It's a no-op if address is already tracked, under
// either a pseudo or a real fingerprint.
func (r *Router) RegisterAddressSeen(address, friendlyName string) {
	r.actions <- func() { r.registerAddressSeen(address, friendlyName) }
}

func (r *Router) registerAddressSeen(address, friendlyName string) {
	for _, c := range r.contacts {
		if c.CurrentAddress == address {
			return
		}
	}
	key := pseudoFP(address)
	if _, ok := r.contacts[key]; ok {
		return
	}
	r.contacts[key] = contact.Contact{
		FriendlyName:   friendlyName,
		CurrentAddress: address,
		KnownAddresses: []string{address},
		LastSeen:       time.Now(),
	}
}

// VerifyIdentity is called once traffic from address has been
// cryptographically verified (signature check) to belong to pubKey,
// per spec.md §4.5's address-change migration. It is idempotent:
// calling it again with the same (address, pubKey) after the first
// call is a no-op beyond refreshing LastSeen.
func (r *Router) VerifyIdentity(address string, pubKey []byte, friendlyName string) {
	reply := make(chan struct{})
	r.actions <- func() {
		r.verifyIdentity(address, pubKey, friendlyName)
		close(reply)
	}
	<-reply
}

func (r *Router) verifyIdentity(address string, pubKey []byte, friendlyName string) {
	fp := identity.Fingerprint(pubKey)
	now := time.Now()

	incoming := contact.Contact{
		Fingerprint:    fp,
		FriendlyName:   friendlyName,
		PublicKey:      pubKey,
		CurrentAddress: address,
		KnownAddresses: []string{address},
		LastSeen:       now,
	}

	pseudoKey := pseudoFP(address)
	pseudo, hadPseudo := r.contacts[pseudoKey]
	if hadPseudo {
		incoming = mergeContacts(incoming, pseudo)
	}

	existing, hadReal := r.contacts[fp]
	final := incoming
	if hadReal {
		final = mergeContacts(existing, incoming)
	}
	final.Fingerprint = fp
	final.PublicKey = pubKey

	r.contacts[fp] = final
	if hadPseudo {
		delete(r.contacts, pseudoKey)
		r.publish(Event{Type: EventContactMigrated, Fingerprint: fp, OldFingerprint: pseudoKey})
	}
}

// mergeContacts folds b into a per spec.md §4.5: concatenate known
// addresses (deduplicated), keep the newer profile's friendly name,
// keep the newer LastSeen/CurrentAddress. Pure and idempotent —
// merging a contact with itself returns an equivalent contact.
func mergeContacts(a, b contact.Contact) contact.Contact {
	addrSet := make(map[string]struct{}, len(a.KnownAddresses)+len(b.KnownAddresses))
	var addrs []string
	for _, addr := range append(append([]string(nil), a.KnownAddresses...), b.KnownAddresses...) {
		if addr == "" {
			continue
		}
		if _, ok := addrSet[addr]; ok {
			continue
		}
		addrSet[addr] = struct{}{}
		addrs = append(addrs, addr)
	}

	newer, older := a, b
	if b.LastSeen.After(a.LastSeen) {
		newer, older = b, a
	}

	merged := newer
	merged.KnownAddresses = addrs
	if merged.CurrentAddress == "" {
		merged.CurrentAddress = older.CurrentAddress
	}
	if len(merged.PublicKey) == 0 {
		merged.PublicKey = older.PublicKey
	}
	if merged.SharedKeyFingerprint == "" {
		merged.SharedKeyFingerprint = older.SharedKeyFingerprint
	}
	if merged.Pending == contact.PendingNone {
		merged.Pending = older.Pending
	}
	return merged
}

// MergeChatHistories unions two message histories by id, deduplicating
// spec.md §4.5's "union chat histories by message-id" rule. Exposed so
// callers persisting chat history in the store package can run the
// same merge when they observe EventContactMigrated. Pure and
// idempotent: merging a history with itself (or a subset of itself)
// yields the original set.
func MergeChatHistories(a, b []chat.Message) []chat.Message {
	seen := make(map[string]chat.Message, len(a)+len(b))
	order := make([]string, 0, len(a)+len(b))
	for _, m := range append(append([]chat.Message(nil), a...), b...) {
		if _, ok := seen[m.ID]; !ok {
			order = append(order, m.ID)
		}
		seen[m.ID] = m
	}
	out := make([]chat.Message, 0, len(order))
	for _, id := range order {
		out = append(out, seen[id])
	}
	return out
}
