package identityrouter

import "github.com/peermesh/peermesh/contact"

// OfflineContactsWithPublicKey returns every saved contact that has a
// known public key and no currently-open channel, the exact candidate
// set the rendezvous subsystem sweeps per spec.md §4.6 ("every 60s,
// sweep offline contacts with a public key").
func (r *Router) OfflineContactsWithPublicKey() []contact.Contact {
	reply := make(chan []contact.Contact, 1)
	r.actions <- func() {
		var out []contact.Contact
		for fp, c := range r.contacts {
			if len(c.PublicKey) == 0 {
				continue
			}
			if _, open := r.channels[fp]; open {
				continue
			}
			out = append(out, c)
		}
		reply <- out
	}
	return <-reply
}
