// Package contact implements the Contact data model of spec.md §3: a
// remote identity the local user has accepted, keyed by fingerprint.
package contact

import (
	"errors"
	"time"

	"github.com/peermesh/peermesh/identity"
)

// Pending tracks a contact request's direction before it's accepted.
type Pending int

const (
	PendingNone Pending = iota
	PendingOutgoing
	PendingIncoming
)

// ErrInvariant is returned by Validate when a Contact violates one of
// spec.md §3's Contact invariants.
var ErrInvariant = errors.New("contact: invariant violated")

// Contact mirrors spec.md §3's Contact exactly, plus a cached
// shared-key fingerprint used by the identity router's cache-recovery
// path (spec.md §4.5).
type Contact struct {
	Fingerprint          string
	FriendlyName         string
	PublicKey            []byte
	CurrentAddress       string
	KnownAddresses       []string
	SharedKeyFingerprint string // cache of identity.FingerprintKey(derived shared key); empty if not yet derived
	Pending              Pending
	LastSeen             time.Time
}

// Validate checks the three invariants from spec.md §3:
// (a) the key is the fingerprint of PublicKey if present;
// (b) CurrentAddress is a member of KnownAddresses;
// (c) Pending == outgoing implies no shared key cached yet.
func (c Contact) Validate() error {
	if len(c.PublicKey) > 0 {
		if identity.Fingerprint(c.PublicKey) != c.Fingerprint {
			return ErrInvariant
		}
	}
	if c.CurrentAddress != "" {
		found := false
		for _, a := range c.KnownAddresses {
			if a == c.CurrentAddress {
				found = true
				break
			}
		}
		if !found {
			return ErrInvariant
		}
	}
	if c.Pending == PendingOutgoing && c.SharedKeyFingerprint != "" {
		return ErrInvariant
	}
	return nil
}

// WithAddress returns a copy of c with address recorded as current and
// appended to KnownAddresses if new.
func (c Contact) WithAddress(address string) Contact {
	c.CurrentAddress = address
	c.LastSeen = time.Now()
	for _, a := range c.KnownAddresses {
		if a == address {
			return c
		}
	}
	c.KnownAddresses = append(append([]string(nil), c.KnownAddresses...), address)
	return c
}
