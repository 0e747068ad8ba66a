package group

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/peermesh/peermesh/identity"
	"github.com/peermesh/peermesh/namespace"
	"github.com/peermesh/peermesh/namespace/drivers"
	"github.com/peermesh/peermesh/signaling"
	"github.com/peermesh/peermesh/transport"
	"github.com/peermesh/peermesh/wire"
)

// groupKeySize is the AES-256-GCM key size spec.md §4.1 mandates for
// every symmetric secret in this system.
const groupKeySize = 32

// Create starts a brand new group with the local identity as its sole
// member and permanent admin (spec.md §4.7: admin is the creator and
// that never changes).
func Create(im *identity.Manager, dialer transport.Dialer, gate *signaling.Gate, prefix string, cst namespace.Constants, selfUUID, selfName string, selfPub []byte, name string) (*Manager, error) {
	key := make([]byte, groupKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("group: generating key: %v", err)
	}
	gid := drivers.NewGroupID()
	selfFP := identity.Fingerprint(selfPub)

	info := Info{
		GroupID: gid,
		Name:    name,
		Admin:   selfFP,
		Members: map[string]Member{
			selfFP: {
				Fingerprint: selfFP,
				Name:        selfName,
				Role:        RoleAdmin,
				PublicKey:   selfPub,
				JoinedAt:    time.Now(),
			},
		},
		CurrentKey: key,
	}

	cfg := drivers.NewGroupConfig(prefix, gid)
	return newManager(im, dialer, gate, cfg, cst, selfUUID, selfFP, selfName, selfPub, info), nil
}

// BuildInvite prepares a GroupInvite for a prospective member, end-to-
// end encrypting the current group key under the pairwise key shared
// with that invitee (spec.md §4.7). Only the admin may invite.
func (m *Manager) BuildInvite(inviteePub []byte) (*wire.GroupInvite, error) {
	type result struct {
		inv *wire.GroupInvite
		err error
	}
	reply := make(chan result, 1)
	m.actions <- func() {
		inv, err := m.buildInvite(inviteePub)
		reply <- result{inv, err}
	}
	r := <-reply
	return r.inv, r.err
}

func (m *Manager) buildInvite(inviteePub []byte) (*wire.GroupInvite, error) {
	if m.selfFP != m.info.Admin {
		return nil, ErrNotAdmin
	}
	pairKey, err := m.im.DeriveShared(inviteePub)
	if err != nil {
		return nil, err
	}
	iv, ct, err := identity.Encrypt(pairKey, m.info.CurrentKey)
	if err != nil {
		return nil, err
	}
	// Membership is committed as soon as the invite is built, not on
	// some later acceptance message that doesn't exist on the wire:
	// the invitee's first GroupCheckin needs to already find itself in
	// the admin's roster rather than be rejected as unrecognized.
	inviteeFP := identity.Fingerprint(inviteePub)
	if _, known := m.info.Members[inviteeFP]; !known {
		m.info.Members[inviteeFP] = Member{Fingerprint: inviteeFP, Role: RoleMember, PublicKey: inviteePub}
	}
	return &wire.GroupInvite{
		GroupID:    m.info.GroupID,
		Name:       m.info.Name,
		InviterFP:  m.selfFP,
		Info:       m.inviteInfoLocked(),
		GroupKeyIV: iv,
		GroupKeyCT: ct,
	}, nil
}

// inviteInfoLocked snapshots the group's public metadata (everything a
// GroupInvite or GroupInfoUpdate carries except key material).
func (m *Manager) inviteInfoLocked() wire.GroupInviteInfo {
	members := make([]wire.GroupMember, 0, len(m.info.Members))
	for _, mem := range m.info.Members {
		members = append(members, wire.GroupMember{
			Fingerprint: mem.Fingerprint,
			Name:        mem.Name,
			Role:        string(mem.Role),
			PublicKey:   mem.PublicKey,
			Address:     mem.Address,
			JoinedAt:    mem.JoinedAt.Unix(),
		})
	}
	return wire.GroupInviteInfo{
		GroupID: m.info.GroupID,
		Name:    m.info.Name,
		Admin:   m.info.Admin,
		Members: members,
	}
}

// JoinFromInvite decrypts inv's group key using the pairwise key
// shared with the inviter and builds a Manager for the newly joined
// group. Delivering inv itself rides an already-established 1:1
// channel (identityrouter); that transport is out of this package's
// scope, matching how rendezvous hands off to identityrouter rather
// than reimplementing contact messaging.
func JoinFromInvite(im *identity.Manager, dialer transport.Dialer, gate *signaling.Gate, prefix string, cst namespace.Constants, selfUUID, selfName string, selfPub []byte, inv *wire.GroupInvite, inviterPub []byte) (*Manager, error) {
	pairKey, err := im.DeriveShared(inviterPub)
	if err != nil {
		return nil, err
	}
	key, err := identity.Decrypt(pairKey, inv.GroupKeyIV, inv.GroupKeyCT)
	if err != nil {
		return nil, err
	}
	selfFP := identity.Fingerprint(selfPub)

	members := make(map[string]Member, len(inv.Info.Members)+1)
	for _, wm := range inv.Info.Members {
		members[wm.Fingerprint] = Member{
			Fingerprint: wm.Fingerprint,
			Name:        wm.Name,
			Role:        Role(wm.Role),
			PublicKey:   wm.PublicKey,
			Address:     wm.Address,
			JoinedAt:    time.Unix(wm.JoinedAt, 0),
		}
	}
	members[selfFP] = Member{
		Fingerprint: selfFP,
		Name:        selfName,
		Role:        RoleMember,
		PublicKey:   selfPub,
		JoinedAt:    time.Now(),
	}

	info := Info{
		GroupID:    inv.Info.GroupID,
		Name:       inv.Info.Name,
		Admin:      inv.Info.Admin,
		Members:    members,
		CurrentKey: key,
	}

	cfg := drivers.NewGroupConfig(prefix, inv.Info.GroupID)
	return newManager(im, dialer, gate, cfg, cst, selfUUID, selfFP, selfName, selfPub, info), nil
}
