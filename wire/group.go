package wire

func init() {
	register("group-invite", func() Message { return &GroupInvite{} })
	register("group-checkin", func() Message { return &GroupCheckin{} })
	register("group-message", func() Message { return &GroupMessage{} })
	register("group-relay", func() Message { return &GroupRelay{} })
	register("group-message-ack", func() Message { return &GroupMessageAck{} })
	register("group-ack-relay", func() Message { return &GroupAckRelay{} })
	register("group-edit", func() Message { return &GroupEdit{} })
	register("group-edit-relay", func() Message { return &GroupEditRelay{} })
	register("group-delete", func() Message { return &GroupDelete{} })
	register("group-delete-relay", func() Message { return &GroupDeleteRelay{} })
	register("group-info-update", func() Message { return &GroupInfoUpdate{} })
	register("group-backfill", func() Message { return &GroupBackfill{} })
	register("group-key-distribute", func() Message { return &GroupKeyDistribute{} })
	register("group-key-rotate", func() Message { return &GroupKeyRotate{} })
	register("group-kicked", func() Message { return &GroupKicked{} })
	register("group-leave", func() Message { return &GroupLeave{} })
	register("group-call-signal", func() Message { return &GroupCallSignal{} })
	register("group-call-start", func() Message { return &GroupCallStart{} })
	register("group-call-join", func() Message { return &GroupCallJoin{} })
	register("group-call-leave", func() Message { return &GroupCallLeave{} })
}

// GroupMember mirrors one entry of group.Info.Members on the wire.
type GroupMember struct {
	Fingerprint string `json:"fingerprint"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	PublicKey   []byte `json:"public_key"`
	Address     string `json:"current_address,omitempty"`
	JoinedAt    int64  `json:"joined_at"`
}

// GroupInviteInfo is the group metadata carried alongside an invite,
// deliberately excluding the current key material (that travels
// separately, encrypted, in GroupKeyIV/GroupKeyCT).
type GroupInviteInfo struct {
	GroupID string        `json:"group_id"`
	Name    string        `json:"name"`
	Admin   string        `json:"admin"`
	Members []GroupMember `json:"members"`
}

// GroupInvite is sent by an existing member to a prospective member; the
// group key is end-to-end encrypted for the invitee using the pairwise
// key between inviter and invitee (spec.md §4.7).
type GroupInvite struct {
	GroupID    string          `json:"group_id"`
	Name       string          `json:"name"`
	InviterFP  string          `json:"inviter_fp"`
	Info       GroupInviteInfo `json:"info"`
	GroupKeyIV []byte          `json:"group_key_iv,omitempty"`
	GroupKeyCT []byte          `json:"group_key_ct,omitempty"`
}

func (*GroupInvite) Kind() string { return "group-invite" }

// GroupCheckin is sent by a member to the group's router on
// (re)connection, carrying a backfill cursor (spec.md §4.7 Backfill).
type GroupCheckin struct {
	Fingerprint string `json:"fp"`
	Name        string `json:"name"`
	PublicKey   []byte `json:"public_key"`
	Address     string `json:"address"`
	SinceTs     int64  `json:"since_ts"`
}

func (*GroupCheckin) Kind() string { return "group-checkin" }

// GroupMessage is sent by a member to the router: ciphertext only, the
// router never needs the plaintext to relay it, though it does decrypt
// a copy to store in its own history and to backfill future joiners.
type GroupMessage struct {
	ID    string `json:"id"`
	Ts    int64  `json:"ts"`
	IV    []byte `json:"iv"`
	CT    []byte `json:"ct"`
	KeyFP string `json:"key_fp"`
}

func (*GroupMessage) Kind() string { return "group-message" }

// GroupRelay is the router's opaque re-broadcast of a GroupMessage to
// every other member (spec.md §4.7 Message paths: "re-broadcasts the
// opaque ciphertext").
type GroupRelay struct {
	GroupMessage
	From string `json:"from"`
}

func (*GroupRelay) Kind() string { return "group-relay" }

// GroupMessageAck is sent by a member back to the router acknowledging
// receipt of a relayed message.
type GroupMessageAck struct {
	ID          string `json:"id"`
	Fingerprint string `json:"fp"`
}

func (*GroupMessageAck) Kind() string { return "group-message-ack" }

// GroupAckRelay is the router's relay of accumulated delivery
// acknowledgments back to the original sender, for read-receipt display.
type GroupAckRelay struct {
	ID          string   `json:"id"`
	DeliveredTo []string `json:"delivered_to"`
}

func (*GroupAckRelay) Kind() string { return "group-ack-relay" }

// GroupEdit/GroupDelete and their -relay forms mirror the 1:1
// message-edit/message-delete shape, scoped to a group's router relay.
type GroupEdit struct {
	ID        string `json:"id"`
	IV        []byte `json:"iv,omitempty"`
	CT        []byte `json:"ct,omitempty"`
	Signature []byte `json:"sig,omitempty"`
}

func (*GroupEdit) Kind() string { return "group-edit" }

type GroupEditRelay struct {
	GroupEdit
	From string `json:"from"`
}

func (*GroupEditRelay) Kind() string { return "group-edit-relay" }

type GroupDelete struct {
	ID  string `json:"id"`
	TID string `json:"tid,omitempty"`
}

func (*GroupDelete) Kind() string { return "group-delete" }

type GroupDeleteRelay struct {
	GroupDelete
	From string `json:"from"`
}

func (*GroupDeleteRelay) Kind() string { return "group-delete-relay" }

// GroupInfoUpdate broadcasts a change to group metadata (rename, role
// change) to all members.
type GroupInfoUpdate struct {
	Info GroupInviteInfo `json:"info"`
}

func (*GroupInfoUpdate) Kind() string { return "group-info-update" }

// GroupBackfill answers a GroupCheckin's since_ts with every message the
// router has with a later timestamp (spec.md §4.7 Backfill).
type GroupBackfill struct {
	Messages []GroupMessage `json:"messages"`
}

func (*GroupBackfill) Kind() string { return "group-backfill" }

// GroupKeyDistribute pushes the current group key to one member,
// encrypted under the pairwise key between the recipient and From (the
// fingerprint of whoever actually encrypted it — the admin, or
// whichever member currently holds the router role and is resending a
// key the recipient missed, spec.md §4.7 "or with the router"). To
// names the recipient's discovery address so the group's router — which
// may not be From — can relay the still-opaque blob to the right
// channel without ever seeing a plaintext key. The receiver must derive
// its pairwise key against From's public key, not always the admin's:
// after a failover to a non-admin router, those differ.
type GroupKeyDistribute struct {
	To   string `json:"to,omitempty"`
	From string `json:"from"`
	IV   []byte `json:"iv"`
	CT   []byte `json:"ct"`
}

func (*GroupKeyDistribute) Kind() string { return "group-key-distribute" }

// GroupKeyRotate is GroupKeyDistribute's counterpart sent after a
// membership change forces a new epoch (spec.md §4.7 key lifecycle).
// From carries the same sender-identification purpose as on
// GroupKeyDistribute.
type GroupKeyRotate struct {
	To   string `json:"to,omitempty"`
	From string `json:"from"`
	IV   []byte `json:"iv"`
	CT   []byte `json:"ct"`
}

func (*GroupKeyRotate) Kind() string { return "group-key-rotate" }

// GroupKicked tells the target they have been removed by the admin. To
// carries the same router-relay addressing as GroupKeyDistribute.
type GroupKicked struct {
	To string `json:"to,omitempty"`
}

func (*GroupKicked) Kind() string { return "group-kicked" }

// GroupLeave announces a voluntary departure.
type GroupLeave struct {
	Fingerprint string `json:"fp"`
	Name        string `json:"name"`
}

func (*GroupLeave) Kind() string { return "group-leave" }

// GroupCallSignal carries call negotiation (offer/answer/ICE-equivalent)
// data between mesh participants, relayed signaling-only through the
// router per spec.md §4.7 Calls.
type GroupCallSignal struct {
	CallID     string `json:"call_id"`
	SignalType string `json:"signal_type"`
	From       string `json:"from"`
	To         string `json:"to,omitempty"`
	Payload    []byte `json:"payload"`
}

func (*GroupCallSignal) Kind() string { return "group-call-signal" }

type GroupCallStart struct {
	CallID    string   `json:"call_id"`
	MediaKind CallKind `json:"kind"`
}

func (*GroupCallStart) Kind() string { return "group-call-start" }

type GroupCallJoin struct {
	CallID      string `json:"call_id"`
	Fingerprint string `json:"fp"`
}

func (*GroupCallJoin) Kind() string { return "group-call-join" }

type GroupCallLeave struct {
	CallID      string `json:"call_id"`
	Fingerprint string `json:"fp"`
}

func (*GroupCallLeave) Kind() string { return "group-call-leave" }
