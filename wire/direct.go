package wire

func init() {
	register("hello", func() Message { return &Hello{} })
	register("message", func() Message { return &ChatMessage{} })
	register("message-ack", func() Message { return &MessageAck{} })
	register("message-edit", func() Message { return &MessageEdit{} })
	register("message-delete", func() Message { return &MessageDelete{} })
	register("name-update", func() Message { return &NameUpdate{} })
}

// Hello opens a direct session between two already-introduced peers.
type Hello struct {
	FriendlyName string `json:"friendly_name"`
	PublicKey    []byte `json:"public_key"`
	Ts           int64  `json:"ts"`
	Signature    []byte `json:"signature"`
}

func (*Hello) Kind() string { return "hello" }

// ChatMessage carries either an E2E-encrypted payload (IV/CT/Sig set)
// or, only before E2E has ever been established for this peer, a
// plaintext fallback (Content set) per spec.md §7's crypto-error policy.
type ChatMessage struct {
	ID        string `json:"id"`
	Ts        int64  `json:"ts"`
	IV        []byte `json:"iv,omitempty"`
	CT        []byte `json:"ct,omitempty"`
	Signature []byte `json:"sig,omitempty"`
	E2E       bool   `json:"e2e"`
	Content   string `json:"content,omitempty"`
}

func (*ChatMessage) Kind() string { return "message" }

// MessageAck acknowledges delivery of a ChatMessage by id.
type MessageAck struct {
	ID string `json:"id"`
}

func (*MessageAck) Kind() string { return "message-ack" }

// MessageEdit replaces the body of a previously sent message.
type MessageEdit struct {
	ID        string `json:"id"`
	IV        []byte `json:"iv,omitempty"`
	CT        []byte `json:"ct,omitempty"`
	Content   string `json:"content,omitempty"`
	Signature []byte `json:"sig,omitempty"`
}

func (*MessageEdit) Kind() string { return "message-edit" }

// MessageDelete tombstones a previously sent message, optionally with
// an associated file transfer id to delete alongside it.
type MessageDelete struct {
	ID  string `json:"id"`
	TID string `json:"tid,omitempty"`
}

func (*MessageDelete) Kind() string { return "message-delete" }

// NameUpdate notifies a peer of a friendly-name change.
type NameUpdate struct {
	Name string `json:"name"`
}

func (*NameUpdate) Kind() string { return "name-update" }
