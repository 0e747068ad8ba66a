package wire

func init() {
	register("rvz-exchange", func() Message { return &RendezvousExchange{} })
}

// RendezvousExchange is exchanged once two peers find each other on a
// shared rendezvous namespace (spec.md §4.6): it carries a signed
// timestamp so the receiver can reject spoofed addresses per spec.md §6's
// "sender's address is not to be trusted on its own" invariant.
type RendezvousExchange struct {
	Address      string `json:"address"`
	FriendlyName string `json:"friendly_name"`
	PublicKey    []byte `json:"public_key"`
	Ts           int64  `json:"ts"`
	Signature    []byte `json:"signature"`
}

func (*RendezvousExchange) Kind() string { return "rvz-exchange" }
