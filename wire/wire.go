// Package wire implements the type-discriminated message protocol of
// spec.md §6: every message carries a "type" field, decoded once at the
// transport boundary into a concrete Go type. Per spec.md §9 ("Dynamic
// dispatch / duck-typed messages"), nothing downstream of Decode ever
// re-inspects a message as a loose map — callers type-switch on the
// Message interface.
package wire

import (
	"encoding/json"
	"fmt"
)

// Message is implemented by every concrete wire type. Kind returns the
// string discriminator used on the wire.
type Message interface {
	Kind() string
}

// envelope is the only place this package does untyped JSON work: it
// peels off the discriminator, then re-decodes into the matching
// concrete type.
type envelope struct {
	Type string `json:"type"`
}

// Encode serializes a Message to its wire form, stamping the type
// discriminator alongside the payload fields.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(taggedPayload{Type: m.Kind(), Payload: m})
}

type taggedPayload struct {
	Type    string  `json:"type"`
	Payload Message `json:"-"`
}

// MarshalJSON flattens {type, ...payload fields} into one object,
// matching spec.md §6's "every message carries a type field" shape
// rather than a nested envelope.
func (t taggedPayload) MarshalJSON() ([]byte, error) {
	payloadJSON, err := json.Marshal(t.Payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payloadJSON, &fields); err != nil {
		return nil, err
	}
	typeJSON, _ := json.Marshal(t.Type)
	fields["type"] = typeJSON
	return json.Marshal(fields)
}

// Decode inspects the "type" discriminator and unmarshals into the
// matching concrete Message type. Unknown types return ErrUnknownType,
// which callers should log and silently ignore per spec.md §7's
// protocol-error policy.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	factory, ok := registry[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	msg := factory()
	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msg, nil
}

var registry = map[string]func() Message{}

func register(kind string, factory func() Message) {
	registry[kind] = factory
}
