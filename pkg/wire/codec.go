// Package wire encodes envelopes for transports that cross a process
// boundary.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/wndlink/wndlink/pkg/domain/message"
)

// Codec converts envelopes to and from frames.
type Codec interface {
	// Name is the config value selecting this codec.
	Name() string
	// Binary reports whether frames are binary rather than text.
	Binary() bool
	Marshal(env message.Envelope) ([]byte, error)
	Unmarshal(data []byte) (message.Envelope, error)
}

// ByName resolves the messaging.codec config value.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// JSONCodec writes text frames.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }
func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Marshal(env message.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (JSONCodec) Unmarshal(data []byte) (message.Envelope, error) {
	var env message.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return message.Envelope{}, fmt.Errorf("decode json frame: %w", err)
	}
	return env, validate(env)
}

// MsgpackCodec writes binary frames.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }
func (MsgpackCodec) Binary() bool { return true }

func (MsgpackCodec) Marshal(env message.Envelope) ([]byte, error) {
	return msgpack.Marshal(env)
}

func (MsgpackCodec) Unmarshal(data []byte) (message.Envelope, error) {
	var env message.Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return message.Envelope{}, fmt.Errorf("decode msgpack frame: %w", err)
	}
	return env, validate(env)
}

// validate rejects frames that cannot be routed.
func validate(env message.Envelope) error {
	if env.Type == "" {
		return message.ErrEmptyType
	}
	if env.Subtype == "" {
		return message.ErrEmptySubtype
	}
	if !env.Subtype.Valid() {
		return message.ErrInvalidSubtype
	}
	return nil
}
