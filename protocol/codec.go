package protocol

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// EncodeEnvelope serializes a ResponseEnvelope for the wire. A nil Images
// slice is normalized to empty so receivers always see an array.
func EncodeEnvelope(env ResponseEnvelope) ([]byte, error) {
	if env.Images == nil {
		env.Images = []string{}
	}
	data, err := sonic.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %q envelope: %w", env.Type, err)
	}
	return data, nil
}

// DecodeClientMessage parses an inbound event. A message carrying an
// unrecognized command is rejected here so downstream dispatch can match
// exhaustively.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("protocol: unmarshal client message: %w", err)
	}
	if msg.Command != "" && !msg.Command.Valid() {
		return ClientMessage{}, fmt.Errorf("protocol: unknown command %q", msg.Command)
	}
	return msg, nil
}
