package swarm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/libp2p/go-libp2p-core/network"
	"github.com/qri-io/jsonschema"
)

// envelopeSchema enforces spec.md §9's "strict tagged-variant decoder"
// design note: a frame missing "type" or carrying a non-string "keys"
// entry is rejected outright rather than silently defaulted.
var envelopeSchema = jsonschema.Must(`{
	"$schema": "http://json-schema.org/draft-06/schema#",
	"title": "hypermergeExtensionMessage",
	"type": "object",
	"required": ["type"],
	"properties": {
		"type": {"type": "string", "minLength": 1},
		"keys": {"type": "array", "items": {"type": "string"}}
	}
}`)

// MessageType enumerates the extension messages carried on the
// hypermerge channel. spec.md §4.6 defines exactly one.
type MessageType string

// MtFeedsShared is the sole message type spec.md's extension channel
// carries: a peer announcing which logs (by ActorId) it holds locally.
const MtFeedsShared = MessageType("FEEDS_SHARED")

// Message is the wire shape of every frame sent on ProtocolID, newline
// delimited JSON matching the request/response Message shape qri's p2p
// package used for its own extension messages (p2p/message_test.go).
type Message struct {
	Type MessageType `json:"type"`
	Keys []string    `json:"keys,omitempty"`
}

func writeMessage(s network.Stream, msg Message) error {
	enc := json.NewEncoder(s)
	if err := enc.Encode(msg); err != nil {
		return fmt.Errorf("encoding hypermerge message: %w", err)
	}
	return nil
}

func readMessage(s network.Stream) (Message, error) {
	dec := json.NewDecoder(bufio.NewReader(s))
	var envelope json.RawMessage
	if err := dec.Decode(&envelope); err != nil {
		return Message{}, fmt.Errorf("decoding hypermerge message: %w", err)
	}

	if errs, err := envelopeSchema.ValidateBytes(context.Background(), envelope); err != nil {
		return Message{}, fmt.Errorf("validating hypermerge message: %w", err)
	} else if len(errs) > 0 {
		return Message{}, fmt.Errorf("malformed hypermerge message: %s", errs[0])
	}

	var msg Message
	if err := json.Unmarshal(envelope, &msg); err != nil {
		return Message{}, fmt.Errorf("decoding hypermerge message: %w", err)
	}
	return msg, nil
}
