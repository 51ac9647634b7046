// Package wire defines the peer-to-peer message kinds and their JSON body
// encoding. The length framing around each body lives in package
// transport; this package only owns the message body.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/kademlia-core/kadnode/id"
)

// Kind identifies the message body's shape, mirroring dht/message.go's
// MessageType enum narrowed to the core protocol plus the inert
// higher-level kinds that follow the same correlation discipline but sit
// outside the core routing protocol.
type Kind int

const (
	KindPing Kind = iota
	KindPong
	KindFindNode
	KindNodes
	KindStore      // out of core scope; declared for wire forward-compatibility
	KindFindValue  // out of core scope; declared for wire forward-compatibility
	KindFoundValue // out of core scope; declared for wire forward-compatibility
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	case KindFindNode:
		return "FIND_NODE"
	case KindNodes:
		return "NODES"
	case KindStore:
		return "STORE"
	case KindFindValue:
		return "FIND_VALUE"
	case KindFoundValue:
		return "FOUND_VALUE"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Token is the 64-bit correlation token tying a response to its request.
type Token uint64

// NodeInfo is the (id, address) pair exchanged in NODES replies.
type NodeInfo struct {
	ID   id.ID  `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Message is the decoded form of one frame. At most one of the optional
// payload fields is populated, selected by Kind (Target for FIND_NODE,
// Nodes for NODES, neither for PING/PONG).
type Message struct {
	Kind     Kind       `json:"kind"`
	SenderID id.ID      `json:"sender_id"`
	Token    Token      `json:"token"`
	Target   id.ID      `json:"target,omitempty"`
	Nodes    []NodeInfo `json:"nodes,omitempty"`
}

// Encode serializes a Message to its wire payload (pre-framing).
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	return b, nil
}

// Decode parses a wire payload (post-framing) back into a Message.
func Decode(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("wire: decode: %w", err)
	}
	return m, nil
}
