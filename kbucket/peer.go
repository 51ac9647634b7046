package kbucket

import (
	"time"

	"github.com/kademlia-core/kadnode/id"
	"github.com/kademlia-core/kadnode/transport"
)

// Peer is a known node: its identifier, its transport address, and when it
// was last observed alive. A peer is uniquely identified by ID across the
// routing table regardless of address changes.
type Peer struct {
	ID       id.ID
	Addr     transport.Addr
	LastSeen time.Time
}
