// Package proto implements the stateless protocol handlers: pure functions
// mapping an inbound message to an outbound response and/or a supervisor
// dispatch. A handler's only state mutation is through the Deps it is
// given — it never holds a back-reference to the owning Node.
package proto

import (
	"github.com/kademlia-core/kadnode/id"
	"github.com/kademlia-core/kadnode/kbucket"
	"github.com/kademlia-core/kadnode/supervisor"
	"github.com/kademlia-core/kadnode/transport"
	"github.com/kademlia-core/kadnode/wire"
	"github.com/sirupsen/logrus"
)

// Deps bundles exactly the collaborators a handler is allowed to touch.
type Deps struct {
	Local      id.ID
	K          int
	Table      *kbucket.Table
	Supervisor *supervisor.Supervisor
	Log        logrus.FieldLogger
}

// Handle dispatches an inbound message by kind and returns the reply frame
// to send back to from, or nil if the message produces no reply.
// Routing-table observation of the sender happens in the listener
// before Handle is called — every inbound frame counts as liveness
// evidence regardless of kind, which is a listener-level concern, not a
// per-handler one.
func Handle(msg wire.Message, from transport.Addr, deps Deps) *wire.Message {
	switch msg.Kind {
	case wire.KindPing:
		return handlePing(msg, deps)
	case wire.KindPong:
		handlePong(msg, deps)
		return nil
	case wire.KindFindNode:
		return handleFindNode(msg, from, deps)
	case wire.KindNodes:
		handleNodes(msg, deps)
		return nil
	default:
		if deps.Log != nil {
			deps.Log.WithFields(logrus.Fields{"event": "protocol_violation", "kind": msg.Kind.String()}).Debug("unhandled message kind")
		}
		return nil
	}
}

func handlePing(msg wire.Message, deps Deps) *wire.Message {
	return &wire.Message{Kind: wire.KindPong, SenderID: deps.Local, Token: msg.Token}
}

func handlePong(msg wire.Message, deps Deps) {
	deps.Supervisor.Deliver(supervisor.Token(msg.Token), msg)
}

func handleFindNode(msg wire.Message, from transport.Addr, deps Deps) *wire.Message {
	closest := deps.Table.Closest(msg.Target, deps.K)
	nodes := make([]wire.NodeInfo, 0, len(closest))
	for _, p := range closest {
		nodes = append(nodes, wire.NodeInfo{ID: p.ID, Host: p.Addr.Host, Port: p.Addr.Port})
	}
	return &wire.Message{Kind: wire.KindNodes, SenderID: deps.Local, Token: msg.Token, Nodes: nodes}
}

func handleNodes(msg wire.Message, deps Deps) {
	deps.Supervisor.Deliver(supervisor.Token(msg.Token), msg)
}
