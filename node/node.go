// Package node implements the node façade: a local identifier, a transport
// endpoint, a routing table, a message supervisor, and a peer-messaging
// protocol handler, wired together by a listener loop and a periodic CRON
// maintenance loop. It is grounded on dht.Node{ID, Name, Contact,
// RoutingTable, Network}'s shape and its Join/FindNode flow (dht/node.go,
// dht/algorithms.go), generalized from a blocking mock-network α=1 lookup
// to real α-parallel concurrent dispatch over supervisor-mediated timeouts.
package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kademlia-core/kadnode/id"
	"github.com/kademlia-core/kadnode/kademliacfg"
	"github.com/kademlia-core/kadnode/kbucket"
	"github.com/kademlia-core/kadnode/proto"
	"github.com/kademlia-core/kadnode/supervisor"
	"github.com/kademlia-core/kadnode/transport"
	"github.com/kademlia-core/kadnode/wire"
	"github.com/sirupsen/logrus"
)

// Node owns the local identifier and every collaborator it assembles.
// Collaborators never hold a strong back-reference to Node; they are
// handed callbacks at construction time instead.
type Node struct {
	Local id.ID
	Table *kbucket.Table
	Sup   *supervisor.Supervisor

	cfg kademliacfg.Config
	tr  transport.Transport
	log logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Node but does not start its background loops; call Run
// to do that.
func New(cfg kademliacfg.Config, tr transport.Transport, log logrus.FieldLogger) *Node {
	if log == nil {
		log = logrus.StandardLogger()
	}
	local := id.Random()
	if cfg.LocalID != nil {
		local = *cfg.LocalID
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		Local:  local,
		Table:  kbucket.New(local, cfg.K, cfg.TReq, log.WithField("component", "kbucket")),
		Sup:    supervisor.New(cfg.TSweep, log.WithField("component", "supervisor")),
		cfg:    cfg,
		tr:     tr,
		log:    log.WithField("node", local.String()),
		ctx:    ctx,
		cancel: cancel,
	}
	n.Table.SetPinger(n.ping)
	return n
}

// Run starts the listener, CRON, supervisor cleaner, and insertion-queue
// worker — the minimum set of concurrent activities a live node needs.
func (n *Node) Run() {
	n.Table.Run()
	n.Sup.Run()

	n.wg.Add(2)
	go n.listenLoop()
	go n.cronLoop()
}

// Close signals shutdown and waits for the listener and CRON loops to
// quiesce, for at most cfg.ShutdownTimeout (after which it logs a warning
// and moves on), then stops the supervisor and the insertion worker. The
// caller is responsible for closing the transport afterward.
func (n *Node) Close() {
	n.cancel()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(n.cfg.ShutdownTimeout):
		n.log.Warn("shutdown timed out waiting for listener/cron to quiesce")
	}

	n.Sup.Stop()
	n.Table.Stop()
}

func (n *Node) deps() proto.Deps {
	return proto.Deps{
		Local:      n.Local,
		K:          n.cfg.K,
		Table:      n.Table,
		Supervisor: n.Sup,
		Log:        n.log,
	}
}

// listenLoop blocks on inbound frames, decodes them, records liveness of
// the sender, and dispatches the body by kind. Decoding failures log and
// drop; they never abort the loop.
func (n *Node) listenLoop() {
	defer n.wg.Done()
	for {
		frame, from, err := n.tr.Recv(n.ctx)
		if err != nil {
			if n.ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return
			}
			n.log.WithError(err).Debug("transport receive error")
			continue
		}

		msg, err := wire.Decode(frame)
		if err != nil {
			n.log.WithError(err).Debug("frame decode failure, dropping")
			continue
		}

		n.Table.Observe(kbucket.Peer{ID: msg.SenderID, Addr: from, LastSeen: time.Now()})

		reply := proto.Handle(msg, from, n.deps())
		if reply == nil {
			continue
		}
		payload, err := wire.Encode(*reply)
		if err != nil {
			n.log.WithError(err).Debug("reply encode failure, dropping")
			continue
		}
		if err := n.tr.Send(n.ctx, from, payload); err != nil {
			n.log.WithError(err).Debug("reply send failure")
		}
	}
}

// cronLoop performs the periodic maintenance: bucket refresh for stale
// buckets, and a self-lookup to keep the near neighborhood populated.
func (n *Node) cronLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cfg.TCron)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.runMaintenance()
		}
	}
}

func (n *Node) runMaintenance() {
	horizon := time.Now().Add(-n.cfg.TStale)
	for _, idx := range n.Table.StaleBuckets(horizon) {
		target := id.RandomWithPrefix(n.Local, idx)
		n.log.WithFields(logrus.Fields{"event": "lookup_round", "reason": "bucket_refresh", "bucket": idx}).Debug("refreshing stale bucket")
		n.Lookup(n.ctx, target)
	}
	n.log.WithFields(logrus.Fields{"event": "lookup_round", "reason": "self_lookup"}).Debug("periodic self-lookup")
	n.Lookup(n.ctx, n.Local)
}

// Bootstrap seeds the table with addr's peer (learned via a PING) and then
// performs a self-lookup, the canonical Kademlia join sequence mirrored
// from a reference dht/algorithms.go Join.
func (n *Node) Bootstrap(ctx context.Context, addr transport.Addr) error {
	peer := kbucket.Peer{ID: id.ID{}, Addr: addr, LastSeen: time.Now()}
	alive := n.ping(ctx, peer)
	if !alive {
		return errors.New("node: bootstrap peer did not respond to ping")
	}
	n.Lookup(ctx, n.Local)
	return nil
}

// ping sends a PING to peer and blocks until PONG arrives or T_req
// elapses. It is kbucket.Table's PingFunc, run on the probe goroutine the
// table spawns and never while any table lock is held; Bootstrap also
// calls it directly on the caller's goroutine.
func (n *Node) ping(ctx context.Context, peer kbucket.Peer) bool {
	tok := n.Sup.NewToken()
	result := make(chan bool, 1)

	err := n.Sup.Register(tok, peer.ID, n.cfg.TReq,
		func(payload any) {
			if pong, ok := payload.(wire.Message); ok {
				n.Table.Observe(kbucket.Peer{ID: pong.SenderID, Addr: peer.Addr, LastSeen: time.Now()})
			}
			result <- true
		},
		func(id.ID) { result <- false },
	)
	if err != nil {
		n.log.WithError(err).Debug("ping: token registration failed")
		return false
	}

	msg := wire.Message{Kind: wire.KindPing, SenderID: n.Local, Token: wire.Token(tok)}
	payload, err := wire.Encode(msg)
	if err != nil {
		n.Sup.Cancel(tok)
		return false
	}
	if err := n.tr.Send(ctx, peer.Addr, payload); err != nil {
		n.Sup.Cancel(tok)
		return false
	}

	select {
	case alive := <-result:
		return alive
	case <-ctx.Done():
		n.Sup.Cancel(tok)
		return false
	}
}

// findNode sends FIND_NODE(target) to peer and blocks until NODES arrives
// or T_req elapses, reporting the returned peer list or failure.
func (n *Node) findNode(ctx context.Context, peer kbucket.Peer, target id.ID) ([]wire.NodeInfo, bool) {
	tok := n.Sup.NewToken()
	type outcome struct {
		nodes []wire.NodeInfo
		ok    bool
	}
	result := make(chan outcome, 1)

	err := n.Sup.Register(tok, peer.ID, n.cfg.TReq,
		func(payload any) {
			if resp, ok := payload.(wire.Message); ok {
				result <- outcome{nodes: resp.Nodes, ok: true}
				return
			}
			result <- outcome{ok: false}
		},
		func(id.ID) { result <- outcome{ok: false} },
	)
	if err != nil {
		return nil, false
	}

	msg := wire.Message{Kind: wire.KindFindNode, SenderID: n.Local, Token: wire.Token(tok), Target: target}
	payload, err := wire.Encode(msg)
	if err != nil {
		n.Sup.Cancel(tok)
		return nil, false
	}
	if err := n.tr.Send(ctx, peer.Addr, payload); err != nil {
		n.Sup.Cancel(tok)
		return nil, false
	}

	select {
	case out := <-result:
		return out.nodes, out.ok
	case <-ctx.Done():
		n.Sup.Cancel(tok)
		return nil, false
	}
}

// Lookup runs the canonical α-parallel iterative FIND_NODE procedure:
// maintain a shortlist of the α closest unqueried peers, dispatch them
// concurrently, merge responses, and terminate when the k closest observed
// peers have all responded or a full round adds no peer closer than
// already known. Non-responders are marked failed and removed from the
// routing table.
func (n *Node) Lookup(ctx context.Context, target id.ID) []kbucket.Peer {
	k, alpha := n.cfg.K, n.cfg.Alpha
	sl := newShortlist(target, n.Table.Closest(target, k))

	for {
		batch := sl.pickUnqueried(alpha)
		if len(batch) == 0 {
			break
		}

		type reply struct {
			peer  kbucket.Peer
			nodes []wire.NodeInfo
			ok    bool
		}
		results := make(chan reply, len(batch))
		var wgRound sync.WaitGroup
		for _, p := range batch {
			wgRound.Add(1)
			go func(p kbucket.Peer) {
				defer wgRound.Done()
				nodes, ok := n.findNode(ctx, p, target)
				results <- reply{peer: p, nodes: nodes, ok: ok}
			}(p)
		}
		wgRound.Wait()
		close(results)

		roundImproved := false
		for r := range results {
			if !r.ok {
				sl.markFailed(r.peer.ID)
				n.Table.Remove(r.peer.ID)
				continue
			}
			for _, ni := range r.nodes {
				if ni.ID == n.Local {
					continue
				}
				p := kbucket.Peer{ID: ni.ID, Addr: transport.Addr{Host: ni.Host, Port: ni.Port}, LastSeen: time.Now()}
				if sl.insert(p) {
					roundImproved = true
				}
			}
		}

		if sl.converged(k) {
			break
		}
		if !roundImproved {
			break
		}
	}

	return sl.result(k)
}
