package kbucket

import "github.com/kademlia-core/kadnode/id"

// insertionQueue is the per-bucket FIFO of candidates observed while their
// target bucket was full. Duplicate candidates for the same peer collapse
// to one entry — "most recent wins" — which this implementation realizes
// by moving a re-offered id to the back of the FIFO with its freshest Peer
// value, rather than keeping the stale copy in its original position.
type insertionQueue struct {
	order []id.ID
	byID  map[id.ID]Peer
}

func newInsertionQueue() *insertionQueue {
	return &insertionQueue{byID: make(map[id.ID]Peer)}
}

func (q *insertionQueue) push(p Peer) {
	if _, exists := q.byID[p.ID]; exists {
		q.removeID(p.ID)
	}
	q.order = append(q.order, p.ID)
	q.byID[p.ID] = p
}

func (q *insertionQueue) popFront() (Peer, bool) {
	if len(q.order) == 0 {
		return Peer{}, false
	}
	front := q.order[0]
	q.order = q.order[1:]
	p := q.byID[front]
	delete(q.byID, front)
	return p, true
}

func (q *insertionQueue) removeID(target id.ID) {
	for i, candidate := range q.order {
		if candidate == target {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	delete(q.byID, target)
}

func (q *insertionQueue) empty() bool { return len(q.order) == 0 }
