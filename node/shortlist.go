package node

import (
	"sort"
	"sync"

	"github.com/kademlia-core/kadnode/id"
	"github.com/kademlia-core/kadnode/kbucket"
)

// shortlistEntry tracks one candidate's query status during an iterative
// lookup, grounded on dht/lookup.go and dht/algorithms.go's LookupState
// (Shortlist + Contacted map), generalized to additionally track query
// failure so failed peers can be excluded and reported to the routing
// table.
type shortlistEntry struct {
	peer    kbucket.Peer
	queried bool
	failed  bool
}

// shortlist is the α-parallel iterative-lookup candidate set, sorted by
// ascending distance to target.
type shortlist struct {
	target id.ID

	mu      sync.Mutex
	entries []*shortlistEntry
	seen    map[id.ID]*shortlistEntry
}

func newShortlist(target id.ID, seed []kbucket.Peer) *shortlist {
	sl := &shortlist{target: target, seen: make(map[id.ID]*shortlistEntry)}
	for _, p := range seed {
		sl.insert(p)
	}
	return sl
}

// insert adds p if unseen. It reports whether p is now the closest
// non-failed entry in the shortlist — the "closer peer than already
// known" signal a lookup terminates on the absence of.
func (sl *shortlist) insert(p kbucket.Peer) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if _, ok := sl.seen[p.ID]; ok {
		return false
	}
	e := &shortlistEntry{peer: p}
	sl.seen[p.ID] = e
	sl.entries = append(sl.entries, e)
	sl.resortLocked()

	return sl.closestAliveLocked() == e
}

func (sl *shortlist) resortLocked() {
	sort.Slice(sl.entries, func(i, j int) bool {
		d := id.Distance(sl.entries[i].peer.ID, sl.entries[j].peer.ID, sl.target)
		if d != 0 {
			return d < 0
		}
		return sl.entries[i].peer.ID.Less(sl.entries[j].peer.ID)
	})
}

func (sl *shortlist) closestAliveLocked() *shortlistEntry {
	for _, e := range sl.entries {
		if !e.failed {
			return e
		}
	}
	return nil
}

// pickUnqueried returns up to n candidates that are neither queried nor
// failed, marking them queried so a concurrent caller never double-picks
// the same entry.
func (sl *shortlist) pickUnqueried(n int) []kbucket.Peer {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	var out []kbucket.Peer
	for _, e := range sl.entries {
		if len(out) >= n {
			break
		}
		if e.queried || e.failed {
			continue
		}
		e.queried = true
		out = append(out, e.peer)
	}
	return out
}

func (sl *shortlist) markFailed(peerID id.ID) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if e, ok := sl.seen[peerID]; ok {
		e.failed = true
	}
}

// aliveClosest returns up to k non-failed entries, closest first.
func (sl *shortlist) aliveClosest(k int) []*shortlistEntry {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	var out []*shortlistEntry
	for _, e := range sl.entries {
		if e.failed {
			continue
		}
		out = append(out, e)
		if len(out) >= k {
			break
		}
	}
	return out
}

// converged reports whether the k closest observed (non-failed) peers
// have all been successfully queried — termination condition (a).
func (sl *shortlist) converged(k int) bool {
	for _, e := range sl.aliveClosest(k) {
		if !e.queried {
			return false
		}
	}
	return true
}

// hasUnqueried reports whether any non-failed candidate remains unqueried.
func (sl *shortlist) hasUnqueried() bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	for _, e := range sl.entries {
		if !e.queried && !e.failed {
			return true
		}
	}
	return false
}

// result returns the k closest observed non-failed peers, distance-sorted.
func (sl *shortlist) result(k int) []kbucket.Peer {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	var out []kbucket.Peer
	for _, e := range sl.entries {
		if e.failed {
			continue
		}
		out = append(out, e.peer)
		if len(out) >= k {
			break
		}
	}
	return out
}
