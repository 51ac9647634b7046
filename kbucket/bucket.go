package kbucket

import "github.com/kademlia-core/kadnode/id"

// bucket is a freshness-ordered list of at most k peers: head is the
// least-recently-seen entry, tail the most-recently-seen. It owns no lock
// of its own — Table's single mutex protects every bucket, matching
// dht/kbucket.go's Update/GetContacts shape, generalized from a per-bucket
// mutex to the table-wide one.
type bucket struct {
	k       int
	members []Peer
}

func newBucket(k int) *bucket {
	return &bucket{k: k, members: make([]Peer, 0, k)}
}

func (b *bucket) len() int { return len(b.members) }

func (b *bucket) full() bool { return len(b.members) >= b.k }

func (b *bucket) indexOf(target id.ID) int {
	for i, m := range b.members {
		if m.ID == target {
			return i
		}
	}
	return -1
}

// touch moves an existing member to the tail with the new Peer value
// (refreshed LastSeen/Addr). Reports whether the peer was present.
func (b *bucket) touch(p Peer) bool {
	i := b.indexOf(p.ID)
	if i < 0 {
		return false
	}
	b.members = append(b.members[:i], b.members[i+1:]...)
	b.members = append(b.members, p)
	return true
}

// append adds p to the tail unconditionally. Callers must check capacity
// first; append never evicts.
func (b *bucket) append(p Peer) {
	b.members = append(b.members, p)
}

func (b *bucket) head() (Peer, bool) {
	if len(b.members) == 0 {
		return Peer{}, false
	}
	return b.members[0], true
}

func (b *bucket) remove(target id.ID) bool {
	i := b.indexOf(target)
	if i < 0 {
		return false
	}
	b.members = append(b.members[:i], b.members[i+1:]...)
	return true
}

// snapshot returns a defensive copy of the current members.
func (b *bucket) snapshot() []Peer {
	out := make([]Peer, len(b.members))
	copy(out, b.members)
	return out
}
