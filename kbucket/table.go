// Package kbucket implements the Kademlia routing table: 160 freshness-
// ordered k-buckets indexed by common-prefix length with the local
// identifier, plus the deferred-insertion discipline a full bucket needs
// (queue a candidate, probe the bucket head, reconcile on the result). It
// is grounded on dht/kbucket.go (per-bucket Update/GetContacts),
// dht/routing_table.go and dht/routing.go (the
// RoutingTable/GetBucketIndex/GetClosestNodes shape), generalized from a
// "drop the newcomer when full" simplification to a probe-then-replace
// discipline, itself grounded on ping_db.py's two-step liveness check.
package kbucket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kademlia-core/kadnode/id"
	"github.com/sirupsen/logrus"
)

// NumBuckets is the number of k-buckets: one per possible common-prefix
// length with a 160-bit identifier.
const NumBuckets = id.Size * 8

// PingFunc probes a peer for liveness. It must not hold any Table lock and
// may block — the insertion worker always calls it from its own goroutine,
// never from inside Observe or OnProbeResult.
type PingFunc func(ctx context.Context, peer Peer) bool

// Table is the Kademlia routing table rooted at Local. The zero value is
// not usable; construct with New.
type Table struct {
	Local id.ID
	k     int
	log   logrus.FieldLogger

	mu      sync.Mutex
	buckets [NumBuckets]*bucket
	queues  [NumBuckets]*insertionQueue
	probing [NumBuckets]bool
	touched [NumBuckets]time.Time

	pinger   PingFunc
	probeTTL time.Duration

	wake   chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

// New creates a routing table for the given local identifier. k is the
// per-bucket capacity; probeTTL bounds how long a liveness probe against a
// bucket head may run before being treated as a timeout by the
// caller-supplied pinger itself (Table does not enforce the deadline beyond
// passing it through ctx).
func New(local id.ID, k int, probeTTL time.Duration, log logrus.FieldLogger) *Table {
	if log == nil {
		log = logrus.StandardLogger()
	}
	t := &Table{
		Local:    local,
		k:        k,
		log:      log,
		probeTTL: probeTTL,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for i := range t.buckets {
		t.buckets[i] = newBucket(k)
		t.queues[i] = newInsertionQueue()
	}
	return t
}

// SetPinger installs the liveness-probe callback used by the insertion
// worker. It must be called before Run.
func (t *Table) SetPinger(p PingFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pinger = p
}

// Run starts the background insertion-queue worker.
func (t *Table) Run() {
	go t.workerLoop()
}

// Stop signals the worker to exit at its next wakeup and waits for it.
func (t *Table) Stop() {
	close(t.stop)
	<-t.done
}

func (t *Table) bucketIndex(other id.ID) int {
	return id.BucketIndex(t.Local, other)
}

// Observe is the total, never-failing entry point for any inbound evidence
// of liveness of peer.
func (t *Table) Observe(peer Peer) {
	if peer.ID == t.Local {
		return // the local id never appears in any bucket
	}
	idx := t.bucketIndex(peer.ID)

	t.mu.Lock()
	b := t.buckets[idx]
	t.touched[idx] = time.Now()

	if b.touch(peer) {
		t.mu.Unlock()
		t.log.WithFields(logrus.Fields{"event": "observe", "peer": peer.ID, "bucket": idx, "action": "refresh"}).Debug("peer refreshed")
		return
	}

	if !b.full() {
		b.append(peer)
		t.mu.Unlock()
		t.log.WithFields(logrus.Fields{"event": "insert", "peer": peer.ID, "bucket": idx}).Debug("peer inserted")
		return
	}

	t.queues[idx].push(peer)
	needProbe := !t.probing[idx]
	var head Peer
	if needProbe {
		head, _ = b.head()
		t.probing[idx] = true
	}
	t.mu.Unlock()

	t.log.WithFields(logrus.Fields{"event": "observe", "peer": peer.ID, "bucket": idx, "action": "queued"}).Debug("bucket full, candidate queued")
	if needProbe {
		t.dispatchProbe(idx, head)
	}
}

// dispatchProbe issues a liveness probe against head on its own goroutine
// and feeds the outcome back through OnProbeResult. Never called with the
// table lock held.
func (t *Table) dispatchProbe(idx int, head Peer) {
	t.log.WithFields(logrus.Fields{"event": "probe_sent", "peer": head.ID, "bucket": idx}).Debug("probing bucket head")
	go func() {
		alive := false
		t.mu.Lock()
		pinger := t.pinger
		t.mu.Unlock()
		if pinger != nil {
			ctx := context.Background()
			var cancel context.CancelFunc
			if t.probeTTL > 0 {
				ctx, cancel = context.WithTimeout(ctx, t.probeTTL)
			}
			alive = pinger(ctx, head)
			if cancel != nil {
				cancel()
			}
		}
		t.log.WithFields(logrus.Fields{"event": "probe_result", "peer": head.ID, "bucket": idx, "alive": alive}).Debug("probe complete")
		t.OnProbeResult(head, alive)
	}()
}

// OnProbeResult reconciles the outcome of a liveness probe against a
// bucket head. It is the sole place eviction/admission from the insertion
// queue happens.
func (t *Table) OnProbeResult(head Peer, alive bool) {
	idx := t.bucketIndex(head.ID)

	t.mu.Lock()
	b := t.buckets[idx]
	q := t.queues[idx]

	if alive {
		b.touch(head) // no-op if head was removed out-of-band; discard the queued candidate either way
		q.popFront()
	} else {
		b.remove(head.ID)
		if next, ok := q.popFront(); ok {
			b.append(next)
		}
	}
	t.probing[idx] = false
	t.mu.Unlock()

	t.wakeWorker()
}

func (t *Table) wakeWorker() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// workerLoop is the insertion-queue worker: it drains queued candidates
// whenever a bucket has free space, and starts exactly one probe per
// bucket when a queue is non-empty and the bucket is still full. It is
// woken by OnProbeResult/Remove instead of polling; Observe starts its own
// probe directly.
func (t *Table) workerLoop() {
	defer close(t.done)
	for {
		select {
		case <-t.stop:
			t.drainAdmitsOnly()
			return
		case <-t.wake:
			t.drainOnce()
		}
	}
}

// drainOnce admits any candidates that fit directly, and kicks off a probe
// for any bucket that is still full but has a waiting candidate and no
// in-flight probe.
func (t *Table) drainOnce() {
	type pending struct {
		idx  int
		head Peer
	}
	var toProbe []pending

	t.mu.Lock()
	for idx := 0; idx < NumBuckets; idx++ {
		q := t.queues[idx]
		b := t.buckets[idx]
		for !q.empty() && !b.full() {
			next, _ := q.popFront()
			b.append(next)
			t.log.WithFields(logrus.Fields{"event": "insert", "peer": next.ID, "bucket": idx, "from": "insertion_queue"}).Debug("queued candidate admitted")
		}
		if !q.empty() && b.full() && !t.probing[idx] {
			head, ok := b.head()
			if ok {
				t.probing[idx] = true
				toProbe = append(toProbe, pending{idx: idx, head: head})
			}
		}
	}
	t.mu.Unlock()

	for _, p := range toProbe {
		t.dispatchProbe(p.idx, p.head)
	}
}

// drainAdmitsOnly runs once at shutdown: it admits anything that fits
// without capacity contention but issues no new probes.
func (t *Table) drainAdmitsOnly() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for idx := 0; idx < NumBuckets; idx++ {
		q := t.queues[idx]
		b := t.buckets[idx]
		for !q.empty() && !b.full() {
			next, _ := q.popFront()
			b.append(next)
		}
	}
}

// Closest returns up to count peers ordered by ascending distance to
// target. It scans every bucket because the flat, unsplit layout gives no
// cheaper way to find the globally closest peers than a full sort.
func (t *Table) Closest(target id.ID, count int) []Peer {
	t.mu.Lock()
	var all []Peer
	for _, b := range t.buckets {
		all = append(all, b.snapshot()...)
	}
	t.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		d := id.Distance(all[i].ID, all[j].ID, target)
		if d != 0 {
			return d < 0
		}
		return all[i].ID.Less(all[j].ID)
	})

	if len(all) > count {
		all = all[:count]
	}
	return all
}

// Remove unconditionally evicts peerID from whatever bucket it occupies,
// used on definitive failures (e.g. a lookup's non-responder).
func (t *Table) Remove(peerID id.ID) {
	if peerID == t.Local {
		return
	}
	idx := t.bucketIndex(peerID)
	t.mu.Lock()
	removed := t.buckets[idx].remove(peerID)
	t.mu.Unlock()
	if removed {
		t.log.WithFields(logrus.Fields{"event": "evict", "peer": peerID, "bucket": idx}).Debug("peer removed")
		t.wakeWorker()
	}
}

// AllPeers returns a snapshot of every peer currently in the table, for
// CRON bucket refresh.
func (t *Table) AllPeers() []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	var all []Peer
	for _, b := range t.buckets {
		all = append(all, b.snapshot()...)
	}
	return all
}

// StaleBuckets returns the index of every bucket whose most recent Observe
// predates the given horizon, for the bucket-refresh CRON step. A bucket
// that has never been observed into counts as stale, empty or not: its
// refresh target is a random id in its prefix, which needs no members.
func (t *Table) StaleBuckets(horizon time.Time) []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var stale []int
	for idx := range t.buckets {
		if t.touched[idx].Before(horizon) {
			stale = append(stale, idx)
		}
	}
	return stale
}

// BucketLen reports how many peers occupy bucket idx, for tests and
// diagnostics.
func (t *Table) BucketLen(idx int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buckets[idx].len()
}
