package kbucket_test

import (
	"context"
	"testing"
	"time"

	"github.com/kademlia-core/kadnode/id"
	"github.com/kademlia-core/kadnode/kbucket"
	"github.com/kademlia-core/kadnode/transport"
	"github.com/stretchr/testify/require"
)

func mkPeer(t *testing.T, last byte, port int) kbucket.Peer {
	t.Helper()
	var pid id.ID
	pid[id.Size-1] = last
	return kbucket.Peer{ID: pid, Addr: transport.Addr{Host: "127.0.0.1", Port: port}, LastSeen: time.Now()}
}

// S1 — Fresh insert
func TestFreshInsert(t *testing.T) {
	var local id.ID // 0x00...00
	tbl := kbucket.New(local, 20, time.Second, nil)

	p := mkPeer(t, 0x01, 9001) // 0x00...01
	tbl.Observe(p)

	idx := local.CommonPrefixLen(p.ID)
	require.Equal(t, 159, idx)
	require.Equal(t, 1, tbl.BucketLen(idx))

	closest := tbl.Closest(p.ID, 1)
	require.Len(t, closest, 1)
	require.Equal(t, p.ID, closest[0].ID)
}

// S2 — Refresh ordering
func TestRefreshOrdering(t *testing.T) {
	var local id.ID
	// All three peers share the same bucket by construction below; we pick
	// k=3 so the bucket never overflows and we can observe pure reordering.
	tbl := kbucket.New(local, 3, time.Second, nil)

	mkPrefixed := func(suffix byte) kbucket.Peer {
		var pid id.ID
		pid[0] = 0x04 // common prefix length 5 with local=0x00
		pid[id.Size-1] = suffix
		return kbucket.Peer{ID: pid, Addr: transport.Addr{Host: "127.0.0.1", Port: int(suffix)}, LastSeen: time.Now()}
	}
	p1, p2, p3 := mkPrefixed(1), mkPrefixed(2), mkPrefixed(3)

	tbl.Observe(p1)
	tbl.Observe(p2)
	tbl.Observe(p3)
	tbl.Observe(p1) // refresh

	idx := local.CommonPrefixLen(p1.ID)
	all := tbl.Closest(p1.ID, 10) // order returned here is distance order, not freshness
	require.Len(t, all, 3)

	// AllPeers lists a bucket's members head first (freshness order), so the
	// refreshed p1 must now sit behind p2 and p3.
	require.Equal(t, 3, tbl.BucketLen(idx))
	got := tbl.AllPeers()
	require.Len(t, got, 3)
	require.Equal(t, []id.ID{p2.ID, p3.ID, p1.ID}, []id.ID{got[0].ID, got[1].ID, got[2].ID})
}

// S3 — Full-bucket probe, head alive
func TestFullBucketProbeHeadAlive(t *testing.T) {
	var local id.ID
	tbl := kbucket.New(local, 2, time.Second, nil)

	// 0x04, 0x05 and 0x06 all have common prefix length 157 with local, so
	// they target the same bucket.
	h := mkPeer(t, 0x04, 1)
	tl := mkPeer(t, 0x05, 2)
	n := mkPeer(t, 0x06, 3)

	tbl.Observe(h)
	tbl.Observe(tl)

	probed := make(chan id.ID, 1)
	tbl.SetPinger(func(ctx context.Context, p kbucket.Peer) bool {
		probed <- p.ID
		return true
	})
	tbl.Run()
	defer tbl.Stop()

	tbl.Observe(n)

	select {
	case got := <-probed:
		require.Equal(t, h.ID, got)
	case <-time.After(time.Second):
		t.Fatal("pinger was never invoked")
	}

	require.Eventually(t, func() bool {
		idx := local.CommonPrefixLen(h.ID)
		closest := tbl.Closest(h.ID, 10)
		return tbl.BucketLen(idx) == 2 && containsID(closest, h.ID) && containsID(closest, tl.ID) && !containsID(closest, n.ID)
	}, time.Second, 10*time.Millisecond)
}

// S4 — Full-bucket probe, head dead
func TestFullBucketProbeHeadDead(t *testing.T) {
	var local id.ID
	tbl := kbucket.New(local, 2, time.Second, nil)

	// Same-bucket peers, as in the head-alive case above.
	h := mkPeer(t, 0x04, 1)
	tl := mkPeer(t, 0x05, 2)
	n := mkPeer(t, 0x06, 3)

	tbl.Observe(h)
	tbl.Observe(tl)

	tbl.SetPinger(func(ctx context.Context, p kbucket.Peer) bool {
		return false
	})
	tbl.Run()
	defer tbl.Stop()

	tbl.Observe(n)

	require.Eventually(t, func() bool {
		closest := tbl.Closest(n.ID, 10)
		return containsID(closest, tl.ID) && containsID(closest, n.ID) && !containsID(closest, h.ID)
	}, time.Second, 10*time.Millisecond)
}

func TestClosestIsDeterministicAndDistanceSorted(t *testing.T) {
	var local id.ID
	tbl := kbucket.New(local, 20, time.Second, nil)

	for i := byte(1); i <= 5; i++ {
		tbl.Observe(mkPeer(t, i, int(i)))
	}

	target := id.ID{}
	a := tbl.Closest(target, 5)
	b := tbl.Closest(target, 5)
	require.Equal(t, a, b)

	for i := 1; i < len(a); i++ {
		require.True(t, id.Distance(a[i-1].ID, a[i].ID, target) <= 0)
	}
}

func TestClosestReturnsFewerWhenTableSmall(t *testing.T) {
	var local id.ID
	tbl := kbucket.New(local, 20, time.Second, nil)
	tbl.Observe(mkPeer(t, 0x01, 1))

	closest := tbl.Closest(id.ID{}, 10)
	require.Len(t, closest, 1)
}

func TestObserveNeverAddsLocal(t *testing.T) {
	var local id.ID
	tbl := kbucket.New(local, 20, time.Second, nil)
	tbl.Observe(kbucket.Peer{ID: local, Addr: transport.Addr{Host: "x", Port: 1}})
	require.Empty(t, tbl.AllPeers())
}

func TestIdempotentObserveLeavesMembershipUnchanged(t *testing.T) {
	var local id.ID
	tbl := kbucket.New(local, 20, time.Second, nil)
	p := mkPeer(t, 0x01, 1)
	tbl.Observe(p)
	tbl.Observe(p)
	tbl.Observe(p)

	idx := local.CommonPrefixLen(p.ID)
	require.Equal(t, 1, tbl.BucketLen(idx))
}

func TestRemoveEvicts(t *testing.T) {
	var local id.ID
	tbl := kbucket.New(local, 20, time.Second, nil)
	p := mkPeer(t, 0x01, 1)
	tbl.Observe(p)
	tbl.Remove(p.ID)
	require.Empty(t, tbl.AllPeers())
}

func containsID(peers []kbucket.Peer, target id.ID) bool {
	for _, p := range peers {
		if p.ID == target {
			return true
		}
	}
	return false
}
