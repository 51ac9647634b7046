package id_test

import (
	"testing"

	"github.com/kademlia-core/kadnode/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXorSelfIsZero(t *testing.T) {
	a := id.Random()
	assert.Equal(t, id.Zero, a.Xor(a))
}

func TestCommonPrefixLen(t *testing.T) {
	var a, b id.ID
	a[0] = 0x00
	b[0] = 0x80 // differ at the top bit
	assert.Equal(t, 0, a.CommonPrefixLen(b))

	b[0] = 0x40 // differ at the second bit
	assert.Equal(t, 1, a.CommonPrefixLen(b))

	assert.Equal(t, id.Size*8, a.CommonPrefixLen(a))
}

func TestBucketIndexPanicsOnSelf(t *testing.T) {
	a := id.Random()
	assert.Panics(t, func() { id.BucketIndex(a, a) })
}

func TestDeriveIsDeterministic(t *testing.T) {
	a := id.Derive("node-1")
	b := id.Derive("node-1")
	c := id.Derive("node-2")
	require.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestDistanceOrdering(t *testing.T) {
	var target, near, far id.ID
	near[19] = 0x01
	far[19] = 0x02
	assert.Equal(t, -1, id.Distance(near, far, target))
	assert.Equal(t, 1, id.Distance(far, near, target))
	assert.Equal(t, 0, id.Distance(near, near, target))
}

func TestRandomWithPrefix(t *testing.T) {
	local := id.Random()
	for _, prefixLen := range []int{0, 1, 7, 8, 9, 63, 159} {
		out := id.RandomWithPrefix(local, prefixLen)
		assert.Equalf(t, prefixLen, local.CommonPrefixLen(out), "prefixLen=%d", prefixLen)
	}
}

func TestLessTotalOrder(t *testing.T) {
	var a, b id.ID
	a[0] = 0x01
	b[0] = 0x02
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))
}
