package wire_test

import (
	"testing"

	"github.com/kademlia-core/kadnode/id"
	"github.com/kademlia-core/kadnode/wire"
	"github.com/stretchr/testify/require"
)

func TestRoundTripPing(t *testing.T) {
	m := wire.Message{Kind: wire.KindPing, SenderID: id.Random(), Token: 42}
	payload, err := wire.Encode(m)
	require.NoError(t, err)

	got, err := wire.Decode(payload)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestRoundTripNodes(t *testing.T) {
	m := wire.Message{
		Kind:     wire.KindNodes,
		SenderID: id.Random(),
		Token:    7,
		Nodes: []wire.NodeInfo{
			{ID: id.Random(), Host: "127.0.0.1", Port: 9001},
			{ID: id.Random(), Host: "127.0.0.1", Port: 9002},
		},
	}
	payload, err := wire.Encode(m)
	require.NoError(t, err)

	got, err := wire.Decode(payload)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestDecodeInvalidPayload(t *testing.T) {
	_, err := wire.Decode([]byte("not json"))
	require.Error(t, err)
}

func TestKindString(t *testing.T) {
	require.Equal(t, "FIND_NODE", wire.KindFindNode.String())
	require.Contains(t, wire.Kind(99).String(), "Kind(99)")
}
