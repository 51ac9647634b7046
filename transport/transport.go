// Package transport provides the length-framed message transport the node
// listener and CRON loops send and receive over. The wire encoding of an
// individual message's body is owned by package wire; this package only
// owns framing and delivery.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// Addr is a transport-opaque peer address: host/port, nothing more. The
// encoding of an address beyond host/port (onion, multiaddr, ...) is out of
// scope.
type Addr struct {
	Host string
	Port int
}

func (a Addr) String() string {
	return net.JoinHostPort(a.Host, fmt.Sprintf("%d", a.Port))
}

// Transport delivers length-framed messages to and from peer addresses.
// Node and its collaborators depend only on this interface, never on a
// concrete socket type, so tests can swap in MemTransport.
type Transport interface {
	LocalAddr() Addr
	Send(ctx context.Context, to Addr, frame []byte) error
	Recv(ctx context.Context) (frame []byte, from Addr, err error)
	Close() error
}

// ErrClosed is returned by Send/Recv once the transport has been closed.
var ErrClosed = errors.New("transport: closed")

const maxFrameSize = 64 * 1024

// encodeFrame prefixes payload with its own 4-byte big-endian length, the
// envelope every implementation of Transport below agrees on. A single UDP
// datagram is already message-delimited, but the explicit prefix keeps the
// wire shape identical across UDPTransport and any future stream-based
// transport (e.g. TCP), and lets decodeFrame reject a truncated datagram
// instead of silently decoding garbage.
func encodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > maxFrameSize {
		return nil, fmt.Errorf("transport: frame too large (%d bytes)", len(payload))
	}
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out, nil
}

func decodeFrame(buf []byte) ([]byte, error) {
	if len(buf) < 4 {
		return nil, errors.New("transport: frame shorter than length header")
	}
	n := binary.BigEndian.Uint32(buf)
	if int(n) != len(buf)-4 {
		return nil, fmt.Errorf("transport: length header %d does not match payload %d", n, len(buf)-4)
	}
	return buf[4:], nil
}
