package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// UDPTransport is the real network transport: one UDP socket per node,
// framed datagrams addressed by host:port. It is the concrete
// implementation main() wires into a Node; tests prefer MemTransport.
type UDPTransport struct {
	conn *net.UDPConn

	closeOnce sync.Once
	closed    chan struct{}
}

// NewUDPTransport binds a UDP socket on bindAddr (host:port, host may be
// empty for all interfaces).
func NewUDPTransport(bindAddr string) (*UDPTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", bindAddr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %q: %w", bindAddr, err)
	}
	return &UDPTransport{conn: conn, closed: make(chan struct{})}, nil
}

func (t *UDPTransport) LocalAddr() Addr {
	a := t.conn.LocalAddr().(*net.UDPAddr)
	return Addr{Host: a.IP.String(), Port: a.Port}
}

func (t *UDPTransport) Send(ctx context.Context, to Addr, payload []byte) error {
	frame, err := encodeFrame(payload)
	if err != nil {
		return err
	}
	udpAddr, err := net.ResolveUDPAddr("udp", to.String())
	if err != nil {
		return fmt.Errorf("transport: resolve peer %q: %w", to, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
	}
	_, err = t.conn.WriteToUDP(frame, udpAddr)
	return err
}

// recvPollInterval bounds how long a context-less Recv call can block
// before re-checking ctx.Done(). net.UDPConn has no native way to wake a
// blocked read on context cancellation, so the listener polls via a short
// read deadline instead — the same workaround stdlib net.Conn callers reach
// for in the absence of context-aware sockets.
const recvPollInterval = 500 * time.Millisecond

func (t *UDPTransport) Recv(ctx context.Context) ([]byte, Addr, error) {
	buf := make([]byte, maxFrameSize+4)
	for {
		if dl, ok := ctx.Deadline(); ok {
			_ = t.conn.SetReadDeadline(dl)
		} else {
			_ = t.conn.SetReadDeadline(time.Now().Add(recvPollInterval))
		}
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.closed:
				return nil, Addr{}, ErrClosed
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				select {
				case <-ctx.Done():
					return nil, Addr{}, ctx.Err()
				default:
					continue
				}
			}
			return nil, Addr{}, err
		}
		payload, err := decodeFrame(buf[:n])
		if err != nil {
			return nil, Addr{Host: from.IP.String(), Port: from.Port}, err
		}
		return payload, Addr{Host: from.IP.String(), Port: from.Port}, nil
	}
}

func (t *UDPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}
