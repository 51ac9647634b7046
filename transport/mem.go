package transport

import (
	"context"
	"fmt"
	"sync"
)

// memRegistry is one MemNetwork's directory of live MemTransports, keyed by
// address. It plays the role a reference dht/network.go GlobalNetwork map
// played for MockNetwork: a way to address a peer by value without a real
// socket. Unlike GlobalNetwork it is not a package-level var reused across
// unrelated tests; callers get one via NewMemNetwork.
type memRegistry struct {
	mu    sync.Mutex
	peers map[string]*MemTransport
}

// MemNetwork is an isolated registry of in-process peers sharing delivery.
// Each test creates its own, so parallel tests never cross-deliver.
type MemNetwork struct {
	reg *memRegistry
}

// NewMemNetwork creates an empty in-memory network.
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{reg: &memRegistry{peers: make(map[string]*MemTransport)}}
}

type inboundFrame struct {
	payload []byte
	from    Addr
}

// MemTransport is a Transport backed by Go channels instead of a socket,
// used by the node and transport tests to exercise real concurrency
// without opening UDP ports.
type MemTransport struct {
	net   *MemNetwork
	addr  Addr
	inbox chan inboundFrame

	closeOnce sync.Once
	closed    chan struct{}
}

// NewPeer registers a new address on net and returns its transport.
func (n *MemNetwork) NewPeer(addr Addr) *MemTransport {
	t := &MemTransport{
		net:    n,
		addr:   addr,
		inbox:  make(chan inboundFrame, 256),
		closed: make(chan struct{}),
	}
	n.reg.mu.Lock()
	n.reg.peers[addr.String()] = t
	n.reg.mu.Unlock()
	return t
}

func (t *MemTransport) LocalAddr() Addr { return t.addr }

func (t *MemTransport) Send(ctx context.Context, to Addr, payload []byte) error {
	frame, err := encodeFrame(payload)
	if err != nil {
		return err
	}
	t.net.reg.mu.Lock()
	dst, ok := t.net.reg.peers[to.String()]
	t.net.reg.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: no peer registered at %s", to)
	}
	decoded, err := decodeFrame(frame)
	if err != nil {
		return err
	}
	select {
	case dst.inbox <- inboundFrame{payload: decoded, from: t.addr}:
		return nil
	case <-dst.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *MemTransport) Recv(ctx context.Context) ([]byte, Addr, error) {
	select {
	case f := <-t.inbox:
		return f.payload, f.from, nil
	case <-t.closed:
		return nil, Addr{}, ErrClosed
	case <-ctx.Done():
		return nil, Addr{}, ctx.Err()
	}
}

func (t *MemTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.net.reg.mu.Lock()
		delete(t.net.reg.peers, t.addr.String())
		t.net.reg.mu.Unlock()
	})
	return nil
}
