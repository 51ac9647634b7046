// Package supervisor tracks every outstanding request a node has emitted
// and fires a caller-supplied recovery callback if no response arrives
// before its deadline. It is grounded on ping_db.py (a message-id-keyed
// context map with a lock-guarded background cleaner sweeping expired
// entries), generalized from "ping replacement bookkeeping" to a full
// register/deliver/cancel contract, with separate on_response/on_timeout
// callbacks in place of ping_db.py's caller-side polling via get().
package supervisor

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kademlia-core/kadnode/id"
	"github.com/sirupsen/logrus"
)

// Token is the 64-bit correlation token tying a response to the request
// that elicited it. Tokens are unique within one Supervisor instance.
type Token uint64

// ErrDuplicateToken is returned by Register when token is already in use.
var ErrDuplicateToken = errors.New("supervisor: duplicate token")

// ResponseFunc handles a correlated response payload.
type ResponseFunc func(payload any)

// TimeoutFunc handles a request that elapsed its deadline unanswered.
type TimeoutFunc func(peerID id.ID)

type outstandingRequest struct {
	token      Token
	peerID     id.ID
	sentAt     time.Time
	deadline   time.Time
	onResponse ResponseFunc
	onTimeout  TimeoutFunc
}

// Supervisor is the message-correlation/timeout-recovery subsystem. Its
// internal state is guarded by its own mutex, distinct from
// kbucket.Table's — the routing-table lock is always acquired before the
// supervisor's, never the reverse, and callbacks here never run with this
// mutex held.
type Supervisor struct {
	log       logrus.FieldLogger
	tokenGen  func() Token
	sweep     time.Duration

	mu      sync.Mutex
	pending map[Token]*outstandingRequest

	stop chan struct{}
	done chan struct{}
}

// New creates a Supervisor whose cleaner sweeps at period sweep (T_sweep
// should typically be a quarter of the shortest expected timeout).
func New(sweep time.Duration, log logrus.FieldLogger) *Supervisor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Supervisor{
		log:     log,
		sweep:   sweep,
		pending: make(map[Token]*outstandingRequest),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.tokenGen = s.defaultTokenGen()
	return s
}

// defaultTokenGen returns a generator of random 64-bit tokens drawn from
// rand/v2's top-level source (randomly seeded per process). It takes the
// place of uid.py's lock-guarded shared counter; no explicit lock is
// needed, since rand/v2's top-level functions are already goroutine-safe.
func (s *Supervisor) defaultTokenGen() func() Token {
	return func() Token {
		return Token(rand.Uint64())
	}
}

// Run starts the background cleaner sweep.
func (s *Supervisor) Run() {
	go s.cleanerLoop()
}

// Stop ends the cleaner loop and cancels every outstanding entry without
// invoking either callback.
func (s *Supervisor) Stop() {
	close(s.stop)
	<-s.done

	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[Token]*outstandingRequest)
	s.mu.Unlock()

	for tok := range pending {
		s.log.WithFields(logrus.Fields{"event": "cancel", "token": tok}).Debug("cancelled on shutdown")
	}
}

// NewToken allocates a fresh correlation token. It does not register a
// request; callers pass the result to Register.
func (s *Supervisor) NewToken() Token {
	return s.tokenGen()
}

// Register inserts an outstanding request keyed by token. It fails with
// ErrDuplicateToken if token is already registered.
func (s *Supervisor) Register(token Token, peerID id.ID, timeout time.Duration, onResponse ResponseFunc, onTimeout TimeoutFunc) error {
	now := time.Now()
	req := &outstandingRequest{
		token:      token,
		peerID:     peerID,
		sentAt:     now,
		deadline:   now.Add(timeout),
		onResponse: onResponse,
		onTimeout:  onTimeout,
	}

	s.mu.Lock()
	if _, exists := s.pending[token]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrDuplicateToken, token)
	}
	s.pending[token] = req
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"event": "request_sent", "token": token, "peer": peerID}).Debug("request registered")
	return nil
}

// Deliver is called by the listener when a correlated response arrives. If
// token is registered it is atomically removed and on_response invoked
// with no lock held; otherwise the message is dropped silently and logged
// as an unsolicited or late response, not surfaced as an error to the caller.
func (s *Supervisor) Deliver(token Token, payload any) {
	s.mu.Lock()
	req, ok := s.pending[token]
	if ok {
		delete(s.pending, token)
	}
	s.mu.Unlock()

	if !ok {
		s.log.WithFields(logrus.Fields{"event": "response", "token": token, "outcome": "unknown_token"}).Debug("dropped response for unregistered token")
		return
	}

	s.log.WithFields(logrus.Fields{"event": "response", "token": token, "peer": req.peerID}).Debug("response delivered")
	if req.onResponse != nil {
		req.onResponse(payload)
	}
}

// Cancel removes token without invoking either callback, used on node
// shutdown for entries the caller is discarding deliberately.
func (s *Supervisor) Cancel(token Token) {
	s.mu.Lock()
	delete(s.pending, token)
	s.mu.Unlock()
}

// Pending reports how many requests are currently outstanding, for
// diagnostics and tests.
func (s *Supervisor) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Supervisor) cleanerLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

// sweepOnce scans for expired entries, atomically removes them, and
// invokes each on_timeout outside the lock. Invocation order across the
// batch is unspecified.
func (s *Supervisor) sweepOnce() {
	now := time.Now()

	var expired []*outstandingRequest
	s.mu.Lock()
	for tok, req := range s.pending {
		if !now.Before(req.deadline) {
			expired = append(expired, req)
			delete(s.pending, tok)
		}
	}
	s.mu.Unlock()

	for _, req := range expired {
		s.log.WithFields(logrus.Fields{"event": "timeout", "token": req.token, "peer": req.peerID}).Debug("request timed out")
		if req.onTimeout != nil {
			req.onTimeout(req.peerID)
		}
	}
}
