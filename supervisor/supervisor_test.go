package supervisor_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/kademlia-core/kadnode/id"
	"github.com/kademlia-core/kadnode/supervisor"
	"github.com/stretchr/testify/require"
)

// S6 — Supervisor timeout fires exactly once.
func TestTimeoutFiresExactlyOnce(t *testing.T) {
	sup := supervisor.New(5*time.Millisecond, nil)
	sup.Run()
	defer sup.Stop()

	var timeouts int32
	tok := sup.NewToken()
	peer := id.Random()
	require.NoError(t, sup.Register(tok, peer, 10*time.Millisecond,
		func(any) { t.Fatal("on_response must not fire") },
		func(id.ID) { atomic.AddInt32(&timeouts, 1) },
	))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&timeouts) == 1
	}, time.Second, 5*time.Millisecond)

	// Subsequent Deliver is a no-op: the entry is already gone.
	sup.Deliver(tok, "late")
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&timeouts))
}

func TestDeliverInvokesResponseExactlyOnce(t *testing.T) {
	sup := supervisor.New(5*time.Millisecond, nil)
	sup.Run()
	defer sup.Stop()

	var responses int32
	tok := sup.NewToken()
	require.NoError(t, sup.Register(tok, id.Random(), time.Second,
		func(any) { atomic.AddInt32(&responses, 1) },
		func(id.ID) { t.Fatal("on_timeout must not fire") },
	))

	sup.Deliver(tok, "pong")
	require.EqualValues(t, 1, atomic.LoadInt32(&responses))

	// Second delivery for the same (now-removed) token is silently dropped.
	sup.Deliver(tok, "pong-again")
	require.EqualValues(t, 1, atomic.LoadInt32(&responses))
}

func TestRegisterDuplicateTokenFails(t *testing.T) {
	sup := supervisor.New(time.Second, nil)
	tok := sup.NewToken()
	require.NoError(t, sup.Register(tok, id.Random(), time.Second, nil, nil))
	err := sup.Register(tok, id.Random(), time.Second, nil, nil)
	require.ErrorIs(t, err, supervisor.ErrDuplicateToken)
}

func TestCancelSuppressesBothCallbacks(t *testing.T) {
	sup := supervisor.New(5*time.Millisecond, nil)
	sup.Run()
	defer sup.Stop()

	tok := sup.NewToken()
	require.NoError(t, sup.Register(tok, id.Random(), 10*time.Millisecond,
		func(any) { t.Fatal("on_response must not fire") },
		func(id.ID) { t.Fatal("on_timeout must not fire") },
	))
	sup.Cancel(tok)
	time.Sleep(30 * time.Millisecond)
}

func TestStopCancelsOutstandingWithoutCallbacks(t *testing.T) {
	sup := supervisor.New(time.Hour, nil)
	sup.Run()

	tok := sup.NewToken()
	require.NoError(t, sup.Register(tok, id.Random(), time.Hour,
		func(any) { t.Fatal("on_response must not fire") },
		func(id.ID) { t.Fatal("on_timeout must not fire") },
	))

	sup.Stop()
	require.Equal(t, 0, sup.Pending())
}
