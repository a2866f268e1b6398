package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"roomrelay/pkg/interfaces"
	"roomrelay/pkg/types"
)

type fakeConn struct{ id string }

func (f *fakeConn) ID() string                    { return f.id }
func (f *fakeConn) WriteJSON(v interface{}) error { return nil }
func (f *fakeConn) Close() error                  { return nil }

// recordingRouter logs calls in order and checks they never overlap.
type recordingRouter struct {
	mu      sync.Mutex
	calls   []string
	active  int
	overlap bool
	block   chan struct{}
	panicOn string
}

func (r *recordingRouter) enter() {
	r.mu.Lock()
	r.active++
	if r.active > 1 {
		r.overlap = true
	}
	r.mu.Unlock()
}

func (r *recordingRouter) exit(call string) {
	r.mu.Lock()
	r.active--
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recordingRouter) Dispatch(ctx context.Context, conn interfaces.Connection, envelope types.Envelope) {
	r.enter()
	if r.block != nil {
		<-r.block
	}
	if envelope.Event == r.panicOn {
		r.exit("panic")
		panic("boom")
	}
	time.Sleep(time.Millisecond)
	r.exit(conn.ID() + ":" + envelope.Event)
}

func (r *recordingRouter) Disconnect(ctx context.Context, conn interfaces.Connection) {
	r.enter()
	r.exit(conn.ID() + ":disconnect")
}

func (r *recordingRouter) snapshot() ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...), r.overlap
}

func envelope(event string) types.Envelope {
	return types.Envelope{Event: event, Data: json.RawMessage(`{}`)}
}

func startHub(t *testing.T, router interfaces.EventRouter, queue int) *Hub {
	t.Helper()
	h := NewHub(router, queue, zerolog.Nop())
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Stop() })
	return h
}

func TestHub_StartStop(t *testing.T) {
	h := NewHub(&recordingRouter{}, 10, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, h.Start(ctx))
	require.ErrorIs(t, h.Start(ctx), ErrHubAlreadyRunning)
	require.NoError(t, h.Stop())
	require.ErrorIs(t, h.Stop(), ErrHubNotRunning)
	require.ErrorIs(t, h.Start(ctx), ErrHubStopped)
}

func TestHub_SubmitRequiresRunning(t *testing.T) {
	h := NewHub(&recordingRouter{}, 10, zerolog.Nop())
	conn := &fakeConn{id: "c1"}

	require.ErrorIs(t, h.Submit(context.Background(), conn, envelope(types.EventJoin)), ErrHubNotRunning)
	require.ErrorIs(t, h.Disconnect(conn), ErrHubNotRunning)
}

func TestHub_PreservesOrderPerConnection(t *testing.T) {
	router := &recordingRouter{}
	h := startHub(t, router, 100)
	conn := &fakeConn{id: "c1"}
	ctx := context.Background()

	require.NoError(t, h.Submit(ctx, conn, envelope(types.EventJoin)))
	require.NoError(t, h.Submit(ctx, conn, envelope(types.EventMessage)))
	require.NoError(t, h.Disconnect(conn))

	require.Eventually(t, func() bool { return h.Processed() == 3 }, 2*time.Second, 5*time.Millisecond)
	calls, _ := router.snapshot()
	require.Equal(t, []string{"c1:join", "c1:message", "c1:disconnect"}, calls)
}

func TestHub_NeverRunsTasksConcurrently(t *testing.T) {
	router := &recordingRouter{}
	h := startHub(t, router, 10)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := &fakeConn{id: string(rune('a' + i))}
			_ = h.Submit(ctx, conn, envelope(types.EventMessage))
			_ = h.Disconnect(conn)
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return h.Processed() == 40 }, 5*time.Second, 5*time.Millisecond)
	_, overlap := router.snapshot()
	require.False(t, overlap)
}

func TestHub_SubmitBlocksWhenQueueFullUntilContextDone(t *testing.T) {
	router := &recordingRouter{block: make(chan struct{})}
	h := startHub(t, router, 1)
	conn := &fakeConn{id: "c1"}

	// One task held by the router, one queued.
	require.NoError(t, h.Submit(context.Background(), conn, envelope(types.EventMessage)))
	require.Eventually(t, func() bool { return h.QueueLength() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, h.Submit(context.Background(), conn, envelope(types.EventMessage)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, h.Submit(ctx, conn, envelope(types.EventMessage)), context.DeadlineExceeded)

	close(router.block)
	require.Eventually(t, func() bool { return h.Processed() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_RecoversFromRouterPanic(t *testing.T) {
	router := &recordingRouter{panicOn: "explode"}
	h := startHub(t, router, 10)
	conn := &fakeConn{id: "c1"}
	ctx := context.Background()

	require.NoError(t, h.Submit(ctx, conn, envelope("explode")))
	require.NoError(t, h.Submit(ctx, conn, envelope(types.EventLeave)))

	require.Eventually(t, func() bool { return h.Processed() == 2 }, 2*time.Second, 5*time.Millisecond)
	calls, _ := router.snapshot()
	require.Equal(t, []string{"panic", "c1:leave"}, calls)
}

func TestHub_StopsWhenContextCancelled(t *testing.T) {
	h := NewHub(&recordingRouter{}, 10, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.Start(ctx))

	cancel()
	require.Eventually(t, func() bool {
		return h.Submit(context.Background(), &fakeConn{id: "c1"}, envelope(types.EventJoin)) != nil
	}, 2*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, h.Stop(), ErrHubNotRunning)
}
