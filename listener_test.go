package pglynx_test

import (
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackc/pglynx"
	"github.com/jackc/pglynx/internal/lynxtest"
)

func listenerSetup(t *testing.T) (*pglynx.Listener, *lynxtest.Server) {
	t.Helper()

	srv, err := lynxtest.NewServer(nil)
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	config, err := pglynx.ParseConfig(srv.ConnString())
	require.NoError(t, err)

	l := pglynx.NewListener(config)
	require.NoError(t, l.Startup(testContext(t)))
	t.Cleanup(func() { l.Shutdown(testContext(t)) })

	return l, srv
}

func TestListenerCallbackFanOut(t *testing.T) {
	l, srv := listenerSetup(t)
	ctx := testContext(t)

	type delivery struct {
		slot    int
		payload string
		pid     uint32
	}
	deliveries := make(chan delivery, 4)

	require.NoError(t, l.AddCallback(ctx, "c", func(conn *pglynx.Conn, n *pglynx.Notification) {
		deliveries <- delivery{1, n.Payload, n.PID}
	}))
	require.NoError(t, l.AddCallback(ctx, "c", func(conn *pglynx.Conn, n *pglynx.Notification) {
		deliveries <- delivery{2, n.Payload, n.PID}
	}))

	require.NoError(t, l.Listen())
	require.ErrorIs(t, l.Listen(), pglynx.ErrListenerStarted)

	require.NoError(t, srv.Notify(77, "c", "hello"))

	// each callback fires exactly once, in registration order
	first := <-deliveries
	second := <-deliveries
	assert.Equal(t, delivery{1, "hello", 77}, first)
	assert.Equal(t, delivery{2, "hello", 77}, second)

	select {
	case d := <-deliveries:
		t.Fatalf("unexpected extra delivery: %+v", d)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestListenerChannelIsolation(t *testing.T) {
	l, srv := listenerSetup(t)
	ctx := testContext(t)

	got := make(chan string, 4)
	require.NoError(t, l.AddCallback(ctx, "wanted", func(conn *pglynx.Conn, n *pglynx.Notification) {
		got <- n.Payload
	}))
	require.NoError(t, l.Listen())

	require.NoError(t, srv.Notify(1, "other", "ignored"))
	require.NoError(t, srv.Notify(1, "wanted", "kept"))

	assert.Equal(t, "kept", <-got)
}

func TestListenerCallbackPanicDoesNotStopLoop(t *testing.T) {
	l, srv := listenerSetup(t)
	ctx := testContext(t)

	got := make(chan string, 4)
	require.NoError(t, l.AddCallback(ctx, "c", func(conn *pglynx.Conn, n *pglynx.Notification) {
		if n.Payload == "bad" {
			panic("callback bug")
		}
		got <- n.Payload
	}))
	require.NoError(t, l.Listen())

	require.NoError(t, srv.Notify(1, "c", "bad"))
	require.NoError(t, srv.Notify(1, "c", "good"))

	assert.Equal(t, "good", <-got)
}

func TestListenerIterator(t *testing.T) {
	l, srv := listenerSetup(t)
	ctx := testContext(t)

	require.NoError(t, l.AddCallback(ctx, "c", func(conn *pglynx.Conn, n *pglynx.Notification) {}))
	require.NoError(t, l.Listen())

	for i := 0; i < 3; i++ {
		require.NoError(t, srv.Notify(9, "c", fmt.Sprintf("msg-%d", i)))
	}

	for i := 0; i < 3; i++ {
		n, err := l.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("msg-%d", i), n.Payload)
		assert.Equal(t, "c", n.Channel)
		assert.Equal(t, uint32(9), n.PID)
	}
}

func TestListenerIteratorDropsOldest(t *testing.T) {
	l, srv := listenerSetup(t)
	ctx := testContext(t)

	const sent = 70 // iterator buffer holds 64
	var mu sync.Mutex
	received := 0
	done := make(chan struct{})

	require.NoError(t, l.AddCallback(ctx, "c", func(conn *pglynx.Conn, n *pglynx.Notification) {
		mu.Lock()
		received++
		if received == sent {
			close(done)
		}
		mu.Unlock()
	}))
	require.NoError(t, l.Listen())

	for i := 0; i < sent; i++ {
		require.NoError(t, srv.Notify(1, "c", strconv.Itoa(i)))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("notifications not dispatched")
	}

	assert.Eventually(t, func() bool { return l.DroppedCount() == uint64(sent-64) }, 2*time.Second, 10*time.Millisecond)

	// the oldest messages were dropped; delivery resumes at the first retained one
	n, err := l.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(sent-64), n.Payload)
}

func TestListenerAbortAndRestart(t *testing.T) {
	l, srv := listenerSetup(t)
	ctx := testContext(t)

	got := make(chan string, 4)
	require.NoError(t, l.AddCallback(ctx, "c", func(conn *pglynx.Conn, n *pglynx.Notification) {
		got <- n.Payload
	}))

	require.NoError(t, l.Listen())
	l.AbortListen()
	assert.False(t, l.IsListening())

	// registrations are retained across abort
	require.NoError(t, l.Listen())
	require.NoError(t, srv.Notify(1, "c", "after-restart"))
	assert.Equal(t, "after-restart", <-got)
}

func TestListenerClosedOperations(t *testing.T) {
	srv, err := lynxtest.NewServer(nil)
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	config, err := pglynx.ParseConfig(srv.ConnString())
	require.NoError(t, err)

	l := pglynx.NewListener(config)

	require.ErrorIs(t, l.Listen(), pglynx.ErrListenerClosed)
	require.ErrorIs(t, l.AddCallback(testContext(t), "c", nil), pglynx.ErrListenerClosed)

	// startup, shutdown, and startup again
	require.NoError(t, l.Startup(testContext(t)))
	require.NoError(t, l.Shutdown(testContext(t)))
	require.ErrorIs(t, l.Shutdown(testContext(t)), pglynx.ErrListenerClosed)
	require.NoError(t, l.Startup(testContext(t)))
	require.NoError(t, l.Shutdown(testContext(t)))
}
