package pglynx

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pglynx/pgconn"
)

// Notification is one LISTEN/NOTIFY message.
type Notification struct {
	PID     uint32 // backend pid that sent the notification
	Channel string
	Payload string
}

// NotificationCallback handles one notification for a channel it was registered on. Callbacks run on the listener's
// receive goroutine; a panicking callback is logged and does not stop the loop.
type NotificationCallback func(conn *Conn, n *Notification)

// listenerIterBufferSize bounds the iterator buffer. When the consumer falls behind, the oldest pending
// notifications are dropped rather than stalling LISTEN delivery for the other channels.
const listenerIterBufferSize = 64

// Listener owns a dedicated connection consuming asynchronous notifications, so in-flight queries on pooled
// connections never compete with NOTIFY frames. Channels are subscribed with AddCallback and delivery starts with
// Listen. Alternatively Next consumes notifications as an iterator.
type Listener struct {
	config *ConnConfig

	// mu guards the lifecycle: conn, the receive loop state, and subscription changes. The receive goroutine must
	// never take it, or AbortListen would deadlock waiting for a loop that is blocked on the lock.
	mu        sync.Mutex
	conn      *Conn
	listening bool
	cancel    context.CancelFunc
	loopDone  chan struct{}

	// cbMu guards the state the receive goroutine reads while dispatching.
	cbMu         sync.Mutex
	dispatchConn *Conn
	callbacks    map[string][]NotificationCallback

	iterMu  sync.Mutex
	iterBuf chan *Notification
	dropped uint64
}

// NewListener returns a listener that will connect using config. No I/O happens until Startup.
func NewListener(config *ConnConfig) *Listener {
	return &Listener{
		config:    config.Copy(),
		callbacks: make(map[string][]NotificationCallback),
		iterBuf:   make(chan *Notification, listenerIterBufferSize),
	}
}

// Startup establishes the listener's connection. Calling Startup again after Shutdown reconnects; channel
// registrations are resubscribed.
func (l *Listener) Startup(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return &ListenerError{Op: "startup", Err: fmt.Errorf("already started")}
	}

	config := l.config.Copy()
	config.OnNotification = func(_ *pgconn.PgConn, pn *pgconn.Notification) {
		l.dispatch(&Notification{PID: pn.PID, Channel: pn.Channel, Payload: pn.Payload})
	}

	conn, err := connect(ctx, config)
	if err != nil {
		return &ListenerError{Op: "startup", Err: err}
	}
	l.conn = conn
	l.cbMu.Lock()
	l.dispatchConn = conn
	channels := make([]string, 0, len(l.callbacks))
	for channel := range l.callbacks {
		channels = append(channels, channel)
	}
	l.cbMu.Unlock()

	for _, channel := range channels {
		if _, err := conn.Execute(ctx, "listen "+Identifier{channel}.Sanitize()); err != nil {
			conn.pgConn.Close(ctx)
			l.conn = nil
			l.cbMu.Lock()
			l.dispatchConn = nil
			l.cbMu.Unlock()
			return &ListenerError{Op: "startup", Err: err}
		}
	}

	return nil
}

// Connection returns the dedicated connection, or nil before Startup.
func (l *Listener) Connection() *Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

// AddCallback registers a callback for a channel. The first callback on a channel issues LISTEN. Callbacks for the
// same channel run in registration order.
func (l *Listener) AddCallback(ctx context.Context, channel string, cb NotificationCallback) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return &ListenerError{Op: "add callback", Err: ErrListenerClosed}
	}

	l.cbMu.Lock()
	subscribed := len(l.callbacks[channel]) > 0
	l.cbMu.Unlock()

	if !subscribed {
		if _, err := l.conn.Execute(ctx, "listen "+Identifier{channel}.Sanitize()); err != nil {
			return &ListenerError{Op: "add callback", Err: err}
		}
	}

	l.cbMu.Lock()
	l.callbacks[channel] = append(l.callbacks[channel], cb)
	l.cbMu.Unlock()
	return nil
}

// ClearChannelCallbacks removes every callback of a channel and issues UNLISTEN.
func (l *Listener) ClearChannelCallbacks(ctx context.Context, channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return &ListenerError{Op: "clear channel", Err: ErrListenerClosed}
	}

	if _, err := l.conn.Execute(ctx, "unlisten "+Identifier{channel}.Sanitize()); err != nil {
		return &ListenerError{Op: "clear channel", Err: err}
	}
	l.cbMu.Lock()
	delete(l.callbacks, channel)
	l.cbMu.Unlock()
	return nil
}

// ClearAllChannels removes every callback and issues UNLISTEN *.
func (l *Listener) ClearAllChannels(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return &ListenerError{Op: "clear all", Err: ErrListenerClosed}
	}

	if _, err := l.conn.Execute(ctx, "unlisten *"); err != nil {
		return &ListenerError{Op: "clear all", Err: err}
	}
	l.cbMu.Lock()
	l.callbacks = make(map[string][]NotificationCallback)
	l.cbMu.Unlock()
	return nil
}

// Listen spawns the background receive loop. It does not block the caller. Notifications are dispatched to every
// callback registered for their channel and to the iterator buffer.
func (l *Listener) Listen() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return &ListenerError{Op: "listen", Err: ErrListenerClosed}
	}
	if l.listening {
		return &ListenerError{Op: "listen", Err: ErrListenerStarted}
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.loopDone = make(chan struct{})
	l.listening = true

	conn := l.conn
	done := l.loopDone
	go func() {
		defer close(done)
		for {
			err := conn.pgConn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil && conn.shouldLog(LogLevelError) && !conn.IsClosed() {
					conn.log(ctx, LogLevelError, "listener receive failed", map[string]interface{}{"err": err})
				}
				return
			}
			// dispatch happens in the OnNotification handler during WaitForNotification
		}
	}()

	return nil
}

// AbortListen cancels the background receive loop. Channel registrations are retained and Listen may be called
// again.
func (l *Listener) AbortListen() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.abortListenLocked()
}

func (l *Listener) abortListenLocked() {
	if !l.listening {
		return
	}
	l.cancel()
	<-l.loopDone
	l.listening = false
	l.cancel = nil
	l.loopDone = nil
}

// IsListening reports whether the background receive loop is running.
func (l *Listener) IsListening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listening
}

// Shutdown stops the receive loop and closes the connection. The listener can be started again with Startup.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return &ListenerError{Op: "shutdown", Err: ErrListenerClosed}
	}

	l.abortListenLocked()

	err := l.conn.pgConn.Close(ctx)
	l.conn = nil
	l.cbMu.Lock()
	l.dispatchConn = nil
	l.cbMu.Unlock()
	if err != nil {
		return &ListenerError{Op: "shutdown", Err: err}
	}
	return nil
}

// dispatch fans a notification out to the channel's callbacks in registration order and offers it to the iterator
// buffer, dropping the oldest pending notification on overflow.
func (l *Listener) dispatch(n *Notification) {
	l.cbMu.Lock()
	cbs := make([]NotificationCallback, len(l.callbacks[n.Channel]))
	copy(cbs, l.callbacks[n.Channel])
	conn := l.dispatchConn
	l.cbMu.Unlock()

	for _, cb := range cbs {
		l.invoke(cb, conn, n)
	}

	l.iterMu.Lock()
	for {
		select {
		case l.iterBuf <- n:
			l.iterMu.Unlock()
			return
		default:
		}
		select {
		case <-l.iterBuf:
			l.dropped++
		default:
		}
	}
}

func (l *Listener) invoke(cb NotificationCallback, conn *Conn, n *Notification) {
	defer func() {
		if r := recover(); r != nil {
			if conn != nil && conn.shouldLog(LogLevelError) {
				conn.log(context.Background(), LogLevelError, "notification callback panicked", map[string]interface{}{
					"channel": n.Channel, "panic": r,
				})
			}
		}
	}()
	cb(conn, n)
}

// Next returns the next received notification, blocking until one arrives or ctx is done. Pending notifications
// beyond a small bounded buffer are dropped oldest first; DroppedCount reports how many.
func (l *Listener) Next(ctx context.Context) (*Notification, error) {
	select {
	case n := <-l.iterBuf:
		return n, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DroppedCount returns the number of notifications dropped because the iterator consumer fell behind.
func (l *Listener) DroppedCount() uint64 {
	l.iterMu.Lock()
	defer l.iterMu.Unlock()
	return l.dropped
}
