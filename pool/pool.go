// Package pool provides a bounded pool of pglynx connections with a FIFO waiter queue and configurable recycling.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/jackc/pglynx"
)

var defaultMaxSize = int32(10)

// ErrPoolClosed occurs on Acquire after Close.
var ErrPoolClosed = errors.New("pool closed")

// RecyclingMethod is the policy applied to an idle connection before handing it out.
type RecyclingMethod int

const (
	// RecyclingFast only verifies the socket is not broken.
	RecyclingFast RecyclingMethod = iota

	// RecyclingVerified additionally performs a trivial round trip.
	RecyclingVerified

	// RecyclingClean additionally resets session state. The reset sequence deliberately omits DEALLOCATE ALL and
	// DISCARD PLAN so the per-connection prepared statement cache stays coherent with the server.
	RecyclingClean
)

// Config is the configuration struct for creating a pool. It must be created by ParseConfig and then it can be
// modified.
type Config struct {
	ConnConfig *pglynx.ConnConfig

	// MaxSize is the maximum number of concurrently materialized connections. Defaults to 10.
	MaxSize int32

	// RecyclingMethod is the check applied to an idle connection on acquire.
	RecyclingMethod RecyclingMethod

	createdByParseConfig bool // Used to enforce created by ParseConfig rule.
}

// Copy returns a deep copy of the config that is safe to use and modify. The only exception is the tls.Config:
// according to the tls.Config docs it must not be modified after creation.
func (c *Config) Copy() *Config {
	newConfig := new(Config)
	*newConfig = *c
	newConfig.ConnConfig = c.ConnConfig.Copy()
	return newConfig
}

// ParseConfig builds a Config from connString with the same grammar as pglynx.ParseConfig plus the pool-specific
// keys:
//
//	max_pool_size: integer greater than 0
//	recycling_method: fast, verified, or clean
func ParseConfig(connString string) (*Config, error) {
	connConfig, err := pglynx.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config := &Config{
		ConnConfig:           connConfig,
		MaxSize:              defaultMaxSize,
		createdByParseConfig: true,
	}

	if s, ok := connConfig.Config.RuntimeParams["max_pool_size"]; ok {
		delete(connConfig.Config.RuntimeParams, "max_pool_size")
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("cannot parse max_pool_size: %w", err)
		}
		if n < 1 {
			return nil, fmt.Errorf("max_pool_size too small: %d", n)
		}
		config.MaxSize = int32(n)
	}

	if s, ok := connConfig.Config.RuntimeParams["recycling_method"]; ok {
		delete(connConfig.Config.RuntimeParams, "recycling_method")
		switch s {
		case "fast":
			config.RecyclingMethod = RecyclingFast
		case "verified":
			config.RecyclingMethod = RecyclingVerified
		case "clean":
			config.RecyclingMethod = RecyclingClean
		default:
			return nil, fmt.Errorf("unknown recycling_method: %v", s)
		}
	}

	return config, nil
}

// Status is a consistent snapshot of the pool counters.
type Status struct {
	MaxSize   int32 // configured cap
	Size      int32 // currently materialized connections
	Available int32 // idle connections
	Waiting   int32 // acquirers blocked in the queue
}

// waiter is one blocked acquirer. It receives either an idle connection or, with a nil connection, a grant to
// materialize a new one against an already-reserved slot.
type waiter struct {
	ch chan *pglynx.Conn
}

// Pool is a bounded multiset of idle connections with a FIFO waiter queue.
type Pool struct {
	config *Config

	mu      sync.Mutex
	maxSize int32
	size    int32
	idle    []*pglynx.Conn
	waiters *list.List
	closed  bool
}

// Connect creates a Pool. No connection is established until the first Acquire. See ParseConfig for the connection
// string grammar.
func Connect(ctx context.Context, connString string) (*Pool, error) {
	config, err := ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	return ConnectConfig(ctx, config)
}

// ConnectConfig creates a Pool from a config created by ParseConfig.
func ConnectConfig(ctx context.Context, config *Config) (*Pool, error) {
	// Default values are set in ParseConfig. Enforce initial creation by ParseConfig rather than setting defaults
	// from zero values.
	if !config.createdByParseConfig {
		panic("config must be created by ParseConfig")
	}

	if config.MaxSize < 1 {
		return nil, fmt.Errorf("max pool size must be at least 1")
	}

	p := &Pool{
		config:  config,
		maxSize: config.MaxSize,
		waiters: list.New(),
	}

	return p, nil
}

// Config returns a copy of the config the pool was created from.
func (p *Pool) Config() *Config { return p.config.Copy() }

// Acquire returns an idle connection after its recycling check, materializes a new one while under the size cap, or
// joins the FIFO waiter queue. Canceling ctx removes the waiter without leaking the slot.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		// Reuse the most recently released idle connection.
		if n := len(p.idle); n > 0 {
			conn := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.mu.Unlock()

			if p.recycle(ctx, conn) {
				return &Conn{pool: p, conn: conn}, nil
			}
			p.destroy(ctx, conn)
			continue
		}

		if p.size < p.maxSize {
			p.size++
			p.mu.Unlock()

			conn, err := p.dial(ctx)
			if err != nil {
				// Establishment errors surface to the acquirer that triggered them; the freed slot goes to the next
				// waiter.
				p.mu.Lock()
				p.size--
				p.grantSlotLocked()
				p.mu.Unlock()
				return nil, err
			}
			return &Conn{pool: p, conn: conn}, nil
		}

		w := &waiter{ch: make(chan *pglynx.Conn, 1)}
		elem := p.waiters.PushBack(w)
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			p.mu.Lock()
			delivered := elem.Value == nil // removed by a releaser before we could cancel
			if !delivered {
				p.waiters.Remove(elem)
				p.mu.Unlock()
				return nil, ctx.Err()
			}
			p.mu.Unlock()

			// A delivery raced with the cancellation. The deliverer always sends (or closes) after detaching the
			// waiter, so a blocking receive is safe; put whatever arrives back.
			conn, ok := <-w.ch
			if ok {
				if conn != nil {
					p.release(context.Background(), conn)
				} else {
					p.mu.Lock()
					p.size--
					p.grantSlotLocked()
					p.mu.Unlock()
				}
			}
			return nil, ctx.Err()
		case conn, ok := <-w.ch:
			if !ok {
				return nil, ErrPoolClosed
			}
			if conn == nil {
				// Slot grant: the size was already reserved on our behalf.
				newConn, err := p.dial(ctx)
				if err != nil {
					p.mu.Lock()
					p.size--
					p.grantSlotLocked()
					p.mu.Unlock()
					return nil, err
				}
				return &Conn{pool: p, conn: newConn}, nil
			}
			if p.recycle(ctx, conn) {
				return &Conn{pool: p, conn: conn}, nil
			}
			p.destroy(ctx, conn)
		}
	}
}

// AcquireFunc acquires a connection and calls f with it. The connection is released on every return path.
func (p *Pool) AcquireFunc(ctx context.Context, f func(*Conn) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release(ctx)

	return f(conn)
}

func (p *Pool) dial(ctx context.Context) (*pglynx.Conn, error) {
	conn, err := pglynx.ConnectConfig(ctx, p.config.ConnConfig)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// release returns a connection to the pool. A connection left in a transaction is rolled back first; a broken or
// closed connection is dropped and its slot handed to the next waiter.
func (p *Pool) release(ctx context.Context, conn *pglynx.Conn) {
	conn.Reset()

	if conn.IsClosed() {
		p.destroy(ctx, conn)
		return
	}

	if conn.PgConn().TxStatus() != 'I' {
		if _, err := conn.PgConn().Exec(ctx, "rollback").ReadAll(); err != nil {
			p.destroy(ctx, conn)
			return
		}
	}

	p.mu.Lock()
	if p.closed || p.size > p.maxSize {
		p.size--
		p.mu.Unlock()
		conn.PgConn().Close(ctx)
		return
	}

	// Hand the connection directly to the head of the waiter queue.
	if elem := p.waiters.Front(); elem != nil {
		w := elem.Value.(*waiter)
		p.waiters.Remove(elem)
		elem.Value = nil
		p.mu.Unlock()
		w.ch <- conn
		return
	}

	p.idle = append(p.idle, conn)
	p.mu.Unlock()
}

// destroy drops a connection, decrements the size, and passes the freed slot to the next waiter.
func (p *Pool) destroy(ctx context.Context, conn *pglynx.Conn) {
	conn.PgConn().Close(ctx)
	p.mu.Lock()
	p.size--
	p.grantSlotLocked()
	p.mu.Unlock()
}

// grantSlotLocked reserves a slot for the head waiter so it can materialize a new connection. p.mu must be held.
func (p *Pool) grantSlotLocked() {
	if p.closed || p.size >= p.maxSize {
		return
	}
	elem := p.waiters.Front()
	if elem == nil {
		return
	}
	w := elem.Value.(*waiter)
	p.waiters.Remove(elem)
	elem.Value = nil
	p.size++
	w.ch <- nil
}

// recycle applies the configured recycling method. It reports whether the connection is usable.
func (p *Pool) recycle(ctx context.Context, conn *pglynx.Conn) bool {
	if conn.IsClosed() || conn.PgConn().CheckConn() != nil {
		return false
	}
	if p.config.RecyclingMethod == RecyclingFast {
		return true
	}

	if _, err := conn.PgConn().Exec(ctx, "select 1").ReadAll(); err != nil {
		return false
	}
	if p.config.RecyclingMethod == RecyclingVerified {
		return true
	}

	_, err := conn.PgConn().Exec(ctx, cleanSQL(conn.PgConn().ServerVersion())).ReadAll()
	return err == nil
}

// cleanSQL is the session reset sequence of RecyclingClean. DISCARD SEQUENCES requires a 9.4 or newer server.
func cleanSQL(serverVersion *semver.Version) string {
	sql := "close all; set session authorization default; reset all; unlisten *; select pg_advisory_unlock_all(); discard temp;"
	if serverVersion == nil || !serverVersion.LessThan(semver.MustParse("9.4.0")) {
		sql += " discard sequences;"
	}
	return sql
}

// Resize atomically updates the size cap. When shrinking, idle connections in excess of the new cap are dropped;
// connections already handed out are unaffected. When growing, blocked acquirers receive the new slots.
func (p *Pool) Resize(maxSize int32) error {
	if maxSize < 1 {
		return fmt.Errorf("max pool size must be at least 1")
	}

	p.mu.Lock()
	p.maxSize = maxSize

	var excess []*pglynx.Conn
	for p.size > p.maxSize && len(p.idle) > 0 {
		n := len(p.idle)
		excess = append(excess, p.idle[n-1])
		p.idle = p.idle[:n-1]
		p.size--
	}

	for p.size < p.maxSize && p.waiters.Len() > 0 {
		p.grantSlotLocked()
	}
	p.mu.Unlock()

	for _, conn := range excess {
		conn.PgConn().Close(context.Background())
	}
	return nil
}

// Status returns a consistent snapshot of the pool counters.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		MaxSize:   p.maxSize,
		Size:      p.size,
		Available: int32(len(p.idle)),
		Waiting:   int32(p.waiters.Len()),
	}
}

// Close drains the idle connections and fails new and queued acquirers with ErrPoolClosed. Connections in use are
// closed when released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	idle := p.idle
	p.idle = nil
	p.size -= int32(len(idle))

	for elem := p.waiters.Front(); elem != nil; elem = elem.Next() {
		w := elem.Value.(*waiter)
		elem.Value = nil
		close(w.ch)
	}
	p.waiters.Init()
	p.mu.Unlock()

	for _, conn := range idle {
		conn.PgConn().Close(context.Background())
	}
}
