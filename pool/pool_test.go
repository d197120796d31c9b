package pool_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgproto3/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackc/pglynx"
	"github.com/jackc/pglynx/internal/lynxtest"
	"github.com/jackc/pglynx/pool"
)

type queryLog struct {
	mu   sync.Mutex
	sqls []string
}

func (ql *queryLog) add(sql string) {
	ql.mu.Lock()
	defer ql.mu.Unlock()
	ql.sqls = append(ql.sqls, strings.ToLower(strings.TrimSpace(sql)))
}

func (ql *queryLog) contains(substr string) bool {
	ql.mu.Lock()
	defer ql.mu.Unlock()
	for _, s := range ql.sqls {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustPool(t *testing.T, extraConnString string, handler lynxtest.QueryHandler) (*pool.Pool, *queryLog) {
	t.Helper()

	log := &queryLog{}
	srv, err := lynxtest.NewServer(func(sql string) []pgproto3.BackendMessage {
		log.add(sql)
		if handler != nil {
			return handler(sql)
		}
		return nil
	})
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	p, err := pool.Connect(testContext(t), srv.ConnString()+" "+extraConnString)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	return p, log
}

func TestParseConfig(t *testing.T) {
	config, err := pool.ParseConfig("host=foo user=jack sslmode=disable max_pool_size=7 recycling_method=clean")
	require.NoError(t, err)
	assert.Equal(t, int32(7), config.MaxSize)
	assert.Equal(t, pool.RecyclingClean, config.RecyclingMethod)

	// pool keys do not leak into the startup parameters
	_, found := config.ConnConfig.Config.RuntimeParams["max_pool_size"]
	assert.False(t, found)
	_, found = config.ConnConfig.Config.RuntimeParams["recycling_method"]
	assert.False(t, found)

	_, err = pool.ParseConfig("host=foo user=jack sslmode=disable max_pool_size=0")
	require.Error(t, err)

	_, err = pool.ParseConfig("host=foo user=jack sslmode=disable recycling_method=sparkling")
	require.Error(t, err)
}

func TestPoolSaturationFIFO(t *testing.T) {
	p, _ := mustPool(t, "max_pool_size=2", nil)
	ctx := testContext(t)

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	c2, err := p.Acquire(ctx)
	require.NoError(t, err)

	type result struct {
		conn *pool.Conn
		err  error
	}
	third := make(chan result, 1)
	go func() {
		conn, err := p.Acquire(ctx)
		third <- result{conn, err}
	}()

	require.Eventually(t, func() bool { return p.Status().Waiting == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, pool.Status{MaxSize: 2, Size: 2, Available: 0, Waiting: 1}, p.Status())

	c1.Release(ctx)

	res := <-third
	require.NoError(t, res.err)

	status := p.Status()
	assert.Equal(t, int32(2), status.Size)
	assert.Equal(t, int32(0), status.Available)
	assert.Equal(t, int32(0), status.Waiting)

	res.conn.Release(ctx)
	c2.Release(ctx)

	status = p.Status()
	assert.Equal(t, int32(2), status.Size)
	assert.Equal(t, int32(2), status.Available)
}

func TestPoolAcquireCancellationDoesNotLeakSlot(t *testing.T) {
	p, _ := mustPool(t, "max_pool_size=1", nil)
	ctx := testContext(t)

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)

	cancelCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(cancelCtx)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return p.Status().Waiting == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	require.Eventually(t, func() bool { return p.Status().Waiting == 0 }, 5*time.Second, 10*time.Millisecond)

	c1.Release(ctx)

	// the slot is still usable
	c2, err := p.Acquire(ctx)
	require.NoError(t, err)
	c2.Release(ctx)
}

func TestPoolReleaseRollsBackOpenTransaction(t *testing.T) {
	p, log := mustPool(t, "max_pool_size=1", nil)
	ctx := testContext(t)

	c, err := p.Acquire(ctx)
	require.NoError(t, err)

	_, err = c.Execute(ctx, "begin")
	require.NoError(t, err)
	require.Equal(t, byte('T'), c.Conn().PgConn().TxStatus())

	c.Release(ctx)
	assert.True(t, log.contains("rollback"))

	// the recycled connection is idle again
	c, err = p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte('I'), c.Conn().PgConn().TxStatus())
	c.Release(ctx)
}

func TestPoolReleasedHandlesAreInvalid(t *testing.T) {
	p, _ := mustPool(t, "max_pool_size=1", nil)
	ctx := testContext(t)

	c, err := p.Acquire(ctx)
	require.NoError(t, err)

	tx := c.Transaction(pglynx.TxOptions{})
	require.NoError(t, tx.Begin(ctx))
	c.Release(ctx)

	_, err = tx.Execute(ctx, "select 1")
	require.Error(t, err)
}

func TestPoolResize(t *testing.T) {
	p, _ := mustPool(t, "max_pool_size=3", nil)
	ctx := testContext(t)

	conns := make([]*pool.Conn, 3)
	for i := range conns {
		var err error
		conns[i], err = p.Acquire(ctx)
		require.NoError(t, err)
	}
	for _, c := range conns {
		c.Release(ctx)
	}

	assert.Equal(t, pool.Status{MaxSize: 3, Size: 3, Available: 3, Waiting: 0}, p.Status())

	require.NoError(t, p.Resize(1))
	assert.Equal(t, pool.Status{MaxSize: 1, Size: 1, Available: 1, Waiting: 0}, p.Status())

	require.NoError(t, p.Resize(5))
	assert.Equal(t, pool.Status{MaxSize: 5, Size: 1, Available: 1, Waiting: 0}, p.Status())

	require.Error(t, p.Resize(0))
}

func TestPoolResizeGrowWakesWaiters(t *testing.T) {
	p, _ := mustPool(t, "max_pool_size=1", nil)
	ctx := testContext(t)

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)

	acquired := make(chan *pool.Conn, 1)
	go func() {
		c, err := p.Acquire(ctx)
		if err == nil {
			acquired <- c
		}
	}()

	require.Eventually(t, func() bool { return p.Status().Waiting == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Resize(2))

	c2 := <-acquired
	c2.Release(ctx)
	c1.Release(ctx)
}

func TestPoolClose(t *testing.T) {
	p, _ := mustPool(t, "max_pool_size=2", nil)
	ctx := testContext(t)

	c, err := p.Acquire(ctx)
	require.NoError(t, err)

	p.Close()

	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, pool.ErrPoolClosed)

	// in-flight connections close on release
	c.Release(ctx)
	assert.Equal(t, int32(0), p.Status().Size)
}

func TestPoolCloseWakesQueuedAcquirers(t *testing.T) {
	p, _ := mustPool(t, "max_pool_size=1", nil)
	ctx := testContext(t)

	c, err := p.Acquire(ctx)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return p.Status().Waiting == 1 }, 5*time.Second, 10*time.Millisecond)

	p.Close()
	require.ErrorIs(t, <-errCh, pool.ErrPoolClosed)

	c.Release(ctx)
}

func TestPoolRecyclingVerified(t *testing.T) {
	p, log := mustPool(t, "max_pool_size=1 recycling_method=verified", nil)
	ctx := testContext(t)

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	c.Release(ctx)

	c, err = p.Acquire(ctx)
	require.NoError(t, err)
	defer c.Release(ctx)

	assert.True(t, log.contains("select 1"))
}

func TestPoolRecyclingClean(t *testing.T) {
	p, log := mustPool(t, "max_pool_size=1 recycling_method=clean", nil)
	ctx := testContext(t)

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	c.Release(ctx)

	c, err = p.Acquire(ctx)
	require.NoError(t, err)
	defer c.Release(ctx)

	assert.True(t, log.contains("close all"))
	assert.True(t, log.contains("set session authorization default"))
	assert.True(t, log.contains("reset all"))
	assert.True(t, log.contains("unlisten *"))
	assert.True(t, log.contains("pg_advisory_unlock_all"))
	assert.True(t, log.contains("discard temp"))
	assert.True(t, log.contains("discard sequences"))

	// the prepared statement cache survives: no deallocate-style reset is issued
	assert.False(t, log.contains("deallocate"))
	assert.False(t, log.contains("discard plan"))
	assert.False(t, log.contains("discard all"))
}

func TestPoolDialFailureSurfacesToAcquirer(t *testing.T) {
	config, err := pool.ParseConfig("host=127.0.0.1 port=1 user=jack sslmode=disable connect_timeout=1 max_pool_size=1")
	require.NoError(t, err)

	p, err := pool.ConnectConfig(testContext(t), config)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Acquire(testContext(t))
	require.Error(t, err)

	// the failed attempt does not leak a slot
	assert.Equal(t, int32(0), p.Status().Size)
}
