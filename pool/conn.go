package pool

import (
	"context"
	"io"

	"github.com/jackc/pglynx"
)

// Conn is a pool-owned connection handed to exactly one acquirer at a time. Release returns it; afterwards any
// transaction, cursor, or prepared statement handle created from it fails with pglynx.ErrConnReleased.
type Conn struct {
	pool     *Pool
	conn     *pglynx.Conn
	released bool
}

// Release returns the connection to the pool. A connection still in a transaction is rolled back; a broken
// connection is dropped and replaced. Release is idempotent.
func (c *Conn) Release(ctx context.Context) {
	if c.released {
		return
	}
	c.released = true
	c.pool.release(ctx, c.conn)
}

// Hijack removes the connection from pool management and returns the underlying pglynx.Conn. The caller becomes
// responsible for closing it.
func (c *Conn) Hijack() *pglynx.Conn {
	if c.released {
		return nil
	}
	c.released = true
	conn := c.conn

	c.pool.mu.Lock()
	c.pool.size--
	c.pool.grantSlotLocked()
	c.pool.mu.Unlock()

	return conn
}

// Conn returns the underlying pglynx.Conn.
func (c *Conn) Conn() *pglynx.Conn { return c.conn }

// Execute issues sql on the underlying connection. See pglynx.Conn.Execute.
func (c *Conn) Execute(ctx context.Context, sql string, args ...interface{}) (*pglynx.QueryResult, error) {
	return c.conn.Execute(ctx, sql, args...)
}

// Fetch is an alias for Execute.
func (c *Conn) Fetch(ctx context.Context, sql string, args ...interface{}) (*pglynx.QueryResult, error) {
	return c.conn.Fetch(ctx, sql, args...)
}

// FetchRow issues a query that must return exactly one row. See pglynx.Conn.FetchRow.
func (c *Conn) FetchRow(ctx context.Context, sql string, args ...interface{}) (pglynx.Row, error) {
	return c.conn.FetchRow(ctx, sql, args...)
}

// FetchVal issues a query that must return exactly one row and returns its first column. See pglynx.Conn.FetchVal.
func (c *Conn) FetchVal(ctx context.Context, sql string, args ...interface{}) (interface{}, error) {
	return c.conn.FetchVal(ctx, sql, args...)
}

// ExecuteBatch issues a multi-statement string through the simple protocol. See pglynx.Conn.ExecuteBatch.
func (c *Conn) ExecuteBatch(ctx context.Context, sql string) ([]*pglynx.QueryResult, error) {
	return c.conn.ExecuteBatch(ctx, sql)
}

// ExecuteMany prepares sql once and executes it per argument tuple atomically. See pglynx.Conn.ExecuteMany.
func (c *Conn) ExecuteMany(ctx context.Context, sql string, argTuples [][]interface{}) error {
	return c.conn.ExecuteMany(ctx, sql, argTuples)
}

// Transaction returns a fresh transaction handle. See pglynx.Conn.Transaction.
func (c *Conn) Transaction(opts pglynx.TxOptions) *pglynx.Tx {
	return c.conn.Transaction(opts)
}

// Cursor returns a server-side cursor. See pglynx.Conn.Cursor.
func (c *Conn) Cursor(sql string, args []interface{}, fetchNumber int, scroll bool) *pglynx.Cursor {
	return c.conn.Cursor(sql, args, fetchNumber, scroll)
}

// Prepare creates a prepared statement. See pglynx.Conn.Prepare.
func (c *Conn) Prepare(ctx context.Context, sql string, args ...interface{}) (*pglynx.PreparedStatement, error) {
	return c.conn.Prepare(ctx, sql, args...)
}

// BinaryCopyToTable streams binary copy data into a table. See pglynx.Conn.BinaryCopyToTable.
func (c *Conn) BinaryCopyToTable(ctx context.Context, r io.Reader, schema, table string, columns []string) (int64, error) {
	return c.conn.BinaryCopyToTable(ctx, r, schema, table, columns)
}

// Ping executes an empty statement against the server.
func (c *Conn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}
