package pglynx

import (
	"context"
	"fmt"
	"strings"
)

const defaultCursorArraySize = 10

type cursorState int

const (
	cursorPending cursorState = iota
	cursorDeclared
	cursorClosed
)

// Cursor is a server-side scrollable result stream. It must live inside a transaction; Start opens one implicitly
// when none is active and Close finishes it.
//
// A Cursor is also a batch iterator:
//
//	cur := conn.Cursor("select * from widgets", nil, 50, false)
//	if err := cur.Start(ctx); err != nil { ... }
//	defer cur.Close(ctx)
//	for cur.Next(ctx) {
//		for _, row := range cur.Batch().Rows() { ... }
//	}
//	if cur.Err() != nil { ... }
type Cursor struct {
	conn       *Conn
	tx         *Tx
	generation uint64

	name      string
	sql       string
	args      []interface{}
	arraySize int
	scroll    bool

	state cursorState
	ownTx bool

	// iterator state
	batch *QueryResult
	err   error
	done  bool
}

// Name returns the server-side cursor name.
func (cur *Cursor) Name() string { return cur.name }

// ArraySize returns the default fetch batch size.
func (cur *Cursor) ArraySize() int { return cur.arraySize }

// SetArraySize changes the default fetch batch size.
func (cur *Cursor) SetArraySize(n int) {
	if n > 0 {
		cur.arraySize = n
	}
}

// Start declares the cursor on the server. If no transaction is active one is begun and will be committed by Close.
func (cur *Cursor) Start(ctx context.Context) error {
	if err := cur.conn.checkGeneration(cur.generation); err != nil {
		return &CursorError{Name: cur.name, Op: "declare", Err: err}
	}
	if cur.state != cursorPending {
		return &CursorError{Name: cur.name, Op: "declare", Err: fmt.Errorf("cursor already declared")}
	}

	if cur.conn.pgConn.TxStatus() == 'I' {
		if _, err := cur.conn.pgConn.Exec(ctx, "begin").ReadAll(); err != nil {
			return &CursorError{Name: cur.name, Op: "declare", Err: err}
		}
		cur.ownTx = true
	}

	sb := &strings.Builder{}
	fmt.Fprintf(sb, "declare %s ", Identifier{cur.name}.Sanitize())
	if cur.scroll {
		sb.WriteString("scroll ")
	} else {
		sb.WriteString("no scroll ")
	}
	sb.WriteString("cursor for ")
	sb.WriteString(cur.sql)

	if _, err := cur.conn.execute(ctx, sb.String(), false, cur.args); err != nil {
		cur.abandonOwnTx(ctx)
		return &CursorError{Name: cur.name, Op: "declare", Err: err}
	}

	cur.state = cursorDeclared
	return nil
}

// Execute sets the cursor's query and declares it in one step.
func (cur *Cursor) Execute(ctx context.Context, sql string, args ...interface{}) error {
	cur.sql = sql
	cur.args = args
	return cur.Start(ctx)
}

func (cur *Cursor) abandonOwnTx(ctx context.Context) {
	if cur.ownTx {
		cur.conn.pgConn.Exec(ctx, "rollback").ReadAll()
		cur.ownTx = false
	}
}

// fetch runs a FETCH form against the declared cursor.
func (cur *Cursor) fetch(ctx context.Context, op, sqlFormat string, a ...interface{}) (*QueryResult, error) {
	if err := cur.conn.checkGeneration(cur.generation); err != nil {
		return nil, &CursorError{Name: cur.name, Op: op, Err: err}
	}
	switch cur.state {
	case cursorPending:
		return nil, &CursorError{Name: cur.name, Op: op, Err: ErrCursorNotStarted}
	case cursorClosed:
		return nil, &CursorError{Name: cur.name, Op: op, Err: ErrCursorClosed}
	}

	sql := fmt.Sprintf(sqlFormat, append(a, Identifier{cur.name}.Sanitize())...)
	qr, err := cur.conn.execute(ctx, sql, false, nil)
	if err != nil {
		if cur.tx != nil {
			cur.tx.noteServerError(err)
		}
		return nil, &CursorError{Name: cur.name, Op: op, Err: err}
	}
	return qr, nil
}

func (cur *Cursor) requireScroll(op string) error {
	if !cur.scroll {
		return &CursorError{Name: cur.name, Op: op, Err: ErrCursorNotScrollable}
	}
	return nil
}

// FetchOne fetches the next row. The result has at most one row.
func (cur *Cursor) FetchOne(ctx context.Context) (*QueryResult, error) {
	return cur.fetch(ctx, "fetch", "fetch next from %s")
}

// FetchMany fetches the next size rows. size <= 0 uses the cursor's array size.
func (cur *Cursor) FetchMany(ctx context.Context, size int) (*QueryResult, error) {
	if size <= 0 {
		size = cur.arraySize
	}
	return cur.fetch(ctx, "fetch", "fetch forward %d from %s", size)
}

// FetchAll fetches all remaining rows.
func (cur *Cursor) FetchAll(ctx context.Context) (*QueryResult, error) {
	return cur.fetch(ctx, "fetch", "fetch forward all from %s")
}

// FetchNext fetches the row after the current position. The cursor must be scrollable.
func (cur *Cursor) FetchNext(ctx context.Context) (*QueryResult, error) {
	if err := cur.requireScroll("fetch"); err != nil {
		return nil, err
	}
	return cur.fetch(ctx, "fetch", "fetch next from %s")
}

// FetchPrior fetches the row before the current position. The cursor must be scrollable.
func (cur *Cursor) FetchPrior(ctx context.Context) (*QueryResult, error) {
	if err := cur.requireScroll("fetch"); err != nil {
		return nil, err
	}
	return cur.fetch(ctx, "fetch", "fetch prior from %s")
}

// FetchFirst fetches the first row. The cursor must be scrollable.
func (cur *Cursor) FetchFirst(ctx context.Context) (*QueryResult, error) {
	if err := cur.requireScroll("fetch"); err != nil {
		return nil, err
	}
	return cur.fetch(ctx, "fetch", "fetch first from %s")
}

// FetchLast fetches the last row. The cursor must be scrollable.
func (cur *Cursor) FetchLast(ctx context.Context) (*QueryResult, error) {
	if err := cur.requireScroll("fetch"); err != nil {
		return nil, err
	}
	return cur.fetch(ctx, "fetch", "fetch last from %s")
}

// FetchAbsolute fetches the n'th row, counting from 1. The cursor must be scrollable.
func (cur *Cursor) FetchAbsolute(ctx context.Context, n int) (*QueryResult, error) {
	if err := cur.requireScroll("fetch"); err != nil {
		return nil, err
	}
	return cur.fetch(ctx, "fetch", "fetch absolute %d from %s", n)
}

// FetchRelative fetches the row n rows from the current position; n may be negative. The cursor must be scrollable.
func (cur *Cursor) FetchRelative(ctx context.Context, n int) (*QueryResult, error) {
	if err := cur.requireScroll("fetch"); err != nil {
		return nil, err
	}
	return cur.fetch(ctx, "fetch", "fetch relative %d from %s", n)
}

// FetchForwardAll fetches all rows after the current position. The cursor must be scrollable.
func (cur *Cursor) FetchForwardAll(ctx context.Context) (*QueryResult, error) {
	if err := cur.requireScroll("fetch"); err != nil {
		return nil, err
	}
	return cur.fetch(ctx, "fetch", "fetch forward all from %s")
}

// FetchBackward fetches the prior n rows, scanning backwards. The cursor must be scrollable.
func (cur *Cursor) FetchBackward(ctx context.Context, n int) (*QueryResult, error) {
	if err := cur.requireScroll("fetch"); err != nil {
		return nil, err
	}
	return cur.fetch(ctx, "fetch", "fetch backward %d from %s", n)
}

// FetchBackwardAll fetches all rows before the current position, scanning backwards. The cursor must be scrollable.
func (cur *Cursor) FetchBackwardAll(ctx context.Context) (*QueryResult, error) {
	if err := cur.requireScroll("fetch"); err != nil {
		return nil, err
	}
	return cur.fetch(ctx, "fetch", "fetch backward all from %s")
}

// Close closes the server-side cursor and, if the cursor opened its transaction, commits it. Close is idempotent
// once the cursor is closed.
func (cur *Cursor) Close(ctx context.Context) error {
	if cur.state == cursorClosed {
		return nil
	}
	if err := cur.conn.checkGeneration(cur.generation); err != nil {
		cur.state = cursorClosed
		return &CursorError{Name: cur.name, Op: "close", Err: err}
	}

	declared := cur.state == cursorDeclared
	cur.state = cursorClosed

	if !declared {
		return nil
	}

	if _, err := cur.conn.pgConn.Exec(ctx, "close "+Identifier{cur.name}.Sanitize()).ReadAll(); err != nil {
		cur.abandonOwnTx(ctx)
		return &CursorError{Name: cur.name, Op: "close", Err: err}
	}

	if cur.ownTx {
		cur.ownTx = false
		if _, err := cur.conn.pgConn.Exec(ctx, "commit").ReadAll(); err != nil {
			return &CursorError{Name: cur.name, Op: "close", Err: err}
		}
	}

	return nil
}

// Next advances the iterator by one batch of up to ArraySize rows. It returns false when the result set is
// exhausted, an error occurred, or ctx was canceled; cancellation closes the cursor. Err reports the terminal
// error, if any.
func (cur *Cursor) Next(ctx context.Context) bool {
	if cur.done || cur.state == cursorClosed {
		return false
	}

	if ctx.Err() != nil {
		cur.err = ctx.Err()
		cur.done = true
		cur.Close(context.Background())
		return false
	}

	qr, err := cur.FetchMany(ctx, cur.arraySize)
	if err != nil {
		cur.err = err
		cur.done = true
		return false
	}
	if qr.Len() == 0 {
		cur.done = true
		return false
	}

	cur.batch = qr
	return true
}

// Batch returns the rows fetched by the last successful Next.
func (cur *Cursor) Batch() *QueryResult { return cur.batch }

// Err returns the error that terminated iteration, if any.
func (cur *Cursor) Err() error { return cur.err }
