package pglynx

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pglynx/pgconn"
)

// TxIsoLevel is a transaction isolation level.
type TxIsoLevel string

// Transaction isolation levels
const (
	Serializable    = TxIsoLevel("serializable")
	RepeatableRead  = TxIsoLevel("repeatable read")
	ReadCommitted   = TxIsoLevel("read committed")
	ReadUncommitted = TxIsoLevel("read uncommitted")
)

// TxAccessMode is a transaction access mode.
type TxAccessMode string

// Transaction access modes
const (
	ReadWrite = TxAccessMode("read write")
	ReadOnly  = TxAccessMode("read only")
)

// TxDeferrableMode is a transaction deferrable mode.
type TxDeferrableMode string

// Transaction deferrable modes
const (
	Deferrable    = TxDeferrableMode("deferrable")
	NotDeferrable = TxDeferrableMode("not deferrable")
)

// TxOptions are the transaction mode knobs passed to BEGIN. Deferrable is only meaningful with Serializable and
// ReadOnly but any combination is passed through; the server enforces.
type TxOptions struct {
	IsoLevel       TxIsoLevel
	AccessMode     TxAccessMode
	DeferrableMode TxDeferrableMode
}

func (txOptions TxOptions) beginSQL() string {
	buf := &bytes.Buffer{}
	buf.WriteString("begin")
	if txOptions.IsoLevel != "" {
		fmt.Fprintf(buf, " isolation level %s", txOptions.IsoLevel)
	}
	if txOptions.AccessMode != "" {
		fmt.Fprintf(buf, " %s", txOptions.AccessMode)
	}
	if txOptions.DeferrableMode != "" {
		fmt.Fprintf(buf, " %s", txOptions.DeferrableMode)
	}

	return buf.String()
}

type txStatus int

const (
	txFresh txStatus = iota
	txActive
	txDone
)

// Tx is a transaction scope over a connection. It is created in a fresh state by Conn.Transaction; Begin makes it
// active and exactly one of Commit or Rollback finishes it. At most one transaction may be active per connection at
// a time.
type Tx struct {
	conn       *Conn
	generation uint64
	opts       TxOptions

	status     txStatus
	aborted    bool
	savepoints []string
}

// Begin starts the transaction with the configured options. Beginning twice fails, as does beginning while another
// transaction is active on the connection.
func (tx *Tx) Begin(ctx context.Context) error {
	if err := tx.conn.checkGeneration(tx.generation); err != nil {
		return &TxError{Op: "begin", Err: err}
	}
	if tx.status != txFresh {
		return &TxError{Op: "begin", Err: ErrTxAlreadyBegun}
	}
	if tx.conn.activeTx != nil {
		return &TxError{Op: "begin", Err: ErrConnBusy}
	}

	if _, err := tx.conn.pgConn.Exec(ctx, tx.opts.beginSQL()).ReadAll(); err != nil {
		return &TxError{Op: "begin", Err: err}
	}

	tx.status = txActive
	tx.conn.activeTx = tx
	return nil
}

// BeginFunc is the scoped form: it begins the transaction, runs fn, and commits on a nil return or rolls back on an
// error or panic.
func (tx *Tx) BeginFunc(ctx context.Context, fn func(tx *Tx) error) (err error) {
	if err := tx.Begin(ctx); err != nil {
		return err
	}

	defer func() {
		rollbackErr := tx.Rollback(ctx)
		if rollbackErr != nil && !errors.Is(rollbackErr, ErrTxClosed) && err == nil {
			err = rollbackErr
		}
	}()

	fErr := fn(tx)
	if fErr != nil {
		_ = tx.Rollback(ctx) // ignore rollback error as there is already an error to return
		return fErr
	}

	return tx.Commit(ctx)
}

// Commit commits the transaction. If the transaction was aborted by a server error the server turns COMMIT into
// ROLLBACK and ErrTxCommitRollback is returned.
func (tx *Tx) Commit(ctx context.Context) error {
	if err := tx.conn.checkGeneration(tx.generation); err != nil {
		return &TxError{Op: "commit", Err: err}
	}
	if tx.status != txActive {
		return &TxError{Op: "commit", Err: ErrTxClosed}
	}

	results, err := tx.conn.pgConn.Exec(ctx, "commit").ReadAll()
	tx.finish()
	if err != nil {
		return &TxError{Op: "commit", Err: err}
	}
	if len(results) == 1 && string(results[0].CommandTag) == "ROLLBACK" {
		return ErrTxCommitRollback
	}

	return nil
}

// Rollback rolls back the transaction.
func (tx *Tx) Rollback(ctx context.Context) error {
	if err := tx.conn.checkGeneration(tx.generation); err != nil {
		return &TxError{Op: "rollback", Err: err}
	}
	if tx.status != txActive {
		return &TxError{Op: "rollback", Err: ErrTxClosed}
	}

	_, err := tx.conn.pgConn.Exec(ctx, "rollback").ReadAll()
	tx.finish()
	if err != nil {
		return &TxError{Op: "rollback", Err: err}
	}

	return nil
}

func (tx *Tx) finish() {
	tx.status = txDone
	tx.aborted = false
	tx.savepoints = nil
	if tx.conn.activeTx == tx {
		tx.conn.activeTx = nil
	}
}

// operable verifies the transaction can run a statement.
func (tx *Tx) operable() error {
	if err := tx.conn.checkGeneration(tx.generation); err != nil {
		return err
	}
	switch tx.status {
	case txFresh, txDone:
		return ErrTxClosed
	}
	if tx.aborted {
		return ErrTxAborted
	}
	return nil
}

// noteServerError latches the aborted state after a server error inside the transaction. Subsequent statements fail
// until Rollback or a rollback to a savepoint.
func (tx *Tx) noteServerError(err error) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && tx.conn.pgConn.TxStatus() == 'E' {
		tx.aborted = true
	}
}

// Execute issues sql on the transaction's connection. See Conn.Execute.
func (tx *Tx) Execute(ctx context.Context, sql string, args ...interface{}) (*QueryResult, error) {
	if err := tx.operable(); err != nil {
		return nil, &TxError{Op: "exec", Err: err}
	}
	qr, err := tx.conn.Execute(ctx, sql, args...)
	if err != nil {
		tx.noteServerError(err)
	}
	return qr, err
}

// Fetch is an alias for Execute.
func (tx *Tx) Fetch(ctx context.Context, sql string, args ...interface{}) (*QueryResult, error) {
	return tx.Execute(ctx, sql, args...)
}

// FetchRow issues a query that must return exactly one row. See Conn.FetchRow.
func (tx *Tx) FetchRow(ctx context.Context, sql string, args ...interface{}) (Row, error) {
	if err := tx.operable(); err != nil {
		return Row{}, &TxError{Op: "exec", Err: err}
	}
	row, err := tx.conn.FetchRow(ctx, sql, args...)
	if err != nil {
		tx.noteServerError(err)
	}
	return row, err
}

// FetchVal issues a query that must return exactly one row and returns its first column. See Conn.FetchVal.
func (tx *Tx) FetchVal(ctx context.Context, sql string, args ...interface{}) (interface{}, error) {
	if err := tx.operable(); err != nil {
		return nil, &TxError{Op: "exec", Err: err}
	}
	v, err := tx.conn.FetchVal(ctx, sql, args...)
	if err != nil {
		tx.noteServerError(err)
	}
	return v, err
}

// ExecuteMany prepares sql once and executes it per argument tuple. Unlike Conn.ExecuteMany no implicit transaction
// is opened; failure aborts this transaction.
func (tx *Tx) ExecuteMany(ctx context.Context, sql string, argTuples [][]interface{}) error {
	if err := tx.operable(); err != nil {
		return &TxError{Op: "exec", Err: err}
	}
	err := tx.conn.ExecuteMany(ctx, sql, argTuples)
	if err != nil {
		tx.noteServerError(err)
	}
	return err
}

// Cursor returns a server-side cursor bound to this transaction. See Conn.Cursor.
func (tx *Tx) Cursor(sql string, args []interface{}, fetchNumber int, scroll bool) *Cursor {
	cur := tx.conn.Cursor(sql, args, fetchNumber, scroll)
	cur.tx = tx
	return cur
}

// CreateSavepoint establishes a savepoint. Names must be unique while still on the savepoint stack.
func (tx *Tx) CreateSavepoint(ctx context.Context, name string) error {
	if err := tx.operable(); err != nil {
		return &TxError{Op: "savepoint", Err: err}
	}
	if tx.savepointIndex(name) != -1 {
		return &TxError{Op: "savepoint", Err: ErrSavepointLive}
	}

	if _, err := tx.conn.pgConn.Exec(ctx, "savepoint "+Identifier{name}.Sanitize()).ReadAll(); err != nil {
		tx.noteServerError(err)
		return &TxError{Op: "savepoint", Err: err}
	}

	tx.savepoints = append(tx.savepoints, name)
	return nil
}

// RollbackToSavepoint rolls back to a savepoint on the stack. Savepoints established after it are destroyed; the
// savepoint itself stays on the stack. It also clears the aborted state caused by a server error.
func (tx *Tx) RollbackToSavepoint(ctx context.Context, name string) error {
	if err := tx.conn.checkGeneration(tx.generation); err != nil {
		return &TxError{Op: "savepoint", Err: err}
	}
	if tx.status != txActive {
		return &TxError{Op: "savepoint", Err: ErrTxClosed}
	}
	idx := tx.savepointIndex(name)
	if idx == -1 {
		return &TxError{Op: "savepoint", Err: ErrSavepointNotFound}
	}

	if _, err := tx.conn.pgConn.Exec(ctx, "rollback to savepoint "+Identifier{name}.Sanitize()).ReadAll(); err != nil {
		tx.noteServerError(err)
		return &TxError{Op: "savepoint", Err: err}
	}

	tx.savepoints = tx.savepoints[:idx+1]
	tx.aborted = false
	return nil
}

// ReleaseSavepoint releases a savepoint, removing it and any savepoints established after it from the stack.
func (tx *Tx) ReleaseSavepoint(ctx context.Context, name string) error {
	if err := tx.operable(); err != nil {
		return &TxError{Op: "savepoint", Err: err}
	}
	idx := tx.savepointIndex(name)
	if idx == -1 {
		return &TxError{Op: "savepoint", Err: ErrSavepointNotFound}
	}

	if _, err := tx.conn.pgConn.Exec(ctx, "release savepoint "+Identifier{name}.Sanitize()).ReadAll(); err != nil {
		tx.noteServerError(err)
		return &TxError{Op: "savepoint", Err: err}
	}

	tx.savepoints = tx.savepoints[:idx]
	return nil
}

func (tx *Tx) savepointIndex(name string) int {
	for i, sp := range tx.savepoints {
		if sp == name {
			return i
		}
	}
	return -1
}

// PipelineQuery is one query of a pipeline.
type PipelineQuery struct {
	SQL  string
	Args []interface{}
}

// Pipeline sends every query to the server before reading any response. The returned slice has one QueryResult per
// input query in input order. If a query fails the server skips the remainder; the slice is truncated at the failing
// query and the error carries its index and the server diagnostic. The transaction is begun implicitly if it is
// still fresh.
func (tx *Tx) Pipeline(ctx context.Context, queries []PipelineQuery, prepared bool) ([]*QueryResult, error) {
	if err := tx.conn.checkGeneration(tx.generation); err != nil {
		return nil, &TxError{Op: "pipeline", Err: err}
	}
	if tx.status == txFresh {
		if err := tx.Begin(ctx); err != nil {
			return nil, err
		}
	}
	if err := tx.operable(); err != nil {
		return nil, &TxError{Op: "pipeline", Err: err}
	}

	batch := &pgconn.Batch{}
	for i := range queries {
		sql, args, err := tx.conn.rewriteNamedArgs(queries[i].SQL, queries[i].Args)
		if err != nil {
			return nil, &TxError{Op: "pipeline", Err: &PipelineError{Index: i, Err: err}}
		}

		values, oids, formats, err := encodeArgs(args)
		if err != nil {
			return nil, &TxError{Op: "pipeline", Err: &PipelineError{Index: i, Err: err}}
		}

		if prepared {
			sd, err := tx.conn.prepareCached(ctx, sql, oids)
			if err != nil {
				return nil, &TxError{Op: "pipeline", Err: &PipelineError{Index: i, Err: err}}
			}
			batch.ExecPrepared(sd.Name, values, formats, binaryResultFormats)
		} else {
			batch.ExecParams(sql, values, oids, formats, binaryResultFormats)
		}
	}

	mrr := tx.conn.pgConn.ExecBatch(ctx, batch)

	results := make([]*QueryResult, 0, len(queries))
	var pipelineErr error
	idx := 0
	for mrr.NextResult() {
		res := mrr.ResultReader().Read()
		if res.Err != nil {
			pipelineErr = &PipelineError{Index: idx, Err: res.Err}
			break
		}
		qr, err := decodeResult(tx.conn.typeMap, res)
		if err != nil {
			pipelineErr = &PipelineError{Index: idx, Err: err}
			break
		}
		results = append(results, qr)
		idx++
	}

	closeErr := mrr.Close()
	if pipelineErr == nil && closeErr != nil && idx < len(queries) {
		pipelineErr = &PipelineError{Index: idx, Err: closeErr}
	}

	if pipelineErr != nil {
		tx.noteServerError(errors.Unwrap(pipelineErr.(*PipelineError)))
		return results, &TxError{Op: "pipeline", Err: pipelineErr}
	}

	return results, nil
}
