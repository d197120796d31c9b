package pglynx

import (
	"errors"
	"fmt"

	"github.com/jackc/pglynx/pgconn"
)

var (
	// ErrNoRows occurs when a query expected to return exactly one row returns none.
	ErrNoRows = errors.New("no rows in result set")

	// ErrTooManyRows occurs when a query expected to return exactly one row returns more than one.
	ErrTooManyRows = errors.New("query returned more than one row")

	// ErrConnClosed occurs on any operation on a closed connection.
	ErrConnClosed = errors.New("conn closed")

	// ErrConnReleased occurs when a transaction, cursor, or prepared statement outlives the connection it was
	// created from. The handle is permanently invalid.
	ErrConnReleased = errors.New("conn released to pool while handle still referenced it")

	// ErrConnBusy occurs when an operation is attempted while another transaction still owns the connection.
	ErrConnBusy = errors.New("conn has an active transaction")

	// ErrTxClosed occurs on any operation on an already committed or rolled back transaction.
	ErrTxClosed = errors.New("tx is closed")

	// ErrTxAlreadyBegun occurs when Begin is called on a transaction that is already active.
	ErrTxAlreadyBegun = errors.New("tx already begun")

	// ErrTxAborted occurs on any operation besides Rollback after a server error inside a transaction.
	ErrTxAborted = errors.New("tx is aborted, rollback required")

	// ErrTxCommitRollback occurs when an error has occurred in a transaction and Commit() is called. PostgreSQL accepts
	// COMMIT on aborted transactions, but it is treated as ROLLBACK.
	ErrTxCommitRollback = errors.New("commit unexpectedly resulted in rollback")

	// ErrSavepointLive occurs when a savepoint name is reused while still on the savepoint stack.
	ErrSavepointLive = errors.New("savepoint name already on the stack")

	// ErrSavepointNotFound occurs when rolling back to or releasing a savepoint that is not on the stack.
	ErrSavepointNotFound = errors.New("savepoint not on the stack")

	// ErrCursorClosed occurs on fetch operations on a closed cursor.
	ErrCursorClosed = errors.New("cursor is closed")

	// ErrCursorNotScrollable occurs when a scroll-only fetch (FetchNext, FetchForwardAll, or a backward, relative, or
	// absolute positioning form) is used on a cursor that was not declared SCROLL.
	ErrCursorNotScrollable = errors.New("cursor is not scrollable")

	// ErrCursorNotStarted occurs on fetch operations before the cursor is declared.
	ErrCursorNotStarted = errors.New("cursor has not been declared")

	// ErrListenerClosed occurs on operations on a listener that has been shut down.
	ErrListenerClosed = errors.New("listener is closed")

	// ErrListenerStarted occurs when Listen is called while the receive loop is already running.
	ErrListenerStarted = errors.New("listener is already listening")
)

// ExecError wraps a failure of a statement issued on a connection.
type ExecError struct {
	SQL string
	Err error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("exec failed: %s", e.Err.Error())
}

func (e *ExecError) Unwrap() error { return e.Err }

// TxError wraps a failure of a transaction control operation. Op is one of begin, commit, rollback, savepoint,
// pipeline, or exec.
type TxError struct {
	Op  string
	Err error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("tx %s failed: %s", e.Op, e.Err.Error())
}

func (e *TxError) Unwrap() error { return e.Err }

// PipelineError wraps the server diagnostic of the query that aborted a pipeline. Index is the position of the
// failing query in the input.
type PipelineError struct {
	Index int
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline query %d failed: %s", e.Index, e.Err.Error())
}

func (e *PipelineError) Unwrap() error { return e.Err }

// CursorError wraps a failure of a cursor operation. Op is one of declare, fetch, or close.
type CursorError struct {
	Name string
	Op   string
	Err  error
}

func (e *CursorError) Error() string {
	return fmt.Sprintf("cursor %s %s failed: %s", e.Name, e.Op, e.Err.Error())
}

func (e *CursorError) Unwrap() error { return e.Err }

// ListenerError wraps a failure of a listener operation.
type ListenerError struct {
	Op  string
	Err error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener %s failed: %s", e.Op, e.Err.Error())
}

func (e *ListenerError) Unwrap() error { return e.Err }

// NamedParamError occurs when the named parameter set and the placeholders in the query do not match. It is raised
// before any network I/O.
type NamedParamError struct {
	Name    string
	Missing bool
}

func (e *NamedParamError) Error() string {
	if e.Missing {
		return fmt.Sprintf("named parameter %q referenced in query but not supplied", e.Name)
	}
	return fmt.Sprintf("named parameter %q supplied but not referenced in query", e.Name)
}

// ServerDiagnostic returns the server error underlying err, if any. It exposes the SQLSTATE, detail, hint, and
// position fields of the server's error response.
func ServerDiagnostic(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func sqlStateClass(err error, class string) bool {
	if pgErr, ok := ServerDiagnostic(err); ok {
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == class
	}
	return false
}

func sqlState(err error, code string) bool {
	if pgErr, ok := ServerDiagnostic(err); ok {
		return pgErr.Code == code
	}
	return false
}

// IsConstraintViolation reports whether err is a server integrity constraint violation (SQLSTATE class 23).
func IsConstraintViolation(err error) bool { return sqlStateClass(err, "23") }

// IsDivisionByZero reports whether err is a server division by zero error.
func IsDivisionByZero(err error) bool { return sqlState(err, pgconn.DivisionByZeroCode) }

// IsSerializationFailure reports whether err is a serialization failure under SERIALIZABLE or REPEATABLE READ.
func IsSerializationFailure(err error) bool { return sqlState(err, pgconn.SerializationFailureCode) }

// IsDeadlockDetected reports whether err is a server deadlock detection.
func IsDeadlockDetected(err error) bool { return sqlState(err, pgconn.DeadlockDetectedCode) }
