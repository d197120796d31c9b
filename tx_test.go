package pglynx_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgproto3/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackc/pglynx"
	"github.com/jackc/pglynx/internal/lynxtest"
	"github.com/jackc/pglynx/pgtype"
)

func TestTxLifecycle(t *testing.T) {
	conn, log := mustConnect(t, nil)
	ctx := testContext(t)

	tx := conn.Transaction(pglynx.TxOptions{IsoLevel: pglynx.Serializable, AccessMode: pglynx.ReadOnly})
	require.NoError(t, tx.Begin(ctx))
	assert.True(t, log.contains("begin isolation level serializable read only"))

	_, err := tx.Execute(ctx, "select 1")
	require.NoError(t, err)

	require.NoError(t, tx.Commit(ctx))

	// transitions outside the state machine fail
	err = tx.Commit(ctx)
	require.ErrorIs(t, err, pglynx.ErrTxClosed)
	err = tx.Rollback(ctx)
	require.ErrorIs(t, err, pglynx.ErrTxClosed)
	_, err = tx.Execute(ctx, "select 1")
	require.ErrorIs(t, err, pglynx.ErrTxClosed)
}

func TestTxDoubleBegin(t *testing.T) {
	conn, _ := mustConnect(t, nil)
	ctx := testContext(t)

	tx := conn.Transaction(pglynx.TxOptions{})
	require.NoError(t, tx.Begin(ctx))
	require.ErrorIs(t, tx.Begin(ctx), pglynx.ErrTxAlreadyBegun)

	// a second transaction cannot begin while the first is active
	tx2 := conn.Transaction(pglynx.TxOptions{})
	require.ErrorIs(t, tx2.Begin(ctx), pglynx.ErrConnBusy)

	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, tx2.Begin(ctx))
	require.NoError(t, tx2.Rollback(ctx))
}

func TestTxExecuteBeforeBegin(t *testing.T) {
	conn, _ := mustConnect(t, nil)
	ctx := testContext(t)

	tx := conn.Transaction(pglynx.TxOptions{})
	_, err := tx.Execute(ctx, "select 1")
	require.ErrorIs(t, err, pglynx.ErrTxClosed)
}

func TestTxBeginFunc(t *testing.T) {
	conn, log := mustConnect(t, nil)
	ctx := testContext(t)

	err := conn.Transaction(pglynx.TxOptions{}).BeginFunc(ctx, func(tx *pglynx.Tx) error {
		_, err := tx.Execute(ctx, "insert into t values (1)")
		return err
	})
	require.NoError(t, err)
	assert.True(t, log.contains("commit"))

	boom := errors.New("boom")
	err = conn.Transaction(pglynx.TxOptions{}).BeginFunc(ctx, func(tx *pglynx.Tx) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.True(t, log.contains("rollback"))
}

func TestTxSavepointStack(t *testing.T) {
	conn, log := mustConnect(t, nil)
	ctx := testContext(t)

	tx := conn.Transaction(pglynx.TxOptions{})
	require.NoError(t, tx.Begin(ctx))

	require.NoError(t, tx.CreateSavepoint(ctx, "sp1"))
	assert.True(t, log.contains(`savepoint "sp1"`))

	// reusing a live name is an error
	err := tx.CreateSavepoint(ctx, "sp1")
	require.ErrorIs(t, err, pglynx.ErrSavepointLive)

	require.NoError(t, tx.CreateSavepoint(ctx, "sp2"))

	// rolling back to sp1 destroys sp2 but keeps sp1
	require.NoError(t, tx.RollbackToSavepoint(ctx, "sp1"))
	assert.True(t, log.contains(`rollback to savepoint "sp1"`))
	require.ErrorIs(t, tx.ReleaseSavepoint(ctx, "sp2"), pglynx.ErrSavepointNotFound)

	// sp1 can now be reused after release
	require.NoError(t, tx.ReleaseSavepoint(ctx, "sp1"))
	require.ErrorIs(t, tx.ReleaseSavepoint(ctx, "sp1"), pglynx.ErrSavepointNotFound)
	require.NoError(t, tx.CreateSavepoint(ctx, "sp1"))

	require.NoError(t, tx.Rollback(ctx))

	require.ErrorIs(t, tx.CreateSavepoint(ctx, "sp3"), pglynx.ErrTxClosed)
}

func TestTxAbortedLatch(t *testing.T) {
	conn, _ := mustConnect(t, func(sql string) []pgproto3.BackendMessage {
		if strings.Contains(sql, "boom") {
			return lynxtest.ServerError("23505", "duplicate key")
		}
		return nil
	})
	ctx := testContext(t)

	tx := conn.Transaction(pglynx.TxOptions{})
	require.NoError(t, tx.Begin(ctx))

	_, err := tx.Execute(ctx, "insert into boom values (1)")
	require.Error(t, err)
	assert.True(t, pglynx.IsConstraintViolation(err))

	// the transaction is aborted until rollback
	_, err = tx.Execute(ctx, "select 1")
	require.ErrorIs(t, err, pglynx.ErrTxAborted)

	require.NoError(t, tx.Rollback(ctx))
}

func TestTxAbortRecoveredBySavepointRollback(t *testing.T) {
	conn, _ := mustConnect(t, func(sql string) []pgproto3.BackendMessage {
		if strings.Contains(sql, "boom") {
			return lynxtest.ServerError("23505", "duplicate key")
		}
		return nil
	})
	ctx := testContext(t)

	tx := conn.Transaction(pglynx.TxOptions{})
	require.NoError(t, tx.Begin(ctx))
	require.NoError(t, tx.CreateSavepoint(ctx, "sp1"))

	_, err := tx.Execute(ctx, "insert into boom values (1)")
	require.Error(t, err)

	require.NoError(t, tx.RollbackToSavepoint(ctx, "sp1"))

	_, err = tx.Execute(ctx, "select 1")
	require.NoError(t, err)

	require.NoError(t, tx.Commit(ctx))
}

func TestTxHandleInvalidatedByRelease(t *testing.T) {
	conn, _ := mustConnect(t, nil)
	ctx := testContext(t)

	tx := conn.Transaction(pglynx.TxOptions{})
	require.NoError(t, tx.Begin(ctx))

	conn.Reset()

	_, err := tx.Execute(ctx, "select 1")
	require.ErrorIs(t, err, pglynx.ErrConnReleased)
	require.ErrorIs(t, tx.Commit(ctx), pglynx.ErrConnReleased)
}

func TestTxPipeline(t *testing.T) {
	conn, _ := mustConnect(t, func(sql string) []pgproto3.BackendMessage {
		switch {
		case strings.Contains(sql, "select 'a'"):
			return lynxtest.Rows([]string{"v"}, []uint32{pgtype.VarcharOID}, "SELECT 1", [][]byte{[]byte("a")})
		case strings.Contains(sql, "missing_column"):
			return lynxtest.ServerError("42703", `column "missing_column" does not exist`)
		default:
			return nil
		}
	})
	ctx := testContext(t)

	tx := conn.Transaction(pglynx.TxOptions{})

	// a fresh transaction is begun implicitly
	results, err := tx.Pipeline(ctx, []pglynx.PipelineQuery{
		{SQL: "select 'a'"},
		{SQL: "select missing_column from t"},
		{SQL: "select 'c'"},
	}, false)

	require.Error(t, err)
	require.Len(t, results, 1)

	v, _ := results[0].Rows()[0].Get("v")
	assert.Equal(t, "a", v)

	var pipeErr *pglynx.PipelineError
	require.ErrorAs(t, err, &pipeErr)
	assert.Equal(t, 1, pipeErr.Index)

	pgErr, ok := pglynx.ServerDiagnostic(err)
	require.True(t, ok)
	assert.Equal(t, "42703", pgErr.Code)

	require.NoError(t, tx.Rollback(ctx))
}

func TestTxPipelineSuccess(t *testing.T) {
	conn, _ := mustConnect(t, func(sql string) []pgproto3.BackendMessage {
		if strings.Contains(sql, "select") {
			return lynxtest.Rows([]string{"v"}, []uint32{pgtype.VarcharOID}, "SELECT 1", [][]byte{[]byte(sql[len(sql)-1:])})
		}
		return nil
	})
	ctx := testContext(t)

	tx := conn.Transaction(pglynx.TxOptions{})
	require.NoError(t, tx.Begin(ctx))

	results, err := tx.Pipeline(ctx, []pglynx.PipelineQuery{
		{SQL: "select 1"},
		{SQL: "select 2"},
		{SQL: "select 3"},
	}, true)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, qr := range results {
		v, _ := qr.Rows()[0].Get("v")
		assert.Equal(t, string(rune('1'+i)), v)
	}

	require.NoError(t, tx.Commit(ctx))
}
