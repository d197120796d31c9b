package pglynx_test

import (
	"strings"
	"testing"

	"github.com/jackc/pgproto3/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackc/pglynx"
	"github.com/jackc/pglynx/internal/lynxtest"
	"github.com/jackc/pglynx/pgtype"
)

func cursorRow(t *testing.T, id int64) []pgproto3.BackendMessage {
	return lynxtest.Rows([]string{"id"}, []uint32{pgtype.Int4OID}, "FETCH 1", [][]byte{encInt4(t, id)})
}

func TestCursorScrollableGating(t *testing.T) {
	conn, log := mustConnect(t, nil)
	ctx := testContext(t)

	cur := conn.Cursor("select * from widgets", nil, 10, false)

	_, err := cur.FetchPrior(ctx)
	require.ErrorIs(t, err, pglynx.ErrCursorNotScrollable)
	_, err = cur.FetchAbsolute(ctx, 3)
	require.ErrorIs(t, err, pglynx.ErrCursorNotScrollable)
	_, err = cur.FetchBackwardAll(ctx)
	require.ErrorIs(t, err, pglynx.ErrCursorNotScrollable)

	// the gate fires before any network I/O
	assert.Empty(t, log.all())
}

func TestCursorFetchBeforeStart(t *testing.T) {
	conn, _ := mustConnect(t, nil)
	ctx := testContext(t)

	cur := conn.Cursor("select * from widgets", nil, 10, false)
	_, err := cur.FetchOne(ctx)
	require.ErrorIs(t, err, pglynx.ErrCursorNotStarted)
}

func TestCursorLifecycle(t *testing.T) {
	conn, log := mustConnect(t, func(sql string) []pgproto3.BackendMessage {
		if strings.HasPrefix(strings.TrimSpace(strings.ToLower(sql)), "fetch") {
			return cursorRow(t, 42)
		}
		return nil
	})
	ctx := testContext(t)

	cur := conn.Cursor("select * from widgets where w > $1", []interface{}{10}, 5, true)

	require.NoError(t, cur.Start(ctx))

	sqls := log.all()
	// no transaction was active, so the cursor opened one
	assert.Equal(t, "begin", sqls[0])
	assert.Contains(t, sqls[1], `declare "lynx_cur_1" scroll cursor for select * from widgets where w > $1`)

	qr, err := cur.FetchOne(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, qr.Len())
	assert.True(t, log.contains(`fetch next from "lynx_cur_1"`))

	_, err = cur.FetchMany(ctx, 0)
	require.NoError(t, err)
	assert.True(t, log.contains(`fetch forward 5 from "lynx_cur_1"`))

	_, err = cur.FetchAll(ctx)
	require.NoError(t, err)
	assert.True(t, log.contains(`fetch forward all from "lynx_cur_1"`))

	_, err = cur.FetchAbsolute(ctx, 3)
	require.NoError(t, err)
	assert.True(t, log.contains(`fetch absolute 3 from "lynx_cur_1"`))

	_, err = cur.FetchPrior(ctx)
	require.NoError(t, err)
	assert.True(t, log.contains(`fetch prior from "lynx_cur_1"`))

	_, err = cur.FetchRelative(ctx, -2)
	require.NoError(t, err)
	assert.True(t, log.contains(`fetch relative -2 from "lynx_cur_1"`))

	_, err = cur.FetchBackward(ctx, 2)
	require.NoError(t, err)
	assert.True(t, log.contains(`fetch backward 2 from "lynx_cur_1"`))

	require.NoError(t, cur.Close(ctx))
	sqls = log.all()
	assert.Equal(t, "commit", sqls[len(sqls)-1])
	assert.Contains(t, sqls[len(sqls)-2], `close "lynx_cur_1"`)

	// idempotent from closed
	require.NoError(t, cur.Close(ctx))

	_, err = cur.FetchOne(ctx)
	require.ErrorIs(t, err, pglynx.ErrCursorClosed)
}

func TestCursorDeclareNoScroll(t *testing.T) {
	conn, log := mustConnect(t, nil)
	ctx := testContext(t)

	cur := conn.Cursor("select 1", nil, 10, false)
	require.NoError(t, cur.Start(ctx))
	assert.True(t, log.contains(`declare "lynx_cur_1" no scroll cursor for select 1`))
	require.NoError(t, cur.Close(ctx))
}

func TestCursorInsideTransaction(t *testing.T) {
	conn, log := mustConnect(t, nil)
	ctx := testContext(t)

	tx := conn.Transaction(pglynx.TxOptions{})
	require.NoError(t, tx.Begin(ctx))

	cur := tx.Cursor("select 1", nil, 10, false)
	require.NoError(t, cur.Start(ctx))
	require.NoError(t, cur.Close(ctx))

	// the cursor neither began nor committed the enclosing transaction
	count := 0
	for _, s := range log.all() {
		if s == "begin" || s == "commit" {
			count++
		}
	}
	assert.Equal(t, 1, count) // only the explicit begin

	require.NoError(t, tx.Commit(ctx))
}

func TestCursorIterator(t *testing.T) {
	fetches := 0
	conn, _ := mustConnect(t, func(sql string) []pgproto3.BackendMessage {
		if strings.Contains(sql, "fetch forward 2") {
			fetches++
			switch fetches {
			case 1:
				return lynxtest.Rows([]string{"id"}, []uint32{pgtype.Int4OID}, "FETCH 2",
					[][]byte{encInt4(t, 1)}, [][]byte{encInt4(t, 2)})
			case 2:
				return lynxtest.Rows([]string{"id"}, []uint32{pgtype.Int4OID}, "FETCH 1",
					[][]byte{encInt4(t, 3)})
			default:
				return lynxtest.Rows([]string{"id"}, []uint32{pgtype.Int4OID}, "FETCH 0")
			}
		}
		return nil
	})
	ctx := testContext(t)

	cur := conn.Cursor("select id from widgets", nil, 2, false)
	require.NoError(t, cur.Start(ctx))
	defer cur.Close(ctx)

	var ids []int32
	for cur.Next(ctx) {
		for _, row := range cur.Batch().Rows() {
			v, _ := row.Get("id")
			ids = append(ids, v.(int32))
		}
	}
	require.NoError(t, cur.Err())
	assert.Equal(t, []int32{1, 2, 3}, ids)
	assert.Equal(t, 3, fetches)
}
