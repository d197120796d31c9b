package pgconn_test

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgmock"
	"github.com/jackc/pgproto3/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackc/pglynx/internal/lynxtest"
	"github.com/jackc/pglynx/pgconn"
)

// TestExecScript runs a scripted protocol exchange: connect, one simple-protocol query, clean close.
func TestExecScript(t *testing.T) {
	t.Parallel()

	script := &pgmock.Script{
		Steps: pgmock.AcceptUnauthenticatedConnRequestSteps(),
	}
	script.Steps = append(script.Steps, pgmock.ExpectMessage(&pgproto3.Query{String: "select 42"}))
	script.Steps = append(script.Steps, pgmock.SendMessage(&pgproto3.RowDescription{
		Fields: []pgproto3.FieldDescription{
			{
				Name:         []byte("?column?"),
				DataTypeOID:  23,
				DataTypeSize: 4,
				TypeModifier: -1,
				Format:       0,
			},
		},
	}))
	script.Steps = append(script.Steps, pgmock.SendMessage(&pgproto3.DataRow{
		Values: [][]byte{[]byte("42")},
	}))
	script.Steps = append(script.Steps, pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")}))
	script.Steps = append(script.Steps, pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: 'I'}))
	script.Steps = append(script.Steps, pgmock.ExpectMessage(&pgproto3.Terminate{}))

	ln, err := net.Listen("tcp", "127.0.0.1:")
	require.NoError(t, err)
	defer ln.Close()

	serverErrChan := make(chan error, 1)
	go func() {
		defer close(serverErrChan)

		conn, err := ln.Accept()
		if err != nil {
			serverErrChan <- err
			return
		}
		defer conn.Close()

		err = conn.SetDeadline(time.Now().Add(5 * time.Second))
		if err != nil {
			serverErrChan <- err
			return
		}

		err = script.Run(pgproto3.NewBackend(pgproto3.NewChunkReader(conn), conn))
		if err != nil {
			serverErrChan <- err
			return
		}
	}()

	parts := strings.Split(ln.Addr().String(), ":")
	host := parts[0]
	port := parts[1]
	connStr := fmt.Sprintf("sslmode=disable host=%s port=%s user=lynx target_session_attrs=any", host, port)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pgConn, err := pgconn.Connect(ctx, connStr)
	require.NoError(t, err)

	results, err := pgConn.Exec(ctx, "select 42").ReadAll()
	require.NoError(t, err)

	require.Len(t, results, 1)
	require.Len(t, results[0].Rows, 1)
	assert.Equal(t, "42", string(results[0].Rows[0][0]))
	assert.Equal(t, "SELECT 1", string(results[0].CommandTag))

	require.NoError(t, pgConn.Close(ctx))
	require.NoError(t, <-serverErrChan)
}

func TestConnectStub(t *testing.T) {
	t.Parallel()

	srv, err := lynxtest.NewServer(nil)
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pgConn, err := pgconn.Connect(ctx, srv.ConnString())
	require.NoError(t, err)
	defer pgConn.Close(ctx)

	assert.Equal(t, uint32(42), pgConn.PID())
	assert.Equal(t, uint32(4242), pgConn.SecretKey())
	assert.Equal(t, byte('I'), pgConn.TxStatus())
	assert.Equal(t, "14.5", pgConn.ParameterStatus("server_version"))

	require.NotNil(t, pgConn.ServerVersion())
	assert.Equal(t, uint64(14), pgConn.ServerVersion().Major())
}

func TestPrepareStub(t *testing.T) {
	t.Parallel()

	srv, err := lynxtest.NewServer(nil)
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pgConn, err := pgconn.Connect(ctx, srv.ConnString())
	require.NoError(t, err)
	defer pgConn.Close(ctx)

	psd, err := pgConn.Prepare(ctx, "ps1", "select $1", nil)
	require.NoError(t, err)
	assert.Equal(t, "ps1", psd.Name)
	assert.Equal(t, "select $1", psd.SQL)
}

func TestExecParamsServerError(t *testing.T) {
	t.Parallel()

	srv, err := lynxtest.NewServer(func(sql string) []pgproto3.BackendMessage {
		if strings.Contains(sql, "boom") {
			return lynxtest.ServerError("42703", `column "boom" does not exist`)
		}
		return nil
	})
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pgConn, err := pgconn.Connect(ctx, srv.ConnString())
	require.NoError(t, err)
	defer pgConn.Close(ctx)

	result := pgConn.ExecParams(ctx, "select boom", nil, nil, nil, nil).Read()
	require.Error(t, result.Err)

	pgErr, ok := result.Err.(*pgconn.PgError)
	require.True(t, ok)
	assert.Equal(t, "42703", pgErr.Code)
	assert.Equal(t, "42703", pgErr.SQLState())

	// the connection recovers after the message boundary
	result = pgConn.ExecParams(ctx, "select 1", nil, nil, nil, nil).Read()
	require.NoError(t, result.Err)
}
