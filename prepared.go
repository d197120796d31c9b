package pglynx

import (
	"context"

	"github.com/jackc/pglynx/pgconn"
	"github.com/jackc/pglynx/pgtype"
)

// Column describes one result column of a prepared statement.
type Column struct {
	Name     string
	TableOID uint32
}

// PreparedStatement is a server-side parsed plan bound to a connection. It outlives individual executions but not
// the connection; a statement whose connection was recycled fails with ErrConnReleased.
type PreparedStatement struct {
	conn       *Conn
	generation uint64
	sd         *pgconn.StatementDescription

	paramValues  [][]byte
	paramFormats []int16
}

// Name returns the server-side statement name.
func (ps *PreparedStatement) Name() string { return ps.sd.Name }

// SQL returns the query string the statement was prepared from.
func (ps *PreparedStatement) SQL() string { return ps.sd.SQL }

// ParamOIDs returns the parameter type OIDs reported by the server.
func (ps *PreparedStatement) ParamOIDs() []uint32 { return ps.sd.ParamOIDs }

// Columns returns the result column descriptors reported by the server.
func (ps *PreparedStatement) Columns() []Column {
	cols := make([]Column, len(ps.sd.Fields))
	for i, fd := range ps.sd.Fields {
		cols[i] = Column{Name: string(fd.Name), TableOID: fd.TableOID}
	}
	return cols
}

// Execute runs the statement with the parameters supplied at Prepare time.
func (ps *PreparedStatement) Execute(ctx context.Context) (*QueryResult, error) {
	if err := ps.conn.checkGeneration(ps.generation); err != nil {
		return nil, err
	}
	if ps.conn.IsClosed() {
		return nil, ErrConnClosed
	}

	rr := ps.conn.pgConn.ExecPrepared(ctx, ps.sd.Name, ps.paramValues, ps.paramFormats, binaryResultFormats)
	qr, err := decodeResult(ps.conn.typeMap, rr.Read())
	if err != nil {
		return nil, &ExecError{SQL: ps.sd.SQL, Err: err}
	}
	return qr, nil
}

// Cursor returns a server-side cursor over the statement's query with the parameters supplied at Prepare time.
func (ps *PreparedStatement) Cursor(fetchNumber int, scroll bool) *Cursor {
	args := make([]interface{}, len(ps.paramValues))
	for i, v := range ps.paramValues {
		var oid uint32
		if i < len(ps.sd.ParamOIDs) {
			oid = ps.sd.ParamOIDs[i]
		}
		args[i] = pgtype.Raw(oid, v)
	}
	return ps.conn.Cursor(ps.sd.SQL, args, fetchNumber, scroll)
}

// Close deallocates the statement on the server and removes it from the connection's cache.
func (ps *PreparedStatement) Close(ctx context.Context) error {
	if err := ps.conn.checkGeneration(ps.generation); err != nil {
		return err
	}
	if ps.conn.IsClosed() {
		return ErrConnClosed
	}
	return ps.conn.deallocate(ctx, ps.sd)
}
