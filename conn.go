package pglynx

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pglynx/pgconn"
	"github.com/jackc/pglynx/pgtype"
)

// ConnStatus is the lifecycle state of a Conn.
type ConnStatus int

const (
	ConnStatusIdle ConnStatus = iota
	ConnStatusInTransaction
	ConnStatusClosed
)

func (s ConnStatus) String() string {
	switch s {
	case ConnStatusIdle:
		return "idle"
	case ConnStatusInTransaction:
		return "in transaction"
	case ConnStatusClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// ConnConfig contains all the options used to establish a connection.
type ConnConfig struct {
	pgconn.Config

	Logger   Logger
	LogLevel LogLevel

	createdByParseConfig bool // Used to enforce created by ParseConfig rule.
}

// Copy returns a deep copy of the config that is safe to use and modify. The only exception is the TLSConfig field:
// according to the tls.Config docs it must not be modified after creation.
func (cc *ConnConfig) Copy() *ConnConfig {
	newConfig := new(ConnConfig)
	*newConfig = *cc
	newConfig.Config = *newConfig.Config.Copy()
	return newConfig
}

// ParseConfig creates a ConnConfig from a connection string with the same grammar and environment handling as
// pgconn.ParseConfig.
func ParseConfig(connString string) (*ConnConfig, error) {
	config, err := pgconn.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	connConfig := &ConnConfig{
		Config:               *config,
		LogLevel:             LogLevelInfo,
		createdByParseConfig: true,
	}

	return connConfig, nil
}

// Conn is a single PostgreSQL session. It is returned by Connect or acquired from a pool. A Conn is not safe for
// concurrent use: at any moment at most one in-flight request may be pending on it.
type Conn struct {
	pgConn *pgconn.PgConn
	config *ConnConfig

	logger   Logger
	logLevel LogLevel

	typeMap            *pgtype.Map
	preparedStatements map[string]*pgconn.StatementDescription
	psCount            uint64
	cursorCount        uint64

	// generation invalidates outstanding Tx, Cursor, and PreparedStatement handles when the connection is recycled
	// through a pool.
	generation uint64
	activeTx   *Tx
}

// Connect establishes a connection with a PostgreSQL server using connString. See pgconn.ParseConfig for the
// connection string grammar.
func Connect(ctx context.Context, connString string) (*Conn, error) {
	connConfig, err := ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	return connect(ctx, connConfig)
}

// ConnectConfig establishes a connection using a ConnConfig created by ParseConfig.
func ConnectConfig(ctx context.Context, connConfig *ConnConfig) (*Conn, error) {
	// Default values are set in ParseConfig. Enforce initial creation by ParseConfig rather than setting defaults from
	// zero values.
	if !connConfig.createdByParseConfig {
		panic("config must be created by ParseConfig")
	}
	return connect(ctx, connConfig)
}

func connect(ctx context.Context, config *ConnConfig) (*Conn, error) {
	c := &Conn{
		config:             config,
		logger:             config.Logger,
		logLevel:           config.LogLevel,
		typeMap:            pgtype.NewMap(),
		preparedStatements: make(map[string]*pgconn.StatementDescription),
	}

	if c.shouldLog(LogLevelInfo) {
		c.log(ctx, LogLevelInfo, "dialing server", map[string]interface{}{"host": config.Config.Host})
	}

	var err error
	c.pgConn, err = pgconn.ConnectConfig(ctx, &config.Config)
	if err != nil {
		if c.shouldLog(LogLevelError) {
			c.log(ctx, LogLevelError, "connect failed", map[string]interface{}{"err": err})
		}
		return nil, err
	}

	return c, nil
}

// Close closes the underlying session. It fails with ErrConnBusy while a transaction is active on the connection.
func (c *Conn) Close(ctx context.Context) error {
	if c.IsClosed() {
		return nil
	}
	if c.activeTx != nil {
		return ErrConnBusy
	}

	err := c.pgConn.Close(ctx)
	if c.shouldLog(LogLevelInfo) {
		c.log(ctx, LogLevelInfo, "closed connection", nil)
	}
	return err
}

// IsClosed reports whether the underlying session has been closed.
func (c *Conn) IsClosed() bool {
	return c.pgConn.IsClosed()
}

// Status returns the lifecycle state of the connection.
func (c *Conn) Status() ConnStatus {
	switch {
	case c.IsClosed():
		return ConnStatusClosed
	case c.pgConn.TxStatus() != 'I':
		return ConnStatusInTransaction
	default:
		return ConnStatusIdle
	}
}

// PgConn returns the underlying low-level connection.
func (c *Conn) PgConn() *pgconn.PgConn { return c.pgConn }

// Config returns a copy of config that was used to establish this connection.
func (c *Conn) Config() *ConnConfig { return c.config.Copy() }

// TypeMap returns the connection's type map. Composite registrations, enum registrations, and custom decoders are
// added through it.
func (c *Conn) TypeMap() *pgtype.Map { return c.typeMap }

// Execute issues sql with the given arguments through the extended protocol, preparing and caching the statement on
// first use. Arguments are either pgtype.Param values or Go values converted by pgtype.From. Passing a single
// NamedArgs argument rewrites $(name)p placeholders into positional form first.
func (c *Conn) Execute(ctx context.Context, sql string, args ...interface{}) (*QueryResult, error) {
	return c.execute(ctx, sql, true, args)
}

// Fetch is an alias for Execute, for callers reading rather than mutating.
func (c *Conn) Fetch(ctx context.Context, sql string, args ...interface{}) (*QueryResult, error) {
	return c.execute(ctx, sql, true, args)
}

// ExecuteUnprepared issues sql through the extended protocol with the unnamed statement, bypassing the prepared
// statement cache.
func (c *Conn) ExecuteUnprepared(ctx context.Context, sql string, args ...interface{}) (*QueryResult, error) {
	return c.execute(ctx, sql, false, args)
}

func (c *Conn) execute(ctx context.Context, sql string, prepared bool, args []interface{}) (*QueryResult, error) {
	if c.IsClosed() {
		return nil, ErrConnClosed
	}

	startTime := time.Now()

	sql, args, err := c.rewriteNamedArgs(sql, args)
	if err != nil {
		return nil, err
	}

	values, oids, formats, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}

	var rr *pgconn.ResultReader
	if prepared {
		sd, err := c.prepareCached(ctx, sql, oids)
		if err != nil {
			return nil, &ExecError{SQL: sql, Err: err}
		}
		rr = c.pgConn.ExecPrepared(ctx, sd.Name, values, formats, binaryResultFormats)
	} else {
		rr = c.pgConn.ExecParams(ctx, sql, values, oids, formats, binaryResultFormats)
	}

	qr, err := decodeResult(c.typeMap, rr.Read())
	if err != nil {
		if c.shouldLog(LogLevelError) {
			c.log(ctx, LogLevelError, "exec failed", map[string]interface{}{"sql": sql, "args": logQueryArgs(args), "err": err})
		}
		return nil, &ExecError{SQL: sql, Err: err}
	}

	if c.shouldLog(LogLevelInfo) {
		c.log(ctx, LogLevelInfo, "exec", map[string]interface{}{
			"sql": sql, "args": logQueryArgs(args), "time": time.Since(startTime), "rowCount": qr.Len(),
		})
	}

	return qr, nil
}

func (c *Conn) rewriteNamedArgs(sql string, args []interface{}) (string, []interface{}, error) {
	if len(args) == 1 {
		if na, ok := args[0].(NamedArgs); ok {
			return na.rewriteQuery(sql)
		}
	}
	return sql, args, nil
}

// binaryResultFormats requests binary format for all result columns.
var binaryResultFormats = []int16{pgtype.BinaryFormatCode}

func encodeArgs(args []interface{}) (values [][]byte, oids []uint32, formats []int16, err error) {
	if len(args) == 0 {
		return nil, nil, nil, nil
	}

	values = make([][]byte, len(args))
	oids = make([]uint32, len(args))
	formats = make([]int16, len(args))
	for i, a := range args {
		p, err := pgtype.From(a)
		if err != nil {
			return nil, nil, nil, err
		}
		values[i] = p.Bytes()
		oids[i] = p.OID()
		formats[i] = pgtype.BinaryFormatCode
	}
	return values, oids, formats, nil
}

// prepareCached returns the statement description for sql, preparing it on the server on cache miss. The cache key
// is the verbatim query string.
func (c *Conn) prepareCached(ctx context.Context, sql string, paramOIDs []uint32) (*pgconn.StatementDescription, error) {
	if sd, ok := c.preparedStatements[sql]; ok {
		return sd, nil
	}

	c.psCount++
	name := "lynx_ps_" + strconv.FormatUint(c.psCount, 10)

	sd, err := c.pgConn.Prepare(ctx, name, sql, paramOIDs)
	if err != nil {
		return nil, err
	}

	c.preparedStatements[sql] = sd
	return sd, nil
}

// deallocate removes a statement from the cache and the server. Used by PreparedStatement.Close.
func (c *Conn) deallocate(ctx context.Context, sd *pgconn.StatementDescription) error {
	delete(c.preparedStatements, sd.SQL)
	return c.pgConn.CloseStatement(ctx, sd.Name)
}

// ExecuteBatch issues a semicolon-separated multi-statement string through the simple protocol. It is not
// parameterized. Execution stops at the first failing statement; the results of the preceding statements are
// returned along with the error.
func (c *Conn) ExecuteBatch(ctx context.Context, sql string) ([]*QueryResult, error) {
	if c.IsClosed() {
		return nil, ErrConnClosed
	}

	results, err := c.pgConn.Exec(ctx, sql).ReadAll()

	qrs := make([]*QueryResult, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			if err == nil {
				err = res.Err
			}
			break
		}
		qr, decodeErr := decodeResult(c.typeMap, res)
		if decodeErr != nil {
			return qrs, &ExecError{SQL: sql, Err: decodeErr}
		}
		qrs = append(qrs, qr)
	}

	if err != nil {
		return qrs, &ExecError{SQL: sql, Err: err}
	}
	return qrs, nil
}

// ExecuteMany prepares sql once and executes it for every argument tuple, in order, inside a single transaction.
// Either every tuple is applied or none is.
func (c *Conn) ExecuteMany(ctx context.Context, sql string, argTuples [][]interface{}) error {
	if c.IsClosed() {
		return ErrConnClosed
	}

	ownTx := c.pgConn.TxStatus() == 'I'
	if ownTx {
		if _, err := c.pgConn.Exec(ctx, "begin").ReadAll(); err != nil {
			return &TxError{Op: "begin", Err: err}
		}
	}

	rollback := func() {
		if ownTx {
			c.pgConn.Exec(ctx, "rollback").ReadAll()
		}
	}

	var sd *pgconn.StatementDescription
	for _, args := range argTuples {
		values, oids, formats, err := encodeArgs(args)
		if err != nil {
			rollback()
			return err
		}

		if sd == nil {
			sd, err = c.prepareCached(ctx, sql, oids)
			if err != nil {
				rollback()
				return &ExecError{SQL: sql, Err: err}
			}
		}

		if _, err := c.pgConn.ExecPrepared(ctx, sd.Name, values, formats, binaryResultFormats).Close(); err != nil {
			rollback()
			return &ExecError{SQL: sql, Err: err}
		}
	}

	if ownTx {
		if _, err := c.pgConn.Exec(ctx, "commit").ReadAll(); err != nil {
			rollback()
			return &TxError{Op: "commit", Err: err}
		}
	}

	return nil
}

// FetchRow issues a query that must return exactly one row. Zero rows fails with ErrNoRows, more than one with
// ErrTooManyRows.
func (c *Conn) FetchRow(ctx context.Context, sql string, args ...interface{}) (Row, error) {
	qr, err := c.execute(ctx, sql, true, args)
	if err != nil {
		return Row{}, err
	}
	return singleRow(qr)
}

// FetchVal issues a query that must return exactly one row and returns the value of its first column.
func (c *Conn) FetchVal(ctx context.Context, sql string, args ...interface{}) (interface{}, error) {
	row, err := c.FetchRow(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	if row.Len() == 0 {
		return nil, ErrNoRows
	}
	return row.Values()[0], nil
}

func singleRow(qr *QueryResult) (Row, error) {
	switch qr.Len() {
	case 0:
		return Row{}, ErrNoRows
	case 1:
		return qr.Rows()[0], nil
	default:
		return Row{}, ErrTooManyRows
	}
}

// Prepare creates a PreparedStatement for sql, optionally capturing the arguments to execute it with later. The
// statement enters the connection's cache keyed by the verbatim query string.
func (c *Conn) Prepare(ctx context.Context, sql string, args ...interface{}) (*PreparedStatement, error) {
	if c.IsClosed() {
		return nil, ErrConnClosed
	}

	sql, args, err := c.rewriteNamedArgs(sql, args)
	if err != nil {
		return nil, err
	}

	values, oids, formats, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}

	sd, err := c.prepareCached(ctx, sql, oids)
	if err != nil {
		return nil, &ExecError{SQL: sql, Err: err}
	}

	return &PreparedStatement{
		conn:         c,
		generation:   c.generation,
		sd:           sd,
		paramValues:  values,
		paramFormats: formats,
	}, nil
}

// Transaction returns a new transaction handle over the connection. No SQL is issued until Begin.
func (c *Conn) Transaction(opts TxOptions) *Tx {
	return &Tx{conn: c, generation: c.generation, opts: opts}
}

// Cursor returns a server-side cursor over sql. fetchNumber sets the default batch size of FetchMany and iteration;
// zero means the default of 10. Start opens a transaction implicitly if none is active.
func (c *Conn) Cursor(sql string, args []interface{}, fetchNumber int, scroll bool) *Cursor {
	if fetchNumber <= 0 {
		fetchNumber = defaultCursorArraySize
	}
	c.cursorCount++
	return &Cursor{
		conn:       c,
		generation: c.generation,
		name:       "lynx_cur_" + strconv.FormatUint(c.cursorCount, 10),
		sql:        sql,
		args:       args,
		arraySize:  fetchNumber,
		scroll:     scroll,
	}
}

// Identifier a PostgreSQL identifier or name. Identifiers can be composed of multiple parts such as
// ["schema", "table"] or ["table", "column"].
type Identifier []string

// Sanitize returns a sanitized string safe for SQL interpolation.
func (ident Identifier) Sanitize() string {
	parts := make([]string, len(ident))
	for i := range ident {
		s := strings.ReplaceAll(ident[i], string([]byte{0}), "")
		parts[i] = `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

// BinaryCopyToTable streams r, which must already be in the PostgreSQL binary copy format, into a table via COPY
// FROM STDIN. The content is not validated; errors surface from the server. It returns the number of rows inserted.
func (c *Conn) BinaryCopyToTable(ctx context.Context, r io.Reader, schema, table string, columns []string) (int64, error) {
	if c.IsClosed() {
		return 0, ErrConnClosed
	}

	target := Identifier{table}
	if schema != "" {
		target = Identifier{schema, table}
	}

	sb := &strings.Builder{}
	fmt.Fprintf(sb, "copy %s ", target.Sanitize())
	if len(columns) > 0 {
		quoted := make([]string, len(columns))
		for i, col := range columns {
			quoted[i] = Identifier{col}.Sanitize()
		}
		fmt.Fprintf(sb, "(%s) ", strings.Join(quoted, ", "))
	}
	sb.WriteString("from stdin (format binary)")

	ct, err := c.pgConn.CopyFrom(ctx, r, sb.String())
	if err != nil {
		return 0, &ExecError{SQL: sb.String(), Err: err}
	}
	return ct.RowsAffected(), nil
}

// Ping executes an empty statement against the server.
func (c *Conn) Ping(ctx context.Context) error {
	_, err := c.pgConn.Exec(ctx, ";").ReadAll()
	return err
}

// Reset marks all outstanding Tx, Cursor, and PreparedStatement handles stale. Pools call it when the connection
// is released; afterwards those handles fail with ErrConnReleased. The prepared statement cache is preserved.
func (c *Conn) Reset() {
	c.generation++
	c.activeTx = nil
}

func (c *Conn) checkGeneration(generation uint64) error {
	if c.generation != generation {
		return ErrConnReleased
	}
	return nil
}

func (c *Conn) shouldLog(lvl LogLevel) bool {
	return c.logger != nil && c.logLevel >= lvl
}

func (c *Conn) log(ctx context.Context, lvl LogLevel, msg string, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	if c.pgConn != nil && c.pgConn.PID() != 0 {
		data["pid"] = c.pgConn.PID()
	}
	c.logger.Log(ctx, lvl, msg, data)
}
