// Package pglynx is a PostgreSQL driver built around a managed connection pool, transactional sessions with
// server-side cursors, a pipelined execution path, asynchronous LISTEN/NOTIFY delivery, and a typed binary codec.
//
// Establishing a Connection
//
//	conn, err := pglynx.Connect(context.Background(), os.Getenv("DATABASE_URL"))
//
// Most applications should use the pool subpackage instead of connecting directly.
//
// Queries
//
// Execute issues a parameterized statement through the extended protocol and returns the fully decoded result.
// Statements are prepared and cached per connection, keyed by the query string:
//
//	qr, err := conn.Execute(ctx, "select id, name from widgets where weight > $1", 10)
//	for _, row := range qr.Rows() {
//		name, _ := row.Get("name")
//		...
//	}
//
// Named placeholders of the form $(name)p are rewritten into positional form when a NamedArgs map is passed:
//
//	qr, err := conn.Execute(ctx, "select * from widgets where a = $(a)p", pglynx.NamedArgs{"a": 1})
//
// Transactions
//
//	tx := conn.Transaction(pglynx.TxOptions{IsoLevel: pglynx.Serializable})
//	err := tx.BeginFunc(ctx, func(tx *pglynx.Tx) error {
//		_, err := tx.Execute(ctx, "insert into widgets(name) values ($1)", "anvil")
//		return err
//	})
//
// Transactions carry a savepoint stack, a pipelined execution path (Pipeline), and server-side cursors.
//
// Listening
//
// A Listener owns a dedicated connection so notifications never compete with queries:
//
//	l := pglynx.NewListener(config)
//	l.Startup(ctx)
//	l.AddCallback(ctx, "events", func(conn *pglynx.Conn, n *pglynx.Notification) { ... })
//	l.Listen()
package pglynx
