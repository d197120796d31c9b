// Package pgconn is a low-level PostgreSQL database driver. It operates at nearly the same level as the C library
// libpq. It is primarily intended to serve as the base layer for the pglynx package, but it also can be used directly.
//
// Establishing a Connection
//
// Use Connect to establish a connection. It accepts a connection string in URL or DSN format and will read the
// environment for libpq style environment variables.
//
// Executing a Query
//
// ExecParams and ExecPrepared execute a single query. They return readers that iterate over each row. The Read method
// reads all rows into memory.
//
// Executing Multiple Queries in a Single Round Trip
//
// Exec and ExecBatch can execute multiple queries in a single round trip. They return readers that iterate over each
// query result. The ReadAll method reads all query results into memory.
//
// Context Support
//
// All potentially blocking operations take a context.Context. A canceled context aborts the in-progress operation by
// setting a deadline on the underlying net.Conn; the connection is no longer usable afterwards.
package pgconn
