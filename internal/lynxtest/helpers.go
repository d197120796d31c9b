package lynxtest

import (
	"github.com/jackc/pgproto3/v2"
)

// Rows builds the message sequence of a query returning binary-format rows: RowDescription, one DataRow per row,
// and a CommandComplete with tag.
func Rows(names []string, oids []uint32, tag string, rows ...[][]byte) []pgproto3.BackendMessage {
	fds := make([]pgproto3.FieldDescription, len(names))
	for i := range names {
		fds[i] = pgproto3.FieldDescription{
			Name:         []byte(names[i]),
			DataTypeOID:  oids[i],
			DataTypeSize: -1,
			TypeModifier: -1,
			Format:       1,
		}
	}

	msgs := []pgproto3.BackendMessage{&pgproto3.RowDescription{Fields: fds}}
	for _, r := range rows {
		msgs = append(msgs, &pgproto3.DataRow{Values: r})
	}
	return append(msgs, &pgproto3.CommandComplete{CommandTag: []byte(tag)})
}

// ServerError builds an ErrorResponse with the given SQLSTATE.
func ServerError(code, message string) []pgproto3.BackendMessage {
	return []pgproto3.BackendMessage{&pgproto3.ErrorResponse{Severity: "ERROR", Code: code, Message: message}}
}
