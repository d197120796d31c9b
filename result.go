package pglynx

import (
	"github.com/jackc/pglynx/pgconn"
	"github.com/jackc/pglynx/pgtype"
)

// Row is one decoded result row. Column order and the original column names are preserved.
type Row struct {
	columns []string
	values  []interface{}
}

// Columns returns the column names in result order.
func (r Row) Columns() []string { return r.columns }

// Values returns the decoded values in result order.
func (r Row) Values() []interface{} { return r.values }

// Len returns the number of columns.
func (r Row) Len() int { return len(r.columns) }

// Get returns the value of the named column. The second return value reports whether the column exists. When a
// query returns duplicate column names the first occurrence wins.
func (r Row) Get(name string) (interface{}, bool) {
	for i, c := range r.columns {
		if c == name {
			return r.values[i], true
		}
	}
	return nil, false
}

// QueryResult is the fully read result of a single query.
type QueryResult struct {
	rows       []Row
	commandTag pgconn.CommandTag
}

// Rows returns the decoded rows in query order.
func (qr *QueryResult) Rows() []Row { return qr.rows }

// Len returns the number of rows.
func (qr *QueryResult) Len() int { return len(qr.rows) }

// CommandTag returns the command tag reported by the server (e.g. "SELECT 5").
func (qr *QueryResult) CommandTag() pgconn.CommandTag { return qr.commandTag }

// decodeResult converts a pgconn result to a QueryResult using the connection's type map and custom decoders. NULL
// decodes to nil before any decoder runs; custom decoders instead receive the raw bytes with an explicit null
// marker.
func decodeResult(typeMap *pgtype.Map, res *pgconn.Result) (*QueryResult, error) {
	if res.Err != nil {
		return nil, res.Err
	}

	columns := make([]string, len(res.FieldDescriptions))
	for i := range res.FieldDescriptions {
		columns[i] = string(res.FieldDescriptions[i].Name)
	}

	qr := &QueryResult{
		rows:       make([]Row, 0, len(res.Rows)),
		commandTag: res.CommandTag,
	}

	for _, rawRow := range res.Rows {
		values := make([]interface{}, len(rawRow))
		for i, raw := range rawRow {
			fd := res.FieldDescriptions[i]

			if d := typeMap.CustomDecoderFor(columns[i]); d != nil {
				v, err := d(raw, raw != nil)
				if err != nil {
					return nil, err
				}
				values[i] = v
				continue
			}

			if raw == nil {
				values[i] = nil
				continue
			}

			v, err := typeMap.DecodeValue(fd.DataTypeOID, fd.Format, raw)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		qr.rows = append(qr.rows, Row{columns: columns, values: values})
	}

	return qr, nil
}
