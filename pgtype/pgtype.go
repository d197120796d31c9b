// Package pgtype converts between Go values and the PostgreSQL binary wire format.
//
// Parameters are represented by the Param tagged value. Every supported PostgreSQL type has an explicit constructor
// (e.g. SmallInt, Varchar, JSONB, Macaddr8) and From infers a Param for the unambiguous built-in Go types. Results
// are decoded by OID through a Map which also carries composite and enum registrations and per-column custom
// decoders.
package pgtype

import (
	"errors"
	"fmt"
	"strings"
)

// PostgreSQL format codes
const (
	TextFormatCode   = 0
	BinaryFormatCode = 1
)

// PostgreSQL oids for builtin types
const (
	BoolOID             = 16
	ByteaOID            = 17
	QCharOID            = 18
	NameOID             = 19
	Int8OID             = 20
	Int2OID             = 21
	Int4OID             = 23
	TextOID             = 25
	OIDOID              = 26
	TIDOID              = 27
	XIDOID              = 28
	CIDOID              = 29
	JSONOID             = 114
	XMLOID              = 142
	PointOID            = 600
	LsegOID             = 601
	PathOID             = 602
	BoxOID              = 603
	PolygonOID          = 604
	LineOID             = 628
	CIDROID             = 650
	Float4OID           = 700
	Float8OID           = 701
	CircleOID           = 718
	UnknownOID          = 705
	Macaddr8OID         = 774
	MoneyOID            = 790
	MacaddrOID          = 829
	InetOID             = 869
	BoolArrayOID        = 1000
	ByteaArrayOID       = 1001
	Int2ArrayOID        = 1005
	Int4ArrayOID        = 1007
	TextArrayOID        = 1009
	BPCharArrayOID      = 1014
	VarcharArrayOID     = 1015
	Int8ArrayOID        = 1016
	PointArrayOID       = 1017
	Float4ArrayOID      = 1021
	Float8ArrayOID      = 1022
	InetArrayOID        = 1041
	BPCharOID           = 1042
	VarcharOID          = 1043
	DateOID             = 1082
	TimeOID             = 1083
	TimestampOID        = 1114
	TimestampArrayOID   = 1115
	DateArrayOID        = 1182
	TimestamptzOID      = 1184
	TimestamptzArrayOID = 1185
	IntervalOID         = 1186
	NumericArrayOID     = 1231
	MoneyArrayOID       = 791
	TimetzOID           = 1266
	BitOID              = 1560
	VarbitOID           = 1562
	NumericOID          = 1700
	RecordOID           = 2249
	UUIDOID             = 2950
	UUIDArrayOID        = 2951
	JSONBOID            = 3802
	JSONBArrayOID       = 3807
	JSONArrayOID        = 199
	MacaddrArrayOID     = 1040
)

var (
	// ErrValueOutOfRange occurs when a numeric wrapper is constructed from a value outside the range of the
	// PostgreSQL type it maps to.
	ErrValueOutOfRange = errors.New("value out of range")

	// ErrMixedArray occurs when a sequence with elements of different PostgreSQL types is encoded as an array.
	ErrMixedArray = errors.New("array elements must all be of the same type")

	// ErrNoDecoder occurs when a result column has an OID with no registered decoder and no custom decoder for the
	// column name.
	ErrNoDecoder = errors.New("no decoder for data type")
)

// DecodeError wraps a failure to convert a wire value to a Go value.
type DecodeError struct {
	OID uint32
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode value of oid %d: %s", e.OID, e.Err.Error())
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError wraps a failure to convert a Go value to a wire value.
type EncodeError struct {
	Value interface{}
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("cannot encode %T: %s", e.Value, e.Err.Error())
}

func (e *EncodeError) Unwrap() error { return e.Err }

// Param is a query parameter tagged with the PostgreSQL type it encodes to. A Param is immutable; it is constructed
// by the typed constructors in this package (Bool, SmallInt, Varchar, JSONB, ...) or inferred from a Go value by
// From. The zero Param is the untyped NULL.
type Param struct {
	oid  uint32
	data []byte
	null bool
}

// OID returns the PostgreSQL type OID the parameter binds as.
func (p Param) OID() uint32 { return p.oid }

// IsNull reports whether the parameter is SQL NULL.
func (p Param) IsNull() bool { return p.null || p.data == nil }

// Bytes returns the binary wire encoding, or nil for NULL.
func (p Param) Bytes() []byte {
	if p.null {
		return nil
	}
	return p.data
}

// Null returns a NULL parameter typed with oid. Use oid 0 to let the server infer the type.
func Null(oid uint32) Param {
	return Param{oid: oid, null: true}
}

// Raw returns a parameter carrying caller-encoded binary data for an arbitrary OID. The bytes are passed through to
// the server untouched.
func Raw(oid uint32, data []byte) Param {
	if data == nil {
		return Null(oid)
	}
	return Param{oid: oid, data: data}
}

// CustomDecoder is a caller-supplied decoder for a result column. data is the raw wire value and present is false
// when the column is SQL NULL, in which case data is nil. A custom decoder wins over the OID dispatch table.
type CustomDecoder func(data []byte, present bool) (interface{}, error)

// CompositeField describes one attribute of a registered composite type.
type CompositeField struct {
	Name string
	OID  uint32
}

// Map carries the decoding state that cannot be derived from the wire alone: composite type layouts, enum OIDs, and
// per-column custom decoders. The zero value is usable. Map is not safe for concurrent mutation.
type Map struct {
	composites map[uint32][]CompositeField
	enums      map[uint32]struct{}
	custom     map[string]CustomDecoder
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{}
}

// RegisterComposite registers the field layout of a composite type so its values decode into an ordered field
// mapping instead of a positional slice.
func (m *Map) RegisterComposite(oid uint32, fields []CompositeField) {
	if m.composites == nil {
		m.composites = make(map[uint32][]CompositeField)
	}
	m.composites[oid] = fields
}

// RegisterEnum registers an enum type OID. Enum values decode to their text label.
func (m *Map) RegisterEnum(oid uint32) {
	if m.enums == nil {
		m.enums = make(map[uint32]struct{})
	}
	m.enums[oid] = struct{}{}
}

// RegisterCustomDecoder registers a decoder for a result column name. The name is matched case-insensitively.
func (m *Map) RegisterCustomDecoder(column string, d CustomDecoder) {
	if m.custom == nil {
		m.custom = make(map[string]CustomDecoder)
	}
	m.custom[strings.ToLower(column)] = d
}

// CustomDecoderFor returns the custom decoder registered for column, or nil.
func (m *Map) CustomDecoderFor(column string) CustomDecoder {
	if m == nil || m.custom == nil {
		return nil
	}
	return m.custom[strings.ToLower(column)]
}
