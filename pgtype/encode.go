package pgtype

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/cockroachdb/apd"
	"github.com/gofrs/uuid"
	"github.com/jackc/pgio"
	"github.com/shopspring/decimal"
)

// Bool encodes a BOOL parameter.
func Bool(v bool) Param {
	b := []byte{0}
	if v {
		b[0] = 1
	}
	return Param{oid: BoolOID, data: b}
}

// Bytea encodes a BYTEA parameter. A nil slice encodes as NULL.
func Bytea(v []byte) Param {
	if v == nil {
		return Null(ByteaOID)
	}
	return Param{oid: ByteaOID, data: v}
}

// Varchar encodes a VARCHAR parameter. It is the default mapping for Go strings.
func Varchar(v string) Param {
	return Param{oid: VarcharOID, data: []byte(v)}
}

// Text encodes a TEXT parameter.
func Text(v string) Param {
	return Param{oid: TextOID, data: []byte(v)}
}

// XML encodes an XML parameter.
func XML(v string) Param {
	return Param{oid: XMLOID, data: []byte(v)}
}

// SmallInt encodes an INT2 parameter. It fails if v does not fit in 16 bits.
func SmallInt(v int64) (Param, error) {
	if v < math.MinInt16 || v > math.MaxInt16 {
		return Param{}, &EncodeError{Value: v, Err: ErrValueOutOfRange}
	}
	return Param{oid: Int2OID, data: pgio.AppendInt16(nil, int16(v))}, nil
}

// Integer encodes an INT4 parameter. It fails if v does not fit in 32 bits.
func Integer(v int64) (Param, error) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return Param{}, &EncodeError{Value: v, Err: ErrValueOutOfRange}
	}
	return Param{oid: Int4OID, data: pgio.AppendInt32(nil, int32(v))}, nil
}

// BigInt encodes an INT8 parameter.
func BigInt(v int64) Param {
	return Param{oid: Int8OID, data: pgio.AppendInt64(nil, v)}
}

// Float32 encodes a FLOAT4 parameter.
func Float32(v float32) Param {
	return Param{oid: Float4OID, data: pgio.AppendUint32(nil, math.Float32bits(v))}
}

// Float64 encodes a FLOAT8 parameter.
func Float64(v float64) Param {
	return Param{oid: Float8OID, data: pgio.AppendUint64(nil, math.Float64bits(v))}
}

// Decimal encodes a NUMERIC parameter from a shopspring decimal.
func Decimal(v decimal.Decimal) Param {
	p, err := Numeric(v.String())
	if err != nil {
		// decimal.Decimal.String always produces a parsable representation.
		panic(fmt.Sprintf("BUG: cannot encode decimal %v: %v", v, err))
	}
	return p
}

// DecimalApd encodes a NUMERIC parameter from an apd decimal.
func DecimalApd(v *apd.Decimal) (Param, error) {
	return Numeric(v.String())
}

// Date encodes a DATE parameter from the year, month, and day of v in its location.
func Date(v time.Time) Param {
	return Param{oid: DateOID, data: pgio.AppendInt32(nil, daysSincePGEpoch(v))}
}

// TimeOfDay encodes a TIME parameter from a duration since midnight.
func TimeOfDay(v time.Duration) (Param, error) {
	usec := int64(v / time.Microsecond)
	if usec < 0 || usec > 24*60*60*1000000 {
		return Param{}, &EncodeError{Value: v, Err: ErrValueOutOfRange}
	}
	return Param{oid: TimeOID, data: pgio.AppendInt64(nil, usec)}, nil
}

// Timestamp encodes a TIMESTAMP (without time zone) parameter. The wall clock reading of v is used; its location is
// ignored.
func Timestamp(v time.Time) Param {
	return Param{oid: TimestampOID, data: pgio.AppendInt64(nil, microsecSincePGEpoch(stripZone(v)))}
}

// Timestamptz encodes a TIMESTAMPTZ parameter. It is the default mapping for time.Time.
func Timestamptz(v time.Time) Param {
	return Param{oid: TimestamptzOID, data: pgio.AppendInt64(nil, microsecSincePGEpoch(v))}
}

// UUID encodes a UUID parameter.
func UUID(v uuid.UUID) Param {
	data := make([]byte, 16)
	copy(data, v[:])
	return Param{oid: UUIDOID, data: data}
}

// UUIDString encodes a UUID parameter from its text form.
func UUIDString(s string) (Param, error) {
	v, err := uuid.FromString(s)
	if err != nil {
		return Param{}, &EncodeError{Value: s, Err: err}
	}
	return UUID(v), nil
}

// JSON encodes a JSON parameter by marshaling v with encoding/json. Use it to disambiguate a JSON array from a
// PostgreSQL ARRAY.
func JSON(v interface{}) (Param, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Param{}, &EncodeError{Value: v, Err: err}
	}
	return Param{oid: JSONOID, data: data}, nil
}

// JSONB encodes a JSONB parameter by marshaling v with encoding/json. It is the default mapping for maps. Use it to
// disambiguate a JSON array from a PostgreSQL ARRAY.
func JSONB(v interface{}) (Param, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Param{}, &EncodeError{Value: v, Err: err}
	}
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, 1) // jsonb format version
	buf = append(buf, data...)
	return Param{oid: JSONBOID, data: buf}, nil
}

// Inet encodes an INET parameter from an IP address.
func Inet(ip net.IP) (Param, error) {
	data, err := encodeIPNet(ip, nil, false)
	if err != nil {
		return Param{}, err
	}
	return Param{oid: InetOID, data: data}, nil
}

// CIDR encodes a CIDR parameter from a network.
func CIDR(ipnet *net.IPNet) (Param, error) {
	data, err := encodeIPNet(ipnet.IP, ipnet.Mask, true)
	if err != nil {
		return Param{}, err
	}
	return Param{oid: CIDROID, data: data}, nil
}

// Macaddr encodes a MACADDR parameter. The address must be 6 bytes (EUI-48).
func Macaddr(addr net.HardwareAddr) (Param, error) {
	if len(addr) != 6 {
		return Param{}, &EncodeError{Value: addr, Err: fmt.Errorf("macaddr requires a 6 byte address, got %d", len(addr))}
	}
	data := make([]byte, 6)
	copy(data, addr)
	return Param{oid: MacaddrOID, data: data}, nil
}

// Macaddr8 encodes a MACADDR8 parameter. A 6 byte address is expanded to EUI-64 form like the server does.
func Macaddr8(addr net.HardwareAddr) (Param, error) {
	switch len(addr) {
	case 8:
		data := make([]byte, 8)
		copy(data, addr)
		return Param{oid: Macaddr8OID, data: data}, nil
	case 6:
		data := []byte{addr[0], addr[1], addr[2], 0xff, 0xfe, addr[3], addr[4], addr[5]}
		return Param{oid: Macaddr8OID, data: data}, nil
	default:
		return Param{}, &EncodeError{Value: addr, Err: fmt.Errorf("macaddr8 requires a 6 or 8 byte address, got %d", len(addr))}
	}
}

// MacaddrString encodes a MACADDR or MACADDR8 parameter from its text form depending on the address length.
func MacaddrString(s string) (Param, error) {
	addr, err := net.ParseMAC(s)
	if err != nil {
		return Param{}, &EncodeError{Value: s, Err: err}
	}
	if len(addr) == 8 {
		return Macaddr8(addr)
	}
	return Macaddr(addr)
}

// MoneyAmount is a MONEY value in hundredths of the currency unit.
type MoneyAmount int64

// Money encodes a MONEY parameter from hundredths of the currency unit.
func Money(v MoneyAmount) Param {
	return Param{oid: MoneyOID, data: pgio.AppendInt64(nil, int64(v))}
}

// From infers a Param from a Go value. Only the unambiguous built-in mappings are inferred:
//
//	bool              BOOL
//	[]byte            BYTEA
//	string            VARCHAR
//	int8/int16        INT2
//	int/int32         INT4
//	int64             INT8
//	float32           FLOAT4
//	float64           FLOAT8
//	decimal.Decimal   NUMERIC
//	time.Time         TIMESTAMPTZ
//	uuid.UUID         UUID
//	map[string]...    JSONB
//	net.IP            INET
//	net.HardwareAddr  MACADDR / MACADDR8 by length
//	Param             passed through
//	nil               untyped NULL
//	[]T               ARRAY of the inferred element type
//
// Anything else needs an explicit constructor. A JSON array must be wrapped with JSON or JSONB to disambiguate it
// from a PostgreSQL ARRAY.
func From(v interface{}) (Param, error) {
	switch v := v.(type) {
	case nil:
		return Null(0), nil
	case Param:
		return v, nil
	case bool:
		return Bool(v), nil
	case []byte:
		return Bytea(v), nil
	case string:
		return Varchar(v), nil
	case int8:
		return SmallInt(int64(v))
	case int16:
		return SmallInt(int64(v))
	case int32:
		return Integer(int64(v))
	case int:
		return Integer(int64(v))
	case int64:
		return BigInt(v), nil
	case float32:
		return Float32(v), nil
	case float64:
		return Float64(v), nil
	case decimal.Decimal:
		return Decimal(v), nil
	case *apd.Decimal:
		return DecimalApd(v)
	case time.Time:
		return Timestamptz(v), nil
	case time.Duration:
		return TimeOfDay(v)
	case uuid.UUID:
		return UUID(v), nil
	case net.IP:
		return Inet(v)
	case *net.IPNet:
		return CIDR(v)
	case net.HardwareAddr:
		if len(v) == 8 {
			return Macaddr8(v)
		}
		return Macaddr(v)
	case MoneyAmount:
		return Money(v), nil
	case map[string]interface{}:
		return JSONB(v)
	case []interface{}:
		return fromSlice(v)
	case []bool:
		return fromSliceOf(len(v), func(i int) interface{} { return v[i] })
	case []string:
		return fromSliceOf(len(v), func(i int) interface{} { return v[i] })
	case []int16:
		return fromSliceOf(len(v), func(i int) interface{} { return v[i] })
	case []int32:
		return fromSliceOf(len(v), func(i int) interface{} { return v[i] })
	case []int:
		return fromSliceOf(len(v), func(i int) interface{} { return v[i] })
	case []int64:
		return fromSliceOf(len(v), func(i int) interface{} { return v[i] })
	case []float32:
		return fromSliceOf(len(v), func(i int) interface{} { return v[i] })
	case []float64:
		return fromSliceOf(len(v), func(i int) interface{} { return v[i] })
	case []time.Time:
		return fromSliceOf(len(v), func(i int) interface{} { return v[i] })
	case []uuid.UUID:
		return fromSliceOf(len(v), func(i int) interface{} { return v[i] })
	case []decimal.Decimal:
		return fromSliceOf(len(v), func(i int) interface{} { return v[i] })
	case []Param:
		return Array(v)
	default:
		return Param{}, &EncodeError{Value: v, Err: fmt.Errorf("no wire mapping for %T", v)}
	}
}

func fromSlice(vs []interface{}) (Param, error) {
	elems := make([]Param, len(vs))
	for i, v := range vs {
		p, err := From(v)
		if err != nil {
			return Param{}, err
		}
		elems[i] = p
	}
	return Array(elems)
}

func fromSliceOf(n int, at func(int) interface{}) (Param, error) {
	elems := make([]Param, n)
	for i := 0; i < n; i++ {
		p, err := From(at(i))
		if err != nil {
			return Param{}, err
		}
		elems[i] = p
	}
	return Array(elems)
}

const (
	microsecFromUnixEpochToY2K = 946684800 * 1000000
	secFromUnixEpochToY2K      = 946684800
)

func stripZone(t time.Time) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	return time.Date(year, month, day, hour, min, sec, t.Nanosecond(), time.UTC)
}

func microsecSincePGEpoch(t time.Time) int64 {
	return t.Unix()*1000000 + int64(t.Nanosecond())/1000 - microsecFromUnixEpochToY2K
}

func daysSincePGEpoch(t time.Time) int32 {
	tUnix := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix()
	return int32((tUnix - secFromUnixEpochToY2K) / 86400)
}

func encodeIPNet(ip net.IP, mask net.IPMask, isCIDR bool) ([]byte, error) {
	var family byte
	var addr []byte

	if v4 := ip.To4(); v4 != nil {
		family = defaultAFInet
		addr = v4
	} else if v16 := ip.To16(); v16 != nil {
		family = defaultAFInet6
		addr = v16
	} else {
		return nil, &EncodeError{Value: ip, Err: fmt.Errorf("invalid IP address")}
	}

	bits := 8 * len(addr)
	if mask != nil {
		ones, _ := mask.Size()
		bits = ones
	}

	var flag byte
	if isCIDR {
		flag = 1
	}

	buf := make([]byte, 0, 4+len(addr))
	buf = append(buf, family, byte(bits), flag, byte(len(addr)))
	buf = append(buf, addr...)
	return buf, nil
}

// PostgreSQL address families (from the server's utils/inet.h, not the local socket constants).
const (
	defaultAFInet  = 2
	defaultAFInet6 = 3
)
