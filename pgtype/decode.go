package pgtype

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/gofrs/uuid"
)

// CompositeValue is a decoded composite (row) value with preserved field order.
type CompositeValue struct {
	Names  []string
	Values []interface{}
}

// Get returns the value of the named field.
func (cv *CompositeValue) Get(name string) (interface{}, bool) {
	for i, n := range cv.Names {
		if n == name {
			return cv.Values[i], true
		}
	}
	return nil, false
}

// DecodeValue converts a single wire value to a Go value. data must not be nil; the caller maps SQL NULL to nil
// before any decoder runs. Text format values decode to string. Binary format values are dispatched by OID;
// registered enum OIDs decode to their label, registered composite OIDs to a *CompositeValue, and unknown OIDs fail
// with ErrNoDecoder.
func (m *Map) DecodeValue(oid uint32, format int16, data []byte) (interface{}, error) {
	if data == nil {
		return nil, nil
	}

	if format == TextFormatCode {
		return string(data), nil
	}

	switch oid {
	case BoolOID:
		if len(data) != 1 {
			return nil, &DecodeError{OID: oid, Err: fmt.Errorf("invalid length for bool: %v", len(data))}
		}
		return data[0] == 1, nil
	case ByteaOID:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	case Int2OID:
		if len(data) != 2 {
			return nil, &DecodeError{OID: oid, Err: fmt.Errorf("invalid length for int2: %v", len(data))}
		}
		return int16(uint16(data[0])<<8 | uint16(data[1])), nil
	case Int4OID, OIDOID, XIDOID, CIDOID:
		if len(data) != 4 {
			return nil, &DecodeError{OID: oid, Err: fmt.Errorf("invalid length for int4: %v", len(data))}
		}
		return int32(bigEndianUint32(data)), nil
	case Int8OID:
		if len(data) != 8 {
			return nil, &DecodeError{OID: oid, Err: fmt.Errorf("invalid length for int8: %v", len(data))}
		}
		return int64(bigEndianUint64(data)), nil
	case Float4OID:
		if len(data) != 4 {
			return nil, &DecodeError{OID: oid, Err: fmt.Errorf("invalid length for float4: %v", len(data))}
		}
		return math.Float32frombits(bigEndianUint32(data)), nil
	case Float8OID:
		if len(data) != 8 {
			return nil, &DecodeError{OID: oid, Err: fmt.Errorf("invalid length for float8: %v", len(data))}
		}
		return math.Float64frombits(bigEndianUint64(data)), nil
	case TextOID, VarcharOID, BPCharOID, NameOID, UnknownOID, XMLOID:
		return string(data), nil
	case QCharOID:
		if len(data) != 1 {
			return nil, &DecodeError{OID: oid, Err: fmt.Errorf(`invalid length for "char": %v`, len(data))}
		}
		return rune(data[0]), nil
	case JSONOID:
		return decodeJSON(oid, data)
	case JSONBOID:
		if len(data) == 0 || data[0] != 1 {
			return nil, &DecodeError{OID: oid, Err: fmt.Errorf("unknown jsonb format version")}
		}
		return decodeJSON(oid, data[1:])
	case NumericOID:
		v, err := decodeNumeric(data)
		if err != nil {
			return nil, &DecodeError{OID: oid, Err: err}
		}
		return v, nil
	case MoneyOID:
		if len(data) != 8 {
			return nil, &DecodeError{OID: oid, Err: fmt.Errorf("invalid length for money: %v", len(data))}
		}
		return MoneyAmount(int64(bigEndianUint64(data))), nil
	case DateOID:
		if len(data) != 4 {
			return nil, &DecodeError{OID: oid, Err: fmt.Errorf("invalid length for date: %v", len(data))}
		}
		days := int32(bigEndianUint32(data))
		if days == infinityDate || days == negInfinityDate {
			return nil, &DecodeError{OID: oid, Err: fmt.Errorf("infinite dates are not supported")}
		}
		return time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, int(days)), nil
	case TimeOID:
		if len(data) != 8 {
			return nil, &DecodeError{OID: oid, Err: fmt.Errorf("invalid length for time: %v", len(data))}
		}
		return time.Duration(int64(bigEndianUint64(data))) * time.Microsecond, nil
	case TimestampOID, TimestamptzOID:
		if len(data) != 8 {
			return nil, &DecodeError{OID: oid, Err: fmt.Errorf("invalid length for timestamp: %v", len(data))}
		}
		usec := int64(bigEndianUint64(data))
		if usec == infinityMicrosecond || usec == negInfinityMicrosecond {
			return nil, &DecodeError{OID: oid, Err: fmt.Errorf("infinite timestamps are not supported")}
		}
		usec += microsecFromUnixEpochToY2K
		return time.Unix(usec/1000000, (usec%1000000)*1000).UTC(), nil
	case UUIDOID:
		if len(data) != 16 {
			return nil, &DecodeError{OID: oid, Err: fmt.Errorf("invalid length for uuid: %v", len(data))}
		}
		var u uuid.UUID
		copy(u[:], data)
		return u, nil
	case InetOID, CIDROID:
		v, err := decodeIPNet(data)
		if err != nil {
			return nil, &DecodeError{OID: oid, Err: err}
		}
		return v, nil
	case MacaddrOID:
		if len(data) != 6 {
			return nil, &DecodeError{OID: oid, Err: fmt.Errorf("invalid length for macaddr: %v", len(data))}
		}
		return append(net.HardwareAddr(nil), data...), nil
	case Macaddr8OID:
		if len(data) != 8 {
			return nil, &DecodeError{OID: oid, Err: fmt.Errorf("invalid length for macaddr8: %v", len(data))}
		}
		return append(net.HardwareAddr(nil), data...), nil
	case PointOID:
		v, err := decodePoint(data)
		return wrapGeom(oid, v, err)
	case LineOID:
		v, err := decodeLine(data)
		return wrapGeom(oid, v, err)
	case LsegOID:
		v, err := decodeLseg(data)
		return wrapGeom(oid, v, err)
	case BoxOID:
		v, err := decodeBox(data)
		return wrapGeom(oid, v, err)
	case PathOID:
		v, err := decodePath(data)
		return wrapGeom(oid, v, err)
	case PolygonOID:
		v, err := decodePolygon(data)
		return wrapGeom(oid, v, err)
	case CircleOID:
		v, err := decodeCircle(data)
		return wrapGeom(oid, v, err)
	case RecordOID:
		return m.decodeRecord(data)
	}

	if _, ok := elemOIDByArray[oid]; ok {
		v, err := m.decodeArray(oid, data)
		if err != nil {
			return nil, &DecodeError{OID: oid, Err: err}
		}
		return v, nil
	}

	if m != nil {
		if _, ok := m.enums[oid]; ok {
			// The binary send function of an enum is its label text.
			return string(data), nil
		}
		if fields, ok := m.composites[oid]; ok {
			return m.decodeComposite(fields, data)
		}
	}

	return nil, &DecodeError{OID: oid, Err: ErrNoDecoder}
}

const (
	infinityMicrosecond    = 9223372036854775807
	negInfinityMicrosecond = -9223372036854775808
	infinityDate           = 2147483647
	negInfinityDate        = -2147483648
)

func decodeJSON(oid uint32, data []byte) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, &DecodeError{OID: oid, Err: err}
	}
	return v, nil
}

func wrapGeom(oid uint32, v interface{}, err error) (interface{}, error) {
	if err != nil {
		return nil, &DecodeError{OID: oid, Err: err}
	}
	return v, nil
}

func decodeIPNet(data []byte) (interface{}, error) {
	if len(data) != 8 && len(data) != 20 {
		return nil, fmt.Errorf("invalid length for inet/cidr: %v", len(data))
	}
	bits := int(data[1])
	addrLen := int(data[3])
	if len(data) != 4+addrLen {
		return nil, fmt.Errorf("inet/cidr address truncated")
	}

	ipnet := &net.IPNet{
		IP:   append(net.IP(nil), data[4:]...),
		Mask: net.CIDRMask(bits, 8*addrLen),
	}
	return ipnet, nil
}

// decodeRecord decodes an anonymous record into positional values. The wire format carries field OIDs but no names.
func (m *Map) decodeRecord(data []byte) (interface{}, error) {
	values, _, err := m.decodeCompositeFields(data)
	if err != nil {
		return nil, &DecodeError{OID: RecordOID, Err: err}
	}
	return values, nil
}

// decodeComposite decodes a registered composite type into an ordered field mapping.
func (m *Map) decodeComposite(fields []CompositeField, data []byte) (interface{}, error) {
	values, oids, err := m.decodeCompositeFields(data)
	if err != nil {
		return nil, &DecodeError{OID: RecordOID, Err: err}
	}
	if len(values) != len(fields) {
		return nil, &DecodeError{OID: RecordOID, Err: fmt.Errorf("composite has %d fields, %d registered", len(values), len(fields))}
	}
	cv := &CompositeValue{
		Names:  make([]string, len(fields)),
		Values: values,
	}
	for i, f := range fields {
		cv.Names[i] = f.Name
		if f.OID != 0 && f.OID != oids[i] {
			return nil, &DecodeError{OID: RecordOID, Err: fmt.Errorf("composite field %s has oid %d, %d registered", f.Name, oids[i], f.OID)}
		}
	}
	return cv, nil
}

func (m *Map) decodeCompositeFields(data []byte) ([]interface{}, []uint32, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("record too short: %v", len(data))
	}
	rp := 0
	nfields := int(int32(bigEndianUint32(data)))
	rp += 4

	values := make([]interface{}, 0, nfields)
	oids := make([]uint32, 0, nfields)
	for i := 0; i < nfields; i++ {
		if len(data) < rp+8 {
			return nil, nil, fmt.Errorf("record field header truncated")
		}
		fieldOID := bigEndianUint32(data[rp:])
		rp += 4
		fieldLen := int(int32(bigEndianUint32(data[rp:])))
		rp += 4

		oids = append(oids, fieldOID)

		if fieldLen == -1 {
			values = append(values, nil)
			continue
		}
		if len(data) < rp+fieldLen {
			return nil, nil, fmt.Errorf("record field truncated")
		}
		v, err := m.DecodeValue(fieldOID, BinaryFormatCode, data[rp:rp+fieldLen])
		if err != nil {
			return nil, nil, err
		}
		rp += fieldLen
		values = append(values, v)
	}

	return values, oids, nil
}
