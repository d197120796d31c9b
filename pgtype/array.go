package pgtype

import (
	"fmt"

	"github.com/jackc/pgio"
)

// arrayOIDByElem maps an element OID to its array type OID.
var arrayOIDByElem = map[uint32]uint32{
	BoolOID:        BoolArrayOID,
	ByteaOID:       ByteaArrayOID,
	Int2OID:        Int2ArrayOID,
	Int4OID:        Int4ArrayOID,
	Int8OID:        Int8ArrayOID,
	TextOID:        TextArrayOID,
	VarcharOID:     VarcharArrayOID,
	BPCharOID:      BPCharArrayOID,
	Float4OID:      Float4ArrayOID,
	Float8OID:      Float8ArrayOID,
	PointOID:       PointArrayOID,
	InetOID:        InetArrayOID,
	MacaddrOID:     MacaddrArrayOID,
	DateOID:        DateArrayOID,
	TimestampOID:   TimestampArrayOID,
	TimestamptzOID: TimestamptzArrayOID,
	NumericOID:     NumericArrayOID,
	MoneyOID:       MoneyArrayOID,
	UUIDOID:        UUIDArrayOID,
	JSONOID:        JSONArrayOID,
	JSONBOID:       JSONBArrayOID,
}

// elemOIDByArray is the inverse of arrayOIDByElem, used when decoding.
var elemOIDByArray = func() map[uint32]uint32 {
	m := make(map[uint32]uint32, len(arrayOIDByElem))
	for elem, arr := range arrayOIDByElem {
		m[arr] = elem
	}
	return m
}()

// Array encodes a one-dimensional ARRAY parameter. All non-null elements must have the same OID. At least one
// element must be non-null, or typed NULL elements must be used, so the element type can be determined.
func Array(elems []Param) (Param, error) {
	var elemOID uint32
	for _, e := range elems {
		if e.oid == 0 {
			if e.IsNull() {
				continue
			}
			return Param{}, &EncodeError{Value: elems, Err: fmt.Errorf("array element without a type")}
		}
		if elemOID == 0 {
			elemOID = e.oid
		} else if e.oid != elemOID {
			return Param{}, &EncodeError{Value: elems, Err: ErrMixedArray}
		}
	}
	if elemOID == 0 {
		return Param{}, &EncodeError{Value: elems, Err: fmt.Errorf("cannot determine element type of all-null array")}
	}

	arrayOID, ok := arrayOIDByElem[elemOID]
	if !ok {
		return Param{}, &EncodeError{Value: elems, Err: fmt.Errorf("no array type for element oid %d", elemOID)}
	}

	hasNull := int32(0)
	for _, e := range elems {
		if e.IsNull() {
			hasNull = 1
			break
		}
	}

	buf := make([]byte, 0, 20+len(elems)*8)
	if len(elems) == 0 {
		buf = pgio.AppendInt32(buf, 0) // ndim
		buf = pgio.AppendInt32(buf, 0)
		buf = pgio.AppendUint32(buf, elemOID)
		return Param{oid: arrayOID, data: buf}, nil
	}

	buf = pgio.AppendInt32(buf, 1) // ndim
	buf = pgio.AppendInt32(buf, hasNull)
	buf = pgio.AppendUint32(buf, elemOID)
	buf = pgio.AppendInt32(buf, int32(len(elems))) // dimension length
	buf = pgio.AppendInt32(buf, 1)                 // lower bound

	for _, e := range elems {
		if e.IsNull() {
			buf = pgio.AppendInt32(buf, -1)
			continue
		}
		buf = pgio.AppendInt32(buf, int32(len(e.data)))
		buf = append(buf, e.data...)
	}

	return Param{oid: arrayOID, data: buf}, nil
}

// decodeArray converts a binary ARRAY value to []interface{}, nesting slices for multidimensional arrays.
func (m *Map) decodeArray(arrayOID uint32, data []byte) (interface{}, error) {
	rp := 0
	if len(data) < 12 {
		return nil, fmt.Errorf("array header too short: %d", len(data))
	}

	ndim := int(int32(bigEndianUint32(data[rp:])))
	rp += 4
	rp += 4 // hasnull flag is redundant with the per-element lengths
	elemOID := bigEndianUint32(data[rp:])
	rp += 4

	if ndim == 0 {
		return []interface{}{}, nil
	}
	if len(data) < 12+8*ndim {
		return nil, fmt.Errorf("array dimensions truncated")
	}

	dims := make([]int, ndim)
	elemCount := 1
	for i := range dims {
		dims[i] = int(int32(bigEndianUint32(data[rp:])))
		rp += 8 // dimension length + lower bound
		elemCount *= dims[i]
	}

	elems := make([]interface{}, 0, elemCount)
	for i := 0; i < elemCount; i++ {
		if len(data) < rp+4 {
			return nil, fmt.Errorf("array elements truncated")
		}
		elemLen := int(int32(bigEndianUint32(data[rp:])))
		rp += 4
		if elemLen == -1 {
			elems = append(elems, nil)
			continue
		}
		if len(data) < rp+elemLen {
			return nil, fmt.Errorf("array elements truncated")
		}
		v, err := m.DecodeValue(elemOID, BinaryFormatCode, data[rp:rp+elemLen])
		if err != nil {
			return nil, err
		}
		rp += elemLen
		elems = append(elems, v)
	}

	return nestArray(elems, dims), nil
}

// nestArray reshapes a flat element slice into nested slices per the dimension lengths.
func nestArray(elems []interface{}, dims []int) interface{} {
	if len(dims) <= 1 {
		return elems
	}

	stride := len(elems) / dims[0]
	out := make([]interface{}, dims[0])
	for i := range out {
		out[i] = nestArray(elems[i*stride:(i+1)*stride], dims[1:])
	}
	return out
}

func bigEndianUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
