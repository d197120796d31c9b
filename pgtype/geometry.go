package pgtype

import (
	"fmt"
	"math"

	"github.com/jackc/pgio"
)

// Vec2 is a two-dimensional point used by the geometric types.
type Vec2 struct {
	X float64
	Y float64
}

// PointValue is a decoded POINT.
type PointValue struct {
	P Vec2
}

// LineValue is a decoded LINE in Ax + By + C = 0 form.
type LineValue struct {
	A, B, C float64
}

// LsegValue is a decoded LSEG.
type LsegValue struct {
	P [2]Vec2
}

// BoxValue is a decoded BOX. P[0] is the upper right corner, P[1] the lower left, matching the server's
// normalization.
type BoxValue struct {
	P [2]Vec2
}

// PathValue is a decoded PATH.
type PathValue struct {
	P      []Vec2
	Closed bool
}

// PolygonValue is a decoded POLYGON.
type PolygonValue struct {
	P []Vec2
}

// CircleValue is a decoded CIRCLE.
type CircleValue struct {
	Center Vec2
	Radius float64
}

func appendVec2(buf []byte, v Vec2) []byte {
	buf = pgio.AppendUint64(buf, math.Float64bits(v.X))
	buf = pgio.AppendUint64(buf, math.Float64bits(v.Y))
	return buf
}

// Point encodes a POINT parameter.
func Point(x, y float64) Param {
	return Param{oid: PointOID, data: appendVec2(nil, Vec2{x, y})}
}

// Line encodes a LINE parameter in Ax + By + C = 0 form.
func Line(a, b, c float64) Param {
	buf := make([]byte, 0, 24)
	buf = pgio.AppendUint64(buf, math.Float64bits(a))
	buf = pgio.AppendUint64(buf, math.Float64bits(b))
	buf = pgio.AppendUint64(buf, math.Float64bits(c))
	return Param{oid: LineOID, data: buf}
}

// Lseg encodes an LSEG parameter.
func Lseg(p1, p2 Vec2) Param {
	buf := make([]byte, 0, 32)
	buf = appendVec2(buf, p1)
	buf = appendVec2(buf, p2)
	return Param{oid: LsegOID, data: buf}
}

// Box encodes a BOX parameter from two opposite corners.
func Box(p1, p2 Vec2) Param {
	buf := make([]byte, 0, 32)
	buf = appendVec2(buf, p1)
	buf = appendVec2(buf, p2)
	return Param{oid: BoxOID, data: buf}
}

// Path encodes a PATH parameter.
func Path(points []Vec2, closed bool) Param {
	buf := make([]byte, 0, 5+16*len(points))
	if closed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = pgio.AppendInt32(buf, int32(len(points)))
	for _, p := range points {
		buf = appendVec2(buf, p)
	}
	return Param{oid: PathOID, data: buf}
}

// Polygon encodes a POLYGON parameter.
func Polygon(points []Vec2) Param {
	buf := make([]byte, 0, 4+16*len(points))
	buf = pgio.AppendInt32(buf, int32(len(points)))
	for _, p := range points {
		buf = appendVec2(buf, p)
	}
	return Param{oid: PolygonOID, data: buf}
}

// Circle encodes a CIRCLE parameter.
func Circle(center Vec2, radius float64) Param {
	buf := make([]byte, 0, 24)
	buf = appendVec2(buf, center)
	buf = pgio.AppendUint64(buf, math.Float64bits(radius))
	return Param{oid: CircleOID, data: buf}
}

func decodeVec2(data []byte) Vec2 {
	return Vec2{
		X: math.Float64frombits(bigEndianUint64(data)),
		Y: math.Float64frombits(bigEndianUint64(data[8:])),
	}
}

func decodePoint(data []byte) (interface{}, error) {
	if len(data) != 16 {
		return nil, fmt.Errorf("invalid length for point: %v", len(data))
	}
	return PointValue{P: decodeVec2(data)}, nil
}

func decodeLine(data []byte) (interface{}, error) {
	if len(data) != 24 {
		return nil, fmt.Errorf("invalid length for line: %v", len(data))
	}
	return LineValue{
		A: math.Float64frombits(bigEndianUint64(data)),
		B: math.Float64frombits(bigEndianUint64(data[8:])),
		C: math.Float64frombits(bigEndianUint64(data[16:])),
	}, nil
}

func decodeLseg(data []byte) (interface{}, error) {
	if len(data) != 32 {
		return nil, fmt.Errorf("invalid length for lseg: %v", len(data))
	}
	return LsegValue{P: [2]Vec2{decodeVec2(data), decodeVec2(data[16:])}}, nil
}

func decodeBox(data []byte) (interface{}, error) {
	if len(data) != 32 {
		return nil, fmt.Errorf("invalid length for box: %v", len(data))
	}
	return BoxValue{P: [2]Vec2{decodeVec2(data), decodeVec2(data[16:])}}, nil
}

func decodePath(data []byte) (interface{}, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("invalid length for path: %v", len(data))
	}
	closed := data[0] == 1
	n := int(int32(bigEndianUint32(data[1:])))
	if len(data) != 5+16*n {
		return nil, fmt.Errorf("invalid length for path with %d points: %v", n, len(data))
	}
	points := make([]Vec2, n)
	for i := range points {
		points[i] = decodeVec2(data[5+16*i:])
	}
	return PathValue{P: points, Closed: closed}, nil
}

func decodePolygon(data []byte) (interface{}, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("invalid length for polygon: %v", len(data))
	}
	n := int(int32(bigEndianUint32(data)))
	if len(data) != 4+16*n {
		return nil, fmt.Errorf("invalid length for polygon with %d points: %v", n, len(data))
	}
	points := make([]Vec2, n)
	for i := range points {
		points[i] = decodeVec2(data[4+16*i:])
	}
	return PolygonValue{P: points}, nil
}

func decodeCircle(data []byte) (interface{}, error) {
	if len(data) != 24 {
		return nil, fmt.Errorf("invalid length for circle: %v", len(data))
	}
	return CircleValue{
		Center: decodeVec2(data),
		Radius: math.Float64frombits(bigEndianUint64(data[16:])),
	}, nil
}

func bigEndianUint64(b []byte) uint64 {
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}
