package pgtype_test

import (
	"net"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackc/pglynx/pgtype"
)

func roundTrip(t *testing.T, m *pgtype.Map, p pgtype.Param) interface{} {
	t.Helper()
	v, err := m.DecodeValue(p.OID(), pgtype.BinaryFormatCode, p.Bytes())
	require.NoError(t, err)
	return v
}

func TestFromInference(t *testing.T) {
	for _, tt := range []struct {
		value       interface{}
		expectedOID uint32
	}{
		{true, pgtype.BoolOID},
		{[]byte{1, 2}, pgtype.ByteaOID},
		{"hello", pgtype.VarcharOID},
		{int16(1), pgtype.Int2OID},
		{int(1), pgtype.Int4OID},
		{int32(1), pgtype.Int4OID},
		{int64(1), pgtype.Int8OID},
		{float32(1.5), pgtype.Float4OID},
		{float64(1.5), pgtype.Float8OID},
		{time.Now(), pgtype.TimestamptzOID},
		{uuid.Must(uuid.NewV4()), pgtype.UUIDOID},
		{map[string]interface{}{"a": 1}, pgtype.JSONBOID},
		{net.ParseIP("10.0.0.1"), pgtype.InetOID},
		{decimal.New(15, -1), pgtype.NumericOID},
	} {
		p, err := pgtype.From(tt.value)
		require.NoError(t, err, "%T", tt.value)
		assert.Equal(t, tt.expectedOID, p.OID(), "%T", tt.value)
	}
}

func TestFromNil(t *testing.T) {
	p, err := pgtype.From(nil)
	require.NoError(t, err)
	assert.True(t, p.IsNull())
	assert.Nil(t, p.Bytes())
}

func TestFromUnsupported(t *testing.T) {
	_, err := pgtype.From(struct{ A int }{1})
	require.Error(t, err)
}

func TestIntWrapperRanges(t *testing.T) {
	_, err := pgtype.SmallInt(40000)
	require.ErrorIs(t, err, pgtype.ErrValueOutOfRange)

	_, err = pgtype.SmallInt(-40000)
	require.ErrorIs(t, err, pgtype.ErrValueOutOfRange)

	_, err = pgtype.Integer(1 << 40)
	require.ErrorIs(t, err, pgtype.ErrValueOutOfRange)

	p, err := pgtype.SmallInt(-32768)
	require.NoError(t, err)
	assert.Equal(t, uint32(pgtype.Int2OID), p.OID())
}

func TestScalarRoundTrips(t *testing.T) {
	m := pgtype.NewMap()

	assert.Equal(t, true, roundTrip(t, m, pgtype.Bool(true)))
	assert.Equal(t, false, roundTrip(t, m, pgtype.Bool(false)))
	assert.Equal(t, []byte{0xde, 0xad}, roundTrip(t, m, pgtype.Bytea([]byte{0xde, 0xad})))
	assert.Equal(t, "hello", roundTrip(t, m, pgtype.Varchar("hello")))
	assert.Equal(t, "hello", roundTrip(t, m, pgtype.Text("hello")))

	p, err := pgtype.SmallInt(-42)
	require.NoError(t, err)
	assert.Equal(t, int16(-42), roundTrip(t, m, p))

	p, err = pgtype.Integer(123456)
	require.NoError(t, err)
	assert.Equal(t, int32(123456), roundTrip(t, m, p))

	assert.Equal(t, int64(1<<40), roundTrip(t, m, pgtype.BigInt(1<<40)))
	assert.Equal(t, float32(1.25), roundTrip(t, m, pgtype.Float32(1.25)))
	assert.Equal(t, float64(-1.25), roundTrip(t, m, pgtype.Float64(-1.25)))
	assert.Equal(t, pgtype.MoneyAmount(12345), roundTrip(t, m, pgtype.Money(12345)))

	u := uuid.Must(uuid.FromString("0310a991-4bfa-4c26-85ba-b45586d12c29"))
	assert.Equal(t, u, roundTrip(t, m, pgtype.UUID(u)))
}

func TestUUIDStringParseFailure(t *testing.T) {
	_, err := pgtype.UUIDString("not-a-uuid")
	require.Error(t, err)
}

func TestMacaddrParseFailure(t *testing.T) {
	_, err := pgtype.MacaddrString("not-a-mac")
	require.Error(t, err)

	_, err = pgtype.Macaddr(net.HardwareAddr{1, 2, 3})
	require.Error(t, err)
}

func TestDateTimeRoundTrips(t *testing.T) {
	m := pgtype.NewMap()

	date := time.Date(2021, 7, 24, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, date, roundTrip(t, m, pgtype.Date(date)))

	earlyDate := time.Date(1969, 12, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, earlyDate, roundTrip(t, m, pgtype.Date(earlyDate)))

	ts := time.Date(2021, 7, 24, 10, 52, 16, 123456000, time.UTC)
	assert.Equal(t, ts, roundTrip(t, m, pgtype.Timestamptz(ts)))

	// An aware value encodes its absolute instant.
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	aware := time.Date(2021, 7, 24, 12, 52, 16, 0, berlin)
	assert.Equal(t, aware.UTC(), roundTrip(t, m, pgtype.Timestamptz(aware)))

	// A naive timestamp keeps the wall clock reading and drops the zone.
	naive := time.Date(2021, 7, 24, 12, 52, 16, 0, berlin)
	assert.Equal(t, time.Date(2021, 7, 24, 12, 52, 16, 0, time.UTC), roundTrip(t, m, pgtype.Timestamp(naive)))

	tod, err := pgtype.TimeOfDay(13*time.Hour + 37*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 13*time.Hour+37*time.Minute, roundTrip(t, m, tod))

	_, err = pgtype.TimeOfDay(25 * time.Hour)
	require.Error(t, err)
}

func TestNetRoundTrips(t *testing.T) {
	m := pgtype.NewMap()

	p, err := pgtype.Inet(net.ParseIP("192.168.0.1"))
	require.NoError(t, err)
	ipnet := roundTrip(t, m, p).(*net.IPNet)
	assert.Equal(t, "192.168.0.1/32", ipnet.String())

	p, err = pgtype.Inet(net.ParseIP("2001:db8::1"))
	require.NoError(t, err)
	ipnet = roundTrip(t, m, p).(*net.IPNet)
	assert.Equal(t, "2001:db8::1/128", ipnet.String())

	_, network, err := net.ParseCIDR("10.0.0.0/8")
	require.NoError(t, err)
	p, err = pgtype.CIDR(network)
	require.NoError(t, err)
	ipnet = roundTrip(t, m, p).(*net.IPNet)
	assert.Equal(t, "10.0.0.0/8", ipnet.String())

	mac, err := net.ParseMAC("01:23:45:67:89:ab")
	require.NoError(t, err)
	p, err = pgtype.Macaddr(mac)
	require.NoError(t, err)
	assert.Equal(t, mac, roundTrip(t, m, p))

	// 6 byte addresses expand to EUI-64 like the server does
	p, err = pgtype.Macaddr8(mac)
	require.NoError(t, err)
	got := roundTrip(t, m, p).(net.HardwareAddr)
	assert.Equal(t, "01:23:45:ff:fe:67:89:ab", got.String())
}

func TestJSONRoundTrips(t *testing.T) {
	m := pgtype.NewMap()

	p, err := pgtype.JSONB(map[string]interface{}{"a": float64(1), "b": "two"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": float64(1), "b": "two"}, roundTrip(t, m, p))

	// a JSON array must be wrapped to disambiguate from a PostgreSQL ARRAY
	p, err = pgtype.JSON([]interface{}{float64(1), "two"})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{float64(1), "two"}, roundTrip(t, m, p))
}

func TestGeometryRoundTrips(t *testing.T) {
	m := pgtype.NewMap()

	assert.Equal(t, pgtype.PointValue{P: pgtype.Vec2{X: 1.5, Y: -2.5}}, roundTrip(t, m, pgtype.Point(1.5, -2.5)))
	assert.Equal(t, pgtype.LineValue{A: 1, B: 2, C: 3}, roundTrip(t, m, pgtype.Line(1, 2, 3)))
	assert.Equal(t,
		pgtype.BoxValue{P: [2]pgtype.Vec2{{3, 4}, {1, 2}}},
		roundTrip(t, m, pgtype.Box(pgtype.Vec2{3, 4}, pgtype.Vec2{1, 2})))
	assert.Equal(t,
		pgtype.PathValue{P: []pgtype.Vec2{{0, 0}, {1, 1}, {2, 0}}, Closed: true},
		roundTrip(t, m, pgtype.Path([]pgtype.Vec2{{0, 0}, {1, 1}, {2, 0}}, true)))
	assert.Equal(t,
		pgtype.PolygonValue{P: []pgtype.Vec2{{0, 0}, {1, 1}, {2, 0}}},
		roundTrip(t, m, pgtype.Polygon([]pgtype.Vec2{{0, 0}, {1, 1}, {2, 0}})))
	assert.Equal(t,
		pgtype.CircleValue{Center: pgtype.Vec2{1, 2}, Radius: 3},
		roundTrip(t, m, pgtype.Circle(pgtype.Vec2{1, 2}, 3)))
}

func TestEnumDecode(t *testing.T) {
	m := pgtype.NewMap()
	const enumOID = uint32(524289)

	_, err := m.DecodeValue(enumOID, pgtype.BinaryFormatCode, []byte("red"))
	require.ErrorIs(t, err, pgtype.ErrNoDecoder)

	m.RegisterEnum(enumOID)
	v, err := m.DecodeValue(enumOID, pgtype.BinaryFormatCode, []byte("red"))
	require.NoError(t, err)
	assert.Equal(t, "red", v)
}

func TestTextFormatDecodesToString(t *testing.T) {
	m := pgtype.NewMap()
	v, err := m.DecodeValue(pgtype.Int4OID, pgtype.TextFormatCode, []byte("42"))
	require.NoError(t, err)
	assert.Equal(t, "42", v)
}

func TestRawPassthrough(t *testing.T) {
	p := pgtype.Raw(12345, []byte{1, 2, 3})
	assert.Equal(t, uint32(12345), p.OID())
	assert.Equal(t, []byte{1, 2, 3}, p.Bytes())
	assert.False(t, p.IsNull())
}

func TestCustomDecoderLookup(t *testing.T) {
	m := pgtype.NewMap()
	m.RegisterCustomDecoder("MiXeD", func(data []byte, present bool) (interface{}, error) {
		return nil, nil
	})
	assert.NotNil(t, m.CustomDecoderFor("mixed"))
	assert.NotNil(t, m.CustomDecoderFor("MIXED"))
	assert.Nil(t, m.CustomDecoderFor("other"))
}
