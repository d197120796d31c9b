package pgtype_test

import (
	"testing"

	"github.com/cockroachdb/apd"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackc/pglynx/pgtype"
)

func numericRoundTrip(t *testing.T, s string) decimal.Decimal {
	t.Helper()

	p, err := pgtype.Numeric(s)
	require.NoError(t, err)
	assert.Equal(t, uint32(pgtype.NumericOID), p.OID())

	v, err := pgtype.NewMap().DecodeValue(p.OID(), pgtype.BinaryFormatCode, p.Bytes())
	require.NoError(t, err)

	d, ok := v.(decimal.Decimal)
	require.True(t, ok, "decoded %T", v)
	return d
}

func TestNumericRoundTrip(t *testing.T) {
	for _, s := range []string{
		"0",
		"1",
		"-1",
		"10000",
		"9999",
		"12345.6789",
		"-12345.6789",
		"0.0001",
		"0.000000001",
		"123456789012345678901234567890",
		"123456789012345678901234567890.123456789",
		"-0.5",
		"3.14159265358979",
	} {
		expected := decimal.RequireFromString(s)
		got := numericRoundTrip(t, s)
		assert.Truef(t, expected.Equal(got), "%s round tripped to %s", s, got)
	}
}

func TestNumericScientificNotation(t *testing.T) {
	assert.True(t, decimal.RequireFromString("10000").Equal(numericRoundTrip(t, "1e4")))
	assert.True(t, decimal.RequireFromString("0.00015").Equal(numericRoundTrip(t, "1.5e-4")))
	assert.True(t, decimal.RequireFromString("-250000").Equal(numericRoundTrip(t, "-2.5E5")))
}

func TestNumericNaN(t *testing.T) {
	p, err := pgtype.Numeric("NaN")
	require.NoError(t, err)

	v, err := pgtype.NewMap().DecodeValue(p.OID(), pgtype.BinaryFormatCode, p.Bytes())
	require.NoError(t, err)
	assert.Equal(t, pgtype.NumericNaN, v)
}

func TestNumericInvalid(t *testing.T) {
	for _, s := range []string{"", "abc", "1.2.3", "--5", "1e"} {
		_, err := pgtype.Numeric(s)
		require.Errorf(t, err, "%q", s)
	}
}

func TestDecimalConstructors(t *testing.T) {
	p := pgtype.Decimal(decimal.New(12345, -2)) // 123.45
	v, err := pgtype.NewMap().DecodeValue(p.OID(), pgtype.BinaryFormatCode, p.Bytes())
	require.NoError(t, err)
	assert.True(t, decimal.New(12345, -2).Equal(v.(decimal.Decimal)))

	apdDec, _, err := apd.NewFromString("123.45")
	require.NoError(t, err)
	p, err = pgtype.DecimalApd(apdDec)
	require.NoError(t, err)
	v, err = pgtype.NewMap().DecodeValue(p.OID(), pgtype.BinaryFormatCode, p.Bytes())
	require.NoError(t, err)
	assert.True(t, decimal.New(12345, -2).Equal(v.(decimal.Decimal)))
}
