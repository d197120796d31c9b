package pgtype

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgio"
	"github.com/shopspring/decimal"
)

// PostgreSQL binary NUMERIC is a sequence of base-10000 digits with a weight anchoring the most significant digit
// relative to the decimal point.
const (
	numericPos = 0x0000
	numericNeg = 0x4000
	numericNaN = 0xC000
)

// NumericNaN is the decoded representation of a NUMERIC NaN.
const NumericNaN = "NaN"

// Numeric encodes a NUMERIC parameter from its text representation. The text form may use scientific notation.
// "NaN" is accepted.
func Numeric(s string) (Param, error) {
	s = strings.TrimSpace(s)

	if strings.EqualFold(s, "NaN") {
		buf := make([]byte, 0, 8)
		buf = pgio.AppendUint16(buf, 0)
		buf = pgio.AppendInt16(buf, 0)
		buf = pgio.AppendUint16(buf, numericNaN)
		buf = pgio.AppendUint16(buf, 0)
		return Param{oid: NumericOID, data: buf}, nil
	}

	sign := uint16(numericPos)
	if strings.HasPrefix(s, "-") {
		sign = numericNeg
		s = s[1:]
	} else if strings.HasPrefix(s, "+") {
		s = s[1:]
	}

	exp := 0
	if idx := strings.IndexAny(s, "eE"); idx != -1 {
		var err error
		exp, err = strconv.Atoi(s[idx+1:])
		if err != nil {
			return Param{}, &EncodeError{Value: s, Err: fmt.Errorf("invalid numeric exponent: %w", err)}
		}
		s = s[:idx]
	}

	intPart := s
	fracPart := ""
	if idx := strings.IndexByte(s, '.'); idx != -1 {
		intPart = s[:idx]
		fracPart = s[idx+1:]
	}

	if intPart == "" && fracPart == "" {
		return Param{}, &EncodeError{Value: s, Err: fmt.Errorf("invalid numeric")}
	}
	for _, part := range []string{intPart, fracPart} {
		for _, r := range part {
			if r < '0' || r > '9' {
				return Param{}, &EncodeError{Value: s, Err: fmt.Errorf("invalid numeric digit %q", r)}
			}
		}
	}

	// Fold the exponent into the digit string so the decimal point sits at pointPos.
	digits := intPart + fracPart
	pointPos := len(intPart) + exp

	dscale := len(fracPart) - exp
	if dscale < 0 {
		dscale = 0
	}

	var intDigits, fracDigits string
	switch {
	case pointPos <= 0:
		intDigits = ""
		fracDigits = strings.Repeat("0", -pointPos) + digits
	case pointPos >= len(digits):
		intDigits = digits + strings.Repeat("0", pointPos-len(digits))
		fracDigits = ""
	default:
		intDigits = digits[:pointPos]
		fracDigits = digits[pointPos:]
	}

	intDigits = strings.TrimLeft(intDigits, "0")
	fracDigits = strings.TrimRight(fracDigits, "0")

	if pad := len(intDigits) % 4; pad != 0 {
		intDigits = strings.Repeat("0", 4-pad) + intDigits
	}
	if pad := len(fracDigits) % 4; pad != 0 {
		fracDigits = fracDigits + strings.Repeat("0", 4-pad)
	}

	weight := len(intDigits)/4 - 1

	groups := make([]uint16, 0, (len(intDigits)+len(fracDigits))/4)
	for i := 0; i < len(intDigits); i += 4 {
		n, _ := strconv.Atoi(intDigits[i : i+4])
		groups = append(groups, uint16(n))
	}

	fracGroupsStart := len(groups)
	for i := 0; i < len(fracDigits); i += 4 {
		n, _ := strconv.Atoi(fracDigits[i : i+4])
		groups = append(groups, uint16(n))
	}

	// A pure fraction anchors its weight below the decimal point; leading zero groups shift it further down.
	if fracGroupsStart == 0 {
		weight = -1
		for len(groups) > 0 && groups[0] == 0 {
			groups = groups[1:]
			weight--
		}
	}

	for len(groups) > 0 && groups[len(groups)-1] == 0 {
		groups = groups[:len(groups)-1]
	}

	if len(groups) == 0 {
		weight = 0
	}

	buf := make([]byte, 0, 8+2*len(groups))
	buf = pgio.AppendUint16(buf, uint16(len(groups)))
	buf = pgio.AppendInt16(buf, int16(weight))
	buf = pgio.AppendUint16(buf, sign)
	buf = pgio.AppendUint16(buf, uint16(dscale))
	for _, g := range groups {
		buf = pgio.AppendUint16(buf, g)
	}

	return Param{oid: NumericOID, data: buf}, nil
}

// decodeNumeric converts a binary NUMERIC to a decimal.Decimal. NaN decodes to the string NumericNaN because the
// host decimal type has no NaN representation.
func decodeNumeric(data []byte) (interface{}, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("numeric too short: %d", len(data))
	}

	ndigits := int(int16(uint16(data[0])<<8 | uint16(data[1])))
	weight := int(int16(uint16(data[2])<<8 | uint16(data[3])))
	sign := uint16(data[4])<<8 | uint16(data[5])

	if sign == numericNaN {
		return NumericNaN, nil
	}

	if len(data) != 8+2*ndigits {
		return nil, fmt.Errorf("numeric digit count mismatch")
	}

	if ndigits == 0 {
		return decimal.New(0, 0), nil
	}

	var sb strings.Builder
	if sign == numericNeg {
		sb.WriteByte('-')
	}
	for i := 0; i < ndigits; i++ {
		g := uint16(data[8+2*i])<<8 | uint16(data[9+2*i])
		fmt.Fprintf(&sb, "%04d", g)
	}
	// Value = digits * 10000^(weight-ndigits+1).
	sb.WriteByte('e')
	sb.WriteString(strconv.Itoa(4 * (weight - ndigits + 1)))

	d, err := decimal.NewFromString(sb.String())
	if err != nil {
		return nil, err
	}
	return d, nil
}
