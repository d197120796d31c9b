package pgconn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerVersion(t *testing.T) {
	for _, tt := range []struct {
		raw      string
		expected string
	}{
		{"14.5", "14.5.0"},
		{"9.6.24", "9.6.24"},
		{"13.4 (Debian 13.4-1.pgdg100+1)", "13.4.0"},
		{"15devel", "15.0.0"},
		{"16beta1", "16.0.0"},
	} {
		v := parseServerVersion(tt.raw)
		require.NotNil(t, v, "raw=%s", tt.raw)
		assert.Equal(t, tt.expected, v.String(), "raw=%s", tt.raw)
	}

	assert.Nil(t, parseServerVersion("eleven"))
}
