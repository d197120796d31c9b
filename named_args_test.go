package pglynx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamedArgsRewrite(t *testing.T) {
	sql, args, err := NamedArgs{"x": 1, "y": 2}.rewriteQuery("SELECT * FROM t WHERE a=$(x)p AND b=$(y)p AND c=$(x)p")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE a=$1 AND b=$2 AND c=$1", sql)
	assert.Equal(t, []interface{}{1, 2}, args)
}

func TestNamedArgsMissingParameter(t *testing.T) {
	_, _, err := NamedArgs{"x": 1}.rewriteQuery("SELECT * FROM t WHERE a=$(x)p AND b=$(y)p")
	require.Error(t, err)

	var npErr *NamedParamError
	require.True(t, errors.As(err, &npErr))
	assert.Equal(t, "y", npErr.Name)
	assert.True(t, npErr.Missing)
}

func TestNamedArgsUnreferencedParameter(t *testing.T) {
	_, _, err := NamedArgs{"x": 1, "stray": 2}.rewriteQuery("SELECT * FROM t WHERE a=$(x)p")
	require.Error(t, err)

	var npErr *NamedParamError
	require.True(t, errors.As(err, &npErr))
	assert.Equal(t, "stray", npErr.Name)
	assert.False(t, npErr.Missing)
}

func TestNamedArgsQuoteAndCommentProtection(t *testing.T) {
	sql, args, err := NamedArgs{"x": 1}.rewriteQuery(`SELECT '$(x)p', "$(x)p", a FROM t WHERE b=$(x)p -- $(x)p`)
	require.NoError(t, err)
	assert.Equal(t, `SELECT '$(x)p', "$(x)p", a FROM t WHERE b=$1 -- $(x)p`, sql)
	assert.Equal(t, []interface{}{1}, args)

	sql, args, err = NamedArgs{"x": 1}.rewriteQuery("SELECT a /* $(x)p */ FROM t WHERE b=$(x)p")
	require.NoError(t, err)
	assert.Equal(t, "SELECT a /* $(x)p */ FROM t WHERE b=$1", sql)
	assert.Equal(t, []interface{}{1}, args)
}

func TestNamedArgsMalformedPlaceholderLeftAlone(t *testing.T) {
	// no trailing type marker
	sql, args, err := NamedArgs{}.rewriteQuery("SELECT $(x) FROM t")
	require.NoError(t, err)
	assert.Equal(t, "SELECT $(x) FROM t", sql)
	assert.Empty(t, args)

	// ordinary dollar placeholders pass through
	sql, _, err = NamedArgs{}.rewriteQuery("SELECT $1 FROM t")
	require.NoError(t, err)
	assert.Equal(t, "SELECT $1 FROM t", sql)
}

func TestNamedArgsOccurrenceOrder(t *testing.T) {
	sql, args, err := NamedArgs{"a": "A", "b": "B", "c": "C"}.rewriteQuery("SELECT $(c)p, $(a)p, $(b)p, $(c)p")
	require.NoError(t, err)
	assert.Equal(t, "SELECT $1, $2, $3, $1", sql)
	assert.Equal(t, []interface{}{"C", "A", "B"}, args)
}
