package pglynx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTxOptionsBeginSQL(t *testing.T) {
	assert.Equal(t, "begin", TxOptions{}.beginSQL())
	assert.Equal(t, "begin isolation level serializable", TxOptions{IsoLevel: Serializable}.beginSQL())
	assert.Equal(t,
		"begin isolation level repeatable read read only",
		TxOptions{IsoLevel: RepeatableRead, AccessMode: ReadOnly}.beginSQL())
	assert.Equal(t,
		"begin isolation level serializable read only deferrable",
		TxOptions{IsoLevel: Serializable, AccessMode: ReadOnly, DeferrableMode: Deferrable}.beginSQL())
	assert.Equal(t,
		"begin read write not deferrable",
		TxOptions{AccessMode: ReadWrite, DeferrableMode: NotDeferrable}.beginSQL())
}
