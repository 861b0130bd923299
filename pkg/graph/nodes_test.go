package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidPropertyKey(t *testing.T) {
	assert.True(t, validPropertyKey("cardinality"))
	assert.True(t, validPropertyKey("null_count"))
	assert.True(t, validPropertyKey("p95"))

	assert.False(t, validPropertyKey(""))
	assert.False(t, validPropertyKey("9lives"))
	assert.False(t, validPropertyKey("n.id = 1 REMOVE"))
	assert.False(t, validPropertyKey("min-value"))
}
