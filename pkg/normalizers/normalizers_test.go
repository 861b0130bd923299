package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyChain(t *testing.T) {
	assert.Equal(t, "customer id", ApplyChain("  Customer ID ", "trim", "lowercase"))
	assert.Equal(t, "customerid", ApplyChain("Customer-ID!", "lowercase", "alphanumeric"))
}

func TestApplyUnknownNormalizerIsIdentity(t *testing.T) {
	assert.Equal(t, "Raw", Apply("Raw", "no-such-normalizer"))
}

func TestBuiltins(t *testing.T) {
	assert.Equal(t, "abc123", RemoveWhitespace("a b c\t1 2 3"))
	assert.Equal(t, "orderid", RemovePunctuation("order_id"))

	fn, ok := Get("remove_punctuation")
	assert.True(t, ok)
	assert.Equal(t, "fullname", fn("full.name!"))
}
