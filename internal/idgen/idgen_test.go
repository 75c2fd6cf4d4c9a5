package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IsUUID(t *testing.T) {
	id := New()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix(PrefixVerification)
	assert.True(t, strings.HasPrefix(id, "verify_"))
	assert.Len(t, id, len("verify_")+32)
	assert.NotContains(t, strings.TrimPrefix(id, "verify_"), "-")

	assert.NotEqual(t, WithPrefix(PrefixEvent), WithPrefix(PrefixEvent))
}

func TestHex(t *testing.T) {
	assert.Len(t, Hex(16), 32)
}
