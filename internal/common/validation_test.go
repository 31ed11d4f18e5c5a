package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatorCollectsEveryFailure(t *testing.T) {
	err := NewValidator().
		Field("document_ref", "  ", Required, MaxLen(10)).
		Field("priority", "urgent", OneOf("", "low", "medium", "high")).
		Field("record_id", "nope", UUID).
		Field("limit", 5, Between(0, 10)).
		AsAppError()

	require.Error(t, err)
	assert.True(t, HasCode(err, CodeInvalidInput))
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "document_ref is required")
	assert.Contains(t, err.Error(), "priority must be one of")
	assert.Contains(t, err.Error(), "record_id must be a valid UUID")
	assert.NotContains(t, err.Error(), "limit")
}

func TestValidatorPasses(t *testing.T) {
	err := NewValidator().
		Field("priority", " HIGH ", OneOf("low", "medium", "high")).
		Field("priority", "", OneOf("", "low")).
		Field("title", "Fonds vert", Required, MaxLen(10)).
		Field("limit", int64(3), Between(0, 3)).
		AsAppError()
	assert.NoError(t, err)
}

func TestRules(t *testing.T) {
	assert.NotNil(t, MaxLen(3)("f", "ééée"))
	assert.Nil(t, MaxLen(3)("f", 12345))
	assert.NotNil(t, Between(0, 1)("f", "x"))
	assert.NotNil(t, Between(0, 1)("f", 1.5))
	var nilStr *string
	assert.NotNil(t, Required("f", nilStr))
	assert.NotNil(t, Required("f", nil))
	assert.NotNil(t, UUID("f", 7))
}
