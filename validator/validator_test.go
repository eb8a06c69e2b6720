package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSettings struct {
	Path     string `env:"DB_PATH" validate:"required"`
	PoolSize int    `env:"DB_POOL_SIZE" validate:"gte=1,lte=64"`
	Mode     string `env:"ENV" validate:"oneof=development production test"`
}

func TestValidate_Passes(t *testing.T) {
	v := New()
	err := v.Validate(testSettings{Path: "/tmp/x.db", PoolSize: 5, Mode: "development"})
	assert.NoError(t, err)
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	v := New()
	err := v.Validate(testSettings{PoolSize: 0, Mode: "staging"})
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 3)
}

func TestValidate_UsesEnvTagAsFieldName(t *testing.T) {
	v := New()
	err := v.Validate(testSettings{PoolSize: 1, Mode: "test"})
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 1)
	assert.Equal(t, "DB_PATH", verrs[0].Field)
	assert.Equal(t, "required", verrs[0].Tag)
	assert.Contains(t, verrs[0].Message, "DB_PATH is required")
}

func TestValidate_MessagesPerTag(t *testing.T) {
	v := New()
	err := v.Validate(testSettings{Path: "/tmp/x.db", PoolSize: 100, Mode: "staging"})
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 2)

	messages := err.Error()
	assert.Contains(t, messages, "DB_POOL_SIZE must be less than or equal to 64")
	assert.Contains(t, messages, "ENV must be one of: development production test")
}

func TestValidate_FieldFallsBackToStructName(t *testing.T) {
	type noTag struct {
		Value string `validate:"required"`
	}

	v := New()
	err := v.Validate(noTag{})
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 1)
	assert.Equal(t, "Value", verrs[0].Field)
}
