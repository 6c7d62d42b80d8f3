package backuperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(ErrorTypeConfig, "missing state directory")
	require.NotNil(t, err)
	assert.Equal(t, ErrorTypeConfig, err.Type)
	assert.Equal(t, "config: missing state directory", err.Error())
	assert.NotEmpty(t, err.Stack)
}

func TestNewf(t *testing.T) {
	err := Newf(ErrorTypeState, "another run holds the lease (pid %d)", 1234)
	assert.Contains(t, err.Error(), "pid 1234")
}

func TestWrap(t *testing.T) {
	t.Run("wraps plain error", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(cause, ErrorTypeConnection, "source server unreachable")
		require.NotNil(t, err)
		assert.Equal(t, ErrorTypeConnection, err.Type)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("nil input returns nil", func(t *testing.T) {
		assert.Nil(t, Wrap(nil, ErrorTypeInternal, "ignored"))
	})

	t.Run("preserves inner stack", func(t *testing.T) {
		inner := New(ErrorTypeQuery, "metadata query failed")
		outer := Wrap(inner, ErrorTypeDetection, "detection failed")
		assert.Equal(t, inner.Stack, outer.Stack)
	})

	t.Run("wrapped through fmt.Errorf still detected", func(t *testing.T) {
		inner := New(ErrorTypeState, "watermark store corrupt")
		outer := fmt.Errorf("run aborted: %w", inner)
		assert.True(t, IsFatal(outer))
	})
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeUpload, "delivery exhausted retries").
		WithDetail("artifact", "/backups/a.sql.gz").
		WithDetail("attempts", 3)
	require.NotNil(t, err.Details)
	assert.Equal(t, "/backups/a.sql.gz", err.Details["artifact"])
	assert.Equal(t, 3, err.Details["attempts"])
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		errType ErrorType
		fatal   bool
	}{
		{ErrorTypeConfig, true},
		{ErrorTypeGateTimeout, true},
		{ErrorTypeEnumeration, true},
		{ErrorTypeState, true},
		{ErrorTypeDetection, false},
		{ErrorTypeBuild, false},
		{ErrorTypeUpload, false},
		{ErrorTypeConnection, false},
		{ErrorTypeQuery, false},
		{ErrorTypeFile, false},
		{ErrorTypeTimeout, false},
		{ErrorTypeInternal, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			assert.Equal(t, tt.fatal, IsFatal(New(tt.errType, "x")))
		})
	}

	t.Run("plain error is not fatal", func(t *testing.T) {
		assert.False(t, IsFatal(errors.New("plain")))
	})
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrorTypeConnection, "x")))
	assert.True(t, IsRetryable(New(ErrorTypeTimeout, "x")))
	assert.True(t, IsRetryable(New(ErrorTypeUpload, "x")))
	assert.False(t, IsRetryable(New(ErrorTypeConfig, "x")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestIsType(t *testing.T) {
	err := Wrap(New(ErrorTypeQuery, "inner"), ErrorTypeDetection, "outer")
	assert.True(t, IsType(err, ErrorTypeDetection))
	assert.False(t, IsType(err, ErrorTypeQuery))
}
