package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBenchmarkError_Error(t *testing.T) {
	err := NewBenchmarkError(ErrCodeTransport, "request failed", errors.New("connection refused"))
	assert.Equal(t, "[TRANSPORT_ERROR] request failed: connection refused", err.Error())

	noCause := NewPreconditionError("cluster health stayed red")
	assert.Equal(t, "[PRECONDITION_ERROR] cluster health stayed red", noCause.Error())
}

func TestBenchmarkError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewTransportError("request failed", cause)
	assert.ErrorIs(t, err, cause)
}

func TestHasErrorCode_ThroughWrapping(t *testing.T) {
	inner := NewFatalClusterError("cluster unreachable", errors.New("dial tcp: refused"))
	wrapped := fmt.Errorf("task [bulk]: %w", inner)

	assert.True(t, IsFatalClusterError(wrapped))
	assert.False(t, IsTransportError(wrapped))
}

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"configuration", NewConfigurationError("target-throughput must be positive, got %v", 0), IsConfigurationError, true},
		{"transport", NewTransportError("request failed", nil), IsTransportError, true},
		{"fatal cluster", NewFatalClusterError("unreachable", nil), IsFatalClusterError, true},
		{"precondition", NewPreconditionError("health timeout"), IsPreconditionError, true},
		{"aggregation", NewAggregationError("missing final flush", nil), IsAggregationError, true},
		{"data", NewDataError("missing parameter %q", "index"), IsDataError, true},
		{"not found", NewNotFoundError("no runner for type %q", "frobnicate"), IsNotFoundError, true},
		{"plain error is nothing", errors.New("boom"), IsTransportError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(NewFatalClusterError("down", nil)))
	assert.True(t, IsFatal(NewPreconditionError("never green")))
	assert.True(t, IsFatal(NewConfigurationError("bad task")))
	assert.False(t, IsFatal(NewTransportError("single failure", nil)))
	assert.False(t, IsFatal(errors.New("boom")))
}

func TestErrorsAs_RecoversStructuredError(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewDataError("missing parameter %q", "body"))

	var be *BenchmarkError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, ErrCodeData, be.Code)
	assert.Contains(t, be.Message, "body")
}
