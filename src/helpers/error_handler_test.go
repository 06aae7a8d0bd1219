package helpers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", NewNetworkError("dial", errors.New("refused")), true},
		{"wrapped transient", fmt.Errorf("page: %w", NewTransientFetchError("x", nil)), true},
		{"rate limited", NewHTTPStatusError("http://x", 429), true},
		{"server error", NewHTTPStatusError("http://x", 502), true},
		{"bad request", NewHTTPStatusError("http://x", 400), false},
		{"malformed", NewMalformedPageError("decode", nil), true},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestFatalIngestionErrorNamesGroupAndCursor(t *testing.T) {
	cursor := time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC)
	err := NewFatalIngestionError("kraken", "asset=btc", cursor, ErrCursorStalled)

	assert.Contains(t, err.Error(), "kraken")
	assert.Contains(t, err.Error(), "asset=btc")
	assert.Contains(t, err.Error(), "2024-01-01T00:30:00Z")
	assert.ErrorIs(t, err, ErrCursorStalled)

	var fatal *FatalIngestionError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, cursor, fatal.Cursor)
}

func TestRetryWithBackoff(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		res, retries, err := RetryWithBackoff(context.Background(), "op", 3, time.Millisecond, false, nil,
			func(context.Context) (int, error) {
				calls++
				if calls < 3 {
					return 0, NewTransientFetchError("flaky", nil)
				}
				return 42, nil
			})
		require.NoError(t, err)
		assert.Equal(t, 42, res)
		assert.Equal(t, 2, retries)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		_, _, err := RetryWithBackoff(context.Background(), "op", 5, time.Millisecond, true, nil,
			func(context.Context) (int, error) {
				calls++
				return 0, NewHTTPStatusError("http://x", 404)
			})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		calls := 0
		_, retries, err := RetryWithBackoff(context.Background(), "op", 2, time.Millisecond, false, nil,
			func(context.Context) (int, error) {
				calls++
				return 0, NewNetworkError("down", nil)
			})
		require.Error(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, 1, retries)
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		_, _, err := RetryWithBackoff(ctx, "op", 3, time.Hour, false, nil,
			func(context.Context) (int, error) {
				cancel()
				return 0, NewNetworkError("down", nil)
			})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestErrorHandlerBudget(t *testing.T) {
	h := NewErrorHandler(nil)
	h.MaxErrorsBeforeRestart = 2

	assert.False(t, h.Handle(errors.New("a"), "test"))
	assert.True(t, h.Handle(errors.New("b"), "test"))
	assert.False(t, h.Handle(nil, "test"))
	assert.Equal(t, 1, h.ErrorCount)
	h.ResetErrorCount()
	assert.Zero(t, h.ErrorCount)
}
