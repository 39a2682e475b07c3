package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) HTTPStatus() int { return int(s) }

func TestDoIfRetryable_SucceedsAfterTransientErrors(t *testing.T) {
	attempts := 0
	var retried []int
	cfg := fastConfig()
	cfg.OnRetry = func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) }

	err := DoIfRetryable(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("read tcp: connection reset by peer")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoIfRetryable_PermanentErrorReturnsImmediately(t *testing.T) {
	attempts := 0
	permanent := errors.New("relation \"users\" does not exist")

	err := DoIfRetryable(context.Background(), fastConfig(), func() error {
		attempts++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestDoIfRetryable_ExhaustsRetries(t *testing.T) {
	attempts := 0
	cfg := fastConfig()

	err := DoIfRetryable(context.Background(), cfg, func() error {
		attempts++
		if attempts%2 == 0 {
			return errors.New("dial tcp: connection refused")
		}
		return errors.New("i/o timeout")
	})

	require.Error(t, err)
	assert.Equal(t, cfg.MaxRetries+1, attempts)
}

func TestDoIfRetryable_RepeatedSameErrorStopsEarly(t *testing.T) {
	attempts := 0
	cfg := fastConfig()
	cfg.MaxRetries = 10
	cfg.MaxSameErrorType = 3

	err := DoIfRetryable(context.Background(), cfg, func() error {
		attempts++
		return statusErr(503)
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "repeated error (3 times, type=http_503)")
	assert.Equal(t, 3, attempts)
}

func TestDoIfRetryable_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour

	done := make(chan error, 1)
	go func() {
		done <- DoIfRetryable(ctx, cfg, func() error { return errors.New("service unavailable") })
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestDoIfRetryableWithResult(t *testing.T) {
	attempts := 0
	got, err := DoIfRetryableWithResult(context.Background(), fastConfig(), func() ([]string, error) {
		attempts++
		if attempts == 1 {
			return nil, statusErr(429)
		}
		return []string{"README.md"}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"README.md"}, got)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"context cancelled", context.Canceled, false},
		{"deadline", fmt.Errorf("get tree: %w", context.DeadlineExceeded), false},
		{"429 status", statusErr(429), true},
		{"503 wrapped", fmt.Errorf("list: %w", statusErr(503)), true},
		{"401 status", statusErr(401), false},
		{"404 status", statusErr(404), false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{"deadlock", errors.New("ERROR: deadlock detected (SQLSTATE 40P01)"), true},
		{"syntax error", errors.New("ERROR: syntax error at or near \"SELEC\""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestApplyJitter_StaysInBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		d := applyJitter(base, 0.1)
		assert.GreaterOrEqual(t, d, 90*time.Millisecond)
		assert.LessOrEqual(t, d, 110*time.Millisecond)
	}
	assert.Equal(t, base, applyJitter(base, 0))
}
