package retry

import (
	"context"
	stderr "errors"
	"testing"
	"time"

	"github.com/objectfs/cachemgr/pkg/errors"
)

func fastConfig(attempts int) Config {
	config := DefaultConfig()
	config.MaxAttempts = attempts
	config.InitialDelay = time.Millisecond
	config.Jitter = false
	return config
}

func TestRetryer_Success(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_RetryableError(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.NewError(errors.ErrCodeStorageUnavailable, "connection refused")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_UncodedErrorsAreRetried(t *testing.T) {
	retryer := New(fastConfig(2))

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts == 1 {
			return stderr.New("dial tcp: i/o timeout")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestRetryer_NonRetryableCode(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	testErr := errors.NewError(errors.ErrCodeSchemaMismatch, "schema too new")
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return testErr
	})

	if !stderr.Is(err, testErr) {
		t.Errorf("Expected original error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry), got %d", attempts)
	}
}

func TestRetryer_Permanent(t *testing.T) {
	retryer := New(fastConfig(3))
	sentinel := stderr.New("schema mismatch")

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return Permanent(sentinel)
	})

	if err != sentinel {
		t.Errorf("Expected unwrapped sentinel, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestRetryer_MaxAttemptsExceeded(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	cause := stderr.New("still down")
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return cause
	})

	if !stderr.Is(err, cause) {
		t.Errorf("Expected wrapped cause, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	config := fastConfig(5)
	config.InitialDelay = time.Second
	retryer := New(config)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := retryer.Do(ctx, func(context.Context) error {
		attempts++
		cancel()
		return stderr.New("down")
	})

	if !stderr.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_ExponentialBackoff(t *testing.T) {
	config := fastConfig(5)
	config.InitialDelay = 10 * time.Millisecond
	config.MaxDelay = 50 * time.Millisecond
	retryer := New(config)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{4, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := retryer.calculateDelay(tt.attempt); got != tt.want {
			t.Errorf("calculateDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryer_OnRetryCallback(t *testing.T) {
	var calls []int
	retryer := New(fastConfig(3)).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		calls = append(calls, attempt)
	})

	_ = retryer.Do(context.Background(), func(context.Context) error {
		return stderr.New("down")
	})

	if len(calls) != 2 || calls[0] != 1 || calls[1] != 2 {
		t.Errorf("Expected callbacks for attempts [1 2], got %v", calls)
	}
}

func TestRetryer_WithMaxAttempts(t *testing.T) {
	retryer := New(fastConfig(5)).WithMaxAttempts(1)

	attempts := 0
	_ = retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return stderr.New("down")
	})
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}
