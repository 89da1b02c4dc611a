package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestDo_SucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt != calls {
			t.Errorf("attempt: ожидали %d, получили %d", calls, attempt)
		}
		if calls < 3 {
			return Temporary(errors.New("connection reset"))
		}
		return nil
	}, fastConfig(5))

	if err != nil {
		t.Fatalf("Do: неожиданная ошибка %v", err)
	}
	if calls != 3 {
		t.Errorf("ожидали 3 вызова, получили %d", calls)
	}
}

func TestDo_StopsOnPermanent(t *testing.T) {
	calls := 0
	sentinel := errors.New("bad request")
	err := Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return Permanent(sentinel)
	}, fastConfig(5))

	if calls != 1 {
		t.Errorf("permanent ошибка не должна повторяться, вызовов: %d", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("ожидали обёрнутую sentinel ошибку, получили %v", err)
	}
	if Attempts(err) != 1 {
		t.Errorf("Attempts: ожидали 1, получили %d", Attempts(err))
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var retries []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		retries = append(retries, attempt)
	}

	err := Do(context.Background(), func(ctx context.Context, attempt int) error {
		return errors.New("timeout")
	}, cfg)

	if Attempts(err) != 3 {
		t.Errorf("Attempts: ожидали 3, получили %d", Attempts(err))
	}
	// OnRetry вызывается перед повторами, не после последней попытки
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("OnRetry: ожидали [1 2], получили %v", retries)
	}
}

func TestDo_AttemptTimeout(t *testing.T) {
	cfg := fastConfig(2)
	cfg.AttemptTimeout = 5 * time.Millisecond

	calls := 0
	err := Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	}, cfg)

	if calls != 2 {
		t.Errorf("таймаут попытки должен повторяться, вызовов: %d", calls)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ожидали DeadlineExceeded, получили %v", err)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, func(ctx context.Context, attempt int) error {
		calls++
		return nil
	}, fastConfig(3))

	if calls != 0 {
		t.Errorf("операция не должна вызываться с отменённым контекстом")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ожидали context.Canceled, получили %v", err)
	}
}

func TestDoWithResult(t *testing.T) {
	got, err := DoWithResult(context.Background(), func(ctx context.Context, attempt int) (string, error) {
		if attempt == 1 {
			return "", errors.New("flaky")
		}
		return "ok", nil
	}, fastConfig(3))

	if err != nil || got != "ok" {
		t.Errorf("DoWithResult = %q, %v", got, err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), true},
		{"permanent", Permanent(errors.New("x")), false},
		{"temporary", Temporary(errors.New("x")), true},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBackoff_Capped(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}

	expected := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, want := range expected {
		if got := cfg.Backoff(i); got != want {
			t.Errorf("Backoff(%d) = %v, want %v", i, got, want)
		}
	}
}

func TestPresets(t *testing.T) {
	sub := SubmissionConfig(3, 10*time.Millisecond, time.Second, 2*time.Second)
	if sub.MaxRetries != 3 || sub.AttemptTimeout != 2*time.Second {
		t.Errorf("SubmissionConfig: %+v", sub)
	}
	if DefaultConfig().MaxRetries != 4 || NetworkConfig().InitialDelay != time.Second {
		t.Error("неожиданные значения пресетов")
	}
}
