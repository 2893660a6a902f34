package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errDial = errors.New("dial failed")

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), Fixed(3, time.Millisecond), func(context.Context) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	var retried []int
	cfg := Fixed(3, time.Millisecond)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		retried = append(retried, attempt)
	}

	err := Retry(context.Background(), cfg, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errDial
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("unexpected OnRetry calls: %v", retried)
	}
}

func TestRetry_MaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), Fixed(2, time.Millisecond), func(context.Context) error {
		attempts++
		return errDial
	})

	if !errors.Is(err, errDial) {
		t.Errorf("Expected wrapped dial error, got: %v", err)
	}
	if attempts != 3 { // MaxAttempts + 1 (initial attempt)
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestRetry_PermanentErrorStops(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), Fixed(5, time.Millisecond), func(context.Context) error {
		attempts++
		return Permanent(errDial)
	})

	if !errors.Is(err, ErrPermanent) || !errors.Is(err, errDial) {
		t.Errorf("Expected permanent dial error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, Fixed(100, 10*time.Millisecond), func(context.Context) error {
		attempts++
		return errDial
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context cancellation, got: %v", err)
	}
	if attempts >= 100 {
		t.Errorf("Expected retry to stop early, got %d attempts", attempts)
	}
}

func TestRetry_WaitsFixedDelay(t *testing.T) {
	var delays []time.Duration
	cfg := Fixed(3, 5*time.Millisecond)
	cfg.OnRetry = func(_ int, _ error, delay time.Duration) {
		delays = append(delays, delay)
	}

	start := time.Now()
	_ = Retry(context.Background(), cfg, func(context.Context) error { return errDial })

	if len(delays) != 3 {
		t.Fatalf("Expected 3 waits, got: %v", delays)
	}
	for i, d := range delays {
		if d != 5*time.Millisecond {
			t.Errorf("wait %d: expected 5ms, got %v", i, d)
		}
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("Expected at least 15ms of waiting, got %v", elapsed)
	}
}
