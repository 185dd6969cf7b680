package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	apperrors "github.com/oresults/oresults/pkg/errors"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *clock) {
	cb := NewCircuitBreaker("kafka-changes", cfg)
	c := &clock{t: time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)}
	cb.now = c.now
	return cb, c
}

func fail(context.Context) error    { return errors.New("broker unavailable") }
func succeed(context.Context) error { return nil }

func TestCircuitBreakerTransitions(t *testing.T) {
	var transitions []string
	cb, clk := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed after one failure, got %s", cb.GetState())
	}
	_ = cb.Execute(ctx, fail)
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}
	if err := cb.Execute(ctx, succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	clk.t = clk.t.Add(time.Minute)
	if err := cb.Execute(ctx, succeed); err != nil {
		t.Fatalf("half-open trial call should run, got %v", err)
	}
	if snap := cb.Snapshot(); snap.State != StateClosed || snap.Failures != 0 {
		t.Fatalf("expected closed with no failures, got %+v", snap)
	}

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if fmt.Sprint(transitions) != fmt.Sprint(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
}

func TestCircuitBreakerFailedTrialReopens(t *testing.T) {
	cb, clk := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.t = clk.t.Add(time.Second)
	_ = cb.Execute(ctx, fail)

	snap := cb.Snapshot()
	if snap.State != StateOpen {
		t.Fatalf("expected open after failed trial call, got %s", snap.State)
	}
	if !snap.OpenedAt.Equal(clk.t) {
		t.Errorf("opened at %v, want %v", snap.OpenedAt, clk.t)
	}
}

func TestCircuitBreakerIgnoresCallerCancellation(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("cancelled call tripped the breaker")
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), "mongo-connect", RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("server selection timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	bad := errors.New(`error parsing uri: scheme must be "mongodb"`)
	attempts := 0
	err := Retry(context.Background(), "mongo-connect", RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond}, func(context.Context) error {
		attempts++
		return Permanent(bad)
	})
	if !errors.Is(err, bad) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if Permanent(nil) != nil {
		t.Errorf("Permanent(nil) should be nil")
	}
}

func TestRetryGivesUp(t *testing.T) {
	err := Retry(context.Background(), "postgres-connect", RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}, fail)
	if err == nil || IsPermanent(err) {
		t.Fatalf("expected exhausted retry error, got %v", err)
	}
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, "postgres-connect", RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour}, fail)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 5*time.Millisecond, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(time.Millisecond)
		return ctx.Err()
	})
	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if err := WithTimeout(context.Background(), time.Second, "fast", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
