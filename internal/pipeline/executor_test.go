package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BaseBackoff:       time.Millisecond,
		Multiplier:        2.0,
		MaxBackoff:        10 * time.Millisecond,
		PerAttemptTimeout: time.Second,
	}
}

func TestExecutorSucceedsFirstAttempt(t *testing.T) {
	e := NewExecutor(zap.NewNop())

	calls := 0
	err := e.Run(context.Background(), domain.StageClassification, fastPolicy(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecutorRetryBound(t *testing.T) {
	e := NewExecutor(zap.NewNop())

	calls := 0
	transient := &domain.CompletionError{Err: errors.New("rate limited"), Temporary: true}
	err := e.Run(context.Background(), domain.StageReasoning, fastPolicy(), func(ctx context.Context) error {
		calls++
		return transient
	})

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	var stageErr *domain.StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("error type = %T, want *domain.StageError", err)
	}
	if stageErr.Stage != domain.StageReasoning || stageErr.Attempts != 3 {
		t.Errorf("stage error = %+v, want reasoning after 3 attempts", stageErr)
	}
	if !errors.Is(err, transient) {
		t.Error("stage error should wrap the last attempt's error")
	}
}

func TestExecutorFailTwiceThenSucceed(t *testing.T) {
	e := NewExecutor(zap.NewNop())

	policy := fastPolicy()
	policy.BaseBackoff = 30 * time.Millisecond
	policy.MaxBackoff = time.Second

	calls := 0
	start := time.Now()
	err := e.Run(context.Background(), domain.StageReasoning, policy, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &domain.CompletionError{Err: errors.New("flaky"), Temporary: true}
		}
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	// Two deterministic backoff sleeps: 30ms then 60ms.
	if elapsed < 90*time.Millisecond {
		t.Errorf("elapsed = %v, want at least 90ms of backoff", elapsed)
	}
}

func TestExecutorNonRetryableAbortsImmediately(t *testing.T) {
	e := NewExecutor(zap.NewNop())

	calls := 0
	cause := &domain.ClassificationError{Err: errors.New("not json")}
	err := e.Run(context.Background(), domain.StageClassification, fastPolicy(), func(ctx context.Context) error {
		calls++
		return cause
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	var stageErr *domain.StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("error type = %T, want *domain.StageError", err)
	}
	if stageErr.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", stageErr.Attempts)
	}
	if domain.KindOf(err) != domain.KindClassification {
		t.Errorf("kind = %s, want classification_error", domain.KindOf(err))
	}
}

func TestExecutorPerAttemptTimeout(t *testing.T) {
	e := NewExecutor(zap.NewNop())

	policy := fastPolicy()
	policy.MaxAttempts = 2
	policy.PerAttemptTimeout = 10 * time.Millisecond

	calls := 0
	err := e.Run(context.Background(), domain.StageRetrieval, policy, func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})

	// Deadline expiry is retryable, so both attempts run before giving up.
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded in the chain", err)
	}
	var stageErr *domain.StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("error type = %T, want *domain.StageError", err)
	}
}

func TestExecutorParentCancellation(t *testing.T) {
	e := NewExecutor(zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := e.Run(ctx, domain.StageReasoning, fastPolicy(), func(ctx context.Context) error {
		calls++
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1: cancellation must not be retried", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled in the chain", err)
	}
	if domain.KindOf(err) != domain.KindCancelled {
		t.Errorf("kind = %s, want cancelled", domain.KindOf(err))
	}
}

func TestExecutorZeroAttemptsClamped(t *testing.T) {
	e := NewExecutor(zap.NewNop())

	policy := fastPolicy()
	policy.MaxAttempts = 0

	calls := 0
	err := e.Run(context.Background(), domain.StageClassification, policy, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
