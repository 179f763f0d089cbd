package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
)

// RetryPolicy bounds one stage's attempts. Backoff between attempts is
// min(BaseBackoff * Multiplier^(n-1), MaxBackoff) with no jitter, so tests
// can predict sleeps exactly.
type RetryPolicy struct {
	MaxAttempts       int
	BaseBackoff       time.Duration
	Multiplier        float64
	MaxBackoff        time.Duration
	PerAttemptTimeout time.Duration
}

// DefaultRetryPolicy returns the stock stage policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BaseBackoff:       time.Second,
		Multiplier:        2.0,
		MaxBackoff:        10 * time.Second,
		PerAttemptTimeout: 30 * time.Second,
	}
}

// Executor runs one stage function under a retry policy. Errors the stage
// reports as non-retryable abort immediately; everything else is retried
// until the attempt budget runs out, then wrapped in a StageError. An
// Executor holds no per-run state and is safe to share across tasks.
type Executor struct {
	logger *zap.Logger
}

func NewExecutor(logger *zap.Logger) *Executor {
	return &Executor{logger: logger}
}

func (e *Executor) Run(ctx context.Context, stage domain.Stage, policy RetryPolicy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	attempts := 0
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++

		attemptCtx := ctx
		if policy.PerAttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, policy.PerAttemptTimeout)
			defer cancel()
		}

		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		e.logger.Warn("stage attempt failed",
			zap.String("stage", string(stage)),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Error(err))
		return err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = policy.BaseBackoff
	expo.MaxInterval = policy.MaxBackoff
	expo.Multiplier = policy.Multiplier
	expo.RandomizationFactor = 0
	expo.MaxElapsedTime = 0
	expo.Reset()

	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(policy.MaxAttempts-1)), ctx)

	if err := backoff.Retry(operation, bo); err != nil {
		return &domain.StageError{Stage: stage, Attempts: attempts, Err: err}
	}
	return nil
}
