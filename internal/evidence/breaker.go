package evidence

import (
	"context"
	"errors"
	"time"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerFetcher protects a source behind a circuit breaker. A tripped
// breaker turns calls into immediate FetchErrors, so the aggregator counts
// them as soft failures without waiting out the source's timeout.
type BreakerFetcher struct {
	inner   Fetcher
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerFetcher(inner Fetcher, logger *zap.Logger) *BreakerFetcher {
	settings := gobreaker.Settings{
		Name:        string(inner.Source()),
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("source circuit breaker state change",
				zap.String("source", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Caller-side cancellation says nothing about source health.
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	}
	return &BreakerFetcher{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

var _ Fetcher = (*BreakerFetcher)(nil)

func (f *BreakerFetcher) Source() domain.Source { return f.inner.Source() }

func (f *BreakerFetcher) Search(ctx context.Context, query string, maxResults int) ([]domain.EvidenceItem, error) {
	result, err := f.breaker.Execute(func() (any, error) {
		return f.inner.Search(ctx, query, maxResults)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &domain.FetchError{Source: f.inner.Source(), Err: err}
		}
		return nil, err
	}
	return result.([]domain.EvidenceItem), nil
}
