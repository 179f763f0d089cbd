package evidence

import (
	"context"
	"sort"
	"time"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/retraction"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultFetchTimeout = 20 * time.Second

// Aggregator fans a query out to every configured source, merges the
// responses in call order, deduplicates, drops retracted work, ranks the
// remainder and caps the result. Given identical source responses the output
// is identical.
type Aggregator struct {
	fetchers     []Fetcher
	registry     *retraction.Registry
	weights      ScoreWeights
	fetchTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

func NewAggregator(fetchers []Fetcher, registry *retraction.Registry, weights ScoreWeights, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		fetchers:     fetchers,
		registry:     registry,
		weights:      weights,
		fetchTimeout: defaultFetchTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

// SetFetchTimeout overrides the per-source timeout.
func (a *Aggregator) SetFetchTimeout(d time.Duration) {
	a.fetchTimeout = d
}

// SetClock fixes the reference time used by the recency signal. Tests use it
// to make scores reproducible across runs.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// Gather runs the full merge pipeline. A failing source contributes nothing
// and bumps the soft-failure counter; Gather itself fails only when the
// final list is empty, with an InsufficientEvidenceError carrying the drop
// counters.
func (a *Aggregator) Gather(ctx context.Context, query string, maxResults int) (*domain.EvidenceSet, error) {
	if maxResults < 0 {
		maxResults = 0
	}

	// Results are buffered into per-source slots and merged in the fixed
	// call order below, not completion order, so ranking stays stable.
	results := make([][]domain.EvidenceItem, len(a.fetchers))
	failures := make([]error, len(a.fetchers))

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range a.fetchers {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, a.fetchTimeout)
			defer cancel()

			items, err := f.Search(fctx, query, maxResults)
			if err != nil {
				failures[i] = err
				a.logger.Warn("evidence source failed",
					zap.String("source", string(f.Source())),
					zap.Error(err))
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	set := &domain.EvidenceSet{}
	for _, err := range failures {
		if err != nil {
			set.SoftFailures++
		}
	}

	var candidates []domain.EvidenceItem
	for _, items := range results {
		candidates = append(candidates, items...)
	}

	kept := a.dedup(candidates, set)
	kept = a.dropRetracted(kept, set)

	now := a.now()
	for i := range kept {
		kept[i].Score = a.weights.Score(kept[i], now)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})
	if len(kept) > maxResults {
		kept = kept[:maxResults]
	}

	if len(kept) == 0 {
		return nil, &domain.InsufficientEvidenceError{
			SoftFailures:      set.SoftFailures,
			DuplicatesDropped: set.DuplicatesDropped,
			RetractedDropped:  set.RetractedDropped,
		}
	}

	set.Items = kept
	a.logger.Info("evidence gathered",
		zap.String("query", query),
		zap.Int("kept", len(kept)),
		zap.Int("soft_failures", set.SoftFailures),
		zap.Int("duplicates_dropped", set.DuplicatesDropped),
		zap.Int("retracted_dropped", set.RetractedDropped))
	return set, nil
}

// dedup keeps the first-seen member of every duplicate group. Two items are
// duplicates when their normalized DOIs match, or when either side lacks a
// DOI and the normalized titles match.
func (a *Aggregator) dedup(candidates []domain.EvidenceItem, set *domain.EvidenceSet) []domain.EvidenceItem {
	seenDOIs := make(map[string]bool)
	allTitles := make(map[string]bool)
	doilessTitles := make(map[string]bool)

	kept := make([]domain.EvidenceItem, 0, len(candidates))
	for _, item := range candidates {
		doi := domain.NormalizeDOI(item.DOI)
		title := domain.NormalizeTitle(item.Title)

		var dup bool
		if doi != "" {
			dup = seenDOIs[doi] || doilessTitles[title]
		} else {
			dup = allTitles[title]
		}
		if dup {
			set.DuplicatesDropped++
			continue
		}

		if doi != "" {
			seenDOIs[doi] = true
		} else {
			doilessTitles[title] = true
		}
		allTitles[title] = true
		kept = append(kept, item)
	}
	return kept
}

func (a *Aggregator) dropRetracted(items []domain.EvidenceItem, set *domain.EvidenceSet) []domain.EvidenceItem {
	kept := items[:0]
	for _, item := range items {
		if a.registry.IsRetracted(item.DOI) {
			set.RetractedDropped++
			a.logger.Debug("dropped retracted publication",
				zap.String("doi", item.DOI),
				zap.String("reason", a.registry.Reason(item.DOI)))
			continue
		}
		kept = append(kept, item)
	}
	return kept
}
