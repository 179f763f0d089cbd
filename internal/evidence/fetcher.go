package evidence

import (
	"context"
	"net/http"
	"time"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
)

const defaultHTTPTimeout = 15 * time.Second

// Fetcher wraps one external literature source behind a uniform search
// contract. Implementations return a FetchError on failure; the aggregator
// absorbs those as soft failures.
type Fetcher interface {
	Source() domain.Source
	Search(ctx context.Context, query string, maxResults int) ([]domain.EvidenceItem, error)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
