package evidence

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/buildconfig"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
	"golang.org/x/time/rate"
)

const (
	arxivQueryURL = "http://export.arxiv.org/api/query"

	// arXiv API etiquette asks for no more than one request every three
	// seconds from a single client.
	arxivRequestInterval = 3 * time.Second

	summaryLimit = 500
)

type ArxivClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewArxivClient() *ArxivClient {
	return &ArxivClient{
		baseURL:    arxivQueryURL,
		httpClient: newHTTPClient(),
		limiter:    rate.NewLimiter(rate.Every(arxivRequestInterval), 1),
	}
}

// NewArxivClientWithBaseURL is used by tests to point the client at a stub
// server without the etiquette delay.
func NewArxivClientWithBaseURL(baseURL string) *ArxivClient {
	return &ArxivClient{
		baseURL:    baseURL,
		httpClient: newHTTPClient(),
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}
}

var _ Fetcher = (*ArxivClient)(nil)

func (c *ArxivClient) Source() domain.Source { return domain.SourceArxiv }

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string       `xml:"id"`
	Title     string       `xml:"title"`
	Summary   string       `xml:"summary"`
	Published string       `xml:"published"`
	DOI       string       `xml:"doi"`
	Authors   []atomAuthor `xml:"author"`
	Links     []atomLink   `xml:"link"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
}

func (c *ArxivClient) Search(ctx context.Context, query string, maxResults int) ([]domain.EvidenceItem, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &domain.FetchError{Source: domain.SourceArxiv, Err: err}
	}

	params := url.Values{}
	params.Set("search_query", "all:"+query)
	params.Set("start", "0")
	params.Set("max_results", fmt.Sprintf("%d", maxResults))
	params.Set("sortBy", "relevance")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &domain.FetchError{Source: domain.SourceArxiv, Err: err}
	}
	req.Header.Set("User-Agent", buildconfig.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.FetchError{Source: domain.SourceArxiv, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.FetchError{
			Source: domain.SourceArxiv,
			Err:    fmt.Errorf("arxiv API returned status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.FetchError{Source: domain.SourceArxiv, Err: err}
	}

	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, &domain.FetchError{Source: domain.SourceArxiv, Err: fmt.Errorf("parse atom feed: %w", err)}
	}

	items := make([]domain.EvidenceItem, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		item := domain.EvidenceItem{
			Title:   strings.TrimSpace(entry.Title),
			DOI:     strings.TrimSpace(entry.DOI),
			Summary: truncate(strings.TrimSpace(entry.Summary), summaryLimit),
			URL:     pdfLink(entry),
			Source:  domain.SourceArxiv,
		}
		for _, a := range entry.Authors {
			item.Authors = append(item.Authors, a.Name)
		}
		if t, err := time.Parse(time.RFC3339, entry.Published); err == nil {
			item.Published = &t
		}
		items = append(items, item)
		if len(items) >= maxResults {
			break
		}
	}
	return items, nil
}

func pdfLink(entry atomEntry) string {
	for _, l := range entry.Links {
		if l.Title == "pdf" {
			return l.Href
		}
	}
	return entry.ID
}
