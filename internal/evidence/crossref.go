package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/buildconfig"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
)

const crossrefWorksURL = "https://api.crossref.org/works"

// CrossrefClient queries the Crossref works endpoint. Crossref asks polite
// clients to identify themselves with a mailto contact.
type CrossrefClient struct {
	baseURL    string
	mailto     string
	httpClient *http.Client
}

func NewCrossrefClient(mailto string) *CrossrefClient {
	return &CrossrefClient{
		baseURL:    crossrefWorksURL,
		mailto:     mailto,
		httpClient: newHTTPClient(),
	}
}

func NewCrossrefClientWithBaseURL(baseURL string) *CrossrefClient {
	return &CrossrefClient{
		baseURL:    baseURL,
		httpClient: newHTTPClient(),
	}
}

var _ Fetcher = (*CrossrefClient)(nil)

func (c *CrossrefClient) Source() domain.Source { return domain.SourceCrossref }

type crossrefResponse struct {
	Message struct {
		Items []crossrefWork `json:"items"`
	} `json:"message"`
}

type crossrefWork struct {
	DOI      string   `json:"DOI"`
	Title    []string `json:"title"`
	Abstract string   `json:"abstract"`
	URL      string   `json:"URL"`
	Author   []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
	} `json:"author"`
	Issued struct {
		DateParts [][]int `json:"date-parts"`
	} `json:"issued"`
}

func (c *CrossrefClient) Search(ctx context.Context, query string, maxResults int) ([]domain.EvidenceItem, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("rows", fmt.Sprintf("%d", maxResults))
	if c.mailto != "" {
		params.Set("mailto", c.mailto)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &domain.FetchError{Source: domain.SourceCrossref, Err: err}
	}
	req.Header.Set("User-Agent", buildconfig.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.FetchError{Source: domain.SourceCrossref, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.FetchError{
			Source: domain.SourceCrossref,
			Err:    fmt.Errorf("crossref API returned status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.FetchError{Source: domain.SourceCrossref, Err: err}
	}

	var result crossrefResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &domain.FetchError{Source: domain.SourceCrossref, Err: fmt.Errorf("parse works response: %w", err)}
	}

	items := make([]domain.EvidenceItem, 0, len(result.Message.Items))
	for _, work := range result.Message.Items {
		item := domain.EvidenceItem{
			DOI:     strings.TrimSpace(work.DOI),
			Summary: truncate(stripJATS(work.Abstract), summaryLimit),
			URL:     work.URL,
			Source:  domain.SourceCrossref,
		}
		if len(work.Title) > 0 {
			item.Title = strings.TrimSpace(work.Title[0])
		}
		for _, a := range work.Author {
			name := strings.TrimSpace(a.Given + " " + a.Family)
			if name != "" {
				item.Authors = append(item.Authors, name)
			}
		}
		if t, ok := issuedDate(work.Issued.DateParts); ok {
			item.Published = &t
		}
		items = append(items, item)
		if len(items) >= maxResults {
			break
		}
	}
	return items, nil
}

var jatsTags = regexp.MustCompile(`<[^>]+>`)

// stripJATS removes the JATS markup Crossref embeds in abstracts.
func stripJATS(s string) string {
	return strings.TrimSpace(jatsTags.ReplaceAllString(s, ""))
}

func issuedDate(parts [][]int) (time.Time, bool) {
	if len(parts) == 0 || len(parts[0]) == 0 {
		return time.Time{}, false
	}
	p := parts[0]
	year, month, day := p[0], 1, 1
	if len(p) > 1 {
		month = p[1]
	}
	if len(p) > 2 {
		day = p[2]
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}
