package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/buildconfig"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
)

const pubmedBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// PubMedClient searches PubMed through the NCBI E-utilities: esearch for
// matching identifiers, esummary for the records.
type PubMedClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewPubMedClient() *PubMedClient {
	return &PubMedClient{
		baseURL:    pubmedBaseURL,
		httpClient: newHTTPClient(),
	}
}

func NewPubMedClientWithBaseURL(baseURL string) *PubMedClient {
	return &PubMedClient{
		baseURL:    baseURL,
		httpClient: newHTTPClient(),
	}
}

var _ Fetcher = (*PubMedClient)(nil)

func (c *PubMedClient) Source() domain.Source { return domain.SourcePubMed }

type esearchResponse struct {
	Result struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type esummaryRecord struct {
	Title      string `json:"title"`
	PubDate    string `json:"pubdate"`
	ELocationID string `json:"elocationid"`
	Authors    []struct {
		Name string `json:"name"`
	} `json:"authors"`
	ArticleIDs []struct {
		IDType string `json:"idtype"`
		Value  string `json:"value"`
	} `json:"articleids"`
}

func (c *PubMedClient) Search(ctx context.Context, query string, maxResults int) ([]domain.EvidenceItem, error) {
	ids, err := c.search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return c.summaries(ctx, ids)
}

func (c *PubMedClient) search(ctx context.Context, query string, maxResults int) ([]string, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", query)
	params.Set("retmax", fmt.Sprintf("%d", maxResults))
	params.Set("retmode", "json")

	body, err := c.get(ctx, c.baseURL+"/esearch.fcgi?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var result esearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &domain.FetchError{Source: domain.SourcePubMed, Err: fmt.Errorf("parse esearch response: %w", err)}
	}
	return result.Result.IDList, nil
}

func (c *PubMedClient) summaries(ctx context.Context, ids []string) ([]domain.EvidenceItem, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(ids, ","))
	params.Set("retmode", "json")

	body, err := c.get(ctx, c.baseURL+"/esummary.fcgi?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &domain.FetchError{Source: domain.SourcePubMed, Err: fmt.Errorf("parse esummary response: %w", err)}
	}

	// Records are keyed by uid; iterate the esearch id order so output is
	// deterministic.
	items := make([]domain.EvidenceItem, 0, len(ids))
	for _, id := range ids {
		raw, ok := envelope.Result[id]
		if !ok {
			continue
		}
		var rec esummaryRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}

		item := domain.EvidenceItem{
			Title:  strings.TrimSpace(rec.Title),
			DOI:    pubmedDOI(rec),
			URL:    "https://pubmed.ncbi.nlm.nih.gov/" + id + "/",
			Source: domain.SourcePubMed,
		}
		for _, a := range rec.Authors {
			item.Authors = append(item.Authors, a.Name)
		}
		if t, ok := parsePubDate(rec.PubDate); ok {
			item.Published = &t
		}
		items = append(items, item)
	}
	return items, nil
}

func (c *PubMedClient) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &domain.FetchError{Source: domain.SourcePubMed, Err: err}
	}
	req.Header.Set("User-Agent", buildconfig.UserAgent())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.FetchError{Source: domain.SourcePubMed, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.FetchError{
			Source: domain.SourcePubMed,
			Err:    fmt.Errorf("pubmed API returned status %d", resp.StatusCode),
		}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.FetchError{Source: domain.SourcePubMed, Err: err}
	}
	return body, nil
}

func pubmedDOI(rec esummaryRecord) string {
	for _, aid := range rec.ArticleIDs {
		if aid.IDType == "doi" {
			return strings.TrimSpace(aid.Value)
		}
	}
	// Older records carry the DOI in elocationid as "doi: 10.x/y".
	loc := strings.TrimSpace(rec.ELocationID)
	if rest, ok := strings.CutPrefix(loc, "doi:"); ok {
		return strings.TrimSpace(rest)
	}
	return ""
}

var pubDateLayouts = []string{"2006 Jan 2", "2006 Jan", "2006"}

func parsePubDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
