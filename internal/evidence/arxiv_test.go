package evidence

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
)

const arxivFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <entry>
    <id>http://arxiv.org/abs/2401.00001v1</id>
    <title>Scaling Laws for Quantum Error Correction</title>
    <summary>  We study threshold behavior with n = 100 trials and a 12% error floor.  </summary>
    <published>2024-01-15T18:00:00Z</published>
    <author><name>A. Researcher</name></author>
    <author><name>B. Theorist</name></author>
    <arxiv:doi>10.48550/arXiv.2401.00001</arxiv:doi>
    <link href="http://arxiv.org/abs/2401.00001v1" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/2401.00001v1" rel="related" type="application/pdf"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2402.00002v1</id>
    <title>A Second Paper</title>
    <summary>No numbers here.</summary>
    <published>2024-02-01T00:00:00Z</published>
    <author><name>C. Author</name></author>
  </entry>
</feed>`

func TestArxivSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("search_query"); got != "all:quantum error correction" {
			t.Errorf("search_query = %q", got)
		}
		if got := r.URL.Query().Get("max_results"); got != "5" {
			t.Errorf("max_results = %q", got)
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(arxivFixture))
	}))
	defer srv.Close()

	client := NewArxivClientWithBaseURL(srv.URL)
	items, err := client.Search(context.Background(), "quantum error correction", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}

	first := items[0]
	if first.Title != "Scaling Laws for Quantum Error Correction" {
		t.Errorf("title = %q", first.Title)
	}
	if first.DOI != "10.48550/arXiv.2401.00001" {
		t.Errorf("doi = %q", first.DOI)
	}
	if first.URL != "http://arxiv.org/pdf/2401.00001v1" {
		t.Errorf("url = %q, want the pdf link", first.URL)
	}
	if len(first.Authors) != 2 || first.Authors[0] != "A. Researcher" {
		t.Errorf("authors = %v", first.Authors)
	}
	if first.Published == nil || first.Published.Year() != 2024 {
		t.Errorf("published = %v", first.Published)
	}
	if first.Source != domain.SourceArxiv {
		t.Errorf("source = %s", first.Source)
	}

	// Entry without a pdf link falls back to the entry id.
	if items[1].URL != "http://arxiv.org/abs/2402.00002v1" {
		t.Errorf("fallback url = %q", items[1].URL)
	}
	if items[1].DOI != "" {
		t.Errorf("doi = %q, want empty when the feed has none", items[1].DOI)
	}
}

func TestArxivSearchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewArxivClientWithBaseURL(srv.URL).Search(context.Background(), "q", 5)
	var fe *domain.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FetchError", err)
	}
	if fe.Source != domain.SourceArxiv {
		t.Errorf("source = %s", fe.Source)
	}
	if !domain.IsRetryable(err) {
		t.Error("fetch errors should be retryable")
	}
}

func TestArxivSearchBadXML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not xml at all <"))
	}))
	defer srv.Close()

	_, err := NewArxivClientWithBaseURL(srv.URL).Search(context.Background(), "q", 5)
	var fe *domain.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FetchError", err)
	}
}
