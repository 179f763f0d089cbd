package evidence

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
)

func TestCrossrefSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("query"); got != "room temperature superconductor" {
			t.Errorf("query = %q", got)
		}
		if got := r.URL.Query().Get("rows"); got != "3" {
			t.Errorf("rows = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message": {"items": [
			{
				"DOI": "10.1038/s41586-023-0001",
				"title": ["Evidence for Ambient Superconductivity"],
				"abstract": "<jats:p>We report a 35% drop in resistance with n = 12 samples.</jats:p>",
				"URL": "https://doi.org/10.1038/s41586-023-0001",
				"author": [{"given": "Maria", "family": "Lopez"}, {"given": "", "family": "Chen"}],
				"issued": {"date-parts": [[2023, 7, 26]]}
			},
			{
				"title": ["Untitled Preprint"],
				"issued": {"date-parts": [[]]}
			}
		]}}`))
	}))
	defer srv.Close()

	items, err := NewCrossrefClientWithBaseURL(srv.URL).Search(context.Background(), "room temperature superconductor", 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}

	first := items[0]
	if first.DOI != "10.1038/s41586-023-0001" {
		t.Errorf("doi = %q", first.DOI)
	}
	if first.Title != "Evidence for Ambient Superconductivity" {
		t.Errorf("title = %q", first.Title)
	}
	if first.Summary != "We report a 35% drop in resistance with n = 12 samples." {
		t.Errorf("summary = %q, want JATS markup stripped", first.Summary)
	}
	if len(first.Authors) != 2 || first.Authors[0] != "Maria Lopez" || first.Authors[1] != "Chen" {
		t.Errorf("authors = %v", first.Authors)
	}
	if first.Published == nil || first.Published.Month() != 7 {
		t.Errorf("published = %v", first.Published)
	}
	if first.Source != domain.SourceCrossref {
		t.Errorf("source = %s", first.Source)
	}

	if items[1].Published != nil {
		t.Errorf("published = %v, want nil for empty date-parts", items[1].Published)
	}
}

func TestCrossrefSearchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewCrossrefClientWithBaseURL(srv.URL).Search(context.Background(), "q", 3)
	var fe *domain.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FetchError", err)
	}
	if fe.Source != domain.SourceCrossref {
		t.Errorf("source = %s", fe.Source)
	}
}

func TestStripJATS(t *testing.T) {
	in := `<jats:p>Nested <jats:italic>markup</jats:italic> removed.</jats:p>`
	if got := stripJATS(in); got != "Nested markup removed." {
		t.Errorf("stripJATS = %q", got)
	}
	if got := stripJATS("plain text"); got != "plain text" {
		t.Errorf("stripJATS(plain) = %q", got)
	}
}
