package domain

import (
	"strings"
	"time"
)

type Source string

const (
	SourceArxiv    Source = "arxiv"
	SourcePubMed   Source = "pubmed"
	SourceCrossref Source = "crossref"
)

// EvidenceItem is a normalized literature record. Score is assigned by the
// aggregator during ranking, never by the source.
type EvidenceItem struct {
	Title     string     `json:"title"`
	DOI       string     `json:"doi,omitempty"`
	Summary   string     `json:"summary,omitempty"`
	URL       string     `json:"url,omitempty"`
	Authors   []string   `json:"authors,omitempty"`
	Published *time.Time `json:"published,omitempty"`
	Source    Source     `json:"source"`
	Score     float32    `json:"score"`
}

// EvidenceSet is the retrieval stage output: the ranked items plus the drop
// counters accumulated while merging.
type EvidenceSet struct {
	Items             []EvidenceItem `json:"items"`
	SoftFailures      int            `json:"soft_failures"`
	DuplicatesDropped int            `json:"duplicates_dropped"`
	RetractedDropped  int            `json:"retracted_dropped"`
}

var doiResolverPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi:",
}

// NormalizeDOI strips any resolver prefix, trims surrounding whitespace and
// case-folds, so "https://doi.org/10.1/X " and "10.1/x" compare equal.
func NormalizeDOI(doi string) string {
	d := strings.TrimSpace(doi)
	lower := strings.ToLower(d)
	for _, prefix := range doiResolverPrefixes {
		if strings.HasPrefix(lower, prefix) {
			d = d[len(prefix):]
			break
		}
	}
	return strings.ToLower(strings.TrimSpace(d))
}

// NormalizeTitle case-folds and collapses interior whitespace runs.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// Duplicate reports whether two items identify the same publication: equal
// normalized DOIs, or matching normalized titles when either side lacks a DOI.
func Duplicate(a, b EvidenceItem) bool {
	da, db := NormalizeDOI(a.DOI), NormalizeDOI(b.DOI)
	if da != "" && db != "" {
		return da == db
	}
	return NormalizeTitle(a.Title) == NormalizeTitle(b.Title)
}
