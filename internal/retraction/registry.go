// Package retraction tracks withdrawn publications by DOI. The registry is
// read-mostly: the aggregator consults it on every gather while mutation is
// limited to startup loading and test harnesses.
package retraction

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
)

// seedRecords stands in for a live Retraction Watch feed.
var seedRecords = map[string]string{
	"10.1038/nature12345":     "Data fabrication",
	"10.1126/science.abc123":  "Plagiarism",
	"10.1016/j.cell.2020.123": "Statistical errors",
	"10.1073/pnas.123456789":  "Image manipulation",
	"10.1002/anie.202012345":  "Author misconduct",
}

type Registry struct {
	mu      sync.RWMutex
	reasons map[string]string
}

// NewRegistry returns a registry preloaded with the seed records.
func NewRegistry() *Registry {
	reasons := make(map[string]string, len(seedRecords))
	for doi, reason := range seedRecords {
		reasons[doi] = reason
	}
	return &Registry{reasons: reasons}
}

// NewEmptyRegistry returns a registry with no records. Used by tests that
// want full control over the contents.
func NewEmptyRegistry() *Registry {
	return &Registry{reasons: make(map[string]string)}
}

// LoadFile merges records from a JSON file of the form {"doi": "reason"}.
// Later loads overwrite earlier reasons for the same DOI.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read retractions file: %w", err)
	}
	var records map[string]string
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse retractions file: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for doi, reason := range records {
		r.reasons[domain.NormalizeDOI(doi)] = reason
	}
	return nil
}

func (r *Registry) IsRetracted(doi string) bool {
	if doi == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.reasons[domain.NormalizeDOI(doi)]
	return ok
}

// Reason returns why a publication was withdrawn, or "" when it is not on
// record.
func (r *Registry) Reason(doi string) string {
	if doi == "" {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reasons[domain.NormalizeDOI(doi)]
}

func (r *Registry) Add(doi, reason string) {
	if doi == "" {
		return
	}
	if reason == "" {
		reason = "Unknown reason"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons[domain.NormalizeDOI(doi)] = reason
}

func (r *Registry) Remove(doi string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reasons, domain.NormalizeDOI(doi))
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.reasons)
}
