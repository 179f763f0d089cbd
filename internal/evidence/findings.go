package evidence

import (
	"regexp"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
)

var (
	percentagePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{1,3}(?:\.\d+)?\s*%`),
		regexp.MustCompile(`\b\d{1,3}(?:\.\d+)?\s*percent`),
	}
	pValuePatterns = []*regexp.Regexp{
		regexp.MustCompile(`p\s*[<=>]\s*0?\.\d+`),
	}
	confidenceIntervalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`CI\s*=\s*\[?\d+\.?\d*\s*[-–]\s*\d+\.?\d*\]?`),
		regexp.MustCompile(`\(\d+\.?\d*,\s*\d+\.?\d*\)`),
	}
	sampleSizePatterns = []*regexp.Regexp{
		regexp.MustCompile(`n\s*=\s*\d+`),
		regexp.MustCompile(`sample\s*size\s*(?:of\s*)?\d+`),
		regexp.MustCompile(`\d+\s*(?:participants|subjects|patients)`),
	}
)

// ExtractFindings mines quantitative statements from an item's summary. It
// is pure pattern matching: no network, deterministic for a given input.
func ExtractFindings(item domain.EvidenceItem) domain.NumericalFindings {
	text := item.Summary
	return domain.NumericalFindings{
		Percentages:         matchAll(percentagePatterns, text),
		PValues:             matchAll(pValuePatterns, text),
		ConfidenceIntervals: matchAll(confidenceIntervalPatterns, text),
		SampleSizes:         matchAll(sampleSizePatterns, text),
	}
}

// ExtractAllFindings merges the findings across an evidence set in item
// order.
func ExtractAllFindings(items []domain.EvidenceItem) domain.NumericalFindings {
	var merged domain.NumericalFindings
	for _, item := range items {
		f := ExtractFindings(item)
		merged.Percentages = append(merged.Percentages, f.Percentages...)
		merged.PValues = append(merged.PValues, f.PValues...)
		merged.ConfidenceIntervals = append(merged.ConfidenceIntervals, f.ConfidenceIntervals...)
		merged.SampleSizes = append(merged.SampleSizes, f.SampleSizes...)
	}
	return merged
}

func matchAll(patterns []*regexp.Regexp, text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range patterns {
		for _, m := range p.FindAllString(text, -1) {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}
