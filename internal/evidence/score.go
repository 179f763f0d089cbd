package evidence

import (
	"time"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
)

// recencyHorizon is how far back a publication date still contributes to the
// recency signal. Anything older scores zero on that axis.
const recencyHorizon = 5 * 365 * 24 * time.Hour

// ScoreWeights is the tunable surface of the ranking formula. The contract
// is ordering only: scoring is pure, identical inputs produce identical
// scores, and ties keep candidate order.
type ScoreWeights struct {
	DOIPresence float32
	Recency     float32
	SourceTrust map[domain.Source]float32
}

func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		DOIPresence: 0.3,
		Recency:     0.3,
		SourceTrust: map[domain.Source]float32{
			domain.SourceArxiv:    0.8,
			domain.SourcePubMed:   1.0,
			domain.SourceCrossref: 0.9,
		},
	}
}

// Score computes an item's quality score at the given reference time.
func (w ScoreWeights) Score(item domain.EvidenceItem, now time.Time) float32 {
	var score float32
	if domain.NormalizeDOI(item.DOI) != "" {
		score += w.DOIPresence
	}
	score += w.Recency * recencySignal(item.Published, now)
	score += w.SourceTrust[item.Source]
	return score
}

func recencySignal(published *time.Time, now time.Time) float32 {
	if published == nil {
		return 0
	}
	age := now.Sub(*published)
	if age < 0 {
		return 1
	}
	if age >= recencyHorizon {
		return 0
	}
	return float32(1 - float64(age)/float64(recencyHorizon))
}
