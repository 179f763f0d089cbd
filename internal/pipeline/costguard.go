package pipeline

// ModelTier is one row of the price table. Rates are USD per 1k tokens.
type ModelTier struct {
	Name       string
	InputRate  float64
	OutputRate float64
}

// DefaultTiers returns the built-in price table, most capable tier first.
func DefaultTiers() []ModelTier {
	return []ModelTier{
		{Name: "gpt-4o", InputRate: 0.0025, OutputRate: 0.01},
		{Name: "gpt-4o-mini", InputRate: 0.00015, OutputRate: 0.0006},
	}
}

const (
	// DefaultCostThreshold is the per-call budget in USD above which the
	// guard downgrades to a cheaper tier.
	DefaultCostThreshold = 0.05

	// PlannedOutputTokens is the output allowance assumed when estimating
	// the cost of a reasoning call.
	PlannedOutputTokens = 1000
)

// EstimateTokens approximates the token count of a prompt with the rough
// four-characters-per-token heuristic. Never returns less than 1.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

// CostGuard swaps expensive model tiers for cheaper ones when the estimated
// cost of a call crosses the threshold. Pure: same inputs, same answer.
type CostGuard struct {
	tiers     []ModelTier
	threshold float64
}

// NewCostGuard builds a guard over an ordered tier table, most expensive
// first. An empty table disables the guard: Plan echoes the request.
func NewCostGuard(tiers []ModelTier, threshold float64) *CostGuard {
	return &CostGuard{tiers: tiers, threshold: threshold}
}

// Estimate returns the cost in USD of a call with the given token counts.
func (g *CostGuard) Estimate(tier ModelTier, inTokens, outTokens int) float64 {
	return float64(inTokens)/1000*tier.InputRate + float64(outTokens)/1000*tier.OutputRate
}

// Plan picks the model for a call of the estimated size: the requested tier
// when it fits the threshold, otherwise the first cheaper tier that fits.
// Worst case it returns the cheapest configured tier. Never errors.
func (g *CostGuard) Plan(requested string, inTokens, outTokens int) string {
	if len(g.tiers) == 0 {
		return requested
	}

	start := 0
	for i, t := range g.tiers {
		if t.Name == requested {
			start = i
			break
		}
	}
	for i := start; i < len(g.tiers); i++ {
		if g.Estimate(g.tiers[i], inTokens, outTokens) <= g.threshold {
			return g.tiers[i].Name
		}
	}
	return g.tiers[len(g.tiers)-1].Name
}
