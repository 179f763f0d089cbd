package domain

type QuestionType string

const (
	QuestionFactual     QuestionType = "factual"
	QuestionHypothesis  QuestionType = "hypothesis"
	QuestionMethodology QuestionType = "methodology"
	QuestionComparative QuestionType = "comparative"
)

func ValidQuestionType(t string) bool {
	switch QuestionType(t) {
	case QuestionFactual, QuestionHypothesis, QuestionMethodology, QuestionComparative:
		return true
	}
	return false
}

// Classification is the output of the classification stage.
type Classification struct {
	Type     QuestionType `json:"question_type"`
	Keywords []string     `json:"keywords"`
}

// Query joins the extracted keywords into the retrieval query, falling back
// to nothing when classification produced no keywords.
func (c Classification) Query() string {
	if len(c.Keywords) == 0 {
		return ""
	}
	out := c.Keywords[0]
	for _, k := range c.Keywords[1:] {
		out += " " + k
	}
	return out
}

type RoadmapItem struct {
	Priority           int     `json:"priority"`
	ResearchArea       string  `json:"research_area"`
	NextMilestone      string  `json:"next_milestone"`
	Timeline           string  `json:"timeline"`
	SuccessProbability float32 `json:"success_probability"`
}

type Citation struct {
	DOI   string `json:"doi,omitempty"`
	Title string `json:"title"`
	Index int    `json:"index"`
}

// Reasoning is the output of a reasoning pass over the evidence set.
type Reasoning struct {
	Answer    string        `json:"answer"`
	Gaps      []string      `json:"gaps,omitempty"`
	Roadmap   []RoadmapItem `json:"roadmap,omitempty"`
	Citations []Citation    `json:"citations,omitempty"`
}

type SupportLevel string

const (
	SupportStrong   SupportLevel = "strong"
	SupportModerate SupportLevel = "moderate"
	SupportWeak     SupportLevel = "weak"
)

func ValidSupportLevel(s string) bool {
	switch SupportLevel(s) {
	case SupportStrong, SupportModerate, SupportWeak:
		return true
	}
	return false
}

// Critique is the verifier's judgment of a reasoning result. GapNotes carry
// the missing points fed back into re-analysis when Sufficient is false.
type Critique struct {
	Sufficient   bool         `json:"sufficient"`
	GapNotes     []string     `json:"gap_notes,omitempty"`
	SupportLevel SupportLevel `json:"support_level"`
}

// NumericalFindings are quantitative signals mined from evidence summaries.
type NumericalFindings struct {
	Percentages         []string `json:"percentages,omitempty"`
	PValues             []string `json:"p_values,omitempty"`
	ConfidenceIntervals []string `json:"confidence_intervals,omitempty"`
	SampleSizes         []string `json:"sample_sizes,omitempty"`
}

func (f NumericalFindings) Empty() bool {
	return len(f.Percentages) == 0 && len(f.PValues) == 0 &&
		len(f.ConfidenceIntervals) == 0 && len(f.SampleSizes) == 0
}
