package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/evidence"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/llm"
)

// Reasoner turns the question and gathered evidence into a structured answer
// with citations. The cost guard may downgrade the model per call based on
// the prompt size.
type Reasoner struct {
	client domain.CompletionClient
	guard  *CostGuard
	model  string
	logger *zap.Logger
}

func NewReasoner(client domain.CompletionClient, guard *CostGuard, model string, logger *zap.Logger) *Reasoner {
	return &Reasoner{client: client, guard: guard, model: model, logger: logger}
}

// reasoningReply mirrors the JSON schema embedded in the reasoning prompt.
type reasoningReply struct {
	Answer    string               `json:"answer"`
	Gaps      []string             `json:"gaps"`
	Roadmap   []domain.RoadmapItem `json:"roadmap"`
	Citations []domain.Citation    `json:"citations"`
}

// Reason produces a reasoning result. gapNotes, when present, are critique
// findings from an earlier pass fed back into the prompt.
func (r *Reasoner) Reason(ctx context.Context, question string, ev *domain.EvidenceSet, gapNotes []string) (*domain.Reasoning, error) {
	prompt := fmt.Sprintf(llm.ReasonPrompt, question, EvidenceBlock(ev.Items), critiqueBlock(gapNotes))

	model := r.guard.Plan(r.model, EstimateTokens(prompt), PlannedOutputTokens)
	if model != r.model {
		r.logger.Info("cost guard downgraded reasoning model",
			zap.String("requested", r.model),
			zap.String("chosen", model))
	}

	raw, err := r.client.Complete(ctx, model, prompt)
	if err != nil {
		return nil, fmt.Errorf("reason: %w", err)
	}

	raw = llm.StripFences(raw)
	var reply reasoningReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		// A fresh completion usually parses, so leave this retryable.
		return nil, &domain.CompletionError{
			Err:       fmt.Errorf("parse reasoning reply: %w (raw: %s)", err, raw),
			Temporary: true,
		}
	}

	out := &domain.Reasoning{
		Answer:    reply.Answer,
		Gaps:      reply.Gaps,
		Roadmap:   reply.Roadmap,
		Citations: validCitations(reply.Citations, ev.Items),
	}
	r.logger.Debug("reasoning produced",
		zap.String("model", model),
		zap.Int("gaps", len(out.Gaps)),
		zap.Int("citations", len(out.Citations)))
	return out, nil
}

// validCitations keeps only citations whose index refers to a gathered item,
// rewriting DOI and title from the evidence so they cannot drift from it.
func validCitations(cites []domain.Citation, items []domain.EvidenceItem) []domain.Citation {
	out := make([]domain.Citation, 0, len(cites))
	for _, c := range cites {
		if c.Index < 1 || c.Index > len(items) {
			continue
		}
		item := items[c.Index-1]
		out = append(out, domain.Citation{DOI: item.DOI, Title: item.Title, Index: c.Index})
	}
	return out
}

// EvidenceBlock renders gathered items for a prompt, one numbered entry per
// item with any mined key numbers attached.
func EvidenceBlock(items []domain.EvidenceItem) string {
	var sb strings.Builder
	for i, item := range items {
		doi := item.DOI
		if doi == "" {
			doi = "N/A"
		}
		fmt.Fprintf(&sb, "%d. %s\n   DOI: %s\n   Summary: %s\n", i+1, item.Title, doi, item.Summary)

		findings := evidence.ExtractFindings(item)
		if !findings.Empty() {
			sb.WriteString("   Key Numbers:\n")
			if len(findings.Percentages) > 0 {
				fmt.Fprintf(&sb, "     Percentages: %s\n", strings.Join(findings.Percentages, ", "))
			}
			if len(findings.PValues) > 0 {
				fmt.Fprintf(&sb, "     P-values: %s\n", strings.Join(findings.PValues, ", "))
			}
			if len(findings.ConfidenceIntervals) > 0 {
				fmt.Fprintf(&sb, "     Confidence Intervals: %s\n", strings.Join(findings.ConfidenceIntervals, ", "))
			}
			if len(findings.SampleSizes) > 0 {
				fmt.Fprintf(&sb, "     Sample Sizes: %s\n", strings.Join(findings.SampleSizes, ", "))
			}
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func critiqueBlock(gapNotes []string) string {
	if len(gapNotes) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\nPrior critique flagged missing points:\n")
	for _, note := range gapNotes {
		fmt.Fprintf(&sb, "- %s\n", note)
	}
	return strings.TrimRight(sb.String(), "\n")
}
