package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/llm"
)

// Critic checks whether every claim in a reasoning result is backed by its
// citations.
type Critic struct {
	client domain.CompletionClient
	model  string
	logger *zap.Logger
}

func NewCritic(client domain.CompletionClient, model string, logger *zap.Logger) *Critic {
	return &Critic{client: client, model: model, logger: logger}
}

// critiqueReply mirrors the JSON schema embedded in the critique prompt.
type critiqueReply struct {
	Sufficient   bool     `json:"sufficient"`
	GapNotes     []string `json:"gap_notes"`
	SupportLevel string   `json:"support_level"`
}

func (c *Critic) Critique(ctx context.Context, question string, reasoning *domain.Reasoning) (*domain.Critique, error) {
	prompt := fmt.Sprintf(llm.CritiquePrompt, question, reasoning.Answer, citationsBlock(reasoning.Citations))

	raw, err := c.client.Complete(ctx, c.model, prompt)
	if err != nil {
		return nil, fmt.Errorf("critique: %w", err)
	}

	raw = llm.StripFences(raw)
	var reply critiqueReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, &domain.CompletionError{
			Err:       fmt.Errorf("parse critique reply: %w (raw: %s)", err, raw),
			Temporary: true,
		}
	}

	out := &domain.Critique{
		Sufficient:   reply.Sufficient,
		GapNotes:     reply.GapNotes,
		SupportLevel: domain.SupportLevel(reply.SupportLevel),
	}
	if !domain.ValidSupportLevel(reply.SupportLevel) {
		out.SupportLevel = domain.SupportWeak
	}

	c.logger.Debug("critique produced",
		zap.Bool("sufficient", out.Sufficient),
		zap.Int("gap_notes", len(out.GapNotes)),
		zap.String("support_level", string(out.SupportLevel)))
	return out, nil
}

func citationsBlock(cites []domain.Citation) string {
	if len(cites) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for _, c := range cites {
		ref := c.DOI
		if ref == "" {
			ref = c.Title
		}
		fmt.Fprintf(&sb, "- Citation %d: %s\n", c.Index, ref)
	}
	return strings.TrimRight(sb.String(), "\n")
}
