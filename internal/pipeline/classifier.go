package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/llm"
)

// Classifier types the question and extracts retrieval keywords.
type Classifier struct {
	client domain.CompletionClient
	model  string
	logger *zap.Logger
}

func NewClassifier(client domain.CompletionClient, model string, logger *zap.Logger) *Classifier {
	return &Classifier{client: client, model: model, logger: logger}
}

func (c *Classifier) Classify(ctx context.Context, question string) (*domain.Classification, error) {
	prompt := fmt.Sprintf(llm.ClassifyPrompt, question)

	raw, err := c.client.Complete(ctx, c.model, prompt)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	raw = llm.StripFences(raw)
	var out domain.Classification
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, &domain.ClassificationError{Err: fmt.Errorf("parse classifier reply: %w (raw: %s)", err, raw)}
	}
	if !domain.ValidQuestionType(string(out.Type)) {
		return nil, &domain.ClassificationError{Err: fmt.Errorf("invalid question type %q", out.Type)}
	}

	c.logger.Debug("question classified",
		zap.String("type", string(out.Type)),
		zap.Strings("keywords", out.Keywords))
	return &out, nil
}
