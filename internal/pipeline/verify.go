package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
)

// PhaseFunc is notified as the verification loop enters each phase. pass is
// 1-based and counts reasoning passes. Implementations persist and publish
// the transition, and may abort the loop by returning an error.
type PhaseFunc func(ctx context.Context, stage domain.Stage, pass int) error

type VerificationConfig struct {
	// MaxIterations is the number of re-analysis passes allowed after the
	// first, so reasoning runs at most MaxIterations+1 times.
	MaxIterations  int
	ReasonPolicy   RetryPolicy
	CritiquePolicy RetryPolicy
}

func DefaultVerificationConfig() VerificationConfig {
	return VerificationConfig{
		MaxIterations:  1,
		ReasonPolicy:   DefaultRetryPolicy(),
		CritiquePolicy: DefaultRetryPolicy(),
	}
}

// VerificationLoop alternates reasoning and critique until the critique is
// satisfied or the iteration bound is hit. An unsatisfied critique at the
// bound degrades the result to unverified instead of failing it; only stage
// errors (reasoning or critique calls exhausting their retries) abort.
type VerificationLoop struct {
	reasoner *Reasoner
	critic   *Critic
	executor *Executor
	cfg      VerificationConfig
	logger   *zap.Logger
}

func NewVerificationLoop(reasoner *Reasoner, critic *Critic, executor *Executor, cfg VerificationConfig, logger *zap.Logger) *VerificationLoop {
	if cfg.MaxIterations < 0 {
		cfg.MaxIterations = 0
	}
	return &VerificationLoop{reasoner: reasoner, critic: critic, executor: executor, cfg: cfg, logger: logger}
}

type VerificationResult struct {
	Reasoning  *domain.Reasoning
	Critique   *domain.Critique
	Unverified bool
}

// Run drives the loop over the task's gathered evidence. Outputs are written
// onto the task as they become available so the caller's onPhase hook always
// sees the latest state when it fires.
func (l *VerificationLoop) Run(ctx context.Context, task *domain.Task, onPhase PhaseFunc) (*VerificationResult, error) {
	ev := task.Outputs.Evidence
	if ev == nil {
		return nil, fmt.Errorf("verification loop: task %s has no evidence", task.ID)
	}

	var notes []string
	for pass := 1; ; pass++ {
		if err := enterPhase(ctx, onPhase, domain.StageReasoning, pass); err != nil {
			return nil, err
		}
		var reasoning *domain.Reasoning
		err := l.executor.Run(ctx, domain.StageReasoning, l.cfg.ReasonPolicy, func(ctx context.Context) error {
			r, err := l.reasoner.Reason(ctx, task.Question, ev, notes)
			if err != nil {
				return err
			}
			reasoning = r
			return nil
		})
		if err != nil {
			return nil, err
		}
		task.Outputs.Reasoning = reasoning

		if err := enterPhase(ctx, onPhase, domain.StageVerification, pass); err != nil {
			return nil, err
		}
		var critique *domain.Critique
		err = l.executor.Run(ctx, domain.StageVerification, l.cfg.CritiquePolicy, func(ctx context.Context) error {
			c, err := l.critic.Critique(ctx, task.Question, reasoning)
			if err != nil {
				return err
			}
			critique = c
			return nil
		})
		if err != nil {
			return nil, err
		}
		task.Outputs.Critique = critique

		if critique.Sufficient {
			return &VerificationResult{Reasoning: reasoning, Critique: critique}, nil
		}
		if pass > l.cfg.MaxIterations {
			l.logger.Info("verification bound reached, accepting unverified result",
				zap.String("task_id", task.ID.String()),
				zap.Int("reasoning_passes", pass))
			return &VerificationResult{Reasoning: reasoning, Critique: critique, Unverified: true}, nil
		}
		notes = append(notes, critique.GapNotes...)
		l.logger.Debug("critique flagged gaps, re-analyzing",
			zap.String("task_id", task.ID.String()),
			zap.Int("pass", pass),
			zap.Strings("gap_notes", critique.GapNotes))
	}
}

func enterPhase(ctx context.Context, onPhase PhaseFunc, stage domain.Stage, pass int) error {
	if onPhase == nil {
		return nil
	}
	return onPhase(ctx, stage, pass)
}
