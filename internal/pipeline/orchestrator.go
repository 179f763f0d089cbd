package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/events"
)

// summaryLimit bounds the text carried by a progress event.
const summaryLimit = 160

// EvidenceGatherer is the retrieval collaborator, satisfied by
// evidence.Aggregator.
type EvidenceGatherer interface {
	Gather(ctx context.Context, query string, maxResults int) (*domain.EvidenceSet, error)
}

type OrchestratorConfig struct {
	// MaxResults caps the evidence items gathered per task.
	MaxResults           int
	ClassificationPolicy RetryPolicy
	RetrievalPolicy      RetryPolicy
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxResults:           5,
		ClassificationPolicy: DefaultRetryPolicy(),
		RetrievalPolicy:      DefaultRetryPolicy(),
	}
}

// Orchestrator drives tasks through the pipeline state machine: classify,
// retrieve, then the verification loop. Every transition persists the task
// before its progress event is published. A Process call owns one task at a
// time and expects the caller to hold the task's lease; orchestration for
// different tasks shares nothing but the store.
type Orchestrator struct {
	store      domain.TaskStore
	bus        *events.Bus
	classifier *Classifier
	gatherer   EvidenceGatherer
	loop       *VerificationLoop
	executor   *Executor
	embedder   domain.EmbeddingClient
	cfg        OrchestratorConfig
	logger     *zap.Logger
}

func NewOrchestrator(store domain.TaskStore, bus *events.Bus, classifier *Classifier, gatherer EvidenceGatherer, loop *VerificationLoop, executor *Executor, cfg OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	return &Orchestrator{
		store:      store,
		bus:        bus,
		classifier: classifier,
		gatherer:   gatherer,
		loop:       loop,
		executor:   executor,
		cfg:        cfg,
		logger:     logger,
	}
}

// SetEmbedder enables best-effort question embeddings for related-task
// lookups. Embedding failures are logged and never fail the pipeline.
func (o *Orchestrator) SetEmbedder(e domain.EmbeddingClient) {
	o.embedder = e
}

// Process runs one task to a terminal state. Pipeline errors are recorded on
// the task as a failure, not returned; the returned error reports only
// breakdowns Process could not record (store unavailable, lease lost).
func (o *Orchestrator) Process(ctx context.Context, id uuid.UUID, owner string) error {
	task, err := o.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load task %s: %w", id, err)
	}
	if task.Status.Terminal() {
		return nil
	}

	r := &taskRun{o: o, task: task, owner: owner}
	if err := r.pipeline(ctx); err != nil {
		return r.fail(ctx, err)
	}
	return nil
}

// taskRun is the mutable state of one Process call: the task snapshot being
// advanced plus the event sequence counter.
type taskRun struct {
	o     *Orchestrator
	task  *domain.Task
	owner string
	seq   int
}

// pipeline advances the task from its current status until a terminal state.
// Entering the switch at the persisted status is what makes reclaimed tasks
// resume instead of replaying finished stages.
func (r *taskRun) pipeline(ctx context.Context) error {
	if r.task.CancelRequested {
		return domain.ErrCancelled
	}

	for {
		switch r.task.Status {
		case domain.StatusPending:
			if err := r.transition(ctx, domain.StatusClassifying, "classifying question"); err != nil {
				return err
			}

		case domain.StatusClassifying:
			if err := r.classify(ctx); err != nil {
				return err
			}
			if err := r.transition(ctx, domain.StatusRetrieving, classificationSummary(r.task.Outputs.Classification)); err != nil {
				return err
			}

		case domain.StatusRetrieving:
			if err := r.retrieve(ctx); err != nil {
				return err
			}
			if err := r.transition(ctx, domain.StatusReasoning, evidenceSummary(r.task.Outputs.Evidence)); err != nil {
				return err
			}

		case domain.StatusReasoning, domain.StatusVerifying:
			result, err := r.o.loop.Run(ctx, r.task, r.enterPhase)
			if err != nil {
				return err
			}
			r.task.Unverified = result.Unverified
			return r.complete(ctx)

		case domain.StatusCompleted, domain.StatusFailed:
			return nil

		default:
			return fmt.Errorf("task %s in unknown status %q", r.task.ID, r.task.Status)
		}
	}
}

func (r *taskRun) classify(ctx context.Context) error {
	var classification *domain.Classification
	err := r.o.executor.Run(ctx, domain.StageClassification, r.o.cfg.ClassificationPolicy, func(ctx context.Context) error {
		c, err := r.o.classifier.Classify(ctx, r.task.Question)
		if err != nil {
			return err
		}
		classification = c
		return nil
	})
	if err != nil {
		return err
	}
	r.task.Outputs.Classification = classification
	r.embedQuestion(ctx)
	return nil
}

func (r *taskRun) retrieve(ctx context.Context) error {
	query := ""
	if c := r.task.Outputs.Classification; c != nil {
		query = c.Query()
	}
	if query == "" {
		query = r.task.Question
	}

	var ev *domain.EvidenceSet
	err := r.o.executor.Run(ctx, domain.StageRetrieval, r.o.cfg.RetrievalPolicy, func(ctx context.Context) error {
		set, err := r.o.gatherer.Gather(ctx, query, r.o.cfg.MaxResults)
		if err != nil {
			return err
		}
		ev = set
		return nil
	})
	if err != nil {
		return err
	}
	r.task.Outputs.Evidence = ev
	return nil
}

func (r *taskRun) embedQuestion(ctx context.Context) {
	if r.o.embedder == nil || len(r.task.Embedding) > 0 {
		return
	}
	vec, err := r.o.embedder.Embed(ctx, r.task.Question)
	if err != nil {
		r.o.logger.Warn("question embedding failed",
			zap.String("task_id", r.task.ID.String()),
			zap.Error(err))
		return
	}
	r.task.Embedding = vec
}

// enterPhase is the verification loop's transition hook.
func (r *taskRun) enterPhase(ctx context.Context, stage domain.Stage, pass int) error {
	switch stage {
	case domain.StageReasoning:
		summary := evidenceSummary(r.task.Outputs.Evidence)
		if pass > 1 && r.task.Outputs.Critique != nil {
			summary = fmt.Sprintf("critique flagged %d gaps, re-analyzing", len(r.task.Outputs.Critique.GapNotes))
		}
		return r.transition(ctx, domain.StatusReasoning, summary)

	case domain.StageVerification:
		summary := "verifying answer"
		if rs := r.task.Outputs.Reasoning; rs != nil {
			summary = fmt.Sprintf("verifying answer (%d citations)", len(rs.Citations))
		}
		return r.transition(ctx, domain.StatusVerifying, summary)
	}
	return nil
}

// transition persists the task under the next status, then publishes the
// progress event. Moving to the status the task already holds is a no-op,
// which lets a resumed task re-enter its current stage cleanly.
func (r *taskRun) transition(ctx context.Context, next domain.TaskStatus, summary string) error {
	if next == r.task.Status {
		return nil
	}

	// observe cancellation before scheduling the next stage
	current, err := r.o.store.Get(ctx, r.task.ID)
	if err != nil {
		return fmt.Errorf("refresh task %s: %w", r.task.ID, err)
	}
	if current.CancelRequested {
		r.task.CancelRequested = true
		return domain.ErrCancelled
	}

	if !domain.CanTransition(r.task.Status, next) {
		return fmt.Errorf("invalid transition %s -> %s for task %s", r.task.Status, next, r.task.ID)
	}
	r.task.Status = next
	r.task.UpdatedAt = time.Now().UTC()
	if err := r.o.store.Save(ctx, r.task, r.owner); err != nil {
		return fmt.Errorf("persist %s for task %s: %w", next, r.task.ID, err)
	}
	r.publish(summary, false)
	return nil
}

func (r *taskRun) complete(ctx context.Context) error {
	r.task.Status = domain.StatusCompleted
	r.task.UpdatedAt = time.Now().UTC()
	if err := r.o.store.Save(ctx, r.task, r.owner); err != nil {
		return fmt.Errorf("persist completion of task %s: %w", r.task.ID, err)
	}

	summary := "completed"
	if r.task.Unverified {
		summary = "completed (unverified)"
	}
	r.publish(summary, true)
	r.o.bus.CloseTopic(r.task.ID)

	r.o.logger.Info("task completed",
		zap.String("task_id", r.task.ID.String()),
		zap.Bool("unverified", r.task.Unverified))
	return nil
}

// fail records the cause on the task and transitions it to failed. It
// returns an error only when the failure itself could not be persisted.
func (r *taskRun) fail(ctx context.Context, cause error) error {
	kind := domain.KindOf(cause)
	failedStage := stageFor(r.task.Status)
	var stageErr *domain.StageError
	if errors.As(cause, &stageErr) {
		failedStage = stageErr.Stage
	}

	r.task.Status = domain.StatusFailed
	r.task.Error = &domain.TaskError{Kind: kind, Message: cause.Error()}
	r.task.UpdatedAt = time.Now().UTC()
	if err := r.o.store.Save(ctx, r.task, r.owner); err != nil {
		r.o.logger.Error("persist task failure",
			zap.String("task_id", r.task.ID.String()),
			zap.Error(err))
		return fmt.Errorf("persist failure of task %s: %w", r.task.ID, err)
	}

	r.seq++
	r.o.bus.Publish(events.ProgressEvent{
		TaskID:    r.task.ID,
		Seq:       r.seq,
		Status:    domain.StatusFailed,
		Stage:     failedStage,
		Summary:   clip(cause.Error(), summaryLimit),
		Terminal:  true,
		Timestamp: time.Now().UTC(),
	})
	r.o.bus.CloseTopic(r.task.ID)

	r.o.logger.Warn("task failed",
		zap.String("task_id", r.task.ID.String()),
		zap.String("kind", string(kind)),
		zap.Error(cause))
	return nil
}

func (r *taskRun) publish(summary string, terminal bool) {
	r.seq++
	r.o.bus.Publish(events.ProgressEvent{
		TaskID:    r.task.ID,
		Seq:       r.seq,
		Status:    r.task.Status,
		Stage:     stageFor(r.task.Status),
		Summary:   summary,
		Terminal:  terminal,
		Timestamp: time.Now().UTC(),
	})
}

func stageFor(status domain.TaskStatus) domain.Stage {
	switch status {
	case domain.StatusClassifying:
		return domain.StageClassification
	case domain.StatusRetrieving:
		return domain.StageRetrieval
	case domain.StatusReasoning:
		return domain.StageReasoning
	case domain.StatusVerifying:
		return domain.StageVerification
	}
	return ""
}

func classificationSummary(c *domain.Classification) string {
	if c == nil {
		return "question classified"
	}
	return fmt.Sprintf("classified as %s (%d keywords)", c.Type, len(c.Keywords))
}

func evidenceSummary(ev *domain.EvidenceSet) string {
	if ev == nil {
		return "evidence gathered"
	}
	if ev.SoftFailures > 0 {
		return fmt.Sprintf("gathered %d evidence items (%d source failures)", len(ev.Items), ev.SoftFailures)
	}
	return fmt.Sprintf("gathered %d evidence items", len(ev.Items))
}

func clip(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
