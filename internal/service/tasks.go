package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/events"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/store"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrQuestionEmpty = errors.New("question is required")
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
)

const defaultRelatedLimit = 5

// TaskQueue hands accepted tasks to the background workers.
type TaskQueue interface {
	Submit(id uuid.UUID) error
}

// TaskService is the exposed surface over the task lifecycle. Processing is
// asynchronous: Submit persists the task and enqueues it, everything after
// that is observed through Get and Subscribe.
type TaskService struct {
	store  domain.TaskStore
	bus    *events.Bus
	queue  TaskQueue
	logger *zap.Logger
}

func NewTaskService(st domain.TaskStore, bus *events.Bus, queue TaskQueue, logger *zap.Logger) *TaskService {
	return &TaskService{
		store:  st,
		bus:    bus,
		queue:  queue,
		logger: logger,
	}
}

// Submit validates the question, persists a pending task and enqueues it.
func (s *TaskService) Submit(ctx context.Context, question string) (*domain.Task, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrQuestionEmpty
	}

	task := domain.NewTask(question)
	if err := s.store.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := s.queue.Submit(task.ID); err != nil {
		// The pending task stays in the store and is requeued on the next
		// startup, but the caller should see the backpressure now.
		return nil, fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}

	s.logger.Info("task submitted",
		zap.String("task_id", task.ID.String()),
		zap.Int("question_len", len(question)))
	return task, nil
}

func (s *TaskService) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// Subscribe returns the task's current snapshot plus a channel of progress
// events. Subscription happens before the snapshot read so no event between
// the two is lost; for a task already in a terminal state the channel comes
// back closed. Callers must Unsubscribe when they stop reading early.
func (s *TaskService) Subscribe(ctx context.Context, id uuid.UUID, bufSize int) (*domain.Task, <-chan events.ProgressEvent, error) {
	ch := s.bus.Subscribe(id, bufSize)

	task, err := s.store.Get(ctx, id)
	if err != nil {
		s.bus.Unsubscribe(id, ch)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrTaskNotFound
		}
		return nil, nil, err
	}
	if task.Status.Terminal() {
		s.bus.Unsubscribe(id, ch)
	}
	return task, ch, nil
}

func (s *TaskService) Unsubscribe(id uuid.UUID, ch <-chan events.ProgressEvent) {
	s.bus.Unsubscribe(id, ch)
}

// RecordFeedback appends a rating to the task. Feedback is accepted in any
// task state.
func (s *TaskService) RecordFeedback(ctx context.Context, id uuid.UUID, rating int, comment string) error {
	if !domain.ValidRating(rating) {
		return ErrInvalidRating
	}

	fb := domain.Feedback{
		Rating:    rating,
		Comment:   strings.TrimSpace(comment),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendFeedback(ctx, id, fb); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTaskNotFound
		}
		return err
	}
	return nil
}

// Cancel flags the task for cancellation. The pipeline finishes its current
// stage attempt and stops before scheduling the next one.
func (s *TaskService) Cancel(ctx context.Context, id uuid.UUID) error {
	if err := s.store.RequestCancel(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTaskNotFound
		}
		return err
	}
	s.logger.Info("task cancellation requested", zap.String("task_id", id.String()))
	return nil
}

// Related returns completed tasks whose questions are closest to this one,
// ranked by embedding similarity. Tasks submitted before embeddings were
// available simply have no neighbours.
func (s *TaskService) Related(ctx context.Context, id uuid.UUID, limit int) ([]domain.TaskWithScore, error) {
	if limit <= 0 {
		limit = defaultRelatedLimit
	}

	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(task.Embedding) == 0 {
		return []domain.TaskWithScore{}, nil
	}

	neighbours, err := s.store.SimilarCompleted(ctx, task.Embedding, limit+1)
	if err != nil {
		return nil, fmt.Errorf("similar tasks for %s: %w", id, err)
	}

	out := make([]domain.TaskWithScore, 0, limit)
	for _, n := range neighbours {
		if n.ID == id {
			continue
		}
		out = append(out, n)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
