package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TaskWithScore struct {
	Task
	Score float32 `json:"score"`
}

// TaskStore is the only mutable state shared across workers. All writes to a
// task after creation go through its lease: a worker acquires the lease,
// saves under it while processing, and releases it at the end. Expired
// leases may be reclaimed so a crashed worker does not strand its task.
type TaskStore interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id uuid.UUID) (*Task, error)
	ListByStatus(ctx context.Context, status TaskStatus, limit int) ([]*Task, error)

	Acquire(ctx context.Context, id uuid.UUID, owner string, ttl time.Duration) error
	Release(ctx context.Context, id uuid.UUID, owner string) error
	Save(ctx context.Context, t *Task, owner string) error

	AppendFeedback(ctx context.Context, id uuid.UUID, fb Feedback) error
	RequestCancel(ctx context.Context, id uuid.UUID) error

	SimilarCompleted(ctx context.Context, embedding []float32, limit int) ([]TaskWithScore, error)
}

type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CompletionClient is the opaque text-completion collaborator. The model
// argument is the tier chosen by the cost guard for this call.
type CompletionClient interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}
