package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// PostgresStore is the production TaskStore. Question embeddings live in a
// pgvector column so related-task lookup runs in the database.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ domain.TaskStore = (*PostgresStore)(nil)

// InitSchema creates the tables on first boot. Safe to call repeatedly.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	schema := `
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS tasks (
		id UUID PRIMARY KEY,
		question TEXT NOT NULL,
		status TEXT NOT NULL,
		outputs JSONB NOT NULL DEFAULT '{}',
		error_kind TEXT,
		error_message TEXT,
		unverified BOOLEAN NOT NULL DEFAULT FALSE,
		cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
		embedding vector(1536),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

	CREATE TABLE IF NOT EXISTS task_leases (
		task_id UUID PRIMARY KEY REFERENCES tasks(id) ON DELETE CASCADE,
		owner TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_feedback (
		id BIGSERIAL PRIMARY KEY,
		task_id UUID NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		rating INT NOT NULL,
		comment TEXT,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_task_feedback_task ON task_feedback(task_id, created_at);
	`
	_, err := s.db.Exec(ctx, schema)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, t *domain.Task) error {
	outputs, err := json.Marshal(t.Outputs)
	if err != nil {
		return fmt.Errorf("encode stage outputs: %w", err)
	}

	var embedding *pgvector.Vector
	if len(t.Embedding) > 0 {
		v := pgvector.NewVector(t.Embedding)
		embedding = &v
	}

	var errKind, errMsg *string
	if t.Error != nil {
		k, m := string(t.Error.Kind), t.Error.Message
		errKind, errMsg = &k, &m
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO tasks (id, question, status, outputs, error_kind, error_message, unverified, cancel_requested, embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.Question, string(t.Status), outputs, errKind, errMsg,
		t.Unverified, t.CancelRequested, embedding, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	t := &domain.Task{}
	var (
		status          string
		outputs         []byte
		errKind, errMsg *string
		embedding       *pgvector.Vector
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, question, status, outputs, error_kind, error_message, unverified, cancel_requested, embedding, created_at, updated_at
		 FROM tasks WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.Question, &status, &outputs, &errKind, &errMsg,
		&t.Unverified, &t.CancelRequested, &embedding, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	t.Status = domain.TaskStatus(status)
	if err := json.Unmarshal(outputs, &t.Outputs); err != nil {
		return nil, fmt.Errorf("decode stage outputs: %w", err)
	}
	if errKind != nil {
		t.Error = &domain.TaskError{Kind: domain.ErrorKind(*errKind)}
		if errMsg != nil {
			t.Error.Message = *errMsg
		}
	}
	if embedding != nil {
		t.Embedding = embedding.Slice()
	}

	if err := s.loadFeedback(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *PostgresStore) loadFeedback(ctx context.Context, t *domain.Task) error {
	rows, err := s.db.Query(ctx,
		`SELECT rating, comment, created_at FROM task_feedback WHERE task_id = $1 ORDER BY created_at, id`,
		t.ID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			fb      domain.Feedback
			comment *string
		)
		if err := rows.Scan(&fb.Rating, &comment, &fb.CreatedAt); err != nil {
			return err
		}
		if comment != nil {
			fb.Comment = *comment
		}
		t.Feedback = append(t.Feedback, fb)
	}
	return rows.Err()
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error) {
	q := `SELECT id, question, status, outputs, error_kind, error_message, unverified, cancel_requested, embedding, created_at, updated_at
	      FROM tasks WHERE status = $1 ORDER BY created_at, id`
	args := []any{string(status)}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Task
	for rows.Next() {
		t := &domain.Task{}
		var (
			st              string
			outputs         []byte
			errKind, errMsg *string
			embedding       *pgvector.Vector
		)
		if err := rows.Scan(&t.ID, &t.Question, &st, &outputs, &errKind, &errMsg,
			&t.Unverified, &t.CancelRequested, &embedding, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Status = domain.TaskStatus(st)
		if err := json.Unmarshal(outputs, &t.Outputs); err != nil {
			return nil, fmt.Errorf("decode stage outputs: %w", err)
		}
		if errKind != nil {
			t.Error = &domain.TaskError{Kind: domain.ErrorKind(*errKind)}
			if errMsg != nil {
				t.Error.Message = *errMsg
			}
		}
		if embedding != nil {
			t.Embedding = embedding.Slice()
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Acquire(ctx context.Context, id uuid.UUID, owner string, ttl time.Duration) error {
	var exists int
	if err := s.db.QueryRow(ctx, `SELECT 1 FROM tasks WHERE id = $1`, id).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	tag, err := s.db.Exec(ctx,
		`INSERT INTO task_leases (task_id, owner, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (task_id) DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		 WHERE task_leases.owner = EXCLUDED.owner OR task_leases.expires_at <= NOW()`,
		id, owner, time.Now().Add(ttl),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseHeld
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, id uuid.UUID, owner string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM task_leases WHERE task_id = $1 AND owner = $2`,
		id, owner,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotLeaseOwner
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, t *domain.Task, owner string) error {
	outputs, err := json.Marshal(t.Outputs)
	if err != nil {
		return fmt.Errorf("encode stage outputs: %w", err)
	}

	var embedding *pgvector.Vector
	if len(t.Embedding) > 0 {
		v := pgvector.NewVector(t.Embedding)
		embedding = &v
	}

	var errKind, errMsg *string
	if t.Error != nil {
		k, m := string(t.Error.Kind), t.Error.Message
		errKind, errMsg = &k, &m
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE tasks SET status = $2, outputs = $3, error_kind = $4, error_message = $5, unverified = $6,
		        embedding = COALESCE($7, embedding), updated_at = $8
		 WHERE id = $1 AND EXISTS (
		        SELECT 1 FROM task_leases
		        WHERE task_id = $1 AND owner = $9 AND expires_at > NOW())`,
		t.ID, string(t.Status), outputs, errKind, errMsg, t.Unverified,
		embedding, t.UpdatedAt, owner,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists int
		if err := s.db.QueryRow(ctx, `SELECT 1 FROM tasks WHERE id = $1`, t.ID).Scan(&exists); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		return ErrNotLeaseOwner
	}
	return nil
}

func (s *PostgresStore) AppendFeedback(ctx context.Context, id uuid.UUID, fb domain.Feedback) error {
	var exists int
	if err := s.db.QueryRow(ctx, `SELECT 1 FROM tasks WHERE id = $1`, id).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO task_feedback (task_id, rating, comment, created_at) VALUES ($1, $2, $3, $4)`,
		id, fb.Rating, fb.Comment, fb.CreatedAt,
	)
	return err
}

func (s *PostgresStore) RequestCancel(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE tasks SET cancel_requested = TRUE WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SimilarCompleted(ctx context.Context, embedding []float32, limit int) ([]domain.TaskWithScore, error) {
	if limit <= 0 {
		limit = 5
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.db.Query(ctx,
		`SELECT id, question, status, outputs, unverified, created_at, updated_at,
		        1 - (embedding <=> $1) AS score
		 FROM tasks
		 WHERE status = $2 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $1, id
		 LIMIT $3`,
		vec, string(domain.StatusCompleted), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}
	defer rows.Close()

	var out []domain.TaskWithScore
	for rows.Next() {
		var (
			ts      domain.TaskWithScore
			st      string
			outputs []byte
		)
		if err := rows.Scan(&ts.ID, &ts.Question, &st, &outputs, &ts.Unverified,
			&ts.CreatedAt, &ts.UpdatedAt, &ts.Score); err != nil {
			return nil, err
		}
		ts.Status = domain.TaskStatus(st)
		if err := json.Unmarshal(outputs, &ts.Outputs); err != nil {
			return nil, fmt.Errorf("decode stage outputs: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}
