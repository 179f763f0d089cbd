package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a file-backed TaskStore for single-node deployments.
// Lease exclusivity is enforced in SQL so it holds across processes sharing
// the database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ domain.TaskStore = (*SQLiteStore)(nil)

func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// NewSQLiteMemoryStore opens an in-memory database with a shared cache so
// multiple connections observe the same state. Used by tests.
func NewSQLiteMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		status TEXT NOT NULL,
		outputs TEXT NOT NULL DEFAULT '{}',
		error_kind TEXT,
		error_message TEXT,
		unverified INTEGER NOT NULL DEFAULT 0,
		cancel_requested INTEGER NOT NULL DEFAULT 0,
		embedding TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

	CREATE TABLE IF NOT EXISTS task_leases (
		task_id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS task_feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		rating INTEGER NOT NULL,
		comment TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_feedback_task ON task_feedback(task_id, created_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, t *domain.Task) error {
	outputs, embedding, err := encodeTask(t)
	if err != nil {
		return err
	}

	var errKind, errMsg sql.NullString
	if t.Error != nil {
		errKind = sql.NullString{String: string(t.Error.Kind), Valid: true}
		errMsg = sql.NullString{String: t.Error.Message, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, question, status, outputs, error_kind, error_message, unverified, cancel_requested, embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.Question, string(t.Status), outputs, errKind, errMsg,
		boolInt(t.Unverified), boolInt(t.CancelRequested), embedding,
		t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	t, err := s.getTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.loadFeedback(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLiteStore) getTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, question, status, outputs, error_kind, error_message, unverified, cancel_requested, embedding, created_at, updated_at
		 FROM tasks WHERE id = ?`,
		id.String(),
	)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		idStr, question, status, outputs string
		errKind, errMsg, embedding       sql.NullString
		unverified, cancelRequested      int
		createdAt, updatedAt             int64
	)
	if err := row.Scan(&idStr, &question, &status, &outputs, &errKind, &errMsg,
		&unverified, &cancelRequested, &embedding, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse task id: %w", err)
	}

	t := &domain.Task{
		ID:              id,
		Question:        question,
		Status:          domain.TaskStatus(status),
		Unverified:      unverified != 0,
		CancelRequested: cancelRequested != 0,
		CreatedAt:       time.Unix(0, createdAt).UTC(),
		UpdatedAt:       time.Unix(0, updatedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(outputs), &t.Outputs); err != nil {
		return nil, fmt.Errorf("decode stage outputs: %w", err)
	}
	if errKind.Valid {
		t.Error = &domain.TaskError{Kind: domain.ErrorKind(errKind.String), Message: errMsg.String}
	}
	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &t.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
	}
	return t, nil
}

func (s *SQLiteStore) loadFeedback(ctx context.Context, t *domain.Task) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rating, comment, created_at FROM task_feedback WHERE task_id = ? ORDER BY created_at, id`,
		t.ID.String(),
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rating    int
			comment   sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&rating, &comment, &createdAt); err != nil {
			return err
		}
		t.Feedback = append(t.Feedback, domain.Feedback{
			Rating:    rating,
			Comment:   comment.String,
			CreatedAt: time.Unix(0, createdAt).UTC(),
		})
	}
	return rows.Err()
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error) {
	q := `SELECT id, question, status, outputs, error_kind, error_message, unverified, cancel_requested, embedding, created_at, updated_at
	      FROM tasks WHERE status = ? ORDER BY created_at, id`
	args := []any{string(status)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Acquire(ctx context.Context, id uuid.UUID, owner string, ttl time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id.String()).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	now := time.Now()
	var (
		curOwner   string
		curExpires int64
	)
	err = tx.QueryRowContext(ctx, `SELECT owner, expires_at FROM task_leases WHERE task_id = ?`, id.String()).
		Scan(&curOwner, &curExpires)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	default:
		if curOwner != owner && now.UnixNano() < curExpires {
			return ErrLeaseHeld
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO task_leases (task_id, owner, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(task_id) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at`,
		id.String(), owner, now.Add(ttl).UnixNano(),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Release(ctx context.Context, id uuid.UUID, owner string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM task_leases WHERE task_id = ? AND owner = ?`,
		id.String(), owner,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotLeaseOwner
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, t *domain.Task, owner string) error {
	outputs, embedding, err := encodeTask(t)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var (
		curOwner   string
		curExpires int64
	)
	err = tx.QueryRowContext(ctx, `SELECT owner, expires_at FROM task_leases WHERE task_id = ?`, t.ID.String()).
		Scan(&curOwner, &curExpires)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotLeaseOwner
	}
	if err != nil {
		return err
	}
	if curOwner != owner || time.Now().UnixNano() > curExpires {
		return ErrNotLeaseOwner
	}

	var errKind, errMsg sql.NullString
	if t.Error != nil {
		errKind = sql.NullString{String: string(t.Error.Kind), Valid: true}
		errMsg = sql.NullString{String: t.Error.Message, Valid: true}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, outputs = ?, error_kind = ?, error_message = ?, unverified = ?,
		        embedding = COALESCE(?, embedding), updated_at = ?
		 WHERE id = ?`,
		string(t.Status), outputs, errKind, errMsg, boolInt(t.Unverified),
		embedding, t.UpdatedAt.UnixNano(), t.ID.String(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLiteStore) AppendFeedback(ctx context.Context, id uuid.UUID, fb domain.Feedback) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id.String()).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_feedback (task_id, rating, comment, created_at) VALUES (?, ?, ?, ?)`,
		id.String(), fb.Rating, fb.Comment, fb.CreatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) RequestCancel(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET cancel_requested = 1 WHERE id = ?`,
		id.String(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SimilarCompleted ranks completed tasks by cosine similarity computed in
// process; SQLite has no vector type.
func (s *SQLiteStore) SimilarCompleted(ctx context.Context, embedding []float32, limit int) ([]domain.TaskWithScore, error) {
	tasks, err := s.ListByStatus(ctx, domain.StatusCompleted, 0)
	if err != nil {
		return nil, err
	}

	var out []domain.TaskWithScore
	for _, t := range tasks {
		if len(t.Embedding) == 0 {
			continue
		}
		out = append(out, domain.TaskWithScore{Task: *t, Score: cosineSimilarity(embedding, t.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].Score > out[j].Score
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func encodeTask(t *domain.Task) (outputs string, embedding sql.NullString, err error) {
	b, err := json.Marshal(t.Outputs)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("encode stage outputs: %w", err)
	}
	if len(t.Embedding) > 0 {
		e, err := json.Marshal(t.Embedding)
		if err != nil {
			return "", sql.NullString{}, fmt.Errorf("encode embedding: %w", err)
		}
		embedding = sql.NullString{String: string(e), Valid: true}
	}
	return string(b), embedding, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
