package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
	"github.com/google/uuid"
)

type memoryLease struct {
	owner     string
	expiresAt time.Time
}

// MemoryStore is a process-local TaskStore used for tests and single-node
// development. All accesses go through one RWMutex; reads return copies so
// callers never alias the stored record.
type MemoryStore struct {
	mu     sync.RWMutex
	tasks  map[uuid.UUID]*domain.Task
	leases map[uuid.UUID]memoryLease
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:  make(map[uuid.UUID]*domain.Task),
		leases: make(map[uuid.UUID]memoryLease),
	}
}

var _ domain.TaskStore = (*MemoryStore)(nil)

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	if t.Outputs.Classification != nil {
		v := *t.Outputs.Classification
		c.Outputs.Classification = &v
	}
	if t.Outputs.Evidence != nil {
		v := *t.Outputs.Evidence
		v.Items = append([]domain.EvidenceItem(nil), t.Outputs.Evidence.Items...)
		c.Outputs.Evidence = &v
	}
	if t.Outputs.Reasoning != nil {
		v := *t.Outputs.Reasoning
		c.Outputs.Reasoning = &v
	}
	if t.Outputs.Critique != nil {
		v := *t.Outputs.Critique
		c.Outputs.Critique = &v
	}
	if t.Error != nil {
		v := *t.Error
		c.Error = &v
	}
	c.Feedback = append([]domain.Feedback(nil), t.Feedback...)
	c.Embedding = append([]float32(nil), t.Embedding...)
	return &c
}

func (s *MemoryStore) Create(ctx context.Context, t *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = cloneTask(t)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTask(t), nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Task
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Acquire(ctx context.Context, id uuid.UUID, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return ErrNotFound
	}
	if l, ok := s.leases[id]; ok && l.owner != owner && time.Now().Before(l.expiresAt) {
		return ErrLeaseHeld
	}
	s.leases[id] = memoryLease{owner: owner, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, id uuid.UUID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[id]
	if !ok || l.owner != owner {
		return ErrNotLeaseOwner
	}
	delete(s.leases, id)
	return nil
}

func (s *MemoryStore) Save(ctx context.Context, t *domain.Task, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	l, ok := s.leases[t.ID]
	if !ok || l.owner != owner || time.Now().After(l.expiresAt) {
		return ErrNotLeaseOwner
	}
	saved := cloneTask(t)
	// Cancellation requests and feedback land on the stored record; a stale
	// in-flight snapshot must not clear either.
	if s.tasks[t.ID].CancelRequested {
		saved.CancelRequested = true
	}
	saved.Feedback = s.tasks[t.ID].Feedback
	s.tasks[t.ID] = saved
	return nil
}

func (s *MemoryStore) AppendFeedback(ctx context.Context, id uuid.UUID, fb domain.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Feedback = append(t.Feedback, fb)
	return nil
}

func (s *MemoryStore) RequestCancel(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.CancelRequested = true
	return nil
}

func (s *MemoryStore) SimilarCompleted(ctx context.Context, embedding []float32, limit int) ([]domain.TaskWithScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TaskWithScore
	for _, t := range s.tasks {
		if t.Status != domain.StatusCompleted || len(t.Embedding) == 0 {
			continue
		}
		score := cosineSimilarity(embedding, t.Embedding)
		out = append(out, domain.TaskWithScore{Task: *cloneTask(t), Score: score})
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

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
