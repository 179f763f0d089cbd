package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/store"
)

const (
	defaultWorkers       = 4
	defaultQueueCapacity = 256
	defaultLeaseTTL      = 5 * time.Minute
	defaultTaskTimeout   = 10 * time.Minute
	requeueTimeout       = 30 * time.Second
)

// ErrQueueFull is returned by Submit when the queue has no room left.
var ErrQueueFull = errors.New("task queue is full")

// Processor runs one task to a terminal state under the given lease owner.
type Processor interface {
	Process(ctx context.Context, id uuid.UUID, owner string) error
}

type Config struct {
	Workers       int
	QueueCapacity int
	LeaseTTL      time.Duration
	TaskTimeout   time.Duration
	// Owner namespaces this pool's lease owner ids. Defaults to a random
	// id so two processes sharing a store never collide.
	Owner string
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaultLeaseTTL
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = defaultTaskTimeout
	}
	if c.Owner == "" {
		c.Owner = uuid.NewString()[:8]
	}
	return c
}

// Pool consumes queued task ids with a fixed set of workers. Every worker
// leases a task before touching it, so pools sharing one store never run
// the same task twice; a queued id whose lease is held elsewhere is skipped.
type Pool struct {
	store     domain.TaskStore
	processor Processor
	logger    *zap.Logger

	cfg    Config
	queue  chan uuid.UUID
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewPool(st domain.TaskStore, processor Processor, cfg Config, logger *zap.Logger) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		store:     st,
		processor: processor,
		logger:    logger,
		cfg:       cfg,
		queue:     make(chan uuid.UUID, cfg.QueueCapacity),
		stopCh:    make(chan struct{}),
	}
}

// Submit enqueues a task id without blocking.
func (p *Pool) Submit(id uuid.UUID) error {
	select {
	case p.queue <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start requeues interrupted work from the store and launches the workers.
func (p *Pool) Start() {
	p.requeueInterrupted()

	for i := 0; i < p.cfg.Workers; i++ {
		owner := fmt.Sprintf("%s-%d", p.cfg.Owner, i)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runWorker(owner)
		}()
	}

	p.logger.Info("worker pool started",
		zap.Int("workers", p.cfg.Workers),
		zap.Int("queue_capacity", p.cfg.QueueCapacity),
		zap.String("owner", p.cfg.Owner))
}

// Stop halts the workers after their current task. Ids still queued are
// dropped; the startup requeue picks the tasks back up on the next run.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) runWorker(owner string) {
	for {
		select {
		case id := <-p.queue:
			p.process(id, owner)
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) process(id uuid.UUID, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.TaskTimeout)
	defer cancel()

	if err := p.store.Acquire(ctx, id, owner, p.cfg.LeaseTTL); err != nil {
		switch {
		case errors.Is(err, store.ErrLeaseHeld):
			p.logger.Debug("task leased elsewhere, skipping",
				zap.String("task_id", id.String()))
		case errors.Is(err, store.ErrNotFound):
			p.logger.Warn("queued task missing from store",
				zap.String("task_id", id.String()))
		default:
			p.logger.Error("acquire task lease",
				zap.String("task_id", id.String()),
				zap.Error(err))
		}
		return
	}
	defer func() {
		if err := p.store.Release(context.Background(), id, owner); err != nil {
			p.logger.Warn("release task lease",
				zap.String("task_id", id.String()),
				zap.Error(err))
		}
	}()

	if err := p.processor.Process(ctx, id, owner); err != nil {
		p.logger.Error("task processing failed",
			zap.String("task_id", id.String()),
			zap.Error(err))
	}
}

// requeueInterrupted re-enqueues every non-terminal task found in the store.
// Pending tasks were never picked up; the rest were mid-flight when a
// previous run died, and resume from their persisted status once their old
// lease expires.
func (p *Pool) requeueInterrupted() {
	ctx, cancel := context.WithTimeout(context.Background(), requeueTimeout)
	defer cancel()

	statuses := []domain.TaskStatus{
		domain.StatusPending,
		domain.StatusClassifying,
		domain.StatusRetrieving,
		domain.StatusReasoning,
		domain.StatusVerifying,
	}

	requeued := 0
	for _, status := range statuses {
		tasks, err := p.store.ListByStatus(ctx, status, p.cfg.QueueCapacity)
		if err != nil {
			p.logger.Error("list tasks for requeue",
				zap.String("status", string(status)),
				zap.Error(err))
			continue
		}
		for _, t := range tasks {
			if p.Submit(t.ID) != nil {
				p.logger.Warn("requeue dropped, queue full",
					zap.String("task_id", t.ID.String()))
				return
			}
			requeued++
		}
	}
	if requeued > 0 {
		p.logger.Info("requeued interrupted tasks", zap.Int("count", requeued))
	}
}
