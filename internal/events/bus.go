package events

import (
	"sync"
	"time"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
	"github.com/google/uuid"
)

// ProgressEvent is published on every task transition. Summary is a bounded
// description of the newly available output, never the payload itself.
type ProgressEvent struct {
	TaskID    uuid.UUID         `json:"task_id"`
	Seq       int               `json:"seq"`
	Status    domain.TaskStatus `json:"status"`
	Stage     domain.Stage      `json:"stage,omitempty"`
	Summary   string            `json:"summary,omitempty"`
	Terminal  bool              `json:"terminal"`
	Timestamp time.Time         `json:"timestamp"`
}

// Bus is a channel-based broadcast of progress events, one topic per task.
// Publishing is non-blocking: a subscriber that stops draining its buffer
// misses events rather than stalling the pipeline. Delivery order per task
// matches publish order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID][]chan ProgressEvent
	closed bool
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[uuid.UUID][]chan ProgressEvent),
	}
}

// Subscribe registers a listener for one task's events. bufSize defaults to
// 64 if <= 0; a full pipeline run emits an order of magnitude fewer events.
func (b *Bus) Subscribe(taskID uuid.UUID, bufSize int) <-chan ProgressEvent {
	if bufSize <= 0 {
		bufSize = 64
	}
	ch := make(chan ProgressEvent, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.subs[taskID] = append(b.subs[taskID], ch)
	return ch
}

// Unsubscribe removes a listener registered with Subscribe and closes its
// channel. A channel not on the topic is ignored.
func (b *Bus) Unsubscribe(taskID uuid.UUID, ch <-chan ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	channels := b.subs[taskID]
	for i, sub := range channels {
		if sub == ch {
			b.subs[taskID] = append(channels[:i], channels[i+1:]...)
			close(sub)
			break
		}
	}
	if len(b.subs[taskID]) == 0 {
		delete(b.subs, taskID)
	}
}

// Publish fans an event out to the task's subscribers without blocking.
func (b *Bus) Publish(ev ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs[ev.TaskID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// CloseTopic closes every subscriber channel for a task. Called after the
// terminal event is published so streams end cleanly.
func (b *Bus) CloseTopic(taskID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs[taskID] {
		close(ch)
	}
	delete(b.subs, taskID)
}

// Close shuts the bus down and closes every subscriber channel. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	b.subs = nil
}
