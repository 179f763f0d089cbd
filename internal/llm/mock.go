package llm

import (
	"context"
	"sync"
)

// CompleteCall records one Complete invocation for assertions.
type CompleteCall struct {
	Model  string
	Prompt string
}

type mockReply struct {
	response string
	err      error
}

// MockClient is a configurable completion client for testing. Queued replies
// are consumed one per call before falling back to CompleteResponse. The
// mutex keeps it safe under concurrent pool workers.
type MockClient struct {
	CompleteResponse string
	CompleteError    error

	mu    sync.Mutex
	queue []mockReply

	// Call tracking for assertions
	CompleteCalls []CompleteCall
}

func NewMockClient() *MockClient {
	return &MockClient{CompleteResponse: "{}"}
}

// Enqueue scripts the next reply. Replies are served in FIFO order.
func (c *MockClient) Enqueue(response string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, mockReply{response: response, err: err})
}

func (c *MockClient) Complete(ctx context.Context, model, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CompleteCalls = append(c.CompleteCalls, CompleteCall{Model: model, Prompt: prompt})
	if len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		return next.response, next.err
	}
	if c.CompleteError != nil {
		return "", c.CompleteError
	}
	return c.CompleteResponse, nil
}

// Calls returns a snapshot of recorded invocations.
func (c *MockClient) Calls() []CompleteCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CompleteCall, len(c.CompleteCalls))
	copy(out, c.CompleteCalls)
	return out
}

// Reset clears all recorded calls and scripted replies.
func (c *MockClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CompleteResponse = "{}"
	c.CompleteError = nil
	c.queue = nil
	c.CompleteCalls = nil
}
