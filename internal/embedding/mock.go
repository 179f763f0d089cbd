package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
)

// MockClient derives a deterministic unit vector from the text: each word is
// hashed into a bucket, so texts sharing words come out similar. Good enough
// for related-task lookups in tests without a real embedding model.
type MockClient struct {
	EmbedError error
	Dimensions int

	mu sync.Mutex

	// Call tracking for assertions
	EmbedCalls []string
}

func NewMockClient() *MockClient {
	return &MockClient{Dimensions: 8}
}

func (c *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EmbedCalls = append(c.EmbedCalls, text)
	if c.EmbedError != nil {
		return nil, c.EmbedError
	}

	vec := make([]float32, c.Dimensions)
	h := fnv.New32a()
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h.Reset()
		_, _ = h.Write([]byte(word))
		vec[int(h.Sum32())%c.Dimensions]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

var _ domain.EmbeddingClient = (*MockClient)(nil)
