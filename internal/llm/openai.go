package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
)

const openAIChatURL = "https://api.openai.com/v1/chat/completions"

type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey:     apiKey,
		baseURL:    openAIChatURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// NewOpenAIClientWithBaseURL points the client at an alternate endpoint,
// used for tests and OpenAI-compatible gateways.
func NewOpenAIClientWithBaseURL(apiKey, baseURL string) *OpenAIClient {
	c := NewOpenAIClient(apiKey)
	c.baseURL = baseURL
	return c
}

// chat types for OpenAI API
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	Temperature    float32             `json:"temperature"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a single-turn chat completion. JSON mode is always on; every
// prompt in this codebase asks for a JSON reply.
func (c *OpenAIClient) Complete(ctx context.Context, model, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:          model,
		Messages:       []chatMessage{{Role: "user", Content: prompt}},
		Temperature:    0,
		ResponseFormat: &chatResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", &domain.CompletionError{Err: fmt.Errorf("marshal chat request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", &domain.CompletionError{Err: fmt.Errorf("create chat request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &domain.CompletionError{Err: fmt.Errorf("chat request failed: %w", err), Temporary: true}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.CompletionError{Err: fmt.Errorf("read chat response: %w", err), Temporary: true}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &domain.CompletionError{
			Err:       fmt.Errorf("chat API returned status %d: %s", resp.StatusCode, string(respBody)),
			Temporary: retryableStatus(resp.StatusCode),
		}
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &domain.CompletionError{Err: fmt.Errorf("unmarshal chat response: %w", err)}
	}

	if result.Error != nil {
		return "", &domain.CompletionError{Err: fmt.Errorf("chat API error: %s", result.Error.Message)}
	}

	if len(result.Choices) == 0 {
		return "", &domain.CompletionError{Err: fmt.Errorf("chat API returned no choices")}
	}

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

var _ domain.CompletionClient = (*OpenAIClient)(nil)
