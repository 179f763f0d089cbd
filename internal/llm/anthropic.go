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

const (
	anthropicMessagesURL = "https://api.anthropic.com/v1/messages"
	anthropicVersion     = "2023-06-01"
	anthropicMaxTokens   = 2048
)

type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		apiKey:     apiKey,
		baseURL:    anthropicMessagesURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func NewAnthropicClientWithBaseURL(apiKey, baseURL string) *AnthropicClient {
	c := NewAnthropicClient(apiKey)
	c.baseURL = baseURL
	return c
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *AnthropicClient) Complete(ctx context.Context, model, prompt string) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     model,
		MaxTokens: anthropicMaxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", &domain.CompletionError{Err: fmt.Errorf("marshal anthropic request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", &domain.CompletionError{Err: fmt.Errorf("create anthropic request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &domain.CompletionError{Err: fmt.Errorf("anthropic request failed: %w", err), Temporary: true}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.CompletionError{Err: fmt.Errorf("read anthropic response: %w", err), Temporary: true}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &domain.CompletionError{
			Err:       fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(respBody)),
			Temporary: retryableStatus(resp.StatusCode),
		}
	}

	var result anthropicResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &domain.CompletionError{Err: fmt.Errorf("unmarshal anthropic response: %w", err)}
	}

	if result.Error != nil {
		return "", &domain.CompletionError{Err: fmt.Errorf("anthropic API error: %s", result.Error.Message)}
	}

	if len(result.Content) == 0 {
		return "", &domain.CompletionError{Err: fmt.Errorf("anthropic API returned no content")}
	}

	return strings.TrimSpace(result.Content[0].Text), nil
}

var _ domain.CompletionClient = (*AnthropicClient)(nil)
