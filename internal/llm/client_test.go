package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		apiKey   string
		wantErr  bool
	}{
		{"openai with key", ProviderOpenAI, "sk-test", false},
		{"openai without key", ProviderOpenAI, "", true},
		{"anthropic with key", ProviderAnthropic, "sk-ant", false},
		{"anthropic without key", ProviderAnthropic, "", true},
		{"mock without key", ProviderMock, "", false},
		{"unknown provider", "llama-at-home", "key", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.provider, tt.apiKey)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			if client == nil {
				t.Fatal("expected client, got nil")
			}
		})
	}
}

func TestOpenAIClientComplete(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"  {\"answer\":\"ok\"}  "}}]}`)
	}))
	defer srv.Close()

	client := NewOpenAIClientWithBaseURL("sk-test", srv.URL)
	got, err := client.Complete(context.Background(), "gpt-4o-mini", "say ok in JSON")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != `{"answer":"ok"}` {
		t.Errorf("content = %q, want trimmed JSON", got)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotReq.Model != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", gotReq.Model)
	}
	if gotReq.Temperature != 0 {
		t.Errorf("temperature = %v, want 0", gotReq.Temperature)
	}
	if gotReq.ResponseFormat == nil || gotReq.ResponseFormat.Type != "json_object" {
		t.Errorf("response_format = %+v, want json_object", gotReq.ResponseFormat)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Content != "say ok in JSON" {
		t.Errorf("messages = %+v", gotReq.Messages)
	}
}

func TestOpenAIClientCompleteStatuses(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantRetryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			client := NewOpenAIClientWithBaseURL("sk-test", srv.URL)
			_, err := client.Complete(context.Background(), "gpt-4o-mini", "hi JSON")
			if err == nil {
				t.Fatal("expected error")
			}
			var ce *domain.CompletionError
			if !errors.As(err, &ce) {
				t.Fatalf("error type = %T, want *domain.CompletionError", err)
			}
			if ce.Temporary != tt.wantRetryable {
				t.Errorf("Temporary = %v, want %v", ce.Temporary, tt.wantRetryable)
			}
			if domain.IsRetryable(err) != tt.wantRetryable {
				t.Errorf("IsRetryable = %v, want %v", domain.IsRetryable(err), tt.wantRetryable)
			}
		})
	}
}

func TestOpenAIClientCompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"message":"model overloaded"}}`)
	}))
	defer srv.Close()

	client := NewOpenAIClientWithBaseURL("sk-test", srv.URL)
	_, err := client.Complete(context.Background(), "gpt-4o", "hi JSON")
	if err == nil {
		t.Fatal("expected error")
	}
	var ce *domain.CompletionError
	if !errors.As(err, &ce) {
		t.Fatalf("error type = %T", err)
	}
	if ce.Temporary {
		t.Error("body-level API error should not be retryable")
	}
}

func TestAnthropicClientComplete(t *testing.T) {
	var gotKey, gotVersion string
	var gotReq anthropicRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"content":[{"type":"text","text":"{\"sufficient\":true}"}]}`)
	}))
	defer srv.Close()

	client := NewAnthropicClientWithBaseURL("sk-ant", srv.URL)
	got, err := client.Complete(context.Background(), "claude-3-5-haiku-20241022", "judge this JSON")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != `{"sufficient":true}` {
		t.Errorf("content = %q", got)
	}
	if gotKey != "sk-ant" {
		t.Errorf("x-api-key = %q", gotKey)
	}
	if gotVersion != anthropicVersion {
		t.Errorf("anthropic-version = %q", gotVersion)
	}
	if gotReq.Model != "claude-3-5-haiku-20241022" {
		t.Errorf("model = %q", gotReq.Model)
	}
	if gotReq.MaxTokens != anthropicMaxTokens {
		t.Errorf("max_tokens = %d, want %d", gotReq.MaxTokens, anthropicMaxTokens)
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  {\"a\":1}\n", `{"a":1}`},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFences(tt.in); got != tt.want {
				t.Errorf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMockClientQueue(t *testing.T) {
	mock := NewMockClient()
	mock.Enqueue(`{"first":true}`, nil)
	mock.Enqueue("", errors.New("scripted failure"))
	mock.CompleteResponse = `{"fallback":true}`

	got, err := mock.Complete(context.Background(), "gpt-4o", "one")
	if err != nil || got != `{"first":true}` {
		t.Fatalf("first call = %q, %v", got, err)
	}

	if _, err := mock.Complete(context.Background(), "gpt-4o", "two"); err == nil {
		t.Fatal("second call should return the scripted error")
	}

	got, err = mock.Complete(context.Background(), "gpt-4o-mini", "three")
	if err != nil || got != `{"fallback":true}` {
		t.Fatalf("third call = %q, %v", got, err)
	}

	calls := mock.Calls()
	if len(calls) != 3 {
		t.Fatalf("recorded %d calls, want 3", len(calls))
	}
	if calls[2].Model != "gpt-4o-mini" || calls[2].Prompt != "three" {
		t.Errorf("third call recorded as %+v", calls[2])
	}
}
