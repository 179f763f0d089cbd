package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestOpenAIClientEmbed(t *testing.T) {
	var gotReq embeddingRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"data":[{"embedding":[0.1,0.2,0.3]}]}`)
	}))
	defer srv.Close()

	client := NewOpenAIClientWithBaseURL("sk-test", srv.URL)
	vec, err := client.Embed(context.Background(), "what is dark matter")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if !reflect.DeepEqual(vec, []float32{0.1, 0.2, 0.3}) {
		t.Errorf("embedding = %v", vec)
	}
	if gotReq.Model != embeddingModel {
		t.Errorf("model = %q, want %q", gotReq.Model, embeddingModel)
	}
	if gotReq.Input != "what is dark matter" {
		t.Errorf("input = %q", gotReq.Input)
	}
}

func TestOpenAIClientEmbedErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"server error", "boom", http.StatusInternalServerError},
		{"api error body", `{"error":{"message":"invalid key"}}`, http.StatusOK},
		{"empty data", `{"data":[]}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			client := NewOpenAIClientWithBaseURL("sk-test", srv.URL)
			if _, err := client.Embed(context.Background(), "q"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestMockClientDeterministic(t *testing.T) {
	mock := NewMockClient()

	a1, err := mock.Embed(context.Background(), "dark matter halo")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	a2, _ := mock.Embed(context.Background(), "dark matter halo")
	if !reflect.DeepEqual(a1, a2) {
		t.Error("same text should embed identically")
	}
	if len(a1) != mock.Dimensions {
		t.Errorf("dimensions = %d, want %d", len(a1), mock.Dimensions)
	}

	var norm float64
	for _, v := range a1 {
		norm += float64(v) * float64(v)
	}
	if norm < 0.99 || norm > 1.01 {
		t.Errorf("vector norm = %v, want ~1", norm)
	}

	if len(mock.EmbedCalls) != 2 {
		t.Errorf("recorded %d calls, want 2", len(mock.EmbedCalls))
	}
}
