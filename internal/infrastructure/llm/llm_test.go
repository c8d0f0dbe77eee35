package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"OutreachEngine/internal/config"
	"OutreachEngine/internal/ports"
)

func TestChatGPTComplete(t *testing.T) {
	t.Parallel()

	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("unexpected auth header: %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Subject\n\nBody  "}}]}`))
	}))
	defer server.Close()

	client := NewChatGPTClient(config.ChatGPTConfig{Endpoint: server.URL, Model: "gpt-4o-mini", APIKey: "secret"})
	temp := 0.8
	reply, err := client.Complete(context.Background(), ports.CompletionRequest{Prompt: "hello", MaxTokens: 600, Temperature: &temp})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}

	if reply != "Subject\n\nBody" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if got.Model != "gpt-4o-mini" || got.MaxTokens != 600 {
		t.Fatalf("unexpected request: %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[1].Content != "hello" || got.Messages[0].Role != "system" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
	if got.Temperature == nil || *got.Temperature != 0.8 {
		t.Fatalf("temperature not forwarded: %v", got.Temperature)
	}
}

func TestChatGPTCompleteErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/empty") {
			_, _ = w.Write([]byte(`{"choices":[]}`))
			return
		}
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	limited := NewChatGPTClient(config.ChatGPTConfig{Endpoint: server.URL, Model: "m", APIKey: "k"})
	_, err := limited.Complete(context.Background(), ports.CompletionRequest{Prompt: "x"})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected status error with body, got %v", err)
	}

	empty := NewChatGPTClient(config.ChatGPTConfig{Endpoint: server.URL + "/empty", Model: "m", APIKey: "k"})
	if _, err := empty.Complete(context.Background(), ports.CompletionRequest{Prompt: "x"}); err == nil {
		t.Fatalf("expected error for empty choices")
	}

	if _, err := NewChatGPTClient(config.ChatGPTConfig{}).Complete(context.Background(), ports.CompletionRequest{}); err == nil {
		t.Fatalf("expected misconfiguration error")
	}
}

func TestGeminiComplete(t *testing.T) {
	t.Parallel()

	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-test:generateContent") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"relevanceScore\": 8}"}]}}]}`))
	}))
	defer server.Close()

	client, err := NewGeminiClient(context.Background(),
		config.GeminiConfig{Model: "gemini-test", APIKey: "key"},
		WithGeminiEndpoint(server.URL, server.Client()))
	if err != nil {
		t.Fatalf("NewGeminiClient error: %v", err)
	}

	reply, err := client.Complete(context.Background(), ports.CompletionRequest{Prompt: "analyze", MaxTokens: 500})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if reply != `{"relevanceScore": 8}` {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if body == nil {
		t.Fatalf("request body was not sent")
	}
}

func TestGeminiRequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := NewGeminiClient(context.Background(), config.GeminiConfig{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}
