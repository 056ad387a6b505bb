package generate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClaudeClientComplete(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" || r.Header.Get("anthropic-version") != "2023-06-01" {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[{"type":"text","text":"##C001##hi"},{"type":"tool_use"},{"type":"text","text":"##END##"}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	stats := NewLLMStats(time.Hour)
	c := NewClaudeClient(ClaudeOptions{APIKey: "test-key", Model: "claude-test", BaseURL: srv.URL + "/", Temperature: 0.3, Stats: stats})
	text, err := c.Complete(context.Background(), "system text", "user text")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "##C001##hi##END##" {
		t.Errorf("unexpected text %q", text)
	}
	if got.Model != "claude-test" || got.System != "system text" || got.MaxTokens != 8192 || got.Temperature != 0.3 {
		t.Errorf("unexpected request %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "user text" {
		t.Errorf("unexpected messages %+v", got.Messages)
	}
	if snap := stats.Snapshot(); snap.Count != 1 {
		t.Errorf("expected one recorded call, got %+v", snap)
	}
}

func TestClaudeClientErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		retryable  bool
		overloaded bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, true, false},
		{"server error", http.StatusBadGateway, `oops`, true, false},
		{"overloaded", StatusOverloaded, `{"error":{"type":"overloaded_error"}}`, true, true},
		{"overloaded in body", http.StatusOK, `{"error":{"type":"overloaded_error","message":"busy"}}`, true, true},
		{"bad request", http.StatusBadRequest, `{"error":{"type":"invalid_request_error"}}`, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClaudeClient(ClaudeOptions{APIKey: "k", Model: "m", BaseURL: srv.URL})
			_, err := c.Complete(context.Background(), "", "p")
			if err == nil {
				t.Fatal("expected error")
			}
			var re *RetryableError
			if errors.As(err, &re) != tt.retryable {
				t.Fatalf("retryable=%v, got %v", tt.retryable, err)
			}
			if tt.retryable && re.Overloaded() != tt.overloaded {
				t.Errorf("overloaded=%v, got status %d", tt.overloaded, re.StatusCode)
			}
		})
	}
}

func TestClaudeClientEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[{"type":"text","text":"  "}]}`))
	}))
	defer srv.Close()

	c := NewClaudeClient(ClaudeOptions{APIKey: "k", Model: "m", BaseURL: srv.URL})
	text, err := c.Complete(context.Background(), "", "p")
	if err != nil {
		t.Fatalf("empty reply should reach the response parser, got %v", err)
	}
	var be *BatchError
	if _, err := ParseResponse(text, []string{"C001"}); !errors.As(err, &be) {
		t.Fatalf("expected a batch error for an empty reply, got %v", err)
	}
}

func TestClaudeClientTransportErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClaudeClient(ClaudeOptions{APIKey: "k", Model: "m", BaseURL: url})
	_, err := c.Complete(context.Background(), "", "p")
	var re *RetryableError
	if !errors.As(err, &re) || re.StatusCode != 0 {
		t.Fatalf("expected retryable transport error, got %v", err)
	}
}

func TestClaudeClientCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewClaudeClient(ClaudeOptions{APIKey: "k", Model: "m", BaseURL: srv.URL})
	_, err := c.Complete(ctx, "", "p")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
