package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func ollamaReply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"model":   "llama3.2",
		"message": map[string]string{"role": "assistant", "content": content},
		"done":    true,
	})
}

func openAIReply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
}

func TestOllama_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
			t.Errorf("got %s %s, want POST /api/chat", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization header sent without api key: %q", got)
		}

		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "llama3.2" {
			t.Errorf("model: got %q", req.Model)
		}
		if req.Stream {
			t.Error("stream should be false")
		}
		if req.Options.Temperature != 0.7 || req.Options.NumPredict != 500 {
			t.Errorf("options: got %+v", req.Options)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "Define ephemeral" {
			t.Errorf("messages: got %+v", req.Messages)
		}
		ollamaReply(w, "  lasting a short time\n")
	}))
	defer server.Close()

	c := NewOllama(Config{BaseURL: server.URL + "/", Model: "llama3.2", Temperature: 0.7, MaxTokens: 500, Timeout: time.Second})
	got, err := c.Generate(context.Background(), "You are a dictionary.", "Define ephemeral")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "lasting a short time" {
		t.Errorf("got %q", got)
	}
}

func TestOllama_BlankSystemPromptOmitted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("messages: got %+v", req.Messages)
		}
		ollamaReply(w, "ok")
	}))
	defer server.Close()

	c := NewOllama(Config{BaseURL: server.URL, Model: "m", Timeout: time.Second})
	if _, err := c.Generate(context.Background(), "   ", "hi"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
}

func TestGenerate_StripsReasoning(t *testing.T) {
	const reply = "<think>\nThe user wants a short gloss.\n</think>\n\ncat"
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ollamaReply(w, reply)
	}))
	defer ollama.Close()
	openai := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		openAIReply(w, reply)
	}))
	defer openai.Close()

	clients := map[string]Client{
		"ollama": NewOllama(Config{BaseURL: ollama.URL, Model: "qwen3", Timeout: time.Second}),
		"openai": NewOpenAI(Config{BaseURL: openai.URL, Model: "qwen3", Timeout: time.Second}),
	}
	for name, c := range clients {
		got, err := c.Generate(context.Background(), "", "neko")
		if err != nil {
			t.Fatalf("%s: Generate: %v", name, err)
		}
		if got != "cat" {
			t.Errorf("%s: got %q, want %q", name, got, "cat")
		}
	}
}

func TestOpenAI_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key-123" {
			t.Errorf("auth: got %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("content-type: got %q", got)
		}

		var req openAIChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Temperature != 0.2 || req.MaxTokens != 64 {
			t.Errorf("params: temperature=%v max_tokens=%d", req.Temperature, req.MaxTokens)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("messages: got %+v", req.Messages)
		}
		openAIReply(w, "generated")
	}))
	defer server.Close()

	c, err := New(Config{
		BaseURL:     server.URL + "/v1",
		APIKey:      "test-key-123",
		Model:       "gpt-4o-mini",
		Mode:        ModeOpenAI,
		Temperature: 0.2,
		MaxTokens:   64,
		Timeout:     time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Generate(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "generated" {
		t.Errorf("got %q", got)
	}
}

func TestOpenAI_NoKeyNoHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("unexpected Authorization %q", got)
		}
		openAIReply(w, "ok")
	}))
	defer server.Close()

	c := NewOpenAI(Config{BaseURL: server.URL, Model: "local", Timeout: time.Second})
	if _, err := c.Generate(context.Background(), "", "hi"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		mode       Mode
		status     int
		header     map[string]string
		body       string
		wantKind   Kind
		wantRetry  time.Duration
		wantInMsg  string
		transient  bool
	}{
		{"401", ModeOpenAI, 401, nil, `{"error":{"message":"invalid api key"}}`, KindAuth, 0, "invalid api key", false},
		{"403", ModeOpenAI, 403, nil, `forbidden`, KindAuth, 0, "forbidden", false},
		{"429 retry-after", ModeOpenAI, 429, map[string]string{"Retry-After": "3"}, `{"error":{"message":"slow down"}}`, KindRateLimit, 3 * time.Second, "slow down", true},
		{"500", ModeOllama, 500, nil, `{"error":"model crashed"}`, KindServer, 0, "model crashed", true},
		{"504", ModeOllama, 504, nil, ``, KindTimeout, 0, "Gateway Timeout", true},
		{"404 model", ModeOllama, 404, nil, `{"error":"model \"nope\" not found"}`, KindRequest, 0, "not found", false},
		{"200 bad json", ModeOllama, 200, nil, `not json`, KindProtocol, 0, "unmarshal response", false},
		{"200 missing message", ModeOllama, 200, nil, `{"done":true}`, KindProtocol, 0, "message.content", false},
		{"200 ollama error", ModeOllama, 200, nil, `{"error":"out of memory"}`, KindProtocol, 0, "out of memory", false},
		{"200 empty choices", ModeOpenAI, 200, nil, `{"choices":[]}`, KindProtocol, 0, "empty choices", false},
		{"200 missing content", ModeOpenAI, 200, nil, `{"choices":[{"message":{"role":"assistant"}}]}`, KindProtocol, 0, "choices[0].message.content", false},
		{"200 error payload", ModeOpenAI, 200, nil, `{"error":{"message":"quota"}}`, KindProtocol, 0, "quota", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c, err := New(Config{BaseURL: server.URL, Model: "m", Mode: tt.mode, Timeout: time.Second})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = c.Generate(context.Background(), "", "prompt")
			if err == nil {
				t.Fatal("expected error")
			}
			be := AsError(err)
			if be.Kind != tt.wantKind {
				t.Errorf("kind: got %s, want %s (%v)", be.Kind, tt.wantKind, err)
			}
			if be.RetryAfter != tt.wantRetry {
				t.Errorf("retry after: got %v, want %v", be.RetryAfter, tt.wantRetry)
			}
			if !strings.Contains(be.Message, tt.wantInMsg) {
				t.Errorf("message %q does not contain %q", be.Message, tt.wantInMsg)
			}
			if be.Transient() != tt.transient {
				t.Errorf("transient: got %v, want %v", be.Transient(), tt.transient)
			}
		})
	}
}

func TestGenerate_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Delay longer than the client timeout
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	c := NewOllama(Config{BaseURL: server.URL, Model: "m", Timeout: 50 * time.Millisecond})
	_, err := c.Generate(context.Background(), "", "test")
	if !IsKind(err, KindTimeout) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
}

func TestGenerate_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := NewOllama(Config{BaseURL: url, Model: "m", Timeout: time.Second})
	_, err := c.Generate(context.Background(), "", "test")
	if !IsKind(err, KindConnection) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
}

func TestGenerate_Canceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ollamaReply(w, "late")
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewOllama(Config{BaseURL: server.URL, Model: "m", Timeout: time.Second})
	_, err := c.Generate(ctx, "", "test")
	if !IsKind(err, KindCanceled) {
		t.Fatalf("expected CanceledError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error should wrap context.Canceled: %v", err)
	}
}

func TestGenerate_RedactsAPIKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"key sk-secret-999 revoked"}}`))
	}))
	defer server.Close()

	c := NewOpenAI(Config{BaseURL: server.URL, APIKey: "sk-secret-999", Model: "m", Timeout: time.Second})
	_, err := c.Generate(context.Background(), "", "x")
	if err == nil || strings.Contains(err.Error(), "sk-secret-999") {
		t.Fatalf("api key leaked or no error: %v", err)
	}
}

func TestTestConnection_Ollama(t *testing.T) {
	var tags, chats atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			tags.Add(1)
			w.Write([]byte(`{"models":[{"name":"llama3.2"}]}`))
		case "/api/chat":
			chats.Add(1)
			var req ollamaChatRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Options.NumPredict != probeTokens {
				t.Errorf("probe num_predict: got %d", req.Options.NumPredict)
			}
			ollamaReply(w, "Hello")
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	err := TestConnection(context.Background(), Config{BaseURL: server.URL, Model: "llama3.2", Mode: ModeOllama, Timeout: time.Second})
	if err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if tags.Load() != 1 || chats.Load() != 1 {
		t.Errorf("calls: tags=%d chats=%d", tags.Load(), chats.Load())
	}
}

func TestTestConnection_OpenAIAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	defer server.Close()

	err := TestConnection(context.Background(), Config{BaseURL: server.URL, Model: "m", Mode: ModeOpenAI, Timeout: time.Second})
	be := AsError(err)
	if be == nil || be.Kind != KindAuth || be.StatusCode != 401 {
		t.Fatalf("expected AuthError 401, got %v", err)
	}
}

func TestNew_UnknownMode(t *testing.T) {
	if _, err := New(Config{Mode: "gemini"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
	if err := TestConnection(context.Background(), Config{Mode: "gemini"}); !IsKind(err, KindRequest) {
		t.Errorf("TestConnection unknown mode: got %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("7"); got != 7*time.Second {
		t.Errorf("seconds: got %v", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("empty: got %v", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Errorf("garbage: got %v", got)
	}
	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 0 || got > 91*time.Second {
		t.Errorf("http date: got %v", got)
	}
}
