// Package backend talks to LLM providers over HTTP. Two wire protocols are
// supported behind one Client interface: Ollama's native /api/chat and the
// OpenAI-compatible /chat/completions.
//
// Clients never retry; retry policy belongs to the caller.
package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Mode selects the wire protocol.
type Mode string

const (
	ModeOllama Mode = "ollama"
	ModeOpenAI Mode = "openai"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.2"
	DefaultTimeout = 60 * time.Second
)

// Config is the immutable backend configuration for one workflow.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Mode        Mode
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client generates text for a prompt.
type Client interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Option customizes a client at construction.
type Option func(*httpTransport)

// WithHTTPClient replaces the underlying *http.Client. Intended for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(t *httpTransport) {
		if c != nil {
			t.client = c
		}
	}
}

// New returns the Client variant for cfg.Mode.
func New(cfg Config, opts ...Option) (Client, error) {
	switch cfg.Mode {
	case ModeOllama, "":
		return NewOllama(cfg, opts...), nil
	case ModeOpenAI:
		return NewOpenAI(cfg, opts...), nil
	default:
		return nil, fmt.Errorf("unknown api_mode %q (want ollama or openai)", cfg.Mode)
	}
}

func normalizeBaseURL(base string, mode Mode) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" && mode != ModeOpenAI {
		base = DefaultBaseURL
	}
	return base
}

func buildMessages(systemPrompt, userPrompt string) []chatMessage {
	msgs := make([]chatMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: systemPrompt})
	}
	return append(msgs, chatMessage{Role: "user", Content: userPrompt})
}
