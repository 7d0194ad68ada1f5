package backend

import (
	"context"
	"net/http"

	"github.com/suykerbuyk/cardfill/internal/sanitize"
)

// Ollama speaks Ollama's native chat protocol.
type Ollama struct {
	t           *httpTransport
	model       string
	temperature float64
	maxTokens   int
}

// NewOllama builds an Ollama client. No Authorization header is sent
// unless cfg.APIKey is set (e.g. behind an authenticating proxy).
func NewOllama(cfg Config, opts ...Option) *Ollama {
	cfg.Mode = ModeOllama
	return &Ollama{
		t:           newTransport(cfg, opts),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (o *Ollama) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return o.chat(ctx, systemPrompt, userPrompt, o.maxTokens)
}

func (o *Ollama) chat(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	req := ollamaChatRequest{
		Model:    o.model,
		Messages: buildMessages(systemPrompt, userPrompt),
		Stream:   false,
		Options: ollamaOptions{
			Temperature: o.temperature,
			NumPredict:  maxTokens,
		},
	}

	body, err := o.t.do(ctx, http.MethodPost, "/api/chat", req)
	if err != nil {
		return "", err
	}

	var resp ollamaChatResponse
	if err := decode(body, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", protocolError("ollama error: %s", resp.Error)
	}
	if resp.Message == nil || resp.Message.Content == nil {
		return "", protocolError("response has no message.content: %s", truncate(string(body), maxErrorBody))
	}
	return sanitize.StripReasoning(*resp.Message.Content), nil
}

// ping checks that the server answers /api/tags.
func (o *Ollama) ping(ctx context.Context) error {
	body, err := o.t.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return err
	}
	var tags ollamaTagsResponse
	return decode(body, &tags)
}
