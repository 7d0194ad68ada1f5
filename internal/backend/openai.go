package backend

import (
	"context"
	"net/http"

	"github.com/suykerbuyk/cardfill/internal/sanitize"
)

// OpenAI speaks the OpenAI-compatible chat completions protocol (OpenAI,
// Groq, OpenRouter, xAI, vLLM, llama.cpp server, ...). BaseURL includes
// the version prefix, e.g. https://api.openai.com/v1.
type OpenAI struct {
	t           *httpTransport
	model       string
	temperature float64
	maxTokens   int
}

// NewOpenAI builds an OpenAI-compatible client. A missing API key is not
// rejected here; providers that need one answer with an AuthError.
func NewOpenAI(cfg Config, opts ...Option) *OpenAI {
	cfg.Mode = ModeOpenAI
	return &OpenAI{
		t:           newTransport(cfg, opts),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (o *OpenAI) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return o.chat(ctx, systemPrompt, userPrompt, o.maxTokens)
}

func (o *OpenAI) chat(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	req := openAIChatRequest{
		Model:       o.model,
		Messages:    buildMessages(systemPrompt, userPrompt),
		Temperature: o.temperature,
		MaxTokens:   maxTokens,
	}

	body, err := o.t.do(ctx, http.MethodPost, "/chat/completions", req)
	if err != nil {
		return "", err
	}

	var resp openAIChatResponse
	if err := decode(body, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", redact(protocolError("API error: %s", resp.Error.Message), o.t.apiKey)
	}
	if len(resp.Choices) == 0 {
		return "", protocolError("empty choices in response")
	}
	msg := resp.Choices[0].Message
	if msg == nil || msg.Content == nil {
		return "", protocolError("response has no choices[0].message.content")
	}
	return sanitize.StripReasoning(*msg.Content), nil
}
