package backend

import (
	"context"
	"fmt"
)

const probeTokens = 5

// TestConnection checks that the backend is reachable and the model
// answers a tiny prompt. The returned error is a *Error so the caller can
// show its Kind and Message verbatim.
func TestConnection(ctx context.Context, cfg Config, opts ...Option) error {
	switch cfg.Mode {
	case ModeOllama, "":
		c := NewOllama(cfg, opts...)
		if err := c.ping(ctx); err != nil {
			return err
		}
		_, err := c.chat(ctx, "", "Hi", probeTokens)
		return err
	case ModeOpenAI:
		c := NewOpenAI(cfg, opts...)
		_, err := c.chat(ctx, "", "Hi", probeTokens)
		return err
	default:
		return &Error{Kind: KindRequest, Message: fmt.Sprintf("unknown api_mode %q", cfg.Mode)}
	}
}
