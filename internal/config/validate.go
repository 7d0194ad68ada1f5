package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/suykerbuyk/cardfill/internal/backend"
	"github.com/suykerbuyk/cardfill/internal/mapping"
)

// ConfigError is one configuration problem found at load time.
type ConfigError struct {
	NoteType string
	Field    string
	Message  string
}

func (e *ConfigError) Error() string {
	switch {
	case e.NoteType != "" && e.Field != "":
		return fmt.Sprintf("config: %s.%s: %s", e.NoteType, e.Field, e.Message)
	case e.NoteType != "":
		return fmt.Sprintf("config: %s: %s", e.NoteType, e.Message)
	case e.Field != "":
		return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
	}
	return "config: " + e.Message
}

// MappingErrors joins the error-severity mapping problems of the last
// load, or returns nil.
func (c Config) MappingErrors() error {
	var errs []error
	for _, p := range c.Problems {
		if p.Severity != mapping.SeverityError {
			continue
		}
		errs = append(errs, &ConfigError{NoteType: p.NoteType, Field: p.Field, Message: p.Message})
	}
	return errors.Join(errs...)
}

func (c Config) validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch backend.Mode(strings.ToLower(strings.TrimSpace(c.APIMode))) {
	case backend.ModeOllama, backend.ModeOpenAI:
	default:
		bad("api_mode", "unknown mode %q (want ollama or openai)", c.APIMode)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		bad("temperature", "%.2f out of range 0.0-2.0", c.Temperature)
	}
	if c.MaxTokens <= 0 {
		bad("max_tokens", "must be positive, got %d", c.MaxTokens)
	}
	if c.Timeout <= 0 {
		bad("timeout", "must be positive, got %d", c.Timeout)
	}
	if c.DelayBetweenRequestsMs < 0 {
		bad("delay_between_requests_ms", "must not be negative, got %d", c.DelayBetweenRequestsMs)
	}

	r := c.Retry
	if r.MaxAttempts < 1 {
		bad("retry.max_attempts", "must be at least 1, got %d", r.MaxAttempts)
	}
	if r.InitialDelayMs < 0 {
		bad("retry.initial_delay_ms", "must not be negative, got %d", r.InitialDelayMs)
	}
	if r.MaxDelayMs < r.InitialDelayMs {
		bad("retry.max_delay_ms", "must be at least initial_delay_ms (%d), got %d", r.InitialDelayMs, r.MaxDelayMs)
	}
	if r.Multiplier < 1 {
		bad("retry.multiplier", "must be at least 1.0, got %.2f", r.Multiplier)
	}

	return errors.Join(errs...)
}
