package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/suykerbuyk/cardfill/internal/sanitize"
)

// Kind classifies a backend failure.
type Kind string

const (
	KindConnection Kind = "ConnectionError"
	KindTimeout    Kind = "TimeoutError"
	KindAuth       Kind = "AuthError"
	KindProtocol   Kind = "ProtocolError"
	KindRateLimit  Kind = "RateLimitError"
	KindServer     Kind = "ServerError"
	KindRequest    Kind = "RequestError"
	KindCanceled   Kind = "CanceledError"
)

const maxErrorBody = 512

// Error is the normalized failure returned by every Client.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int           // HTTP status, 0 when no response was received
	RetryAfter time.Duration // provider hint for RateLimitError
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether retrying the same request may succeed.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindConnection, KindTimeout, KindRateLimit, KindServer:
		return true
	default:
		return false
	}
}

// AsError extracts a *Error from err. Errors that did not originate in
// this package are reported as ProtocolError.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return &Error{Kind: KindProtocol, Message: err.Error(), Err: err}
}

// IsKind reports whether err is a backend error of kind k.
func IsKind(err error, k Kind) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == k
}

// transportError classifies a failure of http.Client.Do.
func transportError(ctx context.Context, url string, err error) *Error {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return &Error{Kind: KindCanceled, Message: "request canceled", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: fmt.Sprintf("no response from %s before deadline", url), Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Message: fmt.Sprintf("no response from %s before deadline", url), Err: err}
	}
	return &Error{Kind: KindConnection, Message: fmt.Sprintf("cannot reach %s: %v", url, unwrapURLError(err)), Err: err}
}

func unwrapURLError(err error) error {
	if u := errors.Unwrap(err); u != nil {
		return u
	}
	return err
}

// statusError classifies a non-2xx response.
func statusError(resp *http.Response, body []byte) *Error {
	msg := providerMessage(body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	e := &Error{StatusCode: resp.StatusCode, Message: msg}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e.Kind = KindAuth
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = KindRateLimit
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		e.Kind = KindTimeout
	case resp.StatusCode >= 500:
		e.Kind = KindServer
	default:
		e.Kind = KindRequest
	}
	return e
}

// providerMessage pulls a human-readable message out of an error body.
// OpenAI-style providers send {"error":{"message":...}}, Ollama sends
// {"error":"..."}.
func providerMessage(body []byte) string {
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && len(env.Error) > 0 {
		var s string
		if json.Unmarshal(env.Error, &s) == nil && s != "" {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(env.Error, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
	}
	return truncate(strings.TrimSpace(string(body)), maxErrorBody)
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...[truncated]"
}

func redact(e *Error, apiKey string) *Error {
	if e == nil || apiKey == "" {
		return e
	}
	e.Message = sanitize.Redact(e.Message, apiKey)
	return e
}
