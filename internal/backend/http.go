package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResponseBody = 4 << 20

// httpTransport is the shared POST/GET plumbing of both protocol variants.
type httpTransport struct {
	client  *http.Client
	baseURL string
	apiKey  string
	timeout time.Duration
}

func newTransport(cfg Config, opts []Option) *httpTransport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	t := &httpTransport{
		client:  &http.Client{Timeout: timeout},
		baseURL: normalizeBaseURL(cfg.BaseURL, cfg.Mode),
		apiKey:  cfg.APIKey,
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// do sends one request under the hard per-call deadline and returns the
// raw response body of a 2xx response.
func (t *httpTransport) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	url := t.baseURL + path

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &Error{Kind: KindProtocol, Message: fmt.Sprintf("marshal request: %v", err), Err: err}
		}
		body = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Message: fmt.Sprintf("create request: %v", err), Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, redact(transportError(ctx, url, err), t.apiKey)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, redact(transportError(ctx, url, err), t.apiKey)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, redact(statusError(resp, respBody), t.apiKey)
	}
	return respBody, nil
}

func decode(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{
			Kind:    KindProtocol,
			Message: fmt.Sprintf("unmarshal response: %v: %s", err, truncate(string(body), maxErrorBody)),
			Err:     err,
		}
	}
	return nil
}

func protocolError(format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Message: fmt.Sprintf(format, args...)}
}
