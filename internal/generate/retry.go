package generate

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/suykerbuyk/cardfill/internal/backend"
)

// RetryPolicy bounds how transient backend failures are retried.
type RetryPolicy struct {
	MaxAttempts  int // total calls, including the first
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter is the randomization factor applied to each delay (0 = none).
	Jitter float64
}

// maxRetryAfter caps how long a provider may ask us to wait; longer hints
// fail the field instead.
const maxRetryAfter = 2 * time.Minute

// DefaultRetryPolicy returns three attempts with 0.5s to 5s backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		Jitter:       0.2,
	}
}

// NoRetry makes exactly one call.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// hintedBackOff is exponential backoff that waits at least as long as the
// last rate-limit response asked.
type hintedBackOff struct {
	exp  *backoff.ExponentialBackOff
	hint time.Duration
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	d := h.exp.NextBackOff()
	if h.hint > d {
		d = h.hint
	}
	h.hint = 0
	return d
}

func (h *hintedBackOff) Reset() {
	h.exp.Reset()
	h.hint = 0
}

func (p RetryPolicy) newBackOff() *hintedBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialDelay
	exp.MaxInterval = p.MaxDelay
	if exp.MaxInterval < exp.InitialInterval {
		exp.MaxInterval = exp.InitialInterval
	}
	exp.Multiplier = p.Multiplier
	if exp.Multiplier < 1 {
		exp.Multiplier = 1
	}
	exp.RandomizationFactor = p.Jitter
	return &hintedBackOff{exp: exp}
}

// call runs gen under the policy. Only transient backend errors are
// retried; the returned error is always a *backend.Error.
func (p RetryPolicy) call(ctx context.Context, gen func(attempt int) (string, error), notify func(err *backend.Error, wait time.Duration)) (string, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	bo := p.newBackOff()
	attempt := 0

	text, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		text, err := gen(attempt)
		if err == nil {
			return text, nil
		}
		be := backend.AsError(err)
		if !be.Transient() || be.RetryAfter > maxRetryAfter {
			return "", backoff.Permanent(be)
		}
		bo.hint = be.RetryAfter
		return "", be
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if notify != nil {
				notify(backend.AsError(err), wait)
			}
		}),
	)
	if err == nil {
		return text, nil
	}

	var be *backend.Error
	if errors.As(err, &be) {
		return "", be
	}
	// Retry gave up while waiting: the context ended between attempts.
	if errors.Is(err, context.DeadlineExceeded) {
		return "", &backend.Error{Kind: backend.KindTimeout, Message: "deadline exceeded while waiting to retry", Err: err}
	}
	return "", &backend.Error{Kind: backend.KindCanceled, Message: "canceled while waiting to retry", Err: err}
}
