// Package resilience holds the retry and circuit-breaking primitives used by
// the scraper when it talks to the browser.
package resilience

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	apperr "github.com/GriffinCanCode/tablewatch/internal/errors"
)

// Policy describes capped exponential backoff.
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	JitterFactor float64
	IsRetryable  func(error) bool
	// Sleep waits between attempts. Nil means a timer honouring ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// ConnectPolicy is the tab-discovery schedule: 2s, 4s, 8s, 8s...
func ConnectPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   DefaultConnectBaseDelay,
		Multiplier:  2,
		MaxDelay:    DefaultConnectMaxDelay,
		IsRetryable: apperr.IsRetryable,
	}
}

// ReadyPolicy polls a freshly launched browser until its endpoint answers.
func ReadyPolicy() Policy {
	return Policy{
		MaxAttempts: int(DefaultReadyBudget / DefaultReadyStep),
		BaseDelay:   DefaultReadyStep,
		Multiplier:  1,
		MaxDelay:    DefaultReadyStep,
		IsRetryable: apperr.IsRetryable,
	}
}

// Delay returns the wait after the given zero-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) || math.IsInf(d, 0) {
		d = float64(p.MaxDelay)
	}
	if p.JitterFactor > 0 {
		d += d * p.JitterFactor * (rand.Float64() - 0.5)
	}
	return time.Duration(d)
}

// Retry calls fn until it succeeds, returns a non-retryable error, ctx ends or
// MaxAttempts calls have been made. fn receives the zero-based attempt.
func Retry(ctx context.Context, p Policy, fn func(attempt int) error) error {
	p = p.withDefaults()
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return apperr.Wrap(err, apperr.CodeCancelled, "retry aborted")
		}
		if lastErr = fn(attempt); lastErr == nil {
			return nil
		}
		if !p.IsRetryable(lastErr) || attempt == p.MaxAttempts-1 {
			return lastErr
		}

		delay := p.Delay(attempt)
		slog.Debug("retrying after error", "attempt", attempt+1, "max", p.MaxAttempts, "delay", delay, "error", lastErr)
		if err := p.Sleep(ctx, delay); err != nil {
			return apperr.Wrap(err, apperr.CodeCancelled, "retry aborted")
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultConnectBaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultConnectMaxDelay
	}
	if p.IsRetryable == nil {
		p.IsRetryable = apperr.IsRetryable
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return p
}
