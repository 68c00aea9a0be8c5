package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy controls [Retry].
type RetryPolicy struct {
	// Name labels log messages.
	Name string

	// MaxAttempts is the total number of calls, including the first one.
	// Values below 1 mean 1.
	MaxAttempts int

	// Backoff is the wait after the first failure. It doubles after every
	// further failure. Default: 1s.
	Backoff time.Duration

	// MaxBackoff caps the wait. Default: 30s.
	MaxBackoff time.Duration

	// Sleep replaces the context-aware wait. Tests use it to avoid real
	// delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Permanent marks err as not worth retrying. [Retry] returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Retry calls fn until it succeeds, returns a [Permanent] error, ctx ends or
// the policy runs out of attempts. The returned error wraps the last failure.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)
	wait := p.Backoff
	if wait <= 0 {
		wait = time.Second
	}
	limit := p.MaxBackoff
	if limit <= 0 {
		limit = 30 * time.Second
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == attempts {
			break
		}
		slog.Warn("retrying after failure", "name", p.Name, "attempt", attempt, "wait", wait, "err", err)
		if serr := sleep(ctx, wait); serr != nil {
			return fmt.Errorf("%s: retry aborted: %w", p.Name, errors.Join(serr, err))
		}
		wait = min(wait*2, limit)
	}
	if attempts == 1 {
		return err
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", p.Name, attempts, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
