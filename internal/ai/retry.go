package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"
)

// retrier runs an attempt function with capped exponential backoff. Sleeps
// honour ctx so a planning timeout never waits out a backoff.
type retrier struct {
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newRetrier(attempts int, base, max time.Duration, defAttempts int, defBase, defMax time.Duration) retrier {
	if attempts <= 0 {
		attempts = defAttempts
	}
	if base <= 0 {
		base = defBase
	}
	if max <= 0 {
		max = defMax
	}
	return retrier{attempts: attempts, baseDelay: base, maxDelay: max}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// permanent marks err as not worth retrying.
func permanent(err error) error { return &permanentError{err: err} }

// do calls fn until it succeeds, returns a permanent error, or attempts run
// out. fn may return a positive wait to override the backoff (Retry-After).
func (r retrier) do(ctx context.Context, fn func(last bool) (time.Duration, error)) error {
	backoff := r.baseDelay
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last := attempt >= r.attempts
		wait, err := fn(last)
		if err == nil {
			return nil
		}
		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}
		if last {
			return err
		}
		if wait <= 0 {
			wait = withJitter(backoff)
			if wait > r.maxDelay {
				wait = r.maxDelay
			}
			backoff *= 2
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
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

func isRetryableNetErr(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// retryAfter reads a Retry-After header as a wait duration; 0 when absent.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := parseRetryAfterSeconds(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// parseRetryAfterSeconds interprets a Retry-After value as seconds or an HTTP date.
func parseRetryAfterSeconds(v string) (int, error) {
	if s, err := strconv.Atoi(v); err == nil {
		return s, nil
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return int(d.Seconds()), nil
	}
	return 0, fmt.Errorf("invalid Retry-After: %q", v)
}

// withJitter applies +/- 20% jitter to d.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 500 * time.Millisecond
	}
	out := time.Duration(float64(d) * (0.8 + rand.Float64()*0.4))
	if out <= 0 {
		return d
	}
	return out
}
