// Package retry runs operations again when they fail in a way that
// might not happen next time. Only errors that declare themselves
// transient (see errors.IsTransient) are retried; anything else is
// returned straight away.
package retry

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"

	fluxerr "github.com/fluxcd/conveyor/pkg/errors"
)

// Backoff describes a bounded exponential backoff.
type Backoff struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Factor multiplies the delay after each attempt.
	Factor float64
	// Max caps any single delay.
	Max time.Duration
	// Attempts is the total number of attempts, including the first.
	Attempts int
}

// DefaultBackoff suits calls to registries and cluster APIs.
var DefaultBackoff = Backoff{
	Initial:  200 * time.Millisecond,
	Factor:   2,
	Max:      5 * time.Second,
	Attempts: 5,
}

func (b Backoff) delay(attempt int) time.Duration {
	d := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		d *= b.Factor
		if time.Duration(d) >= b.Max {
			return b.Max
		}
	}
	return time.Duration(d)
}

// Do calls f until it succeeds, returns a terminal error, runs out
// of attempts, or the context is done. The last error from f is
// returned in the latter cases, so callers see why it gave up.
func (b Backoff) Do(ctx context.Context, logger log.Logger, op string, f func(context.Context) error) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = f(ctx); err == nil || !fluxerr.IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		delay := b.delay(attempt)
		if logger != nil {
			logger.Log("op", op, "attempt", attempt, "retry-in", delay, "err", err)
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
	}
	return err
}
