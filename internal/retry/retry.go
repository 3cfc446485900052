package retry

import (
	"context"
	"log/slog"
	"time"
)

// Policy is a bounded retry schedule with a fixed delay between
// attempts. The zero value performs a single attempt.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// Do runs fn until it succeeds, the attempt budget is exhausted, or ctx
// is cancelled. The last error is returned on exhaustion. op names the
// operation for logging.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		slog.Debug("retrying operation", "op", op, "attempt", i, "error", err)
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
