package sim

import (
	"context"
	"fmt"
	"net"
	"time"

	boff "github.com/Andrej220/go-utils/backoff"
	lg "github.com/Andrej220/go-utils/zlog"
)

const (
	defaultAttempts     = 10
	defaultInitialRetry = 200 * time.Millisecond
	defaultMaxRetry     = 5 * time.Second
)

// RetryPolicy describes how many times and how often a dial is retried.
// Zero values are treated as "use defaults".
type RetryPolicy struct {
	// Attempts is the maximum number of tries.
	Attempts int

	// Initial is the first backoff duration.
	Initial time.Duration

	// Max is the cap for backoff duration.
	Max time.Duration
}

func (rp *RetryPolicy) FillDefaults() {
	if rp.Attempts <= 0 {
		rp.Attempts = defaultAttempts
	}
	if rp.Initial <= 0 {
		rp.Initial = defaultInitialRetry
	}
	if rp.Max < rp.Initial {
		rp.Max = max(defaultMaxRetry, rp.Initial)
	}
}

// Dial connects to addr, backing off between failed attempts.
func Dial(ctx context.Context, addr string, rp RetryPolicy) (net.Conn, error) {
	rp.FillDefaults()
	logger := lg.FromContext(ctx).With(lg.String("addr", addr))
	bo := boff.New(rp.Initial, rp.Max, time.Now().UnixNano())

	var d net.Dialer
	var lastErr error
	for attempt := 1; attempt <= rp.Attempts; attempt++ {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt == rp.Attempts {
			break
		}

		delay := bo.Next()
		logger.Warn("dial failed; backing off",
			lg.Int("attempt", attempt),
			lg.String("sleep", delay.String()),
			lg.Any("error", err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("sim: dial %s: %d attempts: %w", addr, rp.Attempts, lastErr)
}
