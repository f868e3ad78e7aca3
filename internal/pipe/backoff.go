package pipe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

var ErrInvalidBackoff = errors.New("pipe: invalid backoff")

// BackoffConfig paces reconnects in Dial. A zero value retries immediately.
type BackoffConfig struct {
	InitialDelay time.Duration
	// Multiplier below 1 is treated as 1.
	Multiplier float64
	// MaxDelay of zero leaves the delay unbounded.
	MaxDelay time.Duration
	Jitter   bool
}

func (b BackoffConfig) Validate() error {
	switch {
	case b.InitialDelay < 0:
		return fmt.Errorf("%w: negative initial delay %s", ErrInvalidBackoff, b.InitialDelay)
	case b.MaxDelay < 0:
		return fmt.Errorf("%w: negative max delay %s", ErrInvalidBackoff, b.MaxDelay)
	case b.MaxDelay > 0 && b.MaxDelay < b.InitialDelay:
		return fmt.Errorf("%w: max delay %s below initial delay %s", ErrInvalidBackoff, b.MaxDelay, b.InitialDelay)
	case math.IsNaN(b.Multiplier) || math.IsInf(b.Multiplier, 0):
		return fmt.Errorf("%w: multiplier %v", ErrInvalidBackoff, b.Multiplier)
	}
	return nil
}

// Delay is the pause after failed connect attempt n (1-based). With Jitter
// the result lies in [delay/2, 3*delay/2); a nil rng yields delay/2.
func (b BackoffConfig) Delay(n int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	delay := float64(b.InitialDelay)
	if n > 1 {
		delay *= math.Pow(math.Max(b.Multiplier, 1), float64(n-1))
	}
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.Jitter {
		f := 0.5
		if rng != nil {
			f += rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}

// connectRetry counts connect attempts for one Dial call.
type connectRetry struct {
	backoff  BackoffConfig
	attempts int
	rng      *rand.Rand
	failed   int
}

func newConnectRetry(cfg Config) (*connectRetry, error) {
	if err := cfg.Backoff.Validate(); err != nil {
		return nil, err
	}
	attempts := cfg.MaxConnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &connectRetry{
		backoff:  cfg.Backoff,
		attempts: attempts,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// fail records a failed attempt. It reports whether another attempt is
// allowed and, if so, the pause before it.
func (r *connectRetry) fail() (time.Duration, bool) {
	r.failed++
	if r.failed >= r.attempts {
		return 0, false
	}
	return r.backoff.Delay(r.failed, r.rng), true
}

// sleep waits d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
