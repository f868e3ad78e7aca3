package pipe

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// Dial connects to addr and wraps the connection in a pipe. Only the connect
// step is retried; nothing sent on the pipe ever is. Cancelling ctx stops
// both the connect and the pause between attempts.
func Dial(ctx context.Context, addr string, cfg Config) (*Pipe, error) {
	retry, err := newConnectRetry(cfg)
	if err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}

	var errs error
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return New(conn, cfg), nil
		}
		errs = multierr.Append(errs, err)
		delay, again := retry.fail()
		if !again {
			return nil, fmt.Errorf("pipe: dial %s failed after %d attempts: %w", addr, retry.failed, errs)
		}
		log.Debug().Err(err).Int("attempt", retry.failed).Dur("delay", delay).Str("addr", addr).Msg("pipe.Dial retrying")
		if err := sleep(ctx, delay); err != nil {
			return nil, multierr.Append(errs, err)
		}
	}
}
