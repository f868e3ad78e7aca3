package pipe

import (
	"time"

	"github.com/danmuck/pipectl/internal/config"
	"github.com/danmuck/pipectl/internal/protocol/frame"
)

// Config defines per-pipe transport defaults.
type Config struct {
	// Primary selects the id half this side allocates from.
	Primary bool
	// AsyncDispatch moves control delegate calls onto a per-pipe serial queue.
	AsyncDispatch      bool
	DispatchQueueDepth int
	ConnectTimeout     time.Duration
	// ReadTimeout of zero waits for the peer indefinitely.
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	MaxConnectAttempts int
	Limits             frame.Limits
	Backoff            BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		DispatchQueueDepth: 64,
		ConnectTimeout:     5 * time.Second,
		WriteTimeout:       15 * time.Second,
		MaxConnectAttempts: 5,
		Limits:             frame.DefaultLimits(),
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithFile overlays the non-zero fields of a loaded [pipe] table.
func (c Config) WithFile(pc config.PipeConfig) Config {
	c.Primary = pc.Primary
	c.AsyncDispatch = pc.AsyncDispatch
	if pc.DispatchQueueDepth > 0 {
		c.DispatchQueueDepth = pc.DispatchQueueDepth
	}
	if pc.MaxMessageBytes > 0 {
		c.Limits.MaxMessageBytes = pc.MaxMessageBytes
	}
	if d := pc.ConnectTimeout(); d > 0 {
		c.ConnectTimeout = d
	}
	if d := pc.ReadTimeout(); d > 0 {
		c.ReadTimeout = d
	}
	if d := pc.WriteTimeout(); d > 0 {
		c.WriteTimeout = d
	}
	if pc.MaxConnectAttempts > 0 {
		c.MaxConnectAttempts = pc.MaxConnectAttempts
	}
	return c
}
