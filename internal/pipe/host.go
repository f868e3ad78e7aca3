package pipe

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// SetupFunc prepares a freshly accepted pipe, typically by registering
// interface handlers, before it starts serving.
type SetupFunc func(p *Pipe)

// Host accepts stream connections and runs one pipe per connection.
type Host struct {
	cfg   Config
	setup SetupFunc

	mu    sync.RWMutex
	pipes map[string]*Pipe
	wg    sync.WaitGroup
}

func NewHost(cfg Config, setup SetupFunc) *Host {
	return &Host{
		cfg:   cfg,
		setup: setup,
		pipes: make(map[string]*Pipe),
	}
}

// Serve accepts on ln until ctx ends or ln fails. It returns nil when ctx
// ended the loop.
func (h *Host) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	log.Info().Str("addr", ln.Addr().String()).Msg("pipe.Host listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		h.start(ctx, conn)
	}
}

func (h *Host) start(ctx context.Context, conn net.Conn) {
	p := New(conn, h.cfg)
	if h.setup != nil {
		h.setup(p)
	}
	key := p.ID().String()
	h.mu.Lock()
	h.pipes[key] = p
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			h.mu.Lock()
			delete(h.pipes, key)
			h.mu.Unlock()
		}()
		if err := p.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Str("pipe", key).Msg("pipe.Host pipe ended")
			return
		}
		log.Debug().Str("pipe", key).Msg("pipe.Host pipe ended")
	}()
}

// Pipes returns live pipes ordered by id.
func (h *Host) Pipes() []*Pipe {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Pipe, 0, len(h.pipes))
	for _, p := range h.pipes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID().String() < out[j].ID().String()
	})
	return out
}

func (h *Host) Lookup(id string) (*Pipe, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.pipes[id]
	return p, ok
}

// Close closes every live pipe and waits for their serve loops.
func (h *Host) Close() error {
	var err error
	for _, p := range h.Pipes() {
		err = multierr.Append(err, p.Close())
	}
	h.wg.Wait()
	return err
}
