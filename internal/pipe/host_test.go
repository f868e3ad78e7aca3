package pipe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/danmuck/pipectl/internal/endpoint"
	"github.com/danmuck/pipectl/internal/protocol/pipecontrol"
	"github.com/danmuck/pipectl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestHostAndDialExchangeClosure(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	attached := make(chan *Pipe, 1)
	host := NewHost(testConfig(true), func(p *Pipe) {
		_ = p.Endpoints().Attach(pipecontrol.InterfaceIDNamespaceMask | 1)
		attached <- p
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- host.Serve(ctx, ln) }()

	client, err := Dial(ctx, ln.Addr().String(), testConfig(false))
	require.NoError(t, err)
	defer client.Close()
	go func() { _ = client.Serve(ctx) }()

	var remote *Pipe
	select {
	case remote = <-attached:
	case <-time.After(waitFor):
		t.Fatal("host did not accept")
	}
	found, ok := host.Lookup(remote.ID().String())
	require.True(t, ok)
	require.Same(t, remote, found)
	require.Len(t, host.Pipes(), 1)

	id, err := client.Endpoints().Allocate()
	require.NoError(t, err)
	require.Equal(t, pipecontrol.InterfaceIDNamespaceMask|1, id)
	require.NoError(t, client.CloseEndpoint(id, &pipecontrol.DisconnectReason{CustomReason: 7, Description: "bye"}))

	require.Eventually(t, func() bool {
		ep, ok := remote.Endpoints().Get(id)
		return ok && ep.State == endpoint.StatePeerClosed
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, host.Close())
	require.Empty(t, host.Pipes())
	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("host did not stop")
	}
}

func TestDialGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := testConfig(false)
	cfg.MaxConnectAttempts = 3
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 2}
	_, err = Dial(context.Background(), addr, cfg)
	require.ErrorContains(t, err, "after 3 attempts")
}

func TestDialStopsOnContext(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := testConfig(false)
	cfg.MaxConnectAttempts = 10
	cfg.Backoff = BackoffConfig{InitialDelay: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = Dial(ctx, addr, cfg)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
