// Package pipe binds a stream connection to the message router, the endpoint
// table and the pipe control sender of one message pipe.
package pipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danmuck/pipectl/internal/dispatch"
	"github.com/danmuck/pipectl/internal/endpoint"
	"github.com/danmuck/pipectl/internal/observability"
	"github.com/danmuck/pipectl/internal/protocol/frame"
	"github.com/danmuck/pipectl/internal/protocol/pipecontrol"
	"github.com/danmuck/pipectl/internal/protocol/router"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrPipeClosed = errors.New("pipe: closed")
	ErrNilMessage = errors.New("pipe: nil message")
)

const (
	causeEOF          = "eof"
	causeReadError    = "read_error"
	causeFatalControl = "fatal_control"
	causeLocal        = "local"
	causeContext      = "context"
)

// Pipe is one live message pipe. Inbound frames are routed strictly in
// receive order; outbound writes are serialised.
type Pipe struct {
	id     uuid.UUID
	conn   net.Conn
	cfg    Config
	logger zerolog.Logger

	router *router.Router
	table  *endpoint.Table
	sender *pipecontrol.Sender
	queue  *dispatch.SerialQueue

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

// New wraps conn. The caller registers interface handlers on Router() before
// calling Serve.
func New(conn net.Conn, cfg Config) *Pipe {
	p := &Pipe{
		id:   uuid.New(),
		conn: conn,
		cfg:  cfg,
		done: make(chan struct{}),
	}
	p.logger = log.With().Str("pipe", p.id.String()).Logger()
	p.sender = pipecontrol.NewSender(p)
	p.table = endpoint.NewTable(cfg.Primary, p.sender)

	var delegate pipecontrol.Delegate = p.table
	if cfg.AsyncDispatch {
		p.queue = dispatch.NewSerialQueue(cfg.DispatchQueueDepth)
		delegate = pipecontrol.Scheduled(p.table, p.queue.Post)
	}
	p.router = router.New(pipecontrol.NewReceiver(delegate))
	p.table.OnRemoved(func(id pipecontrol.InterfaceID) {
		if p.router.Unregister(id) {
			p.logger.Debug().Uint32("interface", uint32(id)).Msg("pipe unbound handler of retired endpoint")
		}
	})
	observability.RecordPipeOpened()
	return p
}

func (p *Pipe) ID() uuid.UUID {
	return p.id
}

func (p *Pipe) Router() *router.Router {
	return p.router
}

func (p *Pipe) Endpoints() *endpoint.Table {
	return p.table
}

func (p *Pipe) RemoteAddr() net.Addr {
	return p.conn.RemoteAddr()
}

// CloseEndpoint closes id on this side and tells the peer.
func (p *Pipe) CloseEndpoint(id pipecontrol.InterfaceID, reason *pipecontrol.DisconnectReason) error {
	return p.table.Close(id, reason)
}

// Accept writes msg to the peer.
func (p *Pipe) Accept(msg *frame.Message) error {
	if msg == nil {
		return ErrNilMessage
	}
	select {
	case <-p.done:
		return ErrPipeClosed
	default:
	}
	control := pipecontrol.IsPipeControlMessage(msg)

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.cfg.WriteTimeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout)); err != nil {
			return fmt.Errorf("pipe: set write deadline: %w", err)
		}
	}
	if err := frame.WriteFrame(p.conn, msg, p.cfg.Limits); err != nil {
		if control {
			observability.RecordControlMessage(observability.DirectionOutbound, "write_error")
		}
		return fmt.Errorf("pipe: write: %w", err)
	}
	if control {
		observability.RecordControlMessage(observability.DirectionOutbound, observability.ResultOK)
	}
	return nil
}

// Serve reads and routes frames until the peer hangs up, ctx ends or a fatal
// control message arrives. A clean hang-up returns nil. The pipe is closed on
// return.
func (p *Pipe) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		p.closeWith(causeContext)
	})
	defer stop()

	for {
		if p.cfg.ReadTimeout > 0 {
			if err := p.conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout)); err != nil {
				p.closeWith(causeReadError)
				return fmt.Errorf("pipe: set read deadline: %w", err)
			}
		}
		msg, err := frame.ReadFrame(p.conn, p.cfg.Limits)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, io.EOF) || p.isClosed() {
				p.closeWith(causeEOF)
				return nil
			}
			p.closeWith(causeReadError)
			return fmt.Errorf("pipe: read: %w", err)
		}
		if err := p.route(msg); err != nil {
			p.logger.Error().Err(err).Msg("pipe.Serve closing on fatal control message")
			p.closeWith(causeFatalControl)
			return err
		}
	}
}

// route returns only errors that must end the pipe.
func (p *Pipe) route(msg *frame.Message) error {
	control := pipecontrol.IsPipeControlMessage(msg)
	err := p.router.Accept(msg)
	if control {
		result := observability.ResultOK
		var cmErr *pipecontrol.ControlMessageError
		if errors.As(err, &cmErr) {
			result = cmErr.Kind.String()
		} else if err != nil {
			result = "unhandled"
		}
		observability.RecordControlMessage(observability.DirectionInbound, result)
		if pipecontrol.IsFatal(err) {
			return err
		}
		if err != nil {
			p.logger.Warn().Err(err).Msg("pipe.route control message not handled")
		}
		return nil
	}

	observability.RecordAppMessage(!errors.Is(err, router.ErrNoHandler))
	if errors.Is(err, router.ErrNoHandler) {
		p.logger.Debug().Err(err).Msg("pipe.route dropped message for unbound interface")
		return nil
	}
	if err != nil {
		p.logger.Warn().Err(err).Uint32("interface", msg.Header.InterfaceID).Msg("pipe.route handler failed")
	}
	return nil
}

// Close shuts the pipe down. Pending async notifications are dropped.
func (p *Pipe) Close() error {
	return p.closeWith(causeLocal)
}

func (p *Pipe) closeWith(cause string) error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.conn.Close()
		if p.queue != nil {
			p.queue.Close()
		}
		observability.RecordPipeClosed(cause)
		p.logger.Debug().Str("cause", cause).Msg("pipe closed")
	})
	return err
}

// Done is closed once the pipe has shut down.
func (p *Pipe) Done() <-chan struct{} {
	return p.done
}

func (p *Pipe) isClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
