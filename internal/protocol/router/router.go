package router

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/pipectl/internal/protocol/frame"
	"github.com/danmuck/pipectl/internal/protocol/pipecontrol"
	"github.com/rs/zerolog/log"
)

var (
	ErrHandlerNil       = errors.New("router: handler is nil")
	ErrHandlerExists    = errors.New("router: interface already has a handler")
	ErrReservedID       = errors.New("router: interface id is reserved for pipe control")
	ErrNoHandler        = errors.New("router: no handler for interface")
	ErrControlUnhandled = errors.New("router: pipe control handler is not set")
)

// Handler consumes messages for one interface.
type Handler interface {
	Accept(msg *frame.Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(msg *frame.Message) error

func (f HandlerFunc) Accept(msg *frame.Message) error {
	return f(msg)
}

// Router splits inbound pipe traffic between the control handler and the
// per-interface handlers. Classification looks at the interface id only.
type Router struct {
	control Handler

	mu       sync.RWMutex
	handlers map[pipecontrol.InterfaceID]Handler
}

func New(control Handler) *Router {
	return &Router{
		control:  control,
		handlers: make(map[pipecontrol.InterfaceID]Handler),
	}
}

// Register binds handler to id.
func (r *Router) Register(id pipecontrol.InterfaceID, handler Handler) error {
	if handler == nil {
		return ErrHandlerNil
	}
	if !id.IsValid() {
		return ErrReservedID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[id]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, id)
	}
	r.handlers[id] = handler
	return nil
}

// Unregister drops the handler for id and reports whether one was bound.
func (r *Router) Unregister(id pipecontrol.InterfaceID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[id]
	delete(r.handlers, id)
	return ok
}

// InterfaceIDs returns registered ids in ascending order.
func (r *Router) InterfaceIDs() []pipecontrol.InterfaceID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]pipecontrol.InterfaceID, 0, len(r.handlers))
	for id := range r.handlers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i] < out[j]
	})
	return out
}

// Accept hands msg to the control handler when it carries the invalid
// interface id and to the registered interface handler otherwise. Errors from
// the control handler are returned unchanged so callers can test them with
// pipecontrol.IsFatal.
func (r *Router) Accept(msg *frame.Message) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", pipecontrol.ErrMalformedMessage)
	}
	if pipecontrol.IsPipeControlMessage(msg) {
		if r.control == nil {
			return ErrControlUnhandled
		}
		return r.control.Accept(msg)
	}

	id := pipecontrol.InterfaceID(msg.Header.InterfaceID)
	r.mu.RLock()
	handler, ok := r.handlers[id]
	r.mu.RUnlock()
	if !ok {
		log.Debug().Uint32("interface", uint32(id)).Uint32("name", msg.Header.Name).Msg("router.Accept no handler")
		return fmt.Errorf("%w: %s", ErrNoHandler, id)
	}
	return handler.Accept(msg)
}
