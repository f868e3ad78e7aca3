package pipecontrol

import (
	"github.com/danmuck/pipectl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// Delegate reacts to control operations. It owns the endpoint table; the
// receiver never touches endpoint state itself.
type Delegate interface {
	OnPeerAssociatedEndpointClosed(id InterfaceID, reason *DisconnectReason)
}

// DelegateFunc adapts a function to Delegate.
type DelegateFunc func(id InterfaceID, reason *DisconnectReason)

func (f DelegateFunc) OnPeerAssociatedEndpointClosed(id InterfaceID, reason *DisconnectReason) {
	f(id, reason)
}

// Receiver validates inbound control messages and dispatches them to its
// delegate. One Receiver serves one pipe and must be fed in receive order.
type Receiver struct {
	delegate Delegate
}

func NewReceiver(delegate Delegate) *Receiver {
	return &Receiver{delegate: delegate}
}

// Accept validates msg and dispatches it. The delegate is called at most once
// and only after every check has passed. Any returned error is a
// *ControlMessageError.
func (r *Receiver) Accept(msg *frame.Message) error {
	ev, err := r.validate(msg)
	if err != nil {
		log.Error().Err(err).Msg("pipecontrol.Receiver rejected control message")
		return err
	}
	log.Debug().
		Uint32("endpoint", uint32(ev.ID)).
		Bool("has_reason", ev.DisconnectReason != nil).
		Msg("pipecontrol.Receiver peer associated endpoint closed")
	r.delegate.OnPeerAssociatedEndpointClosed(ev.ID, ev.DisconnectReason)
	return nil
}

func (r *Receiver) validate(msg *frame.Message) (PeerAssociatedEndpointClosedEvent, error) {
	if msg == nil {
		return PeerAssociatedEndpointClosedEvent{}, &ControlMessageError{Kind: KindMalformedMessage}
	}
	if err := msg.ValidateRequestWithoutResponse(); err != nil {
		return PeerAssociatedEndpointClosedEvent{}, &ControlMessageError{Kind: KindMalformedMessage, Err: err}
	}
	if msg.Header.Name != RunOrClosePipeMessageID {
		return PeerAssociatedEndpointClosedEvent{}, &ControlMessageError{Kind: KindUnknownControlMessage, Name: msg.Header.Name}
	}
	params, err := DecodeParams(msg.Payload)
	if err != nil {
		return PeerAssociatedEndpointClosedEvent{}, &ControlMessageError{Kind: KindPayloadValidation, Err: err}
	}
	switch in := params.Input.(type) {
	case PeerAssociatedEndpointClosedEvent:
		return in, nil
	case nil:
		return PeerAssociatedEndpointClosedEvent{}, &ControlMessageError{Kind: KindUnsupportedVariant, Err: ErrEmptyInput}
	default:
		return PeerAssociatedEndpointClosedEvent{}, &ControlMessageError{Kind: KindUnsupportedVariant, Tag: in.Tag()}
	}
}
