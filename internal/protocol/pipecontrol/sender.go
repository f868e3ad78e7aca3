package pipecontrol

import (
	"github.com/danmuck/pipectl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// MessageReceiver accepts a framed message for delivery to the peer.
type MessageReceiver interface {
	Accept(msg *frame.Message) error
}

// Sender builds outbound control messages and hands them to out.
type Sender struct {
	out MessageReceiver
}

func NewSender(out MessageReceiver) *Sender {
	return &Sender{out: out}
}

// NotifyPeerEndpointClosed tells the peer that endpoint id was closed on this
// side. Transport errors are returned as-is; nothing is retried or buffered.
func (s *Sender) NotifyPeerEndpointClosed(id InterfaceID, reason *DisconnectReason) error {
	msg, err := BuildMessage(NewPeerAssociatedEndpointClosed(id, reason))
	if err != nil {
		return err
	}
	if err := s.out.Accept(msg); err != nil {
		log.Warn().Err(err).Uint32("endpoint", uint32(id)).Msg("pipecontrol.Sender notify failed")
		return err
	}
	return nil
}

func (s *Sender) ConstructPeerEndpointClosedMessage(id InterfaceID, reason *DisconnectReason) *frame.Message {
	return ConstructPeerEndpointClosedMessage(id, reason)
}

// ConstructPeerEndpointClosedMessage builds, without sending, the control
// message announcing that endpoint id closed. Identical arguments yield
// byte-identical messages.
func ConstructPeerEndpointClosedMessage(id InterfaceID, reason *DisconnectReason) *frame.Message {
	msg, err := BuildMessage(NewPeerAssociatedEndpointClosed(id, reason))
	if err != nil {
		// A closed event always has an encoding.
		panic(err)
	}
	return msg
}
