package pipecontrol

// InputTag selects the active variant of RunOrClosePipeInput on the wire.
type InputTag uint32

const (
	TagPeerAssociatedEndpointClosedEvent InputTag = 0
)

// DisconnectReason is the optional application explanation for a closure. A
// present reason with a zero code and empty description stays distinct from
// an absent one (nil) through encode and decode.
type DisconnectReason struct {
	CustomReason uint32
	Description  string
}

// RunOrClosePipeInput is the union carried by every control message. Exactly
// one implementation is active per message.
type RunOrClosePipeInput interface {
	Tag() InputTag
}

// PeerAssociatedEndpointClosedEvent tells the receiver that the sender
// observed endpoint ID closing on its side.
type PeerAssociatedEndpointClosedEvent struct {
	ID               InterfaceID
	DisconnectReason *DisconnectReason
}

func (PeerAssociatedEndpointClosedEvent) Tag() InputTag {
	return TagPeerAssociatedEndpointClosedEvent
}

// UnknownInput is a well-formed union whose tag this side does not know,
// typically sent by a newer peer.
type UnknownInput struct {
	InputTag InputTag
}

func (u UnknownInput) Tag() InputTag {
	return u.InputTag
}

// RunOrClosePipeMessageParams is the payload of a control message. A nil
// Input is an empty union.
type RunOrClosePipeMessageParams struct {
	Input RunOrClosePipeInput
}

// NewPeerAssociatedEndpointClosed builds params for a closed-event message.
func NewPeerAssociatedEndpointClosed(id InterfaceID, reason *DisconnectReason) RunOrClosePipeMessageParams {
	return RunOrClosePipeMessageParams{
		Input: PeerAssociatedEndpointClosedEvent{ID: id, DisconnectReason: copyReason(reason)},
	}
}

func copyReason(reason *DisconnectReason) *DisconnectReason {
	if reason == nil {
		return nil
	}
	r := *reason
	return &r
}
