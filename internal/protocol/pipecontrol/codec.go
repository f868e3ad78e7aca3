package pipecontrol

import (
	"errors"
	"fmt"

	"github.com/danmuck/pipectl/internal/protocol/bindings"
	"github.com/danmuck/pipectl/internal/protocol/frame"
)

// Encoded struct sizes, headers included.
const (
	ParamsSize           = bindings.StructHeaderSize + bindings.UnionSize
	ClosedEventSize      = bindings.StructHeaderSize + 4 + 4 + bindings.PointerSize
	DisconnectReasonSize = bindings.StructHeaderSize + 4 + 4 + bindings.PointerSize
)

// Field offsets relative to the owning struct.
const (
	paramsInputOffset    = bindings.StructHeaderSize
	unionDataOffset      = 8
	closedEventIDOffset  = bindings.StructHeaderSize
	closedEventReasonPtr = bindings.StructHeaderSize + 8
	reasonCustomOffset   = bindings.StructHeaderSize
	reasonDescriptionPtr = bindings.StructHeaderSize + 8
)

var (
	ErrEmptyInput       = errors.New("pipecontrol: params carry no input")
	ErrUnencodableInput = errors.New("pipecontrol: input variant cannot be encoded")
)

// EncodedSize is the exact payload size of p.
func EncodedSize(p RunOrClosePipeMessageParams) (int, error) {
	switch in := p.Input.(type) {
	case nil:
		return 0, ErrEmptyInput
	case PeerAssociatedEndpointClosedEvent:
		return closedEventPayloadSize(in), nil
	default:
		return 0, fmt.Errorf("%w: tag=%d", ErrUnencodableInput, in.Tag())
	}
}

func closedEventPayloadSize(ev PeerAssociatedEndpointClosedEvent) int {
	size := ParamsSize + ClosedEventSize
	if ev.DisconnectReason != nil {
		size += DisconnectReasonSize + bindings.StringSize(ev.DisconnectReason.Description)
	}
	return size
}

// EncodeParams encodes p as a standalone payload.
func EncodeParams(p RunOrClosePipeMessageParams) ([]byte, error) {
	switch in := p.Input.(type) {
	case nil:
		return nil, ErrEmptyInput
	case PeerAssociatedEndpointClosedEvent:
		return encodeClosedEvent(in), nil
	default:
		return nil, fmt.Errorf("%w: tag=%d", ErrUnencodableInput, in.Tag())
	}
}

func encodeClosedEvent(ev PeerAssociatedEndpointClosedEvent) []byte {
	e := bindings.NewEncoder(closedEventPayloadSize(ev))
	params := e.StartStruct(ParamsSize, 0)
	e.PutUnion(params+paramsInputOffset, uint32(TagPeerAssociatedEndpointClosedEvent))

	event := e.StartStruct(ClosedEventSize, 0)
	e.PutPointer(params+paramsInputOffset+unionDataOffset, event)
	e.PutUint32(event+closedEventIDOffset, uint32(ev.ID))

	if r := ev.DisconnectReason; r != nil {
		reason := e.StartStruct(DisconnectReasonSize, 0)
		e.PutPointer(event+closedEventReasonPtr, reason)
		e.PutUint32(reason+reasonCustomOffset, r.CustomReason)
		desc := e.WriteString(r.Description)
		e.PutPointer(reason+reasonDescriptionPtr, desc)
	}
	return e.Bytes()
}

// DecodeParams decodes and bounds-checks a control payload. A union with an
// unrecognised tag decodes to UnknownInput; a null union decodes to a nil
// Input. Both are left for the caller to reject.
func DecodeParams(payload []byte) (RunOrClosePipeMessageParams, error) {
	d := bindings.NewDecoder(payload)
	if _, err := d.ClaimStruct(0, ParamsSize); err != nil {
		return RunOrClosePipeMessageParams{}, err
	}
	tag, ok, err := d.Union(paramsInputOffset)
	if err != nil {
		return RunOrClosePipeMessageParams{}, err
	}
	if !ok {
		return RunOrClosePipeMessageParams{}, nil
	}
	switch InputTag(tag) {
	case TagPeerAssociatedEndpointClosedEvent:
		ev, err := decodeClosedEvent(d, paramsInputOffset+unionDataOffset)
		if err != nil {
			return RunOrClosePipeMessageParams{}, err
		}
		return RunOrClosePipeMessageParams{Input: ev}, nil
	default:
		return RunOrClosePipeMessageParams{Input: UnknownInput{InputTag: InputTag(tag)}}, nil
	}
}

func decodeClosedEvent(d *bindings.Decoder, ptr int) (PeerAssociatedEndpointClosedEvent, error) {
	off, null, err := d.Pointer(ptr)
	if err != nil {
		return PeerAssociatedEndpointClosedEvent{}, err
	}
	if null {
		return PeerAssociatedEndpointClosedEvent{}, bindings.ValidationError{Offset: ptr, Err: bindings.ErrUnexpectedNull}
	}
	if _, err := d.ClaimStruct(off, ClosedEventSize); err != nil {
		return PeerAssociatedEndpointClosedEvent{}, err
	}
	id, err := d.Uint32(off + closedEventIDOffset)
	if err != nil {
		return PeerAssociatedEndpointClosedEvent{}, err
	}
	ev := PeerAssociatedEndpointClosedEvent{ID: InterfaceID(id)}

	reasonOff, null, err := d.Pointer(off + closedEventReasonPtr)
	if err != nil {
		return PeerAssociatedEndpointClosedEvent{}, err
	}
	if null {
		return ev, nil
	}
	reason, err := decodeDisconnectReason(d, reasonOff)
	if err != nil {
		return PeerAssociatedEndpointClosedEvent{}, err
	}
	ev.DisconnectReason = &reason
	return ev, nil
}

func decodeDisconnectReason(d *bindings.Decoder, off int) (DisconnectReason, error) {
	if _, err := d.ClaimStruct(off, DisconnectReasonSize); err != nil {
		return DisconnectReason{}, err
	}
	code, err := d.Uint32(off + reasonCustomOffset)
	if err != nil {
		return DisconnectReason{}, err
	}
	descOff, null, err := d.Pointer(off + reasonDescriptionPtr)
	if err != nil {
		return DisconnectReason{}, err
	}
	if null {
		return DisconnectReason{}, bindings.ValidationError{Offset: off + reasonDescriptionPtr, Err: bindings.ErrUnexpectedNull}
	}
	desc, err := d.ClaimString(descOff)
	if err != nil {
		return DisconnectReason{}, err
	}
	return DisconnectReason{CustomReason: code, Description: desc}, nil
}

// BuildMessage encodes p into a one-way message named
// RunOrClosePipeMessageID and tags it as control traffic.
func BuildMessage(p RunOrClosePipeMessageParams) (*frame.Message, error) {
	size, err := EncodedSize(p)
	if err != nil {
		return nil, err
	}
	payload, err := EncodeParams(p)
	if err != nil {
		return nil, err
	}
	if len(payload) != size {
		return nil, fmt.Errorf("pipecontrol: encoded %d bytes, expected %d", len(payload), size)
	}
	msg := frame.New(RunOrClosePipeMessageID, 0, 0, size)
	copy(msg.Payload, payload)
	msg.SetInterfaceID(uint32(InvalidInterfaceID))
	return msg, nil
}
