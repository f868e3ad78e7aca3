package pipecontrol

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an inbound control message was rejected.
type ErrorKind int

const (
	KindMalformedMessage ErrorKind = iota + 1
	KindUnknownControlMessage
	KindPayloadValidation
	KindUnsupportedVariant
)

var (
	ErrMalformedMessage      = errors.New("pipecontrol: malformed control message")
	ErrUnknownControlMessage = errors.New("pipecontrol: unknown control message name")
	ErrPayloadValidation     = errors.New("pipecontrol: control payload failed validation")
	ErrUnsupportedVariant    = errors.New("pipecontrol: unsupported control operation")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindMalformedMessage:
		return ErrMalformedMessage
	case KindUnknownControlMessage:
		return ErrUnknownControlMessage
	case KindPayloadValidation:
		return ErrPayloadValidation
	case KindUnsupportedVariant:
		return ErrUnsupportedVariant
	default:
		return nil
	}
}

func (k ErrorKind) String() string {
	switch k {
	case KindMalformedMessage:
		return "malformed_message"
	case KindUnknownControlMessage:
		return "unknown_control_message"
	case KindPayloadValidation:
		return "payload_validation"
	case KindUnsupportedVariant:
		return "unsupported_variant"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ControlMessageError is returned for every rejected control message. Each
// kind means the peer's view of endpoint lifecycle can no longer be trusted;
// the owning pipe must be closed.
type ControlMessageError struct {
	Kind ErrorKind
	// Name is the offending message name for KindUnknownControlMessage.
	Name uint32
	// Tag is the unrecognised union tag for KindUnsupportedVariant.
	Tag InputTag
	Err error
}

func (e *ControlMessageError) Error() string {
	var detail string
	switch e.Kind {
	case KindUnknownControlMessage:
		detail = fmt.Sprintf(" name=%#x", e.Name)
	case KindUnsupportedVariant:
		detail = fmt.Sprintf(" tag=%d", e.Tag)
	}
	if e.Err != nil {
		return fmt.Sprintf("%v%s: %v", e.Kind.sentinel(), detail, e.Err)
	}
	return fmt.Sprintf("%v%s", e.Kind.sentinel(), detail)
}

func (e *ControlMessageError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *ControlMessageError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// IsFatal reports whether err must close the pipe it came from.
func IsFatal(err error) bool {
	var cmErr *ControlMessageError
	return errors.As(err, &cmErr)
}
