package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	V0HeaderLen uint32 = 24
	V1HeaderLen uint32 = 32

	FlagExpectsResponse uint32 = 1 << 0
	FlagIsResponse      uint32 = 1 << 1
	FlagIsSync          uint32 = 1 << 2
)

var (
	ErrShortHeader        = errors.New("frame: short message header")
	ErrHeaderLenMismatch  = errors.New("frame: header num_bytes does not match version")
	ErrUnsupportedVersion = errors.New("frame: unsupported header version")
)

// Header is the message header. RequestID is only carried by v1 headers.
type Header struct {
	NumBytes    uint32
	Version     uint32
	InterfaceID uint32
	Name        uint32
	Flags       uint32
	RequestID   uint64
}

// Message is one framed message: header plus encoded payload. The payload
// starts at Header.NumBytes in the serialized form.
type Message struct {
	Header  Header
	Payload []byte
}

// New builds a message for name with a zeroed payload of payloadSize bytes.
// Messages that neither expect nor are a response use the v0 header.
func New(name, flags uint32, requestID uint64, payloadSize int) *Message {
	h := Header{Name: name, Flags: flags}
	if flags&(FlagExpectsResponse|FlagIsResponse) == 0 {
		h.NumBytes = V0HeaderLen
	} else {
		h.NumBytes = V1HeaderLen
		h.Version = 1
		h.RequestID = requestID
	}
	return &Message{Header: h, Payload: make([]byte, payloadSize)}
}

// SetInterfaceID retags the message for another interface on the same pipe.
func (m *Message) SetInterfaceID(id uint32) {
	m.Header.InterfaceID = id
}

// ExpectsResponse reports whether the sender waits for a reply.
func (m *Message) ExpectsResponse() bool {
	return m.Header.Flags&FlagExpectsResponse != 0
}

// IsResponse reports whether the message answers an earlier request.
func (m *Message) IsResponse() bool {
	return m.Header.Flags&FlagIsResponse != 0
}

// ValidateRequestWithoutResponse checks that m is a well-formed one-way
// message.
func (m *Message) ValidateRequestWithoutResponse() error {
	if err := m.Header.validate(); err != nil {
		return err
	}
	if m.ExpectsResponse() {
		return fmt.Errorf("frame: message expects a response")
	}
	if m.IsResponse() {
		return fmt.Errorf("frame: message is a response")
	}
	return nil
}

// Size is the serialized size of m.
func (m *Message) Size() int {
	return int(m.Header.NumBytes) + len(m.Payload)
}

// Bytes serializes header and payload.
func (m *Message) Bytes() []byte {
	buf := make([]byte, m.Size())
	EncodeHeader(buf, m.Header)
	copy(buf[m.Header.NumBytes:], m.Payload)
	return buf
}

// Parse decodes one serialized message. The payload is copied.
func Parse(b []byte) (*Message, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, len(b)-int(h.NumBytes))
	copy(payload, b[h.NumBytes:])
	return &Message{Header: h, Payload: payload}, nil
}

// EncodeHeader writes h into the first h.NumBytes bytes of buf.
func EncodeHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint32(buf[0:4], h.NumBytes)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.InterfaceID)
	binary.LittleEndian.PutUint32(buf[12:16], h.Name)
	binary.LittleEndian.PutUint32(buf[16:20], h.Flags)
	binary.LittleEndian.PutUint32(buf[20:24], 0)
	if h.Version > 0 {
		binary.LittleEndian.PutUint64(buf[24:32], h.RequestID)
	}
}

// DecodeHeader reads and validates the header at the start of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < 8 {
		return Header{}, ErrShortHeader
	}
	h := Header{
		NumBytes: binary.LittleEndian.Uint32(b[0:4]),
		Version:  binary.LittleEndian.Uint32(b[4:8]),
	}
	if err := h.validate(); err != nil {
		return Header{}, err
	}
	if uint64(len(b)) < uint64(h.NumBytes) {
		return Header{}, ErrShortHeader
	}
	h.InterfaceID = binary.LittleEndian.Uint32(b[8:12])
	h.Name = binary.LittleEndian.Uint32(b[12:16])
	h.Flags = binary.LittleEndian.Uint32(b[16:20])
	if h.Version > 0 {
		h.RequestID = binary.LittleEndian.Uint64(b[24:32])
	}
	return h, nil
}

func (h Header) validate() error {
	switch h.Version {
	case 0:
		if h.NumBytes != V0HeaderLen {
			return ErrHeaderLenMismatch
		}
	case 1:
		if h.NumBytes != V1HeaderLen {
			return ErrHeaderLenMismatch
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return nil
}
