package frame

import (
	"encoding/binary"
	"errors"
	"io"
)

// LengthPrefixLen is the size of the stream length prefix written before each
// message.
const LengthPrefixLen = 4

var (
	ErrShortPrefix     = errors.New("frame: short length prefix")
	ErrMessageTooLarge = errors.New("frame: message too large")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxMessageBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxMessageBytes: 8 * 1024 * 1024,
	}
}

// ReadFrame reads one length-prefixed message from r.
func ReadFrame(r io.Reader, limits Limits) (*Message, error) {
	var prefix [LengthPrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortPrefix
		}
		return nil, err
	}
	n := binary.LittleEndian.Uint32(prefix[:])
	if n > limits.MaxMessageBytes {
		return nil, ErrMessageTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return Parse(buf)
}

// WriteFrame writes m to w with its length prefix in a single Write call.
func WriteFrame(w io.Writer, m *Message, limits Limits) error {
	size := m.Size()
	if uint64(size) > uint64(limits.MaxMessageBytes) {
		return ErrMessageTooLarge
	}
	buf := make([]byte, LengthPrefixLen+size)
	binary.LittleEndian.PutUint32(buf[:LengthPrefixLen], uint32(size))
	EncodeHeader(buf[LengthPrefixLen:], m.Header)
	copy(buf[LengthPrefixLen+int(m.Header.NumBytes):], m.Payload)
	_, err := w.Write(buf)
	return err
}
