package bindings

import (
	"encoding/binary"
	"unicode/utf8"
)

// StructHeader is the leading header of every encoded struct.
type StructHeader struct {
	NumBytes uint32
	Version  uint32
}

// Decoder reads objects out of buf. Every struct and array must be claimed
// before its body is read; claims move strictly forward, so no two objects
// can overlap and no pointer can point backwards.
type Decoder struct {
	buf     []byte
	claimed int
}

func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

func (d *Decoder) Len() int {
	return len(d.buf)
}

// ClaimStruct validates the struct at off and claims its memory. Structs that
// declare more than minSize bytes are accepted; the extra bytes are skipped.
func (d *Decoder) ClaimStruct(off, minSize int) (StructHeader, error) {
	if err := d.checkPlacement(off, StructHeaderSize); err != nil {
		return StructHeader{}, err
	}
	h := StructHeader{
		NumBytes: binary.LittleEndian.Uint32(d.buf[off : off+4]),
		Version:  binary.LittleEndian.Uint32(d.buf[off+4 : off+8]),
	}
	if h.NumBytes < StructHeaderSize || int64(h.NumBytes) < int64(minSize) {
		return StructHeader{}, ValidationError{Offset: off, Err: ErrUnexpectedStruct}
	}
	if err := d.claim(off, int64(h.NumBytes)); err != nil {
		return StructHeader{}, err
	}
	return h, nil
}

// ClaimString validates the byte array at off, claims it and returns its
// contents. Invalid UTF-8 is rejected.
func (d *Decoder) ClaimString(off int) (string, error) {
	if err := d.checkPlacement(off, ArrayHeaderSize); err != nil {
		return "", err
	}
	numBytes := binary.LittleEndian.Uint32(d.buf[off : off+4])
	numElements := binary.LittleEndian.Uint32(d.buf[off+4 : off+8])
	if int64(numBytes) < ArrayHeaderSize+int64(numElements) {
		return "", ValidationError{Offset: off, Err: ErrUnexpectedArray}
	}
	if err := d.claim(off, int64(numBytes)); err != nil {
		return "", err
	}
	body := d.buf[off+ArrayHeaderSize : off+ArrayHeaderSize+int(numElements)]
	if !utf8.Valid(body) {
		return "", ValidationError{Offset: off, Err: ErrUnexpectedArray}
	}
	return string(body), nil
}

// Union reads the inline union at off. A zero size is a null union and
// reports ok=false.
func (d *Decoder) Union(off int) (tag uint32, ok bool, err error) {
	if err := d.checkRange(off, UnionSize); err != nil {
		return 0, false, err
	}
	size := binary.LittleEndian.Uint32(d.buf[off : off+4])
	tag = binary.LittleEndian.Uint32(d.buf[off+4 : off+8])
	switch size {
	case 0:
		return 0, false, nil
	case UnionSize:
		return tag, true, nil
	default:
		return 0, false, ValidationError{Offset: off, Err: ErrUnexpectedUnion}
	}
}

// Pointer resolves the relative pointer stored at at. null is true for a zero
// offset.
func (d *Decoder) Pointer(at int) (target int, null bool, err error) {
	v, err := d.Uint64(at)
	if err != nil {
		return 0, false, err
	}
	if v == 0 {
		return 0, true, nil
	}
	if v > uint64(len(d.buf)) {
		return 0, false, ValidationError{Offset: at, Err: ErrIllegalPointer}
	}
	return at + int(v), false, nil
}

func (d *Decoder) Uint32(off int) (uint32, error) {
	if err := d.checkRange(off, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(d.buf[off : off+4]), nil
}

func (d *Decoder) Uint64(off int) (uint64, error) {
	if err := d.checkRange(off, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(d.buf[off : off+8]), nil
}

func (d *Decoder) checkPlacement(off, headerSize int) error {
	if off%Alignment != 0 {
		return ValidationError{Offset: off, Err: ErrMisaligned}
	}
	if off < d.claimed {
		return ValidationError{Offset: off, Err: ErrOverlap}
	}
	return d.checkRange(off, headerSize)
}

func (d *Decoder) checkRange(off, size int) error {
	if off < 0 || size < 0 || off > len(d.buf)-size {
		return ValidationError{Offset: off, Err: ErrOutOfRange}
	}
	return nil
}

// claim includes the object's trailing padding: encoders always pad, so a
// buffer cut inside the padding is truncated.
func (d *Decoder) claim(off int, size int64) error {
	end := int64(off) + int64(Align(int(size)))
	if end > int64(len(d.buf)) {
		return ValidationError{Offset: off, Err: ErrOutOfRange}
	}
	d.claimed = int(end)
	return nil
}
