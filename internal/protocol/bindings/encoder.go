package bindings

import "encoding/binary"

// Encoder appends aligned objects to a single buffer. Newly allocated bytes
// are zero, so padding is deterministic.
type Encoder struct {
	buf []byte
}

// NewEncoder preallocates capacity bytes. Callers that know the encoded size
// pass it here so the buffer is never regrown.
func NewEncoder(capacity int) *Encoder {
	return &Encoder{buf: make([]byte, 0, capacity)}
}

func (e *Encoder) Bytes() []byte {
	return e.buf
}

func (e *Encoder) Len() int {
	return len(e.buf)
}

// Alloc reserves size bytes rounded up to Alignment and returns their offset.
func (e *Encoder) Alloc(size int) int {
	off := len(e.buf)
	n := Align(size)
	if cap(e.buf)-off < n {
		grown := make([]byte, off, off+n+cap(e.buf))
		copy(grown, e.buf)
		e.buf = grown
	}
	e.buf = e.buf[:off+n]
	clear(e.buf[off : off+n])
	return off
}

// StartStruct allocates a struct of size bytes (header included) and writes
// its header.
func (e *Encoder) StartStruct(size int, version uint32) int {
	off := e.Alloc(size)
	e.PutUint32(off, uint32(size))
	e.PutUint32(off+4, version)
	return off
}

// PutUnion writes an inline union header at off. data is written by the
// caller, usually with PutPointer.
func (e *Encoder) PutUnion(off int, tag uint32) {
	e.PutUint32(off, UnionSize)
	e.PutUint32(off+4, tag)
}

// PutPointer stores the offset of target relative to at.
func (e *Encoder) PutPointer(at, target int) {
	e.PutUint64(at, uint64(target-at))
}

// WriteString allocates a byte array holding s and returns its offset.
func (e *Encoder) WriteString(s string) int {
	off := e.Alloc(ArrayHeaderSize + len(s))
	e.PutUint32(off, uint32(ArrayHeaderSize+len(s)))
	e.PutUint32(off+4, uint32(len(s)))
	copy(e.buf[off+ArrayHeaderSize:], s)
	return off
}

func (e *Encoder) PutUint32(off int, v uint32) {
	binary.LittleEndian.PutUint32(e.buf[off:off+4], v)
}

func (e *Encoder) PutUint64(off int, v uint64) {
	binary.LittleEndian.PutUint64(e.buf[off:off+8], v)
}
