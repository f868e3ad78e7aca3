// Package bindings owns the struct layout primitives shared by every payload
// codec on a pipe.
//
// Ownership boundary:
// - 8-byte aligned, little-endian struct/array/union layout
// - relative pointers (0 is null)
// - claim-forward bounds validation on decode
package bindings

import (
	"errors"
	"fmt"
)

const (
	// Alignment is the alignment of every struct, array and pointer target.
	Alignment = 8

	StructHeaderSize = 8
	ArrayHeaderSize  = 8
	PointerSize      = 8
	UnionSize        = 16
)

var (
	ErrOutOfRange       = errors.New("bindings: offset out of range")
	ErrMisaligned       = errors.New("bindings: misaligned object")
	ErrIllegalPointer   = errors.New("bindings: illegal pointer")
	ErrOverlap          = errors.New("bindings: object overlaps claimed memory")
	ErrUnexpectedStruct = errors.New("bindings: unexpected struct header")
	ErrUnexpectedArray  = errors.New("bindings: unexpected array header")
	ErrUnexpectedUnion  = errors.New("bindings: unexpected union size")
	ErrUnexpectedNull   = errors.New("bindings: unexpected null pointer")
)

// ValidationError pins a bounds failure to the offset that produced it.
type ValidationError struct {
	Offset int
	Err    error
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%v at offset %d", e.Err, e.Offset)
}

func (e ValidationError) Unwrap() error {
	return e.Err
}

// Align rounds n up to the next multiple of Alignment.
func Align(n int) int {
	return (n + Alignment - 1) &^ (Alignment - 1)
}

// StringSize is the encoded size of a string body, array header included.
func StringSize(s string) int {
	return Align(ArrayHeaderSize + len(s))
}
