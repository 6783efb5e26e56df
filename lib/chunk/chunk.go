// Package chunk implements the serialized fragments that make up a module
// descriptor and the alignment rule used when they are concatenated into a
// LOAD_RESULT payload.
//
// A chunk flagged Align must start at an offset that is a multiple of the
// platform pointer size, measured from the start of the payload. Unaligned
// chunks are packed back to back. Padding bytes are always zero.
package chunk

import (
	"errors"
	"fmt"
	"unsafe"
)

// PointerSize is the alignment applied to aligned chunks.
const PointerSize = int(unsafe.Sizeof(uintptr(0)))

var (
	// ErrShortPayload is returned when a payload ends before a chunk does.
	ErrShortPayload = errors.New("chunk: payload too short")
	// ErrUnterminated is returned when a string chunk has no NUL terminator.
	ErrUnterminated = errors.New("chunk: unterminated string")
)

// Chunk is one opaque fragment of a serialized descriptor.
type Chunk struct {
	Data []byte

	// Align requests pointer-size alignment of Data within the payload.
	Align bool

	// Borrowed marks Data as aliasing memory owned elsewhere, typically a
	// receive buffer. Callers must copy it before retaining it.
	Borrowed bool
}

// Size returns the chunk length as carried on the wire.
func (c Chunk) Size() uint32 {
	return uint32(len(c.Data))
}

// PadLen returns the number of filler bytes needed before a chunk at offset.
func PadLen(offset int, align bool) int {
	if !align {
		return 0
	}
	if rem := offset % PointerSize; rem != 0 {
		return PointerSize - rem
	}
	return 0
}

// Append appends c to dst, inserting alignment filler when required. offset
// is the running position of len(dst) relative to the start of the payload;
// the updated offset is returned together with the grown slice.
func Append(dst []byte, c Chunk, offset int) ([]byte, int) {
	pad := PadLen(offset, c.Align)
	for i := 0; i < pad; i++ {
		dst = append(dst, 0)
	}
	dst = append(dst, c.Data...)
	return dst, offset + pad + len(c.Data)
}

// Len returns the payload length of a chunk sequence laid out from offset 0.
func Len(chunks []Chunk) int {
	off := 0
	for _, c := range chunks {
		off += PadLen(off, c.Align) + len(c.Data)
	}
	return off
}

// Concat lays out chunks into a fresh payload.
func Concat(chunks []Chunk) []byte {
	out := make([]byte, 0, Len(chunks))
	off := 0
	for _, c := range chunks {
		out, off = Append(out, c, off)
	}
	return out
}

// String returns a NUL-terminated, unaligned string chunk.
func String(s string) Chunk {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return Chunk{Data: b}
}

// Reader walks a payload produced by Append, applying the same alignment
// rule. Chunks returned by Reader are Borrowed.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader positioned at the start of payload.
func NewReader(payload []byte) *Reader {
	return &Reader{buf: payload}
}

// Offset returns the current position within the payload.
func (r *Reader) Offset() int { return r.off }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Next returns the next chunk of size bytes, skipping filler first when
// align is set.
func (r *Reader) Next(size int, align bool) (Chunk, error) {
	start := r.off + PadLen(r.off, align)
	end := start + size
	if size < 0 || end > len(r.buf) {
		return Chunk{}, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortPayload, size, start, len(r.buf)-r.off)
	}
	r.off = end
	return Chunk{Data: r.buf[start:end:end], Align: align, Borrowed: true}, nil
}

// String reads an unaligned NUL-terminated string chunk.
func (r *Reader) String() (string, error) {
	for i := r.off; i < len(r.buf); i++ {
		if r.buf[i] == 0 {
			s := string(r.buf[r.off:i])
			r.off = i + 1
			return s, nil
		}
	}
	return "", fmt.Errorf("%w at offset %d", ErrUnterminated, r.off)
}
