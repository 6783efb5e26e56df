package chunk_test

import (
	"bytes"
	"testing"

	"github.com/snowmerak/plugscan/lib/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPadLen(t *testing.T) {
	tests := []struct {
		name   string
		offset int
		align  bool
		want   int
	}{
		{"unaligned chunk never pads", 3, false, 0},
		{"aligned at zero", 0, true, 0},
		{"aligned at pointer size", chunk.PointerSize, true, 0},
		{"one past boundary", 1, true, chunk.PointerSize - 1},
		{"one before boundary", chunk.PointerSize - 1, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chunk.PadLen(tt.offset, tt.align))
		})
	}
}

func TestAppend_AlignedChunkStartsOnBoundary(t *testing.T) {
	var buf []byte
	off := 0
	buf, off = chunk.Append(buf, chunk.String("abc"), off)
	require.Equal(t, 4, off)

	buf, off = chunk.Append(buf, chunk.Chunk{Data: []byte{0xAA, 0xBB}, Align: true}, off)
	start := off - 2
	assert.Zero(t, start%chunk.PointerSize)
	assert.Equal(t, []byte{0xAA, 0xBB}, buf[start:off])
	for _, b := range buf[4:start] {
		assert.Zero(t, b, "filler bytes must be zero")
	}
	assert.Equal(t, len(buf), off)
}

// Concatenating then re-reading with the recorded sizes and flags recovers
// the original boundaries and bytes.
func TestPaddingLaw(t *testing.T) {
	sequences := [][]chunk.Chunk{
		nil,
		{{Data: []byte{1}, Align: true}},
		{{Data: []byte{1, 2, 3}}, {Data: bytes.Repeat([]byte{7}, 13), Align: true}, {Data: []byte{}}},
		{{Data: []byte("x")}, {Data: []byte("yy")}, {Data: make([]byte, 32), Align: true}, {Data: []byte{9}, Align: true}},
		{{Data: []byte{}, Align: true}, {Data: []byte{5}}, {Data: []byte{6, 6}, Align: true}},
	}

	for i, seq := range sequences {
		payload := chunk.Concat(seq)
		assert.Equal(t, chunk.Len(seq), len(payload), "sequence %d", i)

		r := chunk.NewReader(payload)
		for j, want := range seq {
			got, err := r.Next(int(want.Size()), want.Align)
			require.NoError(t, err, "sequence %d chunk %d", i, j)
			assert.Equal(t, want.Data, got.Data, "sequence %d chunk %d", i, j)
			assert.True(t, got.Borrowed)
			if want.Align {
				assert.Zero(t, (r.Offset()-len(want.Data))%chunk.PointerSize)
			}
		}
		assert.Zero(t, r.Remaining(), "sequence %d", i)
	}
}

func TestReader_Errors(t *testing.T) {
	r := chunk.NewReader([]byte{1, 2, 3})
	_, err := r.Next(8, true)
	assert.ErrorIs(t, err, chunk.ErrShortPayload)

	r = chunk.NewReader([]byte("no terminator"))
	_, err = r.String()
	assert.ErrorIs(t, err, chunk.ErrUnterminated)
}

func TestReader_String(t *testing.T) {
	payload := chunk.Concat([]chunk.Chunk{chunk.String("first"), chunk.String(""), chunk.String("third")})
	r := chunk.NewReader(payload)
	for _, want := range []string{"first", "", "third"} {
		got, err := r.String()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Zero(t, r.Remaining())
}
