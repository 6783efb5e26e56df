package multiplexer_test

import (
	"bytes"
	"testing"

	"github.com/snowmerak/plugscan/lib/multiplexer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutHeader_BitExact(t *testing.T) {
	h := make([]byte, multiplexer.HeaderSize)
	multiplexer.PutHeader(h, multiplexer.TypeLoadResult, 0x010203, 0x0A0B0C0D)
	assert.Equal(t, []byte{0x04, 0x01, 0x02, 0x03, 0x0A, 0x0B, 0x0C, 0x0D}, h)

	typ, tag, length := multiplexer.DecodeHeader(h)
	assert.Equal(t, multiplexer.TypeLoadResult, typ)
	assert.Equal(t, uint32(0x010203), tag)
	assert.Equal(t, uint32(0x0A0B0C0D), length)
}

func TestFrame_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		typ     multiplexer.Type
		tag     uint32
		payload []byte
	}{
		{"exit", multiplexer.TypeExit, 0, nil},
		{"load request", multiplexer.TypeLoadRequest, 1, []byte("/usr/lib/addons/libfoo.so")},
		{"load started", multiplexer.TypeLoadStarted, 42, []byte{}},
		{"empty result", multiplexer.TypeLoadResult, 7, nil},
		{"max tag", multiplexer.TypeLoadResult, multiplexer.MaxTag, []byte{0, 1, 2}},
		{"large payload", multiplexer.TypeLoadResult, 9, bytes.Repeat([]byte{0x5A}, 100000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := multiplexer.AppendFrame(nil, tt.typ, tt.tag, tt.payload)
			require.NoError(t, err)
			require.Len(t, encoded, multiplexer.HeaderSize+len(tt.payload))

			f, rest, err := multiplexer.ParseFrame(encoded)
			require.NoError(t, err)
			assert.Empty(t, rest)
			assert.Equal(t, tt.typ, f.Type)
			assert.Equal(t, tt.tag, f.Tag)
			assert.Equal(t, len(tt.payload), len(f.Payload))
			assert.True(t, bytes.Equal(tt.payload, f.Payload))
		})
	}
}

func TestFrame_ConcatenatedStream(t *testing.T) {
	var stream []byte
	var err error
	stream, err = multiplexer.AppendFrame(stream, multiplexer.TypeLoadStarted, 3, nil)
	require.NoError(t, err)
	stream, err = multiplexer.AppendFrame(stream, multiplexer.TypeLoadResult, 3, []byte("abc"))
	require.NoError(t, err)

	f1, rest, err := multiplexer.ParseFrame(stream)
	require.NoError(t, err)
	f2, rest, err := multiplexer.ParseFrame(rest)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, multiplexer.TypeLoadStarted, f1.Type)
	assert.Equal(t, []byte("abc"), f2.Payload)

	_, _, err = multiplexer.ParseFrame(stream[multiplexer.HeaderSize : 2*multiplexer.HeaderSize+1])
	assert.Error(t, err)
	_, _, err = multiplexer.ParseFrame(stream[:3])
	assert.Error(t, err)
}

func TestAppendFrame_TagRange(t *testing.T) {
	_, err := multiplexer.AppendFrame(nil, multiplexer.TypeLoadRequest, multiplexer.MaxTag+1, nil)
	assert.ErrorIs(t, err, multiplexer.ErrTagRange)
}

func TestMessage_EncodeDecode(t *testing.T) {
	messages := []multiplexer.Message{
		multiplexer.Exit{},
		multiplexer.LoadRequest{Tag: 5, Path: "/opt/addons/a.so"},
		multiplexer.LoadStarted{Tag: 5},
		multiplexer.LoadResult{Tag: 5, Payload: []byte{1, 2, 3}},
		multiplexer.LoadResult{Tag: 6, Payload: []byte{}},
	}

	for _, m := range messages {
		got, err := multiplexer.Decode(multiplexer.Encode(m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := multiplexer.Decode(multiplexer.Frame{Type: 9, Tag: 1})
	assert.ErrorIs(t, err, multiplexer.ErrProtocolViolation)
}

func TestType_String(t *testing.T) {
	assert.Equal(t, "EXIT", multiplexer.TypeExit.String())
	assert.Equal(t, "LOAD_RESULT", multiplexer.TypeLoadResult.String())
	assert.Equal(t, "TYPE(200)", multiplexer.Type(200).String())
}
