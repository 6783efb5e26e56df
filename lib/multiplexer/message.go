package multiplexer

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type is the message kind carried in the first header byte.
type Type uint8

const (
	TypeExit        Type = 1 // Shutdown request and its echo, empty payload
	TypeLoadRequest Type = 2 // Path to scan, orchestrator to worker
	TypeLoadStarted Type = 3 // Progress signal, empty payload
	TypeLoadResult  Type = 4 // Descriptor chunks, empty on scan failure
)

const (
	// 1 byte type, 3 bytes tag and 4 bytes payload length, all big-endian
	HeaderSize = 8

	// MaxTag is the largest tag that fits the 24-bit header field.
	MaxTag = 1<<24 - 1
)

var (
	// ErrTransport marks every fatal I/O failure of a Transport.
	ErrTransport = errors.New("transport failure")
	// ErrProtocolViolation marks a message that cannot belong to a healthy stream.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrTagRange is returned when a tag does not fit in 24 bits.
	ErrTagRange = errors.New("tag exceeds 24 bits")
)

func (t Type) String() string {
	switch t {
	case TypeExit:
		return "EXIT"
	case TypeLoadRequest:
		return "LOAD_REQUEST"
	case TypeLoadStarted:
		return "LOAD_STARTED"
	case TypeLoadResult:
		return "LOAD_RESULT"
	default:
		return fmt.Sprintf("TYPE(%d)", uint8(t))
	}
}

// Message is the closed set of protocol messages. Use a type switch over
// Exit, LoadRequest, LoadStarted and LoadResult.
type Message interface {
	isMessage()
}

// Exit requests shutdown, or acknowledges it when sent by the worker.
type Exit struct {
	Tag uint32
}

// LoadRequest asks the worker to scan Path.
type LoadRequest struct {
	Tag  uint32
	Path string
}

// LoadStarted tells the orchestrator the worker began scanning Tag.
type LoadStarted struct {
	Tag uint32
}

// LoadResult carries the serialized descriptor for Tag. An empty Payload
// signals that the file could not be scanned. When received, Payload
// aliases the transport's receive buffer and is only valid during the
// handler call.
type LoadResult struct {
	Tag     uint32
	Payload []byte
}

func (Exit) isMessage()        {}
func (LoadRequest) isMessage() {}
func (LoadStarted) isMessage() {}
func (LoadResult) isMessage()  {}

// Frame is a raw decoded message.
type Frame struct {
	Type    Type
	Tag     uint32
	Payload []byte
}

// PutHeader writes a message header into h, which must hold HeaderSize bytes.
func PutHeader(h []byte, typ Type, tag uint32, length uint32) {
	h[0] = byte(typ)
	h[1] = byte(tag >> 16)
	h[2] = byte(tag >> 8)
	h[3] = byte(tag)
	binary.BigEndian.PutUint32(h[4:HeaderSize], length)
}

// DecodeHeader parses the first HeaderSize bytes of h.
func DecodeHeader(h []byte) (typ Type, tag uint32, length uint32) {
	typ = Type(h[0])
	tag = uint32(h[1])<<16 | uint32(h[2])<<8 | uint32(h[3])
	length = binary.BigEndian.Uint32(h[4:HeaderSize])
	return typ, tag, length
}

// AppendFrame appends an encoded message to dst.
func AppendFrame(dst []byte, typ Type, tag uint32, payload []byte) ([]byte, error) {
	if tag > MaxTag {
		return dst, fmt.Errorf("%w: %d", ErrTagRange, tag)
	}
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return dst, fmt.Errorf("payload of %d bytes does not fit the length field", len(payload))
	}
	var h [HeaderSize]byte
	PutHeader(h[:], typ, tag, uint32(len(payload)))
	dst = append(dst, h[:]...)
	return append(dst, payload...), nil
}

// ParseFrame decodes one complete message from b and returns the rest.
func ParseFrame(b []byte) (Frame, []byte, error) {
	if len(b) < HeaderSize {
		return Frame{}, b, fmt.Errorf("short header: %d bytes", len(b))
	}
	typ, tag, length := DecodeHeader(b)
	if uint64(len(b)-HeaderSize) < uint64(length) {
		return Frame{}, b, fmt.Errorf("short payload: want %d bytes, have %d", length, len(b)-HeaderSize)
	}
	end := HeaderSize + int(length)
	return Frame{Type: typ, Tag: tag, Payload: b[HeaderSize:end]}, b[end:], nil
}

// Decode converts a raw frame into its Message.
func Decode(f Frame) (Message, error) {
	switch f.Type {
	case TypeExit:
		return Exit{Tag: f.Tag}, nil
	case TypeLoadRequest:
		return LoadRequest{Tag: f.Tag, Path: string(f.Payload)}, nil
	case TypeLoadStarted:
		return LoadStarted{Tag: f.Tag}, nil
	case TypeLoadResult:
		return LoadResult{Tag: f.Tag, Payload: f.Payload}, nil
	default:
		return nil, fmt.Errorf("%w: unknown message type %d with tag %d", ErrProtocolViolation, uint8(f.Type), f.Tag)
	}
}

// Encode converts a Message into its raw frame.
func Encode(m Message) Frame {
	switch m := m.(type) {
	case Exit:
		return Frame{Type: TypeExit, Tag: m.Tag}
	case LoadRequest:
		return Frame{Type: TypeLoadRequest, Tag: m.Tag, Payload: []byte(m.Path)}
	case LoadStarted:
		return Frame{Type: TypeLoadStarted, Tag: m.Tag}
	case LoadResult:
		return Frame{Type: TypeLoadResult, Tag: m.Tag, Payload: m.Payload}
	default:
		panic(fmt.Sprintf("multiplexer: unknown message %T", m))
	}
}
