// Package multiplexer frames protocol messages over a pair of non-blocking
// file descriptors and drives both directions with a single poll(2) call per
// iteration. The same Transport serves the orchestrator and the worker; only
// the Handler differs.
package multiplexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/snowmerak/plugscan/lib/chunk"
	"golang.org/x/sys/unix"
)

// DefaultMaxPayload bounds a single received payload.
const DefaultMaxPayload = 256 << 20

// Handler reacts to one decoded message. It may queue replies on t and
// stop reading; an error fails the transport.
type Handler interface {
	HandleMessage(ctx context.Context, t *Transport, m Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, t *Transport, m Message) error

// HandleMessage implements Handler.
func (f HandlerFunc) HandleMessage(ctx context.Context, t *Transport, m Message) error {
	return f(ctx, t, m)
}

// Observer receives per-message accounting. Implementations must be cheap.
type Observer interface {
	MessageSent(typ Type, size int)
	MessageReceived(typ Type, size int)
}

// Options configures a Transport. The zero value is usable.
type Options struct {
	// MaxPayload rejects larger incoming payloads as protocol violations
	// (default: DefaultMaxPayload)
	MaxPayload uint32

	// PollSlice bounds each wait when the context can be cancelled
	// (default: 100ms)
	PollSlice time.Duration

	Logger   *slog.Logger
	Observer Observer
}

// Transport owns the two endpoints and their buffers.
type Transport struct {
	rfd, wfd int
	handler  Handler
	opts     Options
	log      *slog.Logger

	tx txBuffer
	rx rxBuffer

	readArmed  bool
	writeArmed bool
	done       bool

	building   bool
	msgStart   int
	payloadOff int
	msgType    Type

	err error
}

// New binds a Transport to rfd and wfd and switches both to non-blocking
// mode. The Transport does not own the descriptors; callers close them.
func New(rfd, wfd int, h Handler, opts Options) (*Transport, error) {
	if h == nil {
		return nil, errors.New("multiplexer: nil handler")
	}
	if opts.MaxPayload == 0 {
		opts.MaxPayload = DefaultMaxPayload
	}
	if opts.PollSlice <= 0 {
		opts.PollSlice = 100 * time.Millisecond
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	for _, fd := range []int{rfd, wfd} {
		if err := unix.SetNonblock(fd, true); err != nil {
			return nil, fmt.Errorf("set fd %d non-blocking: %w", fd, err)
		}
	}

	return &Transport{
		rfd:       rfd,
		wfd:       wfd,
		handler:   h,
		opts:      opts,
		log:       log,
		tx:        newTxBuffer(),
		rx:        newRxBuffer(),
		readArmed: true,
	}, nil
}

// Done reports whether the peer has acknowledged shutdown.
func (t *Transport) Done() bool { return t.done }

// Err returns the failure that stopped the transport, if any.
func (t *Transport) Err() error { return t.err }

// Pending reports whether encoded bytes are still waiting to be written.
func (t *Transport) Pending() bool { return t.tx.pending() }

// StopReading marks the peer as finished; no further reads are attempted.
func (t *Transport) StopReading() {
	t.done = true
	t.readArmed = false
}

// Send queues m for transmission.
func (t *Transport) Send(m Message) error {
	f := Encode(m)
	return t.Encode(f.Type, f.Tag, f.Payload)
}

// Encode queues one message with a flat payload.
func (t *Transport) Encode(typ Type, tag uint32, payload []byte) error {
	if err := t.BeginMessage(typ, tag); err != nil {
		return err
	}
	copy(t.tx.reserve(len(payload)), payload)
	t.payloadOff = len(payload)
	return t.FinishMessage()
}

// BeginMessage starts a message whose payload is streamed with AppendChunk.
func (t *Transport) BeginMessage(typ Type, tag uint32) error {
	if t.building {
		return errors.New("multiplexer: message already in progress")
	}
	if tag > MaxTag {
		return fmt.Errorf("%w: %d", ErrTagRange, tag)
	}
	t.msgStart = t.tx.write
	PutHeader(t.tx.reserve(HeaderSize), typ, tag, 0)
	t.building = true
	t.payloadOff = 0
	t.msgType = typ
	return nil
}

// AppendChunk appends c to the message in progress, padding it to pointer
// alignment relative to the payload start when c.Align is set.
func (t *Transport) AppendChunk(c chunk.Chunk) {
	pad := chunk.PadLen(t.payloadOff, c.Align)
	out := t.tx.reserve(pad + len(c.Data))
	clear(out[:pad])
	copy(out[pad:], c.Data)
	t.payloadOff += pad + len(c.Data)
}

// FinishMessage patches the payload length and queues the message.
func (t *Transport) FinishMessage() error {
	if !t.building {
		return errors.New("multiplexer: no message in progress")
	}
	t.building = false
	if uint64(t.payloadOff) > uint64(^uint32(0)) {
		t.tx.rollback()
		return fmt.Errorf("payload of %d bytes does not fit the length field", t.payloadOff)
	}
	hdr := t.tx.buf[t.msgStart : t.msgStart+HeaderSize]
	_, tag, _ := DecodeHeader(hdr)
	PutHeader(hdr, t.msgType, tag, uint32(t.payloadOff))
	t.tx.commit()
	t.writeArmed = true

	if t.opts.Observer != nil {
		t.opts.Observer.MessageSent(t.msgType, HeaderSize+t.payloadOff)
	}
	t.log.Debug("queued message", "type", t.msgType, "tag", tag, "size", t.payloadOff)
	return nil
}

// Exchange runs poll iterations until every queued byte has been written,
// and at least once. Each iteration receives at most one message and hands
// it to the Handler. Any error is fatal and sticky.
func (t *Transport) Exchange(ctx context.Context) error {
	if t.err != nil {
		return t.err
	}
	for {
		if !t.readArmed && !t.writeArmed {
			return nil
		}
		if err := t.iterate(ctx); err != nil {
			t.fail(err)
			return t.err
		}
		if !t.tx.pending() {
			return nil
		}
	}
}

// Flush writes every queued byte without reading, waiting only for the
// write endpoint. The worker uses it to put a progress message on the wire
// before a long call. Errors are fatal and sticky, as in Exchange.
func (t *Transport) Flush(ctx context.Context) error {
	if t.err != nil {
		return t.err
	}
	for t.tx.pending() {
		fds := []unix.PollFd{{Fd: int32(t.wfd), Events: unix.POLLOUT}}
		if err := t.wait(ctx, fds); err != nil {
			t.fail(err)
			return t.err
		}
		if rev := fds[0].Revents; rev&(unix.POLLERR|unix.POLLNVAL|unix.POLLHUP) != 0 {
			t.fail(fmt.Errorf("write endpoint %d reported error (revents %#x)", t.wfd, rev))
			return t.err
		}
		if err := t.flush(); err != nil {
			t.fail(err)
			return t.err
		}
	}
	return nil
}

func (t *Transport) fail(err error) {
	if !errors.Is(err, ErrTransport) {
		err = fmt.Errorf("%w: %w", ErrTransport, err)
	}
	t.err = err
	t.readArmed = false
	t.writeArmed = false
	t.log.Debug("transport failed", "error", err)
}

func (t *Transport) iterate(ctx context.Context) error {
	fds := []unix.PollFd{{Fd: -1}, {Fd: -1}}
	if t.readArmed {
		fds[0] = unix.PollFd{Fd: int32(t.rfd), Events: unix.POLLIN}
	}
	if t.writeArmed {
		fds[1] = unix.PollFd{Fd: int32(t.wfd), Events: unix.POLLOUT}
	}
	if err := t.wait(ctx, fds); err != nil {
		return err
	}

	if t.readArmed {
		rev := fds[0].Revents
		switch {
		case rev&(unix.POLLERR|unix.POLLNVAL) != 0:
			return fmt.Errorf("read endpoint %d reported error (revents %#x)", t.rfd, rev)
		case rev&unix.POLLIN != 0:
			if err := t.readOne(ctx); err != nil {
				return err
			}
		case rev&unix.POLLHUP != 0:
			return fmt.Errorf("read endpoint %d closed by peer", t.rfd)
		}
	}

	if t.writeArmed {
		rev := fds[1].Revents
		if rev&(unix.POLLERR|unix.POLLNVAL|unix.POLLHUP) != 0 {
			return fmt.Errorf("write endpoint %d reported error (revents %#x)", t.wfd, rev)
		}
		if rev&unix.POLLOUT != 0 {
			if err := t.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// wait blocks in poll(2). Without a cancellable context it waits
// indefinitely; otherwise it wakes every PollSlice to check the context.
func (t *Transport) wait(ctx context.Context, fds []unix.PollFd) error {
	timeout := -1
	if ctx.Done() != nil {
		timeout = int(t.opts.PollSlice / time.Millisecond)
	}
	for {
		n, err := unix.Poll(fds, timeout)
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}
		if n > 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (t *Transport) readOne(ctx context.Context) error {
	hdr := t.rx.ensure(HeaderSize, 0)
	if err := t.readFull(ctx, hdr); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	typ, tag, length := DecodeHeader(hdr)
	if length > t.opts.MaxPayload {
		return fmt.Errorf("%w: %s tag %d announces %d bytes, limit is %d", ErrProtocolViolation, typ, tag, length, t.opts.MaxPayload)
	}

	msg := t.rx.ensure(HeaderSize+int(length), HeaderSize)
	if err := t.readFull(ctx, msg[HeaderSize:]); err != nil {
		return fmt.Errorf("read %s payload: %w", typ, err)
	}

	if t.opts.Observer != nil {
		t.opts.Observer.MessageReceived(typ, len(msg))
	}
	t.log.Debug("received message", "type", typ, "tag", tag, "size", length)

	m, err := Decode(Frame{Type: typ, Tag: tag, Payload: msg[HeaderSize:]})
	if err != nil {
		return err
	}
	return t.handler.HandleMessage(ctx, t, m)
}

// readFull fills dst, waiting for readiness of the read endpoint whenever
// it would block. End of stream is a short read.
func (t *Transport) readFull(ctx context.Context, dst []byte) error {
	for len(dst) > 0 {
		n, err := unix.Read(t.rfd, dst)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			fds := []unix.PollFd{{Fd: int32(t.rfd), Events: unix.POLLIN}}
			if err := t.wait(ctx, fds); err != nil {
				return err
			}
			if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
				return fmt.Errorf("read endpoint %d reported error", t.rfd)
			}
			continue
		case err != nil:
			return err
		case n == 0:
			return io.ErrUnexpectedEOF
		}
		dst = dst[n:]
	}
	return nil
}

// flush writes as much as the peer accepts and disarms the write side once
// the buffer is drained.
func (t *Transport) flush() error {
	for t.tx.pending() {
		n, err := unix.Write(t.wfd, t.tx.unflushed())
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return nil
		}
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		t.tx.consume(n)
	}
	t.writeArmed = false
	return nil
}
