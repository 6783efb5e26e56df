// Package plugin provides the worker side of a scanning session.
//
// A Worker reads LOAD_REQUEST messages, introspects each file and answers
// with LOAD_STARTED followed by LOAD_RESULT. It keeps no state between
// requests; a failed or panicking scan yields an empty LOAD_RESULT.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/snowmerak/plugscan/lib/descriptor"
	"github.com/snowmerak/plugscan/lib/introspect"
	"github.com/snowmerak/plugscan/lib/multiplexer"
)

// WorkerOptions defines options for creating a Worker.
type WorkerOptions struct {
	MaxPayload uint32
	Logger     *slog.Logger
}

// Worker serves scan requests over a pair of descriptors.
type Worker struct {
	introspector introspect.Introspector
	opts         WorkerOptions
	log          *slog.Logger
}

// NewWorker creates a Worker backed by in. opts may be nil.
func NewWorker(in introspect.Introspector, opts *WorkerOptions) *Worker {
	var o WorkerOptions
	if opts != nil {
		o = *opts
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return &Worker{introspector: in, opts: o, log: o.Logger}
}

// WithSession returns a copy of w whose log lines carry session.
func (w *Worker) WithSession(session string) *Worker {
	if session == "" {
		return w
	}
	c := *w
	c.log = w.log.With("session", session)
	return &c
}

// ServeStdio serves the host on the process's standard streams. Replies go
// to a private duplicate of stdout, and stdout itself is pointed at stderr
// so that output printed by addon code cannot corrupt the stream.
func (w *Worker) ServeStdio(ctx context.Context) error {
	out, err := rebindStdout()
	if err != nil {
		return fmt.Errorf("rebind stdout: %w", err)
	}
	defer closeFD(out)

	return w.WithSession(os.Getenv(SessionEnv)).Serve(ctx, stdinFD, out)
}

// Serve answers requests read from rfd on wfd until the host sends EXIT and
// the acknowledgment has been flushed. It returns the transport failure that
// ended the session early, if any.
func (w *Worker) Serve(ctx context.Context, rfd, wfd int) error {
	t, err := multiplexer.New(rfd, wfd, multiplexer.HandlerFunc(w.handleMessage), multiplexer.Options{
		MaxPayload: w.opts.MaxPayload,
		Logger:     w.log,
	})
	if err != nil {
		return err
	}

	w.log.Debug("worker serving", "pid", os.Getpid())
	for !t.Done() {
		if err := t.Exchange(ctx); err != nil {
			w.log.Error("worker session failed", "error", err)
			return err
		}
	}
	w.log.Debug("worker exiting")
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, t *multiplexer.Transport, m multiplexer.Message) error {
	switch m := m.(type) {
	case multiplexer.LoadRequest:
		if err := t.Send(multiplexer.LoadStarted{Tag: m.Tag}); err != nil {
			return err
		}
		// The host sees progress even if the scan hangs or kills us.
		if err := t.Flush(ctx); err != nil {
			return err
		}
		d := w.scan(ctx, m.Tag, m.Path)
		if err := t.BeginMessage(multiplexer.TypeLoadResult, m.Tag); err != nil {
			return err
		}
		if d != nil {
			for _, c := range d.Chunks() {
				t.AppendChunk(c)
			}
		}
		return t.FinishMessage()
	case multiplexer.Exit:
		if err := t.Send(multiplexer.Exit{}); err != nil {
			return err
		}
		t.StopReading()
		return nil
	case multiplexer.LoadStarted, multiplexer.LoadResult:
		return fmt.Errorf("%w: host sent %T", ErrProtocolViolation, m)
	default:
		return fmt.Errorf("%w: unexpected message %T", ErrProtocolViolation, m)
	}
}

// scan runs the introspector, turning errors and panics into a nil result.
func (w *Worker) scan(ctx context.Context, tag uint32, path string) (d *descriptor.Descriptor) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("introspection panicked", "tag", tag, "path", path, "panic", r, "stack", string(debug.Stack()))
			d = nil
		}
	}()

	d, err := w.introspector.Introspect(ctx, path)
	if err != nil {
		w.log.Info("scan failed", "tag", tag, "path", path, "error", err)
		return nil
	}
	if d == nil {
		w.log.Info("scan produced no descriptor", "tag", tag, "path", path)
		return nil
	}
	if err := d.Validate(); err != nil {
		w.log.Info("scan produced an unencodable descriptor", "tag", tag, "path", path, "error", err)
		return nil
	}
	return d
}
