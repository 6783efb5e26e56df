// Package plugin provides lifecycle management functionality for the worker process.
// This file contains functions for creating a Loader, spawning its worker and tearing it down.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/snowmerak/plugscan/lib/multiplexer"
)

// NewLoader creates a Loader that installs results into catalog. The worker
// is not started until the first Submit.
func NewLoader(catalog Catalog, opts *LoaderOptions) (*Loader, error) {
	if catalog == nil {
		return nil, errors.New("catalog cannot be nil")
	}
	if opts == nil || opts.Spawn == nil {
		return nil, errors.New("loader options must provide a spawn function")
	}

	o := *opts
	if o.ReapTimeout <= 0 {
		o.ReapTimeout = DefaultReapTimeout
	}
	if o.MaxPayload == 0 {
		o.MaxPayload = multiplexer.DefaultMaxPayload
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}

	session := uuid.NewString()
	return &Loader{
		catalog: catalog,
		opts:    o,
		log:     o.Logger.With("session", session),
		session: session,
		state:   StateWorkerNotStarted,
	}, nil
}

// Session returns the id shared with the worker.
func (l *Loader) Session() string { return l.session }

// State returns the current lifecycle state.
func (l *Loader) State() State { return l.state }

// Err returns the transport failure that stopped the Loader, if any.
func (l *Loader) Err() error { return l.err }

// Stats returns the job counters so far.
func (l *Loader) Stats() Stats { return l.stats }

// Pending returns the number of unresolved jobs.
func (l *Loader) Pending() int { return len(l.pending) }

func (l *Loader) spawn(ctx context.Context) error {
	proc, err := l.opts.Spawn(ctx, l.session)
	if l.opts.Observer != nil {
		l.opts.Observer.WorkerSpawned(err)
	}
	if err != nil {
		l.log.Warn("worker spawn failed", "error", err)
		return fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	tr, err := multiplexer.New(proc.Stdout(), proc.Stdin(), multiplexer.HandlerFunc(l.handleMessage), multiplexer.Options{
		MaxPayload: l.opts.MaxPayload,
		Logger:     l.log,
		Observer:   l.opts.Observer,
	})
	if err != nil {
		proc.Close()
		proc.Reap(l.opts.ReapTimeout)
		return fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	l.proc = proc
	l.tr = tr
	l.state = StateWorkerRunning
	l.log.Debug("worker started", "pid", proc.Pid())
	return nil
}

// Teardown shuts the worker down: it sends EXIT, keeps exchanging until the
// worker acknowledges, closes both endpoints and reaps the process, killing
// it after the reap timeout. Jobs still pending are discarded. It reports
// whether any descriptor was ever produced, and the transport failure that
// ended the session, if any. Calling it again returns the same summary and
// no error.
func (l *Loader) Teardown(ctx context.Context) (bool, error) {
	switch l.state {
	case StateUninitialized:
		return false, errNotInitialized
	case StateTerminated:
		return l.produced, nil
	case StateWorkerNotStarted:
		l.state = StateTerminated
		l.discardPending()
		return l.produced, nil
	}

	l.state = StateShuttingDown
	if l.err == nil {
		if err := l.tr.Send(multiplexer.Exit{}); err != nil {
			l.fail(err)
		}
		for l.err == nil && !l.tr.Done() {
			if err := l.tr.Exchange(ctx); err != nil {
				l.fail(err)
			}
		}
	}
	l.discardPending()

	if err := l.proc.Close(); err != nil {
		l.log.Warn("closing worker endpoints", "error", err)
	}
	killed, err := l.proc.Reap(l.opts.ReapTimeout)
	switch {
	case killed:
		l.log.Warn("worker killed after reap timeout", "pid", l.proc.Pid(), "timeout", l.opts.ReapTimeout)
	case err != nil:
		l.log.Warn("worker exited abnormally", "pid", l.proc.Pid(), "error", err)
	default:
		l.log.Debug("worker reaped", "pid", l.proc.Pid())
	}

	l.state = StateTerminated
	l.log.Debug("loader terminated",
		"submitted", l.stats.Submitted,
		"descriptors", l.stats.Descriptors,
		"placeholders", l.stats.Placeholders,
		"superseded", l.stats.Superseded,
		"discarded", l.stats.Discarded)
	return l.produced, l.err
}

func (l *Loader) fail(err error) {
	if l.err != nil {
		return
	}
	l.err = err
	if l.opts.Observer != nil {
		l.opts.Observer.TransportFailed()
	}
	l.log.Error("worker session failed", "error", err, "pending", len(l.pending))
}

func (l *Loader) discardPending() {
	for _, job := range l.pending {
		l.stats.Discarded++
		l.observeJob(job, OutcomeDiscarded)
		l.log.Debug("discarded unanswered job", "tag", job.Tag, "path", job.Path)
	}
	l.pending = nil
}
