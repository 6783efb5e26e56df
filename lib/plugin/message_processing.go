// Package plugin provides message processing functionality.
// This file contains the Loader's handler for messages coming back from the worker.
package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/snowmerak/plugscan/lib/descriptor"
	"github.com/snowmerak/plugscan/lib/multiplexer"
)

func (l *Loader) handleMessage(_ context.Context, t *multiplexer.Transport, m multiplexer.Message) error {
	switch m := m.(type) {
	case multiplexer.Exit:
		l.log.Debug("worker acknowledged shutdown")
		t.StopReading()
		return nil
	case multiplexer.LoadStarted:
		if job := l.lookup(m.Tag); job != nil {
			job.Started = time.Now()
			l.log.Debug("worker started scanning", "tag", m.Tag, "path", job.Path)
		}
		return nil
	case multiplexer.LoadResult:
		return l.resolve(m.Tag, m.Payload)
	case multiplexer.LoadRequest:
		return fmt.Errorf("%w: worker sent LOAD_REQUEST with tag %d", ErrProtocolViolation, m.Tag)
	default:
		return fmt.Errorf("%w: unexpected message %T", ErrProtocolViolation, m)
	}
}

func (l *Loader) lookup(tag uint32) *PendingJob {
	for _, job := range l.pending {
		if job.Tag == tag {
			return job
		}
	}
	return nil
}

// resolve retires every pending job whose tag is not greater than tag. The
// worker answers strictly in submission order, so older jobs were skipped
// and are discarded as superseded.
func (l *Loader) resolve(tag uint32, payload []byte) error {
	n := 0
	for n < len(l.pending) && l.pending[n].Tag <= tag {
		n++
	}
	if n == 0 || l.pending[n-1].Tag != tag {
		return fmt.Errorf("%w: result for unknown tag %d", ErrProtocolViolation, tag)
	}

	retired := l.pending[:n]
	l.pending = l.pending[n:]
	for _, job := range retired[:n-1] {
		l.stats.Superseded++
		l.observeJob(job, OutcomeSuperseded)
		l.log.Debug("superseded job", "tag", job.Tag, "path", job.Path)
	}
	return l.install(retired[n-1], payload)
}

func (l *Loader) install(job *PendingJob, payload []byte) error {
	var (
		d       *descriptor.Descriptor
		outcome Outcome
	)
	if len(payload) == 0 {
		d = descriptor.Placeholder(job.Path, job.Size, job.MTime)
		outcome = OutcomePlaceholder
		l.stats.Placeholders++
		l.log.Info("scan failed, caching placeholder", "tag", job.Tag, "path", job.Path)
	} else {
		var err error
		if d, err = descriptor.Decode(payload); err != nil {
			return fmt.Errorf("%w: result for tag %d: %w", ErrTransport, job.Tag, err)
		}
		d.Filename = job.Path
		d.Size = job.Size
		d.MTime = job.MTime
		outcome = OutcomeDescriptor
		l.stats.Descriptors++
		l.log.Debug("scanned", "tag", job.Tag, "path", job.Path, "name", d.Name, "features", len(d.Features))
	}

	l.observeJob(job, outcome)
	if err := l.catalog.Add(d); err != nil {
		return fmt.Errorf("add %s to catalog: %w", job.Path, err)
	}
	l.produced = true
	return nil
}

// observeJob reports the time from submission to resolution.
func (l *Loader) observeJob(job *PendingJob, outcome Outcome) {
	if !job.Started.IsZero() {
		l.log.Debug("job resolved", "tag", job.Tag, "outcome", outcome, "scan", time.Since(job.Started))
	}
	if l.opts.Observer == nil {
		return
	}
	var elapsed time.Duration
	if !job.Submitted.IsZero() {
		elapsed = time.Since(job.Submitted)
	}
	l.opts.Observer.JobResolved(outcome, elapsed)
}
