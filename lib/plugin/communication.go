// Package plugin provides communication functionality between host and worker processes.
// This file contains Submit, the only way requests reach the worker.
package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/snowmerak/plugscan/lib/multiplexer"
)

// Submit queues path for scanning and runs one exchange with the worker,
// spawning it first if needed. size and mtime describe the file as the
// caller saw it; they are stamped onto the resulting descriptor. Results are
// installed into the Catalog as they arrive, during this or later calls.
func (l *Loader) Submit(ctx context.Context, path string, size int64, mtime time.Time) error {
	if l.err != nil {
		return l.err
	}
	switch l.state {
	case StateUninitialized:
		return errNotInitialized
	case StateShuttingDown, StateTerminated:
		return ErrLoaderClosed
	}
	if l.nextTag > multiplexer.MaxTag {
		return ErrTagSpaceExhausted
	}

	if l.state == StateWorkerNotStarted {
		if err := l.spawn(ctx); err != nil {
			return err
		}
	}

	tag := l.nextTag
	if err := l.tr.Send(multiplexer.LoadRequest{Tag: tag, Path: path}); err != nil {
		return fmt.Errorf("encode request for %s: %w", path, err)
	}
	l.nextTag++
	l.pending = append(l.pending, &PendingJob{Tag: tag, Path: path, Size: size, MTime: mtime, Submitted: time.Now()})
	l.stats.Submitted++
	l.log.Debug("submitted", "tag", tag, "path", path)

	if err := l.tr.Exchange(ctx); err != nil {
		l.fail(err)
		return l.err
	}
	return nil
}
