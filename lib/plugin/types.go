// Package plugin provides the two roles of a scanning session: the Loader,
// which lives in the host and submits files, and the Worker, which runs in a
// disposable child process and introspects them.
// This file contains the core types, interfaces and the Loader struct definition.
package plugin

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/snowmerak/plugscan/lib/descriptor"
	"github.com/snowmerak/plugscan/lib/multiplexer"
	"github.com/snowmerak/plugscan/lib/process"
)

// SessionEnv carries the Loader's session id into the worker environment.
const SessionEnv = "PLUGSCAN_SESSION"

var (
	// ErrSpawn is returned by Submit when the worker could not be started.
	// The Loader stays usable.
	ErrSpawn = errors.New("failed to spawn worker")
	// ErrTransport marks a fatal communication failure; the Loader refuses
	// further submissions afterwards.
	ErrTransport = multiplexer.ErrTransport
	// ErrProtocolViolation marks a message that cannot belong to a healthy
	// session.
	ErrProtocolViolation = multiplexer.ErrProtocolViolation
	// ErrLoaderClosed is returned by Submit after Teardown.
	ErrLoaderClosed = errors.New("loader is closed")
	// ErrTagSpaceExhausted is returned once every 24-bit tag has been used.
	ErrTagSpaceExhausted = errors.New("tag space exhausted")

	errNotInitialized = errors.New("loader is not initialized")
)

// Catalog receives every descriptor the Loader produces.
type Catalog interface {
	Add(d *descriptor.Descriptor) error
}

// SpawnFunc starts a worker for the given session.
type SpawnFunc func(ctx context.Context, session string) (*process.Process, error)

// Outcome is the terminal state of a PendingJob.
type Outcome string

const (
	OutcomeDescriptor  Outcome = "descriptor"
	OutcomePlaceholder Outcome = "placeholder"
	OutcomeSuperseded  Outcome = "superseded"
	OutcomeDiscarded   Outcome = "discarded"
)

// Observer receives lifecycle events of a Loader in addition to the
// per-message accounting of its transport.
type Observer interface {
	multiplexer.Observer
	WorkerSpawned(err error)
	JobResolved(outcome Outcome, elapsed time.Duration)
	TransportFailed()
}

// State is the lifecycle position of a Loader.
type State int

const (
	StateUninitialized State = iota
	StateWorkerNotStarted
	StateWorkerRunning
	StateShuttingDown
	StateTerminated
)

// PendingJob is a submitted file whose result has not arrived yet.
type PendingJob struct {
	Tag   uint32
	Path  string
	Size  int64
	MTime time.Time

	// Submitted is when the request was queued.
	Submitted time.Time
	// Started is set when the worker announced LOAD_STARTED.
	Started time.Time
}

// Stats counts what happened to the jobs of one Loader.
type Stats struct {
	Submitted    int
	Descriptors  int
	Placeholders int
	Superseded   int
	Discarded    int
}

// LoaderOptions defines options for creating a Loader.
type LoaderOptions struct {
	// Spawn starts the worker on the first submission.
	Spawn SpawnFunc

	// ReapTimeout bounds the wait for the worker to exit after shutdown
	// before it is killed.
	ReapTimeout time.Duration

	// MaxPayload bounds a single received message.
	MaxPayload uint32

	Logger   *slog.Logger
	Observer Observer
}

// Loader submits files to a worker process and installs the results into a
// Catalog. A Loader is driven by one goroutine; it holds no locks.
type Loader struct {
	catalog Catalog
	opts    LoaderOptions
	log     *slog.Logger
	session string

	state State
	proc  *process.Process
	tr    *multiplexer.Transport

	nextTag uint32
	pending []*PendingJob

	produced bool
	stats    Stats
	err      error
}
