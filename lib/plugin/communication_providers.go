package plugin

import (
	"context"
	"time"

	"github.com/snowmerak/plugscan/lib/multiplexer"
	"github.com/snowmerak/plugscan/lib/process"
)

// DefaultReapTimeout is how long Teardown waits for the worker to exit.
const DefaultReapTimeout = 5 * time.Second

// ForkSpawner starts the worker by executing path with args. The session id
// is passed through SessionEnv.
func ForkSpawner(path string, args ...string) SpawnFunc {
	return func(_ context.Context, session string) (*process.Process, error) {
		return process.Fork(path, args, []string{SessionEnv + "=" + session})
	}
}

// InProcessSpawner runs w on a goroutine connected through pipes. Addon code
// then executes inside the host, so this is meant for tests and debugging.
func InProcessSpawner(w *Worker) SpawnFunc {
	return func(ctx context.Context, session string) (*process.Process, error) {
		ctx = context.WithoutCancel(ctx)
		return process.InProcess(func(rfd, wfd int) error {
			return w.WithSession(session).Serve(ctx, rfd, wfd)
		})
	}
}

// DefaultLoaderOptions returns options that fork path as the worker.
func DefaultLoaderOptions(path string, args ...string) *LoaderOptions {
	return &LoaderOptions{
		Spawn:       ForkSpawner(path, args...),
		ReapTimeout: DefaultReapTimeout,
		MaxPayload:  multiplexer.DefaultMaxPayload,
	}
}
