// Package process starts the worker side of a scanning session and hands the
// caller the two raw pipe ends that connect to it.
package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrReapTimeout is returned when a worker could not be reaped in time.
var ErrReapTimeout = errors.New("worker did not exit before the reap timeout")

// Process is a running worker. Stdin is the write end connected to the
// worker's input and Stdout the read end connected to its output; both are
// raw descriptors owned by the Process.
type Process struct {
	pid    int
	stdin  int
	stdout int

	cmd    *exec.Cmd
	exited chan struct{}
	err    error

	closeOnce sync.Once
	closeErr  error
}

// Fork executes path with args and env appended to the current environment.
// The child's stderr is inherited.
func Fork(path string, args []string, env []string) (*Process, error) {
	childIn, parentIn, err := pipe()
	if err != nil {
		return nil, err
	}
	parentOut, childOut, err := pipe()
	if err != nil {
		unix.Close(childIn)
		unix.Close(parentIn)
		return nil, err
	}

	stdinFile := os.NewFile(uintptr(childIn), "worker-stdin")
	stdoutFile := os.NewFile(uintptr(childOut), "worker-stdout")
	defer stdinFile.Close()
	defer stdoutFile.Close()

	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdin = stdinFile
	cmd.Stdout = stdoutFile
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		unix.Close(parentIn)
		unix.Close(parentOut)
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	p := &Process{
		pid:    cmd.Process.Pid,
		stdin:  parentIn,
		stdout: parentOut,
		cmd:    cmd,
		exited: make(chan struct{}),
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			p.err = fmt.Errorf("process exited with error: %w", err)
		}
		close(p.exited)
	}()
	return p, nil
}

// InProcess runs fn on a goroutine as if it were a worker process. fn
// receives the worker's read and write descriptors, which are closed when it
// returns. Kill has no effect on such a worker; it stops when its input
// reaches end of stream.
func InProcess(fn func(rfd, wfd int) error) (*Process, error) {
	childIn, parentIn, err := pipe()
	if err != nil {
		return nil, err
	}
	parentOut, childOut, err := pipe()
	if err != nil {
		unix.Close(childIn)
		unix.Close(parentIn)
		return nil, err
	}

	p := &Process{
		pid:    os.Getpid(),
		stdin:  parentIn,
		stdout: parentOut,
		exited: make(chan struct{}),
	}
	go func() {
		defer close(p.exited)
		defer unix.Close(childIn)
		defer unix.Close(childOut)
		if err := fn(childIn, childOut); err != nil {
			p.err = fmt.Errorf("in-process worker failed: %w", err)
		}
	}()
	return p, nil
}

func pipe() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return -1, -1, fmt.Errorf("failed to create pipe: %w", err)
	}
	return fds[0], fds[1], nil
}

// Pid returns the worker's process id; in-process workers report the
// current process.
func (p *Process) Pid() int { return p.pid }

// Stdin returns the descriptor written to reach the worker.
func (p *Process) Stdin() int { return p.stdin }

// Stdout returns the descriptor the worker's replies are read from.
func (p *Process) Stdout() int { return p.stdout }

// Close closes both parent-side descriptors. It is safe to call repeatedly.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		if err := unix.Close(p.stdin); err != nil {
			p.closeErr = fmt.Errorf("failed to close stdin writer: %w", err)
		}
		if err := unix.Close(p.stdout); err != nil && p.closeErr == nil {
			p.closeErr = fmt.Errorf("failed to close stdout reader: %w", err)
		}
	})
	return p.closeErr
}

// Kill terminates a forked worker.
func (p *Process) Kill() error {
	if p.cmd == nil {
		return nil
	}
	select {
	case <-p.exited:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process: %w", err)
	}
	return nil
}

// Wait blocks until the worker has exited and returns its exit error.
func (p *Process) Wait() error {
	<-p.exited
	return p.err
}

// Exited reports whether the worker has already been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// Reap waits up to timeout for the worker to exit, kills it otherwise and
// waits for that. The second return reports whether a kill was needed.
func (p *Process) Reap(timeout time.Duration) (killed bool, err error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.exited:
		return false, p.err
	case <-timer.C:
	}

	if p.cmd == nil {
		return false, ErrReapTimeout
	}
	if err := p.Kill(); err != nil {
		return true, err
	}
	<-p.exited
	return true, p.err
}
