package process_test

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/snowmerak/plugscan/lib/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// TestHelperProcess is not a real test. It is re-executed by the tests below
// as a stand-in worker.
func TestHelperProcess(t *testing.T) {
	switch os.Getenv("GO_WANT_HELPER_PROCESS") {
	case "echo":
		io.CopyN(os.Stdout, os.Stdin, 5)
		os.Exit(0)
	case "hang":
		time.Sleep(time.Minute)
		os.Exit(0)
	}
}

func helper(t *testing.T, mode string) *process.Process {
	t.Helper()
	p, err := process.Fork(os.Args[0], []string{"-test.run=^TestHelperProcess$"}, []string{"GO_WANT_HELPER_PROCESS=" + mode})
	require.NoError(t, err)
	t.Cleanup(func() {
		p.Close()
		p.Kill()
	})
	return p
}

func readN(t *testing.T, fd, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	for off := 0; off < n; {
		m, err := unix.Read(fd, buf[off:])
		require.NoError(t, err)
		require.NotZero(t, m, "unexpected end of stream")
		off += m
	}
	return buf
}

func TestFork_PipesConnectToChild(t *testing.T) {
	p := helper(t, "echo")
	assert.NotZero(t, p.Pid())
	assert.NotEqual(t, os.Getpid(), p.Pid())

	_, err := unix.Write(p.Stdin(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), readN(t, p.Stdout(), 5))

	killed, err := p.Reap(10 * time.Second)
	assert.False(t, killed)
	assert.NoError(t, err)
	assert.True(t, p.Exited())
	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close(), "close is idempotent")
}

func TestFork_ReapKillsHungWorker(t *testing.T) {
	p := helper(t, "hang")
	require.NoError(t, p.Close())

	killed, err := p.Reap(50 * time.Millisecond)
	assert.True(t, killed)
	assert.Error(t, err, "a killed worker reports its signal")
	assert.True(t, p.Exited())
}

func TestFork_MissingBinary(t *testing.T) {
	_, err := process.Fork("/nonexistent/plugscan-worker", nil, nil)
	assert.Error(t, err)
}

func TestInProcess(t *testing.T) {
	p, err := process.InProcess(func(rfd, wfd int) error {
		buf := make([]byte, 3)
		n, err := unix.Read(rfd, buf)
		if err != nil {
			return err
		}
		_, err = unix.Write(wfd, buf[:n])
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), p.Pid())

	_, err = unix.Write(p.Stdin(), []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), readN(t, p.Stdout(), 3))

	// The worker closes its ends on return, so the reader sees end of stream.
	require.NoError(t, p.Wait())
	n, err := unix.Read(p.Stdout(), make([]byte, 1))
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, p.Close())
}

func TestInProcess_ReapTimeout(t *testing.T) {
	release := make(chan struct{})
	p, err := process.InProcess(func(int, int) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Reap(20 * time.Millisecond)
	assert.ErrorIs(t, err, process.ErrReapTimeout)

	close(release)
	killed, err := p.Reap(time.Second)
	assert.False(t, killed)
	assert.NoError(t, err)
}
