//go:build unix

package plugin

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	stdinFD  = 0
	stdoutFD = 1
	stderrFD = 2
)

// rebindStdout duplicates stdout for the protocol and points descriptor 1
// at stderr. The duplicate is returned.
func rebindStdout() (int, error) {
	out, err := unix.FcntlInt(uintptr(stdoutFD), unix.F_DUPFD_CLOEXEC, 3)
	if err != nil {
		return -1, fmt.Errorf("duplicate stdout: %w", err)
	}
	if err := redirectFD(stderrFD, stdoutFD); err != nil {
		unix.Close(out)
		return -1, fmt.Errorf("point stdout at stderr: %w", err)
	}
	return out, nil
}

func closeFD(fd int) { unix.Close(fd) }
