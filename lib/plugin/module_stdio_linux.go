package plugin

import "golang.org/x/sys/unix"

// Some linux ports lack dup2.
func redirectFD(from, to int) error {
	return unix.Dup3(from, to, 0)
}
