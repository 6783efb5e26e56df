// Package plugin provides utility functions for the plugin system.
package plugin

import "fmt"

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateWorkerNotStarted:
		return "worker-not-started"
	case StateWorkerRunning:
		return "worker-running"
	case StateShuttingDown:
		return "shutting-down"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Resolved returns the number of jobs that produced a catalog entry.
func (s Stats) Resolved() int { return s.Descriptors + s.Placeholders }
