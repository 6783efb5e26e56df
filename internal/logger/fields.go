package logger

// Standard field keys. Use them consistently so log lines of the host and
// the worker can be correlated.
const (
	KeySession  = "session"  // worker session id
	KeyCommand  = "command"  // CLI command
	KeyRoot     = "root"     // scan root directory
	KeyPath     = "path"     // addon file path
	KeyTag      = "tag"      // request tag
	KeyPid      = "pid"      // worker process id
	KeyDuration = "duration" // elapsed time
	KeyError    = "error"    // error message
)

