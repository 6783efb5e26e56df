package logger

import "context"

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds the fields of one scan operation that every log line
// written on its behalf should carry.
type LogContext struct {
	Session string // worker session id
	Command string // CLI command name
	Root    string // scan root
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// Attrs returns the non-empty fields as slog key/value pairs.
func (lc *LogContext) Attrs() []any {
	if lc == nil {
		return nil
	}
	var out []any
	if lc.Session != "" {
		out = append(out, KeySession, lc.Session)
	}
	if lc.Command != "" {
		out = append(out, KeyCommand, lc.Command)
	}
	if lc.Root != "" {
		out = append(out, KeyRoot, lc.Root)
	}
	return out
}

// appendContextFields prepends the LogContext fields of ctx to args so they
// appear first in output.
func appendContextFields(ctx context.Context, args []any) []any {
	ctxArgs := FromContext(ctx).Attrs()
	if len(ctxArgs) == 0 {
		return args
	}
	return append(ctxArgs, args...)
}
