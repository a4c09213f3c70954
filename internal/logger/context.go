package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for a single remote
// client call: which account, which paths, and the correlation IDs tying
// it to a trace and a request-level retry budget.
type LogContext struct {
	TraceID    string // OpenTelemetry trace ID
	SpanID     string // OpenTelemetry span ID
	RequestID  string // per-call correlation ID (uuid)
	AccountID  string // linked Dropbox-style account ID
	Operation  string // RemoteClient/TransferEngine/BatchExecutor method name
	RemotePath string
	LocalPath  string
	StartTime  time.Time // For duration calculation
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

// NewLogContext creates a new LogContext for an operation.
func NewLogContext(operation string) *LogContext {
	return &LogContext{
		Operation: operation,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithPaths returns a copy with the remote/local paths set
func (lc *LogContext) WithPaths(remotePath, localPath string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.RemotePath = remotePath
		clone.LocalPath = localPath
	}
	return clone
}

// WithAccount returns a copy with the account ID set
func (lc *LogContext) WithAccount(accountID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.AccountID = accountID
	}
	return clone
}

// WithRequestID returns a copy with the request correlation ID set
func (lc *LogContext) WithRequestID(requestID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.RequestID = requestID
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
