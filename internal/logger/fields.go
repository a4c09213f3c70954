package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across the remote client
// layer. Use these keys consistently across all log statements for log
// aggregation and querying.
const (
	// Distributed tracing
	KeyTraceID   = "trace_id"
	KeySpanID    = "span_id"
	KeyRequestID = "request_id"

	// Remote client operations
	KeyOperation  = "operation"   // RemoteClient/TransferEngine/BatchExecutor method
	KeyAccountID  = "account_id"  // linked account identifier
	KeyRemotePath = "remote_path" // remote (server-side) path
	KeyLocalPath  = "local_path"  // local filesystem path
	KeyCursor     = "cursor"      // pagination/change-feed cursor
	KeyNamespace  = "namespace"   // namespace/root id
	KeyJobID      = "job_id"      // async batch job id

	// I/O
	KeySize         = "size"
	KeyContentHash  = "content_hash"
	KeyBytesRead    = "bytes_read"
	KeyBytesWritten = "bytes_written"

	// Retry / backoff
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"
	KeyBackoffSec = "backoff_sec"
	KeyDurationMs = "duration_ms"
	KeyErrorKind  = "error_kind"
	KeyError      = "error"
)

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// RequestID returns a slog.Attr for the per-call correlation ID
func RequestID(id string) slog.Attr { return slog.String(KeyRequestID, id) }

// Operation returns a slog.Attr for the method name being logged
func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }

// AccountID returns a slog.Attr for the linked account id
func AccountID(id string) slog.Attr { return slog.String(KeyAccountID, id) }

// RemotePath returns a slog.Attr for a remote path
func RemotePath(p string) slog.Attr { return slog.String(KeyRemotePath, p) }

// LocalPath returns a slog.Attr for a local filesystem path
func LocalPath(p string) slog.Attr { return slog.String(KeyLocalPath, p) }

// Cursor returns a slog.Attr for a pagination/change-feed cursor
func Cursor(c string) slog.Attr { return slog.String(KeyCursor, c) }

// Namespace returns a slog.Attr for a namespace/root id
func Namespace(ns string) slog.Attr { return slog.String(KeyNamespace, ns) }

// JobID returns a slog.Attr for an async batch job id
func JobID(id string) slog.Attr { return slog.String(KeyJobID, id) }

// Size returns a slog.Attr for a byte size
func Size(s int64) slog.Attr { return slog.Int64(KeySize, s) }

// ContentHash returns a slog.Attr for a content hash
func ContentHash(h string) slog.Attr { return slog.String(KeyContentHash, h) }

// BytesRead returns a slog.Attr for bytes read so far
func BytesRead(n int64) slog.Attr { return slog.Int64(KeyBytesRead, n) }

// BytesWritten returns a slog.Attr for bytes written so far
func BytesWritten(n int64) slog.Attr { return slog.Int64(KeyBytesWritten, n) }

// Attempt returns a slog.Attr for the current retry attempt number
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }

// MaxRetries returns a slog.Attr for the maximum retry attempts
func MaxRetries(n int) slog.Attr { return slog.Int(KeyMaxRetries, n) }

// BackoffSec returns a slog.Attr for a backoff duration in seconds
func BackoffSec(s float64) slog.Attr { return slog.Float64(KeyBackoffSec, s) }

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// ErrorKind returns a slog.Attr for the MaestralError variant name
func ErrorKind(kind string) slog.Attr { return slog.String(KeyErrorKind, kind) }

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
