package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for Remote Client Layer spans, following OpenTelemetry
// semantic conventions where applicable.
const (
	AttrRemotePath = "remote.path"
	AttrLocalPath  = "local.path"
	AttrAccountID  = "remote.account_id"
	AttrCursor     = "remote.cursor"
	AttrDirection  = "transfer.direction" // "download", "upload"
	AttrBytes      = "transfer.bytes"
	AttrChunkSize  = "transfer.chunk_size"
	AttrBatchSize  = "batch.size"
	AttrBatchOp    = "batch.op" // "create_dirs", "delete"
	AttrErrorKind  = "remote.error_kind"
	AttrAttempt    = "retry.attempt"
)

// Span names for Remote Client Layer operations.
const (
	SpanLink            = "remote.link"
	SpanUnlink          = "remote.unlink"
	SpanGetMetadata     = "remote.get_metadata"
	SpanListFolder      = "remote.list_folder"
	SpanWaitForChanges  = "remote.wait_for_changes"
	SpanDownload        = "remote.download"
	SpanUpload          = "remote.upload"
	SpanCreateDirs      = "remote.create_dirs"
	SpanDelete          = "remote.delete"
	SpanListRevisions   = "remote.list_revisions"
	SpanRestore         = "remote.restore"
	SpanCreateShareLink = "remote.create_shared_link"
	SpanRevokeShareLink = "remote.revoke_shared_link"
	SpanListShareLinks  = "remote.list_shared_links"
	SpanGetSpaceUsage   = "remote.get_space_usage"
	SpanMove            = "remote.move"
	SpanRemove          = "remote.remove"
	SpanShareDir        = "remote.share_dir"
)

// RemotePath returns an attribute for a remote path.
func RemotePath(path string) attribute.KeyValue {
	return attribute.String(AttrRemotePath, path)
}

// LocalPath returns an attribute for a local filesystem path.
func LocalPath(path string) attribute.KeyValue {
	return attribute.String(AttrLocalPath, path)
}

// AccountID returns an attribute for the linked account's id.
func AccountID(id string) attribute.KeyValue {
	return attribute.String(AttrAccountID, id)
}

// Cursor returns an attribute for a change-feed cursor.
func Cursor(cursor string) attribute.KeyValue {
	return attribute.String(AttrCursor, cursor)
}

// Direction returns an attribute for a transfer direction.
func Direction(direction string) attribute.KeyValue {
	return attribute.String(AttrDirection, direction)
}

// Bytes returns an attribute for a transfer byte count.
func Bytes(n int64) attribute.KeyValue {
	return attribute.Int64(AttrBytes, n)
}

// ErrorKind returns an attribute for a mapped MaestralError kind.
func ErrorKind(kind string) attribute.KeyValue {
	return attribute.String(AttrErrorKind, kind)
}

// Attempt returns an attribute for a retry attempt number.
func Attempt(n int) attribute.KeyValue {
	return attribute.Int(AttrAttempt, n)
}

// BatchOp returns an attribute identifying a batch operation kind.
func BatchOp(op string) attribute.KeyValue {
	return attribute.String(AttrBatchOp, op)
}

// BatchSize returns an attribute for the number of inputs in a batch call.
func BatchSize(n int) attribute.KeyValue {
	return attribute.Int(AttrBatchSize, n)
}

// ChunkSize returns an attribute for a transfer's chunk size.
func ChunkSize(n int64) attribute.KeyValue {
	return attribute.Int64(AttrChunkSize, n)
}

// StartRemoteSpan starts a span for a Remote Client Layer call, tagging it
// with the remote path in play, if any.
func StartRemoteSpan(ctx context.Context, name, remotePath string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := attrs
	if remotePath != "" {
		allAttrs = append([]attribute.KeyValue{RemotePath(remotePath)}, attrs...)
	}
	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}
