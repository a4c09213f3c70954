package remote

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bogwonch/maestral/pkg/metrics"
)

// ErrorKind is the closed taxonomy every RemoteClient call surfaces to its
// caller. Unlike the remote SDK's exception hierarchy, callers switch on a
// finite set of variants instead of inspecting classes.
type ErrorKind int

const (
	// KindNotLinked means no credential exists, or the credential was
	// rejected at the transport layer after a refresh attempt.
	KindNotLinked ErrorKind = iota
	// KindAuthError means the token was rejected or revoked server-side.
	KindAuthError
	// KindPathError means a malformed or disallowed path.
	KindPathError
	// KindNotFoundError is raised by every endpoint except get_metadata,
	// which instead returns (nil, nil) for a missing path.
	KindNotFoundError
	// KindInsufficientPermissions is a remote policy denial.
	KindInsufficientPermissions
	// KindInsufficientSpace is a remote policy denial (quota exceeded).
	KindInsufficientSpace
	// KindFileSize is a remote policy denial (file too large).
	KindFileSize
	// KindRestrictedContent is a remote policy denial (content scan hit).
	KindRestrictedContent
	// KindPathRootError means the namespace header is stale; the caller
	// must call RemoteClient.UpdatePathRoot before retrying.
	KindPathRootError
	// KindSyncError is transient, including "too many write operations".
	KindSyncError
	// KindDataCorruption means a content-hash mismatch on upload or
	// download.
	KindDataCorruption
	// KindNetworkError is retryable.
	KindNetworkError
	// KindConnectionError is retryable.
	KindConnectionError
	// KindServerError is a retryable 5xx from the remote.
	KindServerError
	// KindCursorReset means the caller must re-list from scratch.
	KindCursorReset
	// KindBadInput is a programmer error; never retried.
	KindBadInput
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotLinked:
		return "NotLinked"
	case KindAuthError:
		return "AuthError"
	case KindPathError:
		return "PathError"
	case KindNotFoundError:
		return "NotFoundError"
	case KindInsufficientPermissions:
		return "InsufficientPermissionsError"
	case KindInsufficientSpace:
		return "InsufficientSpaceError"
	case KindFileSize:
		return "FileSizeError"
	case KindRestrictedContent:
		return "RestrictedContentError"
	case KindPathRootError:
		return "PathRootError"
	case KindSyncError:
		return "SyncError"
	case KindDataCorruption:
		return "DataCorruptionError"
	case KindNetworkError:
		return "NetworkError"
	case KindConnectionError:
		return "ConnectionError"
	case KindServerError:
		return "DropboxServerError"
	case KindCursorReset:
		return "CursorResetError"
	case KindBadInput:
		return "BadInputError"
	default:
		return "UnknownError"
	}
}

// MaestralError is the single error type surfaced across the remote client
// layer. It carries a human title/message pair suitable for direct display,
// plus the paths in flight when the error occurred.
type MaestralError struct {
	Kind       ErrorKind
	Title      string
	Message    string
	RemotePath string
	LocalPath  string
	cause      error
}

func (e *MaestralError) Error() string {
	if e.RemotePath != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Title, e.Message, e.RemotePath)
	}
	return fmt.Sprintf("%s: %s", e.Title, e.Message)
}

func (e *MaestralError) Unwrap() error { return e.cause }

// WithPaths returns a copy of e with remote/local path context attached.
// Used by the scoped error-acquisition helper (withErrorScope in scope.go) to annotate
// an error on its way out of an API call site.
func (e *MaestralError) WithPaths(remotePath, localPath string) *MaestralError {
	clone := *e
	if remotePath != "" {
		clone.RemotePath = remotePath
	}
	if localPath != "" {
		clone.LocalPath = localPath
	}
	return &clone
}

// New builds a MaestralError of the given kind.
func New(kind ErrorKind, title, message string) *MaestralError {
	return &MaestralError{Kind: kind, Title: title, Message: message}
}

// Wrap builds a MaestralError of the given kind wrapping cause.
func Wrap(kind ErrorKind, title, message string, cause error) *MaestralError {
	return &MaestralError{Kind: kind, Title: title, Message: message, cause: cause}
}

// Retryable reports whether RetryPolicy should re-invoke an operation that
// failed with this error.
func (e *MaestralError) Retryable() bool {
	switch e.Kind {
	case KindNetworkError, KindConnectionError, KindServerError:
		return true
	default:
		return false
	}
}

// KindOf returns the ErrorKind of err if it is a *MaestralError, or false
// otherwise.
func KindOf(err error) (ErrorKind, bool) {
	var me *MaestralError
	if errors.As(err, &me) {
		return me.Kind, true
	}
	return 0, false
}

// transportError is the minimal shape an HTTP/SDK failure needs to expose
// for the ErrorMapper to classify it: a status code and a machine-readable
// tag from the remote's error envelope, plus the corrected offset the server
// reports with an upload_session incorrect_offset failure.
type transportError struct {
	StatusCode    int
	Tag           string
	Summary       string
	correctOffset int64 // populated for upload_session "incorrect_offset" failures
	cause         error
}

func (e *transportError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Summary, e.cause)
	}
	return e.Summary
}

func (e *transportError) Unwrap() error { return e.cause }

// ErrorMapper converts heterogeneous transport/API failures into the closed
// MaestralError taxonomy. Given the same transport error and path context it
// always returns the same MaestralError; its only side effect is recording
// the mapped ErrorKind to metrics.
type ErrorMapper struct {
	metrics *metrics.Metrics
}

// NewErrorMapper returns a ready-to-use ErrorMapper reporting to m. A nil m
// is valid (metrics disabled).
func NewErrorMapper(m *metrics.Metrics) *ErrorMapper { return &ErrorMapper{metrics: m} }

// Map classifies err into a *MaestralError. A nil err maps to nil.
func (m *ErrorMapper) Map(err error) *MaestralError {
	if err == nil {
		return nil
	}
	mapped := m.classify(err)
	m.metrics.ObserveError(mapped.Kind.String())
	return mapped
}

func (m *ErrorMapper) classify(err error) *MaestralError {
	var existing *MaestralError
	if errors.As(err, &existing) {
		return existing
	}

	var te *transportError
	if errors.As(err, &te) {
		return m.mapTransport(te)
	}

	if errors.Is(err, errNetworkUnavailable) {
		return Wrap(KindNetworkError, "Connection failed", "Could not reach the remote server.", err)
	}

	return Wrap(KindNetworkError, "Unexpected error", err.Error(), err)
}

func (m *ErrorMapper) mapTransport(te *transportError) *MaestralError {
	switch {
	case te.StatusCode == http.StatusUnauthorized:
		if te.Tag == "invalid_access_token" || te.Tag == "expired_access_token" {
			return Wrap(KindNotLinked, "Not linked", "No valid credential for this account.", te)
		}
		return Wrap(KindAuthError, "Authentication failed", "The remote rejected the current credential.", te)
	case te.StatusCode == http.StatusForbidden:
		switch te.Tag {
		case "insufficient_permissions":
			return Wrap(KindInsufficientPermissions, "Permission denied", "You do not have permission to perform this action.", te)
		case "restricted_content":
			return Wrap(KindRestrictedContent, "Restricted content", "This file cannot be downloaded due to content restrictions.", te)
		default:
			return Wrap(KindAuthError, "Access denied", te.Summary, te)
		}
	case te.StatusCode == http.StatusNotFound:
		return Wrap(KindNotFoundError, "Not found", "The requested item does not exist.", te)
	case te.StatusCode == http.StatusConflict:
		if te.Tag == "path_root" {
			return Wrap(KindPathRootError, "Namespace changed", "The account's root namespace changed; call UpdatePathRoot and retry.", te)
		}
		return Wrap(KindSyncError, "Conflict", te.Summary, te)
	case te.StatusCode == http.StatusInsufficientStorage || te.Tag == "insufficient_space":
		return Wrap(KindInsufficientSpace, "Storage full", "There is not enough space in the account to complete this operation.", te)
	case te.StatusCode == 413 || te.Tag == "file_too_large":
		return Wrap(KindFileSize, "File too large", "This file exceeds the remote's maximum file size.", te)
	case te.StatusCode == http.StatusTooManyRequests || te.Tag == "too_many_write_operations":
		return Wrap(KindSyncError, "Too many operations", "The remote is rate-limiting write operations; it will be retried.", te)
	case te.StatusCode == 422 && te.Tag == "malformed_path":
		return Wrap(KindPathError, "Invalid path", te.Summary, te)
	case te.Tag == "reset":
		return Wrap(KindCursorReset, "Cursor invalid", "The change cursor is no longer valid; re-list from scratch.", te)
	case te.Tag == "incorrect_offset":
		return Wrap(KindSyncError, "Upload offset mismatch", "The server reported a different upload offset than expected; retrying from the correct offset.", te)
	case te.StatusCode >= 500:
		return Wrap(KindServerError, "Server error", "The remote server returned an error; it will be retried.", te)
	case te.StatusCode == 0:
		return Wrap(KindConnectionError, "Connection error", "The connection to the remote server was interrupted.", te)
	default:
		return Wrap(KindSyncError, "Request failed", te.Summary, te)
	}
}

var errNetworkUnavailable = errors.New("network unavailable")
