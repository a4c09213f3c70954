package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/bogwonch/maestral/internal/telemetry"
	"github.com/bogwonch/maestral/pkg/bufpool"
	"github.com/bogwonch/maestral/pkg/hasher"
)

// downloadChunkSize is the default read size while streaming a download
// body to disk; not a contract, just a good default (§4.4).
const downloadChunkSize = 8 * 1024

// minChunkSize and maxChunkSize bound the caller-chosen upload chunk size.
const (
	minChunkSize = 100 * 1000
	maxChunkSize = 150 * 1000 * 1000
)

// chunkPool reuses chunk-sized buffers across uploads to reduce GC
// pressure under sustained transfer load. Its large tier is sized to
// maxChunkSize so a single pooled buffer covers any caller-chosen chunk
// size.
var chunkPool = bufpool.NewPool(&bufpool.Config{LargeSize: maxChunkSize})

// TransferEngine is RemoteClient's submodule implementing download and
// chunked upload with hash verification.
type TransferEngine struct {
	client *RemoteClient
}

func newTransferEngine(c *RemoteClient) *TransferEngine {
	return &TransferEngine{client: c}
}

var downloadRetry = NewRetryPolicy(3, KindDataCorruption)

// Download fetches remote_path to local_path: the remote's bytes are
// hashed as they stream directly to local_path, and the partially-written
// file is removed if the digest does not match the server's once the
// stream ends.
func (e *TransferEngine) Download(ctx context.Context, remotePath, localPath string, progress *SyncEvent) (*FileMetadata, error) {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanDownload, remotePath, telemetry.LocalPath(localPath), telemetry.Direction("download"))
	defer span.End()

	start := time.Now()
	fm, err := Do(downloadRetry, func(attempt int) (*FileMetadata, error) {
		if attempt > 1 {
			e.client.metrics.ObserveTransferRetry("download", "data_corruption")
			telemetry.AddEvent(ctx, "retry", telemetry.Attempt(attempt))
		}
		return e.downloadOnce(ctx, remotePath, localPath, progress)
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	e.client.metrics.ObserveTransfer("download", fm.Size, time.Since(start))
	telemetry.SetAttributes(ctx, telemetry.Bytes(fm.Size))
	return fm, nil
}

func (e *TransferEngine) downloadOnce(ctx context.Context, remotePath, localPath string, progress *SyncEvent) (*FileMetadata, error) {
	meta, err := e.client.GetMetadata(ctx, remotePath, false)
	if err != nil {
		return nil, err
	}
	if meta == nil || meta.File == nil {
		return nil, New(KindNotFoundError, "Not found", "The requested file does not exist.").WithPaths(remotePath, localPath)
	}
	fm := meta.File

	if fm.SymlinkTarget != "" {
		return e.recreateSymlink(fm, localPath)
	}

	session, err := e.client.nsSessionFor(ctx)
	if err != nil {
		return nil, err
	}

	req := struct {
		Path string `json:"path"`
	}{Path: remotePath}

	body, err := session.contentDownload(ctx, "/2/files/download", req, nil)
	if err != nil {
		return nil, e.client.mapper.Map(err).WithPaths(remotePath, localPath)
	}
	defer func() { _ = body.Close() }()

	if err := writeDownloadedBody(body, localPath, fm, progress); err != nil {
		return nil, e.client.mapper.Map(err).WithPaths(remotePath, localPath)
	}

	return fm, nil
}

// writeDownloadedBody streams body into a symlink-refusing file at
// localPath, verifies the content hash, and sets the final mtime.
func writeDownloadedBody(body io.Reader, localPath string, fm *FileMetadata, progress *SyncEvent) error {
	f, err := openNoFollow(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}

	sh := hasher.NewStreamHasher(f)
	written, copyErr := copyInChunks(sh, body, progress)
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(localPath)
		return copyErr
	}
	if closeErr != nil {
		_ = os.Remove(localPath)
		return closeErr
	}

	if sh.Sum() != fm.ContentHash {
		_ = os.Remove(localPath)
		return New(KindDataCorruption, "Download corrupted", "The downloaded content hash did not match the server's.")
	}

	mtime := fm.ClientModified
	now := time.Now().UTC()
	if fm.ServerModified.Before(mtime) {
		mtime = fm.ServerModified
	}
	if now.Before(mtime) {
		mtime = now
	}
	_ = os.Chtimes(localPath, now, mtime.Truncate(time.Second))

	if progress != nil {
		progress.Completed = written
	}
	return nil
}

func copyInChunks(dst io.Writer, src io.Reader, progress *SyncEvent) (int64, error) {
	buf := make([]byte, downloadChunkSize)
	var total int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return total, writeErr
			}
			total += int64(n)
			if progress != nil {
				progress.Completed = total
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}

func (e *TransferEngine) recreateSymlink(fm *FileMetadata, localPath string) (*FileMetadata, error) {
	_ = os.Remove(localPath) // unlink any existing file first
	if err := os.Symlink(fm.SymlinkTarget, localPath); err != nil {
		return nil, fmt.Errorf("create symlink: %w", err)
	}
	return fm, nil
}

// Upload sends localPath to remotePath. chunkSize is clamped to
// [100 KB, 150 MB]. Files no larger than chunkSize go in a single request;
// larger files use a start/append/finish session.
func (e *TransferEngine) Upload(ctx context.Context, localPath, remotePath string, chunkSize int64, mode WriteMode, autorename bool, progress *SyncEvent) (*FileMetadata, error) {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanUpload, remotePath, telemetry.LocalPath(localPath), telemetry.Direction("upload"))
	defer span.End()

	chunkSize = clamp(chunkSize, minChunkSize, maxChunkSize)

	info, err := os.Lstat(localPath)
	if err != nil {
		err = Wrap(KindPathError, "Local file not found", "Could not stat the local file.", err).WithPaths(remotePath, localPath)
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		err = Wrap(KindPathError, "Local file not found", "Could not open the local file.", err).WithPaths(remotePath, localPath)
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	defer func() { _ = f.Close() }()

	clientModified := info.ModTime().UTC()
	telemetry.SetAttributes(ctx, telemetry.Bytes(info.Size()))

	start := time.Now()
	var fm *FileMetadata
	if info.Size() <= chunkSize {
		fm, err = e.uploadSingleShot(ctx, f, info.Size(), remotePath, clientModified, mode, autorename, progress)
	} else {
		fm, err = e.uploadChunked(ctx, f, info.Size(), chunkSize, remotePath, clientModified, mode, autorename, progress)
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	e.client.metrics.ObserveTransfer("upload", info.Size(), time.Since(start))
	return fm, nil
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var uploadRetry = NewRetryPolicy(3, KindDataCorruption)

func (e *TransferEngine) uploadSingleShot(ctx context.Context, f *os.File, size int64, remotePath string, clientModified time.Time, mode WriteMode, autorename bool, progress *SyncEvent) (*FileMetadata, error) {
	return Do(uploadRetry, func(attempt int) (*FileMetadata, error) {
		if attempt > 1 {
			e.client.metrics.ObserveTransferRetry("upload", "data_corruption")
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, Wrap(KindNetworkError, "Upload failed", "Could not seek local file.", err)
		}
		buf := chunkPool.Get(int(size))
		defer chunkPool.Put(buf)
		if _, err := io.ReadFull(f, buf); err != nil {
			return nil, Wrap(KindNetworkError, "Upload failed", "Could not read local file.", err)
		}
		contentHash := hasher.Sum(buf)

		session, err := e.client.nsSessionFor(ctx)
		if err != nil {
			return nil, err
		}

		commit := uploadCommit(remotePath, clientModified, mode, autorename)
		var wire metadataWire
		err = withErrorScopeVoid(e.client.mapper, remotePath, "", func() error {
			return session.contentUpload(ctx, "/2/files/upload", commit, bytes.NewReader(buf), &wire)
		})
		if err != nil {
			return nil, err
		}
		if wire.ContentHash != "" && wire.ContentHash != contentHash {
			return nil, New(KindDataCorruption, "Upload corrupted", "The server's reported content hash did not match.").WithPaths(remotePath, "")
		}
		if progress != nil {
			progress.Completed = progress.Size
		}
		return wire.toMetadata().File, nil
	})
}

func uploadCommit(path string, clientModified time.Time, mode WriteMode, autorename bool) any {
	commit := struct {
		Path           string `json:"path"`
		Mode           any    `json:"mode"`
		Autorename     bool   `json:"autorename"`
		ClientModified string `json:"client_modified"`
	}{
		Path:           path,
		Autorename:     autorename,
		ClientModified: formatWireTime(clientModified),
	}
	switch mode.tag {
	case "update":
		commit.Mode = struct {
			Tag string `json:".tag"`
			Rev string `json:"update"`
		}{Tag: "update", Rev: mode.rev}
	default:
		commit.Mode = struct {
			Tag string `json:".tag"`
		}{Tag: mode.tag}
	}
	return commit
}

// uploadSession tracks the server-side session_id for a chunked upload and
// the offset of the last successfully appended byte.
type uploadSession struct {
	id     string
	offset int64
}

func (e *TransferEngine) uploadChunked(ctx context.Context, f *os.File, size, chunkSize int64, remotePath string, clientModified time.Time, mode WriteMode, autorename bool, progress *SyncEvent) (*FileMetadata, error) {
	session, err := e.client.nsSessionFor(ctx)
	if err != nil {
		return nil, err
	}

	buf := chunkPool.Get(maxChunkSize)
	defer chunkPool.Put(buf)

	us, err := e.sessionStart(ctx, session, f, buf[:chunkSize])
	if err != nil {
		return nil, err
	}
	if progress != nil {
		progress.Completed = us.offset
	}

	for size-us.offset > chunkSize {
		if err := e.sessionAppend(ctx, session, f, buf[:chunkSize], us); err != nil {
			return nil, err
		}
		if progress != nil {
			progress.Completed = us.offset
		}
	}

	final := buf[:size-us.offset]
	fm, err := e.sessionFinish(ctx, session, f, final, us, remotePath, clientModified, mode, autorename)
	if err != nil {
		return nil, err
	}
	if progress != nil {
		progress.Completed = progress.Size
	}
	return fm, nil
}

func (e *TransferEngine) sessionStart(ctx context.Context, session *Session, f *os.File, chunk []byte) (*uploadSession, error) {
	return Do(uploadRetry, func(attempt int) (*uploadSession, error) {
		preReadOffset, _ := f.Seek(0, io.SeekCurrent)
		n, err := io.ReadFull(f, chunk)
		if err != nil && err != io.ErrUnexpectedEOF {
			_, _ = f.Seek(preReadOffset, io.SeekStart)
			return nil, Wrap(KindNetworkError, "Upload failed", "Could not read local file.", err)
		}
		data := chunk[:n]
		contentHash := hasher.Sum(data)

		req := struct {
			ContentHash string `json:"content_hash"`
		}{ContentHash: contentHash}

		var resp struct {
			SessionID string `json:"session_id"`
		}
		err = withErrorScopeVoid(e.client.mapper, "", "", func() error {
			return session.contentUpload(ctx, "/2/files/upload_session/start", req, bytes.NewReader(data), &resp)
		})
		if err != nil {
			_, _ = f.Seek(preReadOffset, io.SeekStart)
			return nil, err
		}
		return &uploadSession{id: resp.SessionID, offset: int64(n)}, nil
	})
}

func (e *TransferEngine) sessionAppend(ctx context.Context, session *Session, f *os.File, chunk []byte, us *uploadSession) error {
	return DoVoid(uploadRetry, func(attempt int) error {
		preReadOffset := us.offset
		n, err := io.ReadFull(f, chunk)
		if err != nil && err != io.ErrUnexpectedEOF {
			_, _ = f.Seek(preReadOffset, io.SeekStart)
			return Wrap(KindNetworkError, "Upload failed", "Could not read local file.", err)
		}
		data := chunk[:n]
		contentHash := hasher.Sum(data)

		req := struct {
			Cursor struct {
				SessionID string `json:"session_id"`
				Offset    int64  `json:"offset"`
			} `json:"cursor"`
			ContentHash string `json:"content_hash"`
		}{ContentHash: contentHash}
		req.Cursor.SessionID = us.id
		req.Cursor.Offset = preReadOffset

		err = withErrorScopeVoid(e.client.mapper, "", "", func() error {
			return session.contentUpload(ctx, "/2/files/upload_session/append_v2", req, bytes.NewReader(data), nil)
		})
		if err != nil {
			if correct, ok := correctedOffset(err); ok {
				e.client.metrics.ObserveTransferRetry("upload", "offset_correction")
				us.offset = correct
				_, _ = f.Seek(correct, io.SeekStart)
				return Wrap(KindDataCorruption, "Upload offset mismatch", "Retrying from the offset the server expects.", err)
			} else {
				_, _ = f.Seek(preReadOffset, io.SeekStart)
			}
			return err
		}
		us.offset = preReadOffset + int64(n)
		return nil
	})
}

func (e *TransferEngine) sessionFinish(ctx context.Context, session *Session, f *os.File, chunk []byte, us *uploadSession, remotePath string, clientModified time.Time, mode WriteMode, autorename bool) (*FileMetadata, error) {
	return Do(uploadRetry, func(attempt int) (*FileMetadata, error) {
		preReadOffset := us.offset
		n, err := io.ReadFull(f, chunk)
		if err != nil && err != io.ErrUnexpectedEOF {
			_, _ = f.Seek(preReadOffset, io.SeekStart)
			return nil, Wrap(KindNetworkError, "Upload failed", "Could not read local file.", err)
		}
		data := chunk[:n]
		contentHash := hasher.Sum(data)

		req := struct {
			Cursor struct {
				SessionID string `json:"session_id"`
				Offset    int64  `json:"offset"`
			} `json:"cursor"`
			Commit      any    `json:"commit"`
			ContentHash string `json:"content_hash"`
		}{Commit: uploadCommit(remotePath, clientModified, mode, autorename), ContentHash: contentHash}
		req.Cursor.SessionID = us.id
		req.Cursor.Offset = preReadOffset

		var wire metadataWire
		err = withErrorScopeVoid(e.client.mapper, remotePath, "", func() error {
			return session.contentUpload(ctx, "/2/files/upload_session/finish", req, bytes.NewReader(data), &wire)
		})
		if err != nil {
			if correct, ok := correctedOffset(err); ok {
				us.offset = correct
				_, _ = f.Seek(correct, io.SeekStart)
				return nil, Wrap(KindDataCorruption, "Upload offset mismatch", "Retrying from the offset the server expects.", err)
			} else {
				_, _ = f.Seek(preReadOffset, io.SeekStart)
			}
			return nil, err
		}
		return wire.toMetadata().File, nil
	})
}

// correctedOffset extracts the server-reported correct offset from an
// "incorrect offset" append/finish failure, if present.
func correctedOffset(err error) (int64, bool) {
	var me *MaestralError
	if !errors.As(err, &me) {
		return 0, false
	}
	var te *transportError
	if !errors.As(me.cause, &te) {
		return 0, false
	}
	if te.Tag != "incorrect_offset" {
		return 0, false
	}
	return te.correctOffset, true
}

// openNoFollow opens path for writing, refusing to follow (or write
// through) an existing symlink at that location. The existence check and
// the open are not atomic against a concurrent symlink swap; closing that
// race requires a platform-specific O_NOFOLLOW, which the sync engine's
// single-writer-per-path contract makes unnecessary here.
func openNoFollow(path string) (*os.File, error) {
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("refusing to write through symlink at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}
