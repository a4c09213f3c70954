package remote

import (
	"context"
	"time"

	"github.com/bogwonch/maestral/internal/telemetry"
)

// BatchExecutor implements the async-job polling pattern shared by batched
// folder creation and batched delete: submit, then poll an async job id
// until it completes, in chunks of at most BatchSize inputs.
type BatchExecutor struct {
	client *RemoteClient
}

func newBatchExecutor(c *RemoteClient) *BatchExecutor {
	return &BatchExecutor{client: c}
}

const maxBatchSize = 1000

func clampBatchSize(n int) int {
	if n < 1 {
		return 1
	}
	if n > maxBatchSize {
		return maxBatchSize
	}
	return n
}

// BatchOutcome is one slot of a batch result: exactly one of Entry or Err
// is set, in input order.
type BatchOutcome struct {
	Entry *Metadata
	Err   *MaestralError
}

// asyncLaunchWire is the server's immediate response to a batch submission:
// either the entries land synchronously (Complete), or a job id to poll
// (AsyncJobID), or an outright Failed reason.
type asyncLaunchWire struct {
	Tag        string           `json:".tag"` // "complete", "async_job_id", "failed"
	AsyncJobID string           `json:"async_job_id"`
	Entries    []batchEntryWire `json:"entries"`
	Failed     struct {
		Tag string `json:".tag"`
	} `json:"failed"`
}

type batchEntryWire struct {
	Tag     string       `json:".tag"` // "success" or "failure"
	Success metadataWire `json:"success"`
	Failure struct {
		Tag string `json:".tag"`
	} `json:"failure"`
}

type jobStatusWire struct {
	Tag     string           `json:".tag"` // "in_progress", "complete", "failed"
	Entries []batchEntryWire `json:"entries"`
	Failed  struct {
		Tag string `json:".tag"`
	} `json:"failed"`
}

// CreateDirs creates folders at each of paths, in batches of at most
// batchSize, returning one outcome per input path in input order. On a
// TooManyFiles failure from the remote, the chunk is split in half and each
// half is submitted on its own, halving again if a half fails the same way
// (the only asymmetric behavior documented for create vs delete; see
// DESIGN.md).
func (b *BatchExecutor) CreateDirs(ctx context.Context, paths []string, batchSize int) ([]BatchOutcome, error) {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanCreateDirs, "", telemetry.BatchOp("create_dirs"), telemetry.BatchSize(len(paths)))
	defer span.End()

	batchSize = clampBatchSize(batchSize)
	out := make([]BatchOutcome, 0, len(paths))
	start := time.Now()

	for offset := 0; offset < len(paths); {
		chunk := paths[offset:min(offset+batchSize, len(paths))]
		results, err := b.createDirsChunk(ctx, chunk)
		if err != nil {
			telemetry.RecordError(ctx, err)
			return nil, err
		}
		out = append(out, results...)
		offset += len(chunk)
	}
	b.client.metrics.ObserveBatchJob("create_dirs", time.Since(start), countSuccess(out), countFailure(out))
	return out, nil
}

func (b *BatchExecutor) createDirsChunk(ctx context.Context, chunk []string) ([]BatchOutcome, error) {
	session, err := b.client.nsSessionFor(ctx)
	if err != nil {
		return nil, err
	}

	type createArg struct {
		Path string `json:"path"`
	}
	args := make([]createArg, len(chunk))
	for i, p := range chunk {
		args[i] = createArg{Path: p}
	}

	req := struct {
		Paths []createArg `json:"paths"`
	}{Paths: args}

	var launch asyncLaunchWire
	if err := session.rpc(ctx, "/2/files/create_folder_batch", req, &launch); err != nil {
		return nil, b.client.mapper.Map(err)
	}

	entries, jobErr, err := b.resolve(ctx, session, &launch, "/2/files/create_folder_batch/check", len(chunk))
	if err != nil {
		return nil, err
	}
	if jobErr == "too_many_files" && len(chunk) > 1 {
		half := (len(chunk) + 1) / 2
		first, err := b.createDirsChunk(ctx, chunk[:half])
		if err != nil {
			return nil, err
		}
		rest, err := b.createDirsChunk(ctx, chunk[half:])
		if err != nil {
			return nil, err
		}
		return append(first, rest...), nil
	}
	if jobErr != "" {
		return nil, Wrap(KindSyncError, "Batch create failed", "Could not create the requested folders.", nil)
	}

	return toOutcomes(entries, chunk), nil
}

// Delete removes each of paths, in batches of at most batchSize. Unlike
// CreateDirs, a TooManyWriteOperations failure is not retried at a smaller
// batch size; it is surfaced as a transient SyncError to the caller. This
// asymmetry is intentional — see DESIGN.md's record of the corresponding
// design note.
func (b *BatchExecutor) Delete(ctx context.Context, paths []string, batchSize int) ([]BatchOutcome, error) {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanDelete, "", telemetry.BatchOp("delete"), telemetry.BatchSize(len(paths)))
	defer span.End()

	batchSize = clampBatchSize(batchSize)
	out := make([]BatchOutcome, 0, len(paths))
	start := time.Now()

	for offset := 0; offset < len(paths); offset += batchSize {
		chunk := paths[offset:min(offset+batchSize, len(paths))]
		results, err := b.deleteChunk(ctx, chunk)
		if err != nil {
			telemetry.RecordError(ctx, err)
			return nil, err
		}
		out = append(out, results...)
	}
	b.client.metrics.ObserveBatchJob("delete", time.Since(start), countSuccess(out), countFailure(out))
	return out, nil
}

func countSuccess(out []BatchOutcome) int {
	n := 0
	for _, o := range out {
		if o.Err == nil {
			n++
		}
	}
	return n
}

func countFailure(out []BatchOutcome) int {
	n := 0
	for _, o := range out {
		if o.Err != nil {
			n++
		}
	}
	return n
}

func (b *BatchExecutor) deleteChunk(ctx context.Context, chunk []string) ([]BatchOutcome, error) {
	session, err := b.client.nsSessionFor(ctx)
	if err != nil {
		return nil, err
	}

	type deleteArg struct {
		Path string `json:"path"`
	}
	args := make([]deleteArg, len(chunk))
	for i, p := range chunk {
		args[i] = deleteArg{Path: p}
	}
	req := struct {
		Entries []deleteArg `json:"entries"`
	}{Entries: args}

	var launch asyncLaunchWire
	if err := session.rpc(ctx, "/2/files/delete_batch", req, &launch); err != nil {
		return nil, b.client.mapper.Map(err)
	}

	entries, jobErr, err := b.resolve(ctx, session, &launch, "/2/files/delete_batch/check", len(chunk))
	if err != nil {
		return nil, err
	}
	if jobErr == "too_many_write_operations" {
		return nil, New(KindSyncError, "Could not delete items", "The remote is rate-limiting delete operations; retry later.")
	}
	if jobErr != "" {
		return nil, Wrap(KindSyncError, "Batch delete failed", "Could not delete the requested items.", nil)
	}

	return toOutcomes(entries, chunk), nil
}

// resolve drives a submitted batch job to completion: returns immediately
// for a synchronous Complete, or polls for an AsyncJobID until it
// completes or fails, against the given per-operation check endpoint. The
// returned jobErr is the failed-job tag, if any.
func (b *BatchExecutor) resolve(ctx context.Context, session *Session, launch *asyncLaunchWire, checkPath string, chunkLen int) (entries []batchEntryWire, jobErr string, err error) {
	switch launch.Tag {
	case "complete":
		return launch.Entries, "", nil
	case "async_job_id":
		return b.pollJob(ctx, session, checkPath, launch.AsyncJobID, chunkLen)
	default:
		return nil, launch.Failed.Tag, nil
	}
}

func (b *BatchExecutor) pollJob(ctx context.Context, session *Session, checkPath, jobID string, chunkLen int) ([]batchEntryWire, string, error) {
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}

	interval := checkInterval(chunkLen)
	for {
		var status jobStatusWire
		req := struct {
			AsyncJobID string `json:"async_job_id"`
		}{AsyncJobID: jobID}
		if err := session.rpc(ctx, checkPath, req, &status); err != nil {
			return nil, "", b.client.mapper.Map(err)
		}

		switch status.Tag {
		case "in_progress":
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return nil, "", ctx.Err()
			}
		case "complete":
			return status.Entries, "", nil
		case "failed":
			return nil, status.Failed.Tag, nil
		default:
			return nil, "", New(KindSyncError, "Unexpected job status", "The remote reported an unrecognised batch job status.")
		}
	}
}

// checkInterval is max(0.1s, len(chunk)/100 seconds), matching the
// source's polling cadence for create-folder and delete jobs. ShareDir
// polls at its own fixed 200ms interval.
func checkInterval(chunkLen int) time.Duration {
	d := time.Duration(chunkLen) * time.Second / 100
	if d < 100*time.Millisecond {
		return 100 * time.Millisecond
	}
	return d
}

func toOutcomes(entries []batchEntryWire, paths []string) []BatchOutcome {
	out := make([]BatchOutcome, len(paths))
	for i, e := range entries {
		if i >= len(out) {
			break
		}
		if e.Tag == "failure" {
			out[i] = BatchOutcome{Err: New(KindSyncError, "Operation failed", "This item could not be processed.").WithPaths(paths[i], "")}
			continue
		}
		out[i] = BatchOutcome{Entry: e.Success.toMetadata()}
	}
	return out
}

// ShareDir converts path to a shared folder using the same async-job
// pattern, with a 200ms polling interval.
func (b *BatchExecutor) ShareDir(ctx context.Context, path string) (*SharedFolderMetadata, error) {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanShareDir, path)
	defer span.End()

	session, err := b.client.nsSessionFor(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	req := struct {
		Path string `json:"path"`
	}{Path: path}

	var launch asyncLaunchWire
	if err := session.rpc(ctx, "/2/sharing/share_folder", req, &launch); err != nil {
		mapped := b.client.mapper.Map(err).WithPaths(path, "")
		telemetry.RecordError(ctx, mapped)
		return nil, mapped
	}

	if launch.Tag == "complete" {
		return &SharedFolderMetadata{Path: path}, nil
	}
	if launch.Tag != "async_job_id" {
		err := Wrap(KindSyncError, "Share folder failed", "Could not convert the folder to a shared folder.", nil).WithPaths(path, "")
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for {
		var status struct {
			Tag            string `json:".tag"`
			SharedFolderID string `json:"shared_folder_id"`
		}
		req := struct {
			AsyncJobID string `json:"async_job_id"`
		}{AsyncJobID: launch.AsyncJobID}
		if err := session.rpc(ctx, "/2/sharing/check_share_job_status", req, &status); err != nil {
			return nil, b.client.mapper.Map(err).WithPaths(path, "")
		}
		switch status.Tag {
		case "in_progress":
			select {
			case <-time.After(200 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		case "complete":
			return &SharedFolderMetadata{SharedFolderID: status.SharedFolderID, Path: path}, nil
		default:
			return nil, Wrap(KindSyncError, "Share folder failed", "Could not convert the folder to a shared folder.", nil).WithPaths(path, "")
		}
	}
}
