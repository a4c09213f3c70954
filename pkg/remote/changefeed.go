package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bogwonch/maestral/internal/telemetry"
)

// ChangeFeed is RemoteClient's submodule for incremental change polling:
// a long-poll wait_for_changes plus a cursor-driven changes_since
// iterator. It owns the server-directed backoff deadline shared with the
// rest of RemoteClient under the same mutex.
type ChangeFeed struct {
	client *RemoteClient

	mu              sync.Mutex
	backoffDeadline time.Time
}

func newChangeFeed(c *RemoteClient) *ChangeFeed {
	return &ChangeFeed{client: c}
}

// longpollBackoffMargin is added on top of any server-requested backoff,
// matching the source's `time.time() + res.backoff + 5.0` jitter margin.
const longpollBackoffMargin = 5 * time.Second

const (
	minLongPollTimeout = 30 * time.Second
	maxLongPollTimeout = 480 * time.Second
)

// WaitForChanges long-polls for changes since lastCursor. timeout must be
// in [30s, 480s]; an out-of-range value fails as a usage error before any
// I/O. Returns true iff the server reports changes are available.
func (f *ChangeFeed) WaitForChanges(ctx context.Context, lastCursor Cursor, timeout time.Duration) (bool, error) {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanWaitForChanges, "", telemetry.Cursor(string(lastCursor)))
	defer span.End()

	if timeout < minLongPollTimeout || timeout > maxLongPollTimeout {
		err := New(KindBadInput, "Invalid timeout", fmt.Sprintf("timeout_seconds must be in [%d, %d].", int(minLongPollTimeout.Seconds()), int(maxLongPollTimeout.Seconds())))
		telemetry.RecordError(ctx, err)
		return false, err
	}

	f.client.mu.Lock()
	deadline := f.backoffDeadline
	f.client.mu.Unlock()

	if wait := time.Until(deadline); wait > 0 {
		select {
		case <-time.After(wait):
			f.client.metrics.ObserveLongPollBackoff()
			telemetry.AddEvent(ctx, "backoff_honored")
		case <-ctx.Done():
			telemetry.RecordError(ctx, ctx.Err())
			return false, ctx.Err()
		}
	}

	session, err := f.client.nsSessionFor(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return false, err
	}

	req := struct {
		Cursor  string `json:"cursor"`
		Timeout int    `json:"timeout"`
	}{Cursor: string(lastCursor), Timeout: int(timeout.Seconds())}

	var resp struct {
		Changes bool `json:"changes"`
		Backoff int  `json:"backoff"`
	}
	start := time.Now()
	err = withErrorScopeVoid(f.client.mapper, "", "", func() error {
		return session.rpc(ctx, "/2/files/list_folder/longpoll", req, &resp)
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return false, err
	}
	f.client.metrics.ObserveLongPoll(resp.Changes, time.Since(start))

	f.client.mu.Lock()
	if resp.Backoff > 0 {
		f.backoffDeadline = time.Now().Add(time.Duration(resp.Backoff)*time.Second + longpollBackoffMargin)
	} else {
		f.backoffDeadline = time.Time{}
	}
	f.client.mu.Unlock()

	return resp.Changes, nil
}

// GetLatestCursor returns the cursor at the current head of path's change
// log without fetching any entries.
func (f *ChangeFeed) GetLatestCursor(ctx context.Context, path string, recursive bool) (Cursor, error) {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanListFolder, path)
	defer span.End()

	session, err := f.client.nsSessionFor(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return "", err
	}

	req := struct {
		Path      string `json:"path"`
		Recursive bool   `json:"recursive"`
	}{Path: path, Recursive: recursive}

	var resp struct {
		Cursor string `json:"cursor"`
	}
	err = withErrorScopeVoid(f.client.mapper, path, "", func() error {
		return session.rpc(ctx, "/2/files/list_folder/get_latest_cursor", req, &resp)
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return "", err
	}
	telemetry.SetAttributes(ctx, telemetry.Cursor(resp.Cursor))
	return Cursor(resp.Cursor), nil
}

// ChangeEntry is one row in a flattened or iterated change listing: the
// union of FileMetadata/FolderMetadata/DeletedMetadata the server reports
// for a changed path.
type ChangeEntry = Metadata

// changesPage is the wire shape of one list_folder / list_folder/continue
// response.
type changesPage struct {
	Entries []metadataWire `json:"entries"`
	Cursor  string         `json:"cursor"`
	HasMore bool           `json:"has_more"`
}

func (f *ChangeFeed) listFolderFirst(ctx context.Context, session *Session, path string, recursive bool) pageFetcher[ChangeEntry] {
	return func() (page[ChangeEntry], error) {
		req := struct {
			Path      string `json:"path"`
			Recursive bool   `json:"recursive"`
		}{Path: path, Recursive: recursive}
		var resp changesPage
		if err := session.rpc(ctx, "/2/files/list_folder", req, &resp); err != nil {
			return page[ChangeEntry]{}, f.client.mapper.Map(err).WithPaths(path, "")
		}
		return toEntryPage(resp), nil
	}
}

func (f *ChangeFeed) continueWith(ctx context.Context, session *Session, endpoint string) pageContinuer[ChangeEntry] {
	return func(cursor string) (page[ChangeEntry], error) {
		req := struct {
			Cursor string `json:"cursor"`
		}{Cursor: cursor}
		var resp changesPage
		if err := session.rpc(ctx, endpoint, req, &resp); err != nil {
			return page[ChangeEntry]{}, f.client.mapper.Map(err)
		}
		return toEntryPage(resp), nil
	}
}

func toEntryPage(resp changesPage) page[ChangeEntry] {
	entries := make([]ChangeEntry, 0, len(resp.Entries))
	for _, w := range resp.Entries {
		entries = append(entries, *w.toMetadata())
	}
	return page[ChangeEntry]{Entries: entries, Cursor: resp.Cursor, HasMore: resp.HasMore}
}

// ListFolder returns the flattened, fully-paginated contents of path.
func (f *ChangeFeed) ListFolder(ctx context.Context, path string, recursive bool) ([]ChangeEntry, Cursor, error) {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanListFolder, path)
	defer span.End()

	session, err := f.client.nsSessionFor(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, "", err
	}
	result, err := listAll(
		f.listFolderFirst(ctx, session, path, recursive),
		f.continueWith(ctx, session, "/2/files/list_folder/continue"),
	)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, "", err
	}
	return result.Entries, Cursor(result.Cursor), nil
}

// ListFolderIterator yields pages of path's contents lazily.
func (f *ChangeFeed) ListFolderIterator(ctx context.Context, path string, recursive bool) (func(yield func([]ChangeEntry, Cursor, bool) bool), error) {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanListFolder, path)
	defer span.End()

	session, err := f.client.nsSessionFor(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	it := newIterator(f.continueWith(ctx, session, "/2/files/list_folder/continue"))
	pages := it.Pages(f.listFolderFirst(ctx, session, path, recursive))

	return func(yield func([]ChangeEntry, Cursor, bool) bool) {
		for p := range pages {
			if !yield(p.Entries, Cursor(p.Cursor), p.HasMore) {
				return
			}
		}
		if it.Err() != nil {
			telemetry.RecordError(ctx, it.Err())
		}
	}, nil
}

// ListRemoteChanges returns the flattened list of changes since cursor.
func (f *ChangeFeed) ListRemoteChanges(ctx context.Context, cursor Cursor) ([]ChangeEntry, Cursor, error) {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanListFolder, "", telemetry.Cursor(string(cursor)))
	defer span.End()

	session, err := f.client.nsSessionFor(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, "", err
	}
	continuer := f.continueWith(ctx, session, "/2/files/list_folder/continue")
	first := func() (page[ChangeEntry], error) {
		return continuer(string(cursor))
	}
	result, err := listAll(first, continuer)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, "", err
	}
	return result.Entries, Cursor(result.Cursor), nil
}

// ListRemoteChangesIterator yields pages of changes since cursor lazily.
func (f *ChangeFeed) ListRemoteChangesIterator(ctx context.Context, cursor Cursor) (func(yield func([]ChangeEntry, Cursor, bool) bool), error) {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanListFolder, "", telemetry.Cursor(string(cursor)))
	defer span.End()

	session, err := f.client.nsSessionFor(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	continuer := f.continueWith(ctx, session, "/2/files/list_folder/continue")
	first := func() (page[ChangeEntry], error) {
		return continuer(string(cursor))
	}
	it := newIterator(continuer)
	pages := it.Pages(first)

	return func(yield func([]ChangeEntry, Cursor, bool) bool) {
		for p := range pages {
			if !yield(p.Entries, Cursor(p.Cursor), p.HasMore) {
				return
			}
		}
		if it.Err() != nil {
			telemetry.RecordError(ctx, it.Err())
		}
	}, nil
}
