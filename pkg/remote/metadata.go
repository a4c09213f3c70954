package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/bogwonch/maestral/internal/telemetry"
)

// metadataWire mirrors the remote's tagged-union metadata entry.
type metadataWire struct {
	Tag            string `json:".tag"`
	Name           string `json:"name"`
	PathLower      string `json:"path_lower"`
	ID             string `json:"id"`
	Rev            string `json:"rev"`
	Size           int64  `json:"size"`
	ClientModified string `json:"client_modified"`
	ServerModified string `json:"server_modified"`
	ContentHash    string `json:"content_hash"`
	SymlinkInfo    *struct {
		Target string `json:"target"`
	} `json:"symlink_info,omitempty"`
}

func (w *metadataWire) toMetadata() *Metadata {
	switch w.Tag {
	case "folder":
		return &Metadata{Folder: &FolderMetadata{Path: w.PathLower, ID: w.ID}}
	case "deleted":
		return &Metadata{Deleted: &DeletedMetadata{Path: w.PathLower}}
	default:
		fm := &FileMetadata{
			Path:           w.PathLower,
			ID:             w.ID,
			Rev:            w.Rev,
			Size:           w.Size,
			ClientModified: parseWireTime(w.ClientModified),
			ServerModified: parseWireTime(w.ServerModified),
			ContentHash:    w.ContentHash,
		}
		if w.SymlinkInfo != nil {
			fm.SymlinkTarget = w.SymlinkInfo.Target
		}
		return &Metadata{File: fm}
	}
}

func parseWireTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func formatWireTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// GetMetadata returns metadata for path, or (nil, nil) if nothing exists
// there — not-found is not an error for this one call, unlike every other
// endpoint.
func (c *RemoteClient) GetMetadata(ctx context.Context, path string, includeDeleted bool) (*Metadata, error) {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanGetMetadata, path)
	defer span.End()

	session, err := c.nsSessionFor(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	req := struct {
		Path           string `json:"path"`
		IncludeDeleted bool   `json:"include_deleted"`
	}{Path: path, IncludeDeleted: includeDeleted}

	var wire metadataWire
	err = withErrorScopeVoid(c.mapper, path, "", func() error {
		return session.rpc(ctx, "/2/files/get_metadata", req, &wire)
	})
	if err != nil {
		if kind, ok := KindOf(err); ok && kind == KindNotFoundError {
			return nil, nil
		}
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	return wire.toMetadata(), nil
}

// ListRevisionsMode selects whether ListRevisions addresses path or id.
type ListRevisionsMode int

const (
	RevisionsByPath ListRevisionsMode = iota
	RevisionsByID
)

// ListRevisions returns up to limit (max 10) prior revisions of a file.
func (c *RemoteClient) ListRevisions(ctx context.Context, pathOrID string, mode ListRevisionsMode, limit int) ([]FileMetadata, error) {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanListRevisions, pathOrID)
	defer span.End()

	if limit <= 0 || limit > 10 {
		err := New(KindBadInput, "Invalid limit", "ListRevisions limit must be in [1, 10].")
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	session, err := c.nsSessionFor(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	req := struct {
		Path string `json:"path"`
		Mode struct {
			Tag string `json:".tag"`
		} `json:"mode"`
		Limit int `json:"limit"`
	}{Path: pathOrID, Limit: limit}
	if mode == RevisionsByID {
		req.Mode.Tag = "id"
	} else {
		req.Mode.Tag = "path"
	}

	var resp struct {
		Entries []metadataWire `json:"entries"`
	}
	err = withErrorScopeVoid(c.mapper, pathOrID, "", func() error {
		return session.rpc(ctx, "/2/files/list_revisions", req, &resp)
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	out := make([]FileMetadata, 0, len(resp.Entries))
	for _, w := range resp.Entries {
		m := w.toMetadata()
		if m.File != nil {
			out = append(out, *m.File)
		}
	}
	return out, nil
}

// Restore reverts path to revision rev, returning the resulting metadata.
func (c *RemoteClient) Restore(ctx context.Context, path, rev string) (*FileMetadata, error) {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanRestore, path)
	defer span.End()

	session, err := c.nsSessionFor(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	req := struct {
		Path string `json:"path"`
		Rev  string `json:"rev"`
	}{Path: path, Rev: rev}

	var wire metadataWire
	err = withErrorScopeVoid(c.mapper, path, "", func() error {
		return session.rpc(ctx, "/2/files/restore", req, &wire)
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	return wire.toMetadata().File, nil
}

// CreateSharedLink creates a shared link for path. password is required
// iff visibility is VisibilityPassword; it is silently dropped for any
// other visibility. This call performs no network I/O if that rule is
// violated.
func (c *RemoteClient) CreateSharedLink(ctx context.Context, path string, visibility SharedLinkVisibility, password string, expires time.Time) (*SharedLinkMetadata, error) {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanCreateShareLink, path)
	defer span.End()

	if visibility == VisibilityPassword && password == "" {
		err := New(KindBadInput, "Password required", "A password shared link requires a non-empty password.")
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	if visibility != VisibilityPassword {
		password = ""
	}

	session, err := c.nsSessionFor(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	settings := struct {
		RequestedVisibility struct {
			Tag string `json:".tag"`
		} `json:"requested_visibility,omitempty"`
		LinkPassword string `json:"link_password,omitempty"`
		Expires      string `json:"expires,omitempty"`
	}{}
	switch visibility {
	case VisibilityPublic:
		settings.RequestedVisibility.Tag = "public"
	case VisibilityTeamOnly:
		settings.RequestedVisibility.Tag = "team_only"
	case VisibilityPassword:
		settings.RequestedVisibility.Tag = "password"
		settings.LinkPassword = password
	}
	if !expires.IsZero() {
		settings.Expires = formatWireTime(expires)
	}

	req := struct {
		Path     string      `json:"path"`
		Settings interface{} `json:"settings"`
	}{Path: path, Settings: settings}

	var resp struct {
		URL     string `json:"url"`
		Expires string `json:"expires"`
	}
	err = withErrorScopeVoid(c.mapper, path, "", func() error {
		return session.rpc(ctx, "/2/sharing/create_shared_link_with_settings", req, &resp)
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	return &SharedLinkMetadata{
		URL:        resp.URL,
		Path:       path,
		Visibility: visibility,
		Expires:    parseWireTime(resp.Expires),
	}, nil
}

// RevokeSharedLink revokes a previously created shared link.
func (c *RemoteClient) RevokeSharedLink(ctx context.Context, url string) error {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanRevokeShareLink, "")
	defer span.End()

	session, err := c.nsSessionFor(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	req := struct {
		URL string `json:"url"`
	}{URL: url}
	err = withErrorScopeVoid(c.mapper, "", "", func() error {
		return session.rpc(ctx, "/2/sharing/revoke_shared_link", req, nil)
	})
	telemetry.RecordError(ctx, err)
	return err
}

// ListSharedLinks returns every shared link under path (or the whole
// account if path is empty), paginating transparently (§4.7).
func (c *RemoteClient) ListSharedLinks(ctx context.Context, path string) ([]SharedLinkMetadata, error) {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanListShareLinks, path)
	defer span.End()

	session, err := c.nsSessionFor(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	type page struct {
		Links []struct {
			URL     string `json:"url"`
			Path    string `json:"path_lower"`
			Expires string `json:"expires"`
		} `json:"links"`
		HasMore bool   `json:"has_more"`
		Cursor  string `json:"cursor"`
	}

	var pages []page
	var cursor string
	for {
		var p page
		var reqErr error
		if cursor == "" {
			req := struct {
				Path string `json:"path,omitempty"`
			}{Path: path}
			reqErr = session.rpc(ctx, "/2/sharing/list_shared_links", req, &p)
		} else {
			req := struct {
				Cursor string `json:"cursor"`
			}{Cursor: cursor}
			reqErr = session.rpc(ctx, "/2/sharing/list_shared_links/continue", req, &p)
		}
		if reqErr != nil {
			mapped := c.mapper.Map(reqErr).WithPaths(path, "")
			telemetry.RecordError(ctx, mapped)
			return nil, mapped
		}
		pages = append(pages, p)
		if !p.HasMore {
			break
		}
		cursor = p.Cursor
	}

	var out []SharedLinkMetadata
	for _, p := range pages {
		for _, l := range p.Links {
			out = append(out, SharedLinkMetadata{
				URL:     l.URL,
				Path:    l.Path,
				Expires: parseWireTime(l.Expires),
			})
		}
	}
	return out, nil
}

// GetSpaceUsage returns a human-formatted account usage string and persists
// it to StateStore. Supplements the distilled operation set with the
// original client's get_space_usage.
func (c *RemoteClient) GetSpaceUsage(ctx context.Context) (string, error) {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanGetSpaceUsage, "")
	defer span.End()

	session, err := c.rootSessionFor(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return "", err
	}

	var resp struct {
		Used      int64 `json:"used"`
		Allocated struct {
			Individual struct {
				Allocated int64 `json:"allocated"`
			} `json:"individual"`
			Team struct {
				Allocated int64 `json:"allocated"`
			} `json:"team"`
		} `json:"allocation"`
	}
	err = withErrorScopeVoid(c.mapper, "", "", func() error {
		return session.rpc(ctx, "/2/users/get_space_usage", nil, &resp)
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return "", err
	}

	formatted := formatUsage(resp.Used, resp.Allocated.Individual.Allocated+resp.Allocated.Team.Allocated)
	_ = c.stateStore.Set("account", "usage", formatted)
	return formatted, nil
}

// Move relocates fromPath to toPath. Supplements the distilled operation
// set with the original client's move.
func (c *RemoteClient) Move(ctx context.Context, fromPath, toPath string, autorename bool) (*Metadata, error) {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanMove, toPath)
	defer span.End()

	session, err := c.nsSessionFor(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	req := struct {
		FromPath   string `json:"from_path"`
		ToPath     string `json:"to_path"`
		Autorename bool   `json:"autorename"`
	}{FromPath: fromPath, ToPath: toPath, Autorename: autorename}

	var wire metadataWire
	err = withErrorScopeVoid(c.mapper, toPath, "", func() error {
		return session.rpc(ctx, "/2/files/move_v2", req, &wire)
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	return wire.toMetadata(), nil
}

// Remove deletes a single path. Supplements the distilled operation set
// with the original client's remove (the batched form lives on
// BatchExecutor.Delete).
func (c *RemoteClient) Remove(ctx context.Context, path string) (*Metadata, error) {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanRemove, path)
	defer span.End()

	session, err := c.nsSessionFor(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	req := struct {
		Path string `json:"path"`
	}{Path: path}

	var wire metadataWire
	err = withErrorScopeVoid(c.mapper, path, "", func() error {
		return session.rpc(ctx, "/2/files/delete_v2", req, &wire)
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	return wire.toMetadata(), nil
}

func formatUsage(used, allocated int64) string {
	if allocated == 0 {
		return formatBytes(used)
	}
	return fmt.Sprintf("%s / %s", formatBytes(used), formatBytes(allocated))
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	suffixes := []string{"KiB", "MiB", "GiB", "TiB", "PiB"}
	return fmt.Sprintf("%.1f %s", float64(b)/float64(div), suffixes[exp])
}
