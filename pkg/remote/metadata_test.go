package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMetadataReturnsFileMetadata(t *testing.T) {
	client, _, _ := newLinkedTestClient(t, map[string]http.HandlerFunc{
		"/2/files/get_metadata": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				".tag":            "file",
				"name":            "a.txt",
				"path_lower":      "/a.txt",
				"id":              "id:1",
				"rev":             "rev1",
				"size":            123,
				"content_hash":    "hash1",
				"client_modified": "2024-01-01T00:00:00Z",
				"server_modified": "2024-01-02T00:00:00Z",
			})
		},
	})

	meta, err := client.GetMetadata(context.Background(), "/a.txt", false)
	require.NoError(t, err)
	require.NotNil(t, meta.File)
	assert.Equal(t, "/a.txt", meta.File.Path)
	assert.Equal(t, int64(123), meta.File.Size)
	assert.Equal(t, "hash1", meta.File.ContentHash)
}

func TestGetMetadataReturnsNilForNotFound(t *testing.T) {
	client, _, _ := newLinkedTestClient(t, map[string]http.HandlerFunc{
		"/2/files/get_metadata": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"error_summary": "path/not_found/"})
		},
	})

	meta, err := client.GetMetadata(context.Background(), "/missing.txt", false)
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestListRevisionsRejectsOutOfRangeLimit(t *testing.T) {
	client, _, _ := newLinkedTestClient(t, nil)

	_, err := client.ListRevisions(context.Background(), "/a.txt", RevisionsByPath, 0)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindBadInput, kind)

	_, err = client.ListRevisions(context.Background(), "/a.txt", RevisionsByPath, 11)
	require.Error(t, err)
}

func TestListRevisionsReturnsFileEntries(t *testing.T) {
	client, _, _ := newLinkedTestClient(t, map[string]http.HandlerFunc{
		"/2/files/list_revisions": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"entries": []map[string]any{
					{".tag": "file", "path_lower": "/a.txt", "rev": "rev1"},
					{".tag": "file", "path_lower": "/a.txt", "rev": "rev2"},
				},
			})
		},
	})

	revs, err := client.ListRevisions(context.Background(), "/a.txt", RevisionsByPath, 2)
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, "rev1", revs[0].Rev)
}

func TestCreateSharedLinkRequiresPasswordForPasswordVisibility(t *testing.T) {
	client, _, _ := newLinkedTestClient(t, nil)

	_, err := client.CreateSharedLink(context.Background(), "/a.txt", VisibilityPassword, "", time.Time{})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindBadInput, kind)
}

func TestCreateSharedLinkSucceeds(t *testing.T) {
	client, _, _ := newLinkedTestClient(t, map[string]http.HandlerFunc{
		"/2/sharing/create_shared_link_with_settings": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"url": "https://example.test/s/abc"})
		},
	})

	link, err := client.CreateSharedLink(context.Background(), "/a.txt", VisibilityPublic, "", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/s/abc", link.URL)
	assert.Equal(t, VisibilityPublic, link.Visibility)
}

func TestGetSpaceUsagePersistsFormattedUsage(t *testing.T) {
	client, _, stateStore := newLinkedTestClient(t, map[string]http.HandlerFunc{
		"/2/users/get_space_usage": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"used": 2048,
				"allocation": map[string]any{
					"individual": map[string]any{"allocated": 10737418240},
				},
			})
		},
	})

	usage, err := client.GetSpaceUsage(context.Background())
	require.NoError(t, err)
	assert.Contains(t, usage, "/")

	persisted, found, err := stateStore.Get("account", "usage")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, usage, persisted)
}

func TestMoveReturnsResultingMetadata(t *testing.T) {
	client, _, _ := newLinkedTestClient(t, map[string]http.HandlerFunc{
		"/2/files/move_v2": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{".tag": "file", "path_lower": "/b.txt"})
		},
	})

	meta, err := client.Move(context.Background(), "/a.txt", "/b.txt", false)
	require.NoError(t, err)
	require.NotNil(t, meta.File)
	assert.Equal(t, "/b.txt", meta.File.Path)
}

func TestRemoveReturnsDeletedMetadata(t *testing.T) {
	client, _, _ := newLinkedTestClient(t, map[string]http.HandlerFunc{
		"/2/files/delete_v2": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{".tag": "file", "path_lower": "/a.txt"})
		},
	})

	meta, err := client.Remove(context.Background(), "/a.txt")
	require.NoError(t, err)
	require.NotNil(t, meta.File)
	assert.Equal(t, "/a.txt", meta.File.Path)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 KiB", formatBytes(1024))
	assert.Equal(t, "1.0 MiB", formatBytes(1024*1024))
}
