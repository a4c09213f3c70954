package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampBatchSize(t *testing.T) {
	assert.Equal(t, 1, clampBatchSize(0))
	assert.Equal(t, 1, clampBatchSize(-5))
	assert.Equal(t, maxBatchSize, clampBatchSize(maxBatchSize*2))
	assert.Equal(t, 50, clampBatchSize(50))
}

func TestCreateDirsSynchronousComplete(t *testing.T) {
	client, _, _ := newLinkedTestClient(t, map[string]http.HandlerFunc{
		"/2/files/create_folder_batch": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				".tag": "complete",
				"entries": []map[string]any{
					{".tag": "success", "success": map[string]any{".tag": "folder", "path_lower": "/a"}},
					{".tag": "success", "success": map[string]any{".tag": "folder", "path_lower": "/b"}},
				},
			})
		},
	})

	out, err := client.Batch().CreateDirs(context.Background(), []string{"/a", "/b"}, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Nil(t, out[0].Err)
	assert.Equal(t, "/a", out[0].Entry.Folder.Path)
	assert.Equal(t, "/b", out[1].Entry.Folder.Path)
}

func TestCreateDirsAsyncJobPolling(t *testing.T) {
	var polls int32
	client, _, _ := newLinkedTestClient(t, map[string]http.HandlerFunc{
		"/2/files/create_folder_batch": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{".tag": "async_job_id", "async_job_id": "job-1"})
		},
		"/2/files/create_folder_batch/check": func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&polls, 1)
			if n < 2 {
				_ = json.NewEncoder(w).Encode(map[string]any{".tag": "in_progress"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				".tag": "complete",
				"entries": []map[string]any{
					{".tag": "success", "success": map[string]any{".tag": "folder", "path_lower": "/a"}},
				},
			})
		},
	})

	out, err := client.Batch().CreateDirs(context.Background(), []string{"/a"}, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "/a", out[0].Entry.Folder.Path)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(2))
}

func TestCreateDirsRetriesAtHalfSizeOnTooManyFiles(t *testing.T) {
	var callCount int32
	client, _, _ := newLinkedTestClient(t, map[string]http.HandlerFunc{
		"/2/files/create_folder_batch": func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&callCount, 1)
			var req struct {
				Paths []struct {
					Path string `json:"path"`
				} `json:"paths"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			if n == 1 {
				require.Len(t, req.Paths, 4)
				_ = json.NewEncoder(w).Encode(map[string]any{".tag": "failed", "failed": map[string]string{".tag": "too_many_files"}})
				return
			}
			entries := make([]map[string]any, len(req.Paths))
			for i, p := range req.Paths {
				entries[i] = map[string]any{".tag": "success", "success": map[string]any{".tag": "folder", "path_lower": p.Path}}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{".tag": "complete", "entries": entries})
		},
	})

	out, err := client.Batch().CreateDirs(context.Background(), []string{"/a", "/b", "/c", "/d"}, 10)
	require.NoError(t, err)
	require.Len(t, out, 4)
	for _, o := range out {
		assert.Nil(t, o.Err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&callCount), "one failed whole-batch call, then two half-size calls")
}

func TestCreateDirsBatchesAcrossChunkSize(t *testing.T) {
	var chunkSizes []int
	client, _, _ := newLinkedTestClient(t, map[string]http.HandlerFunc{
		"/2/files/create_folder_batch": func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Paths []struct {
					Path string `json:"path"`
				} `json:"paths"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			chunkSizes = append(chunkSizes, len(req.Paths))
			entries := make([]map[string]any, len(req.Paths))
			for i, p := range req.Paths {
				entries[i] = map[string]any{".tag": "success", "success": map[string]any{".tag": "folder", "path_lower": p.Path}}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{".tag": "complete", "entries": entries})
		},
	})

	out, err := client.Batch().CreateDirs(context.Background(), []string{"/a", "/b", "/c"}, 2)
	require.NoError(t, err)
	assert.Len(t, out, 3)
	assert.Equal(t, []int{2, 1}, chunkSizes)
}

func TestDeleteSurfacesTooManyWriteOperationsWithoutRetry(t *testing.T) {
	var callCount int32
	client, _, _ := newLinkedTestClient(t, map[string]http.HandlerFunc{
		"/2/files/delete_batch": func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&callCount, 1)
			_ = json.NewEncoder(w).Encode(map[string]any{".tag": "failed", "failed": map[string]string{".tag": "too_many_write_operations"}})
		},
	})

	_, err := client.Batch().Delete(context.Background(), []string{"/a", "/b"}, 10)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindSyncError, kind)
	assert.Equal(t, int32(1), atomic.LoadInt32(&callCount), "unlike CreateDirs, Delete does not retry at a smaller batch size")
}

func TestDeleteAsyncJobPolling(t *testing.T) {
	var polls int32
	var createCheckCalls int32
	client, _, _ := newLinkedTestClient(t, map[string]http.HandlerFunc{
		"/2/files/delete_batch": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{".tag": "async_job_id", "async_job_id": "job-3"})
		},
		"/2/files/create_folder_batch/check": func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&createCheckCalls, 1)
			_ = json.NewEncoder(w).Encode(map[string]any{".tag": "in_progress"})
		},
		"/2/files/delete_batch/check": func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&polls, 1)
			if n < 2 {
				_ = json.NewEncoder(w).Encode(map[string]any{".tag": "in_progress"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				".tag": "complete",
				"entries": []map[string]any{
					{".tag": "success", "success": map[string]any{".tag": "deleted", "path_lower": "/a"}},
				},
			})
		},
	})

	out, err := client.Batch().Delete(context.Background(), []string{"/a"}, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "/a", out[0].Entry.Deleted.Path)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(2), "delete must poll delete_batch/check")
	assert.Equal(t, int32(0), atomic.LoadInt32(&createCheckCalls), "delete must not poll the create-folder check endpoint")
}

func TestDeleteSynchronousComplete(t *testing.T) {
	client, _, _ := newLinkedTestClient(t, map[string]http.HandlerFunc{
		"/2/files/delete_batch": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				".tag": "complete",
				"entries": []map[string]any{
					{".tag": "success", "success": map[string]any{".tag": "deleted", "path_lower": "/a"}},
				},
			})
		},
	})

	out, err := client.Batch().Delete(context.Background(), []string{"/a"}, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "/a", out[0].Entry.Deleted.Path)
}

func TestShareDirSynchronousComplete(t *testing.T) {
	client, _, _ := newLinkedTestClient(t, map[string]http.HandlerFunc{
		"/2/sharing/share_folder": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{".tag": "complete"})
		},
	})

	meta, err := client.Batch().ShareDir(context.Background(), "/shared")
	require.NoError(t, err)
	assert.Equal(t, "/shared", meta.Path)
}

func TestShareDirAsyncJobPolling(t *testing.T) {
	var polls int32
	client, _, _ := newLinkedTestClient(t, map[string]http.HandlerFunc{
		"/2/sharing/share_folder": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{".tag": "async_job_id", "async_job_id": "job-2"})
		},
		"/2/sharing/check_share_job_status": func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&polls, 1)
			if n < 2 {
				_ = json.NewEncoder(w).Encode(map[string]any{".tag": "in_progress"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{".tag": "complete", "shared_folder_id": "sf-1"})
		},
	})

	meta, err := client.Batch().ShareDir(context.Background(), "/shared")
	require.NoError(t, err)
	assert.Equal(t, "sf-1", meta.SharedFolderID)
}
