package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, handler http.HandlerFunc) (*Session, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	sess := NewSession(SessionConfig{BaseURL: server.URL, ContentURL: server.URL, Timeout: 5 * time.Second})
	return sess, server
}

func TestSessionRPCSuccess(t *testing.T) {
	type resp struct {
		OK bool `json:"ok"`
	}
	sess, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewEncoder(w).Encode(resp{OK: true})
	})

	var result resp
	err := sess.rpc(context.Background(), "/2/test", map[string]string{"a": "b"}, &result)
	require.NoError(t, err)
	assert.True(t, result.OK)
}

func TestSessionRPCSendsBearerToken(t *testing.T) {
	sess, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
	})
	sess.tokens = &staticTokenSource{token: "tok-1"}

	err := sess.rpc(context.Background(), "/2/test", nil, nil)
	require.NoError(t, err)
}

func TestSessionRPCSendsPathRootHeader(t *testing.T) {
	sess, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `{".tag":"root","root":"ns1"}`, r.Header.Get(pathRootHeader))
	})
	sess.SetPathRoot("ns1")

	err := sess.rpc(context.Background(), "/2/test", nil, nil)
	require.NoError(t, err)
}

func TestSessionWithoutPathRootOmitsHeader(t *testing.T) {
	sess, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(pathRootHeader))
	})
	sess.SetPathRoot("ns1")
	rootless := sess.WithoutPathRoot()

	err := rootless.rpc(context.Background(), "/2/test", nil, nil)
	require.NoError(t, err)
}

func TestSessionRPCMapsErrorEnvelope(t *testing.T) {
	sess, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error_summary": "path_root/...",
			"error":         map[string]string{".tag": "path_root"},
		})
	})

	err := sess.rpc(context.Background(), "/2/test", nil, nil)
	require.Error(t, err)
	var te *transportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusConflict, te.StatusCode)
	assert.Equal(t, "path_root", te.Tag)
}

func TestSessionClosedRejectsNewRequests(t *testing.T) {
	sess, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached once closed")
	})
	sess.Close()

	err := sess.rpc(context.Background(), "/2/test", nil, nil)
	require.Error(t, err)
	var te *transportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "session closed", te.Summary)
}

func TestSessionTokenSourceFailureMapsToUnauthorized(t *testing.T) {
	sess, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached when token retrieval fails")
	})
	sess.tokens = failingTokenSource{}

	err := sess.rpc(context.Background(), "/2/test", nil, nil)
	require.Error(t, err)
	var te *transportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusUnauthorized, te.StatusCode)
}

func TestSessionContentUploadSendsAPIArgHeader(t *testing.T) {
	sess, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `{"path":"/a"}`, r.Header.Get("Dropbox-API-Arg"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "payload", string(body))
	})

	err := sess.contentUpload(context.Background(), "/2/upload", map[string]string{"path": "/a"}, strings.NewReader("payload"), nil)
	require.NoError(t, err)
}

func TestSessionContentDownloadReturnsBodyAndResultHeader(t *testing.T) {
	type meta struct {
		Size int64 `json:"size"`
	}
	sess, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := json.Marshal(meta{Size: 7})
		w.Header().Set("Dropbox-API-Result", string(data))
		_, _ = w.Write([]byte("content!"))
	})

	var m meta
	body, err := sess.contentDownload(context.Background(), "/2/download", map[string]string{"path": "/a"}, &m)
	require.NoError(t, err)
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "content!", string(data))
	assert.Equal(t, int64(7), m.Size)
}

type failingTokenSource struct{}

func (failingTokenSource) Token(context.Context) (string, error) {
	return "", assert.AnError
}
