package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeCredentialStore is an in-memory CredentialStore for tests.
type fakeCredentialStore struct {
	mu   sync.Mutex
	cred *Credential
}

func (f *fakeCredentialStore) Load() (*Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cred, nil
}

func (f *fakeCredentialStore) Save(cred *Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cred = cred
	return nil
}

func (f *fakeCredentialStore) Delete() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cred = nil
	return nil
}

// fakeStateStore is an in-memory StateStore for tests.
type fakeStateStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{values: make(map[string]string)}
}

func (f *fakeStateStore) Get(section, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[section+"/"+key]
	return v, ok, nil
}

func (f *fakeStateStore) Set(section, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[section+"/"+key] = value
	return nil
}

// newLinkedTestClient builds a RemoteClient against an httptest mux serving
// the baseline oauth/account endpoints plus any extra test-specific routes,
// and completes a link so nsSessionFor/rootSessionFor succeed.
func newLinkedTestClient(t *testing.T, extra map[string]http.HandlerFunc) (*RemoteClient, *httptest.Server, *fakeStateStore) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "bearer",
			"account_id":    "dbid:acct1",
		})
	})
	mux.HandleFunc("/2/users/get_current_account", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"account_id": "dbid:acct1",
			"email":      "user@example.com",
			"name":       map[string]string{"display_name": "Test User", "abbreviated_name": "TU"},
			"account_type": map[string]string{
				".tag": "pro",
			},
			"root_info": map[string]string{
				".tag":              "user",
				"root_namespace_id": "ns-1",
				"home_namespace_id": "ns-1",
				"home_path":         "",
			},
		})
	})
	mux.HandleFunc("/2/auth/token/revoke", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	for path, handler := range extra {
		mux.HandleFunc(path, handler)
	}

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	credStore := &fakeCredentialStore{}
	stateStore := newFakeStateStore()
	cfg := Config{
		Endpoints: OAuthEndpoints{
			AuthURL:     server.URL + "/oauth2/authorize",
			TokenURL:    server.URL + "/oauth2/token",
			ClientID:    "maestral",
			RedirectURI: "http://localhost:0/oauth2/callback",
		},
		BaseURL:    server.URL,
		ContentURL: server.URL,
	}
	client := New(cfg, credStore, stateStore)
	t.Cleanup(client.Close)

	_, err := client.StartLink()
	require.NoError(t, err)
	require.NoError(t, client.FinishLink(context.Background(), "auth-code"))

	return client, server, stateStore
}
