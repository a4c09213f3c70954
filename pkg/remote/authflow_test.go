package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePKCE(t *testing.T) {
	a, err := generatePKCE()
	require.NoError(t, err)
	b, err := generatePKCE()
	require.NoError(t, err)

	assert.NotEmpty(t, a.verifier)
	assert.NotEmpty(t, a.challenge)
	assert.NotEqual(t, a.verifier, b.verifier, "each attempt gets a fresh verifier")
	assert.NotEqual(t, a.verifier, a.challenge, "challenge is a hash of the verifier, not the verifier itself")
}

func TestAuthFlowStartProducesAuthURLWithChallenge(t *testing.T) {
	flow := newAuthFlow(OAuthEndpoints{
		AuthURL:     "https://example.test/oauth2/authorize",
		TokenURL:    "https://example.test/oauth2/token",
		ClientID:    "maestral",
		RedirectURI: "http://localhost:0/oauth2/callback",
	})

	authURL, err := flow.Start()
	require.NoError(t, err)
	require.NotNil(t, flow.pkce)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, flow.pkce.challenge, q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "offline", q.Get("token_access_type"))
	assert.Equal(t, "maestral", q.Get("client_id"))
}

func TestAuthFlowFinishWithoutStartFails(t *testing.T) {
	flow := newAuthFlow(OAuthEndpoints{})
	_, err := flow.Finish(context.Background(), "some-code")
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindBadInput, kind)
}

func TestAuthFlowFinishExchangesCodeForRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "auth-code", r.FormValue("code"))
		assert.Equal(t, "verifier-check", r.FormValue("code_verifier"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-123",
			"refresh_token": "refresh-456",
			"token_type":    "bearer",
			"account_id":    "dbid:abc",
		})
	}))
	defer server.Close()

	flow := newAuthFlow(OAuthEndpoints{
		AuthURL:     server.URL + "/authorize",
		TokenURL:    server.URL + "/token",
		ClientID:    "maestral",
		RedirectURI: "http://localhost:0/oauth2/callback",
	})
	flow.pkce = &pkceChallenge{verifier: "verifier-check", challenge: "irrelevant-here"}

	result, err := flow.Finish(context.Background(), "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "dbid:abc", result.AccountID)
	assert.Equal(t, "refresh-456", result.RefreshToken)
	assert.Nil(t, flow.pkce, "pkce state is single-use")
}

func TestAuthFlowFinishRejectsMissingRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-123",
			"token_type":   "bearer",
		})
	}))
	defer server.Close()

	flow := newAuthFlow(OAuthEndpoints{TokenURL: server.URL + "/token", ClientID: "maestral"})
	flow.pkce = &pkceChallenge{verifier: "v"}

	_, err := flow.Finish(context.Background(), "auth-code")
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindBadInput, kind)
}

func TestStaticTokenSourceReturnsConstantToken(t *testing.T) {
	src := &staticTokenSource{token: "fixed-token"}
	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fixed-token", tok)
}

func TestTokenSourceForSelectsByCredentialKind(t *testing.T) {
	legacy := tokenSourceFor(context.Background(), OAuthEndpoints{}, &Credential{Kind: TokenLegacy, Secret: "static"})
	_, ok := legacy.(*staticTokenSource)
	assert.True(t, ok)

	offline := tokenSourceFor(context.Background(), OAuthEndpoints{TokenURL: "https://example.test/token"}, &Credential{Kind: TokenOffline, Secret: "refresh"})
	_, ok = offline.(*oauthTokenSource)
	assert.True(t, ok)
}
