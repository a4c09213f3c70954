package remote

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// OAuthEndpoints names the remote's authorization/token URLs for the PKCE
// handshake and the app's client identifier.
type OAuthEndpoints struct {
	AuthURL     string
	TokenURL    string
	ClientID    string
	RedirectURI string
}

// pkceChallenge holds the verifier/challenge pair for one in-progress
// authorization attempt.
type pkceChallenge struct {
	verifier  string
	challenge string
}

func generatePKCE() (*pkceChallenge, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate pkce verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(raw)

	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	return &pkceChallenge{verifier: verifier, challenge: challenge}, nil
}

// AuthFlow drives the PKCE authorization-code handshake that produces a
// refresh token. State lives only as long as one link attempt: start
// generates it, finish consumes it, and it is discarded either way.
type AuthFlow struct {
	endpoints OAuthEndpoints
	oauthCfg  *oauth2.Config
	pkce      *pkceChallenge
}

// newAuthFlow builds an AuthFlow bound to the given endpoints.
func newAuthFlow(endpoints OAuthEndpoints) *AuthFlow {
	return &AuthFlow{
		endpoints: endpoints,
		oauthCfg: &oauth2.Config{
			ClientID:    endpoints.ClientID,
			RedirectURL: endpoints.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:  endpoints.AuthURL,
				TokenURL: endpoints.TokenURL,
			},
		},
	}
}

// Start generates a fresh PKCE verifier/challenge pair, remembers it on the
// AuthFlow, and returns the authorization URL the user must visit.
func (f *AuthFlow) Start() (string, error) {
	pkce, err := generatePKCE()
	if err != nil {
		return "", New(KindBadInput, "Could not start linking", err.Error())
	}
	f.pkce = pkce

	authURL := f.oauthCfg.AuthCodeURL("",
		oauth2.SetAuthURLParam("code_challenge", pkce.challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("token_access_type", "offline"),
	)
	return authURL, nil
}

// linkResult is what Finish hands back for RemoteClient.Link to persist.
type linkResult struct {
	AccountID    string
	RefreshToken string
}

// Finish exchanges the user-supplied authorization code for a refresh
// token. Start must have been called first on this AuthFlow; otherwise it
// fails with a usage error.
func (f *AuthFlow) Finish(ctx context.Context, code string) (*linkResult, error) {
	if f.pkce == nil {
		return nil, New(KindBadInput, "Linking not started", "Start must be called before Finish.")
	}

	tok, err := f.oauthCfg.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", f.pkce.verifier),
	)
	f.pkce = nil // single-use regardless of outcome
	if err != nil {
		return nil, Wrap(KindNetworkError, "Linking failed", "Could not exchange the authorization code.", err)
	}
	if tok.RefreshToken == "" {
		return nil, New(KindBadInput, "Invalid code", "The remote did not return a refresh token for this code.")
	}

	accountID, _ := tok.Extra("account_id").(string)
	if accountID == "" {
		if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
			accountID = accountIDFromIDToken(idToken)
		}
	}
	return &linkResult{AccountID: accountID, RefreshToken: tok.RefreshToken}, nil
}

// accountIDFromIDToken pulls the subject claim out of an OIDC id_token
// without verifying its signature: the token only ever arrived over the
// TLS-protected token exchange above, so it is trusted the same way the
// sibling account_id field is.
func accountIDFromIDToken(idToken string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}

// staticTokenSource implements TokenSource for a TokenLegacy credential: a
// constant access token, never refreshed.
type staticTokenSource struct {
	token string
}

func (s *staticTokenSource) Token(context.Context) (string, error) {
	return s.token, nil
}

// oauthTokenSource implements TokenSource for a TokenOffline credential,
// wrapping golang.org/x/oauth2's refreshing TokenSource so a new access
// token is minted transparently once the cached one expires.
type oauthTokenSource struct {
	inner oauth2.TokenSource
}

func newOAuthTokenSource(ctx context.Context, endpoints OAuthEndpoints, refreshToken string) *oauthTokenSource {
	cfg := &oauth2.Config{
		ClientID: endpoints.ClientID,
		Endpoint: oauth2.Endpoint{TokenURL: endpoints.TokenURL},
	}
	seed := &oauth2.Token{RefreshToken: refreshToken}
	return &oauthTokenSource{inner: cfg.TokenSource(ctx, seed)}
}

func (s *oauthTokenSource) Token(ctx context.Context) (string, error) {
	tok, err := s.inner.Token()
	if err != nil {
		return "", Wrap(KindNotLinked, "Token refresh failed", "The stored credential could not be renewed.", err)
	}
	return tok.AccessToken, nil
}

// tokenSourceFor builds the right TokenSource for a credential's kind.
func tokenSourceFor(ctx context.Context, endpoints OAuthEndpoints, cred *Credential) TokenSource {
	if cred.Kind == TokenLegacy {
		return &staticTokenSource{token: cred.Secret}
	}
	return newOAuthTokenSource(ctx, endpoints, cred.Secret)
}
