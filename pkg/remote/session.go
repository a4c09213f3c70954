package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bogwonch/maestral/internal/logger"
)

// UserAgentApp is the application component of the User-Agent header; the
// version suffix comes from Config.Client.UserAgentSuffix.
const UserAgentApp = "maestral"

// pathRootHeader is the remote's namespace-pinning header. Its absence
// means "home namespace".
const pathRootHeader = "Dropbox-API-Path-Root"

// TokenSource supplies the current bearer token for outgoing requests. It
// is called once per request; an Offline credential's TokenSource renews
// an expiring access token transparently, a Legacy credential's returns a
// constant.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Session owns the HTTP transport: connection pool, default per-request
// timeout, and User-Agent. RemoteClient builds two Sessions from the same
// SessionConfig, one for each logical SDK handle (root-unaware and
// namespace-bound); the two do not share a connection pool.
type Session struct {
	httpClient *http.Client
	baseURL    string
	contentURL string // separate host for upload/download endpoints
	userAgent  string

	tokens TokenSource

	mu       sync.RWMutex
	pathRoot string // serialized {".tag":"root","root":"<id>"} header value, or "" for home
	closed   atomic.Bool
}

// SessionConfig configures a new Session.
type SessionConfig struct {
	BaseURL        string
	ContentURL     string
	UserAgentMinor string // e.g. "1.2" appended to UserAgentApp
	Timeout        time.Duration
	Tokens         TokenSource
}

// NewSession builds a Session ready to issue requests. Timeout defaults to
// 100s if unset.
func NewSession(cfg SessionConfig) *Session {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 100 * time.Second
	}
	ua := UserAgentApp
	if cfg.UserAgentMinor != "" {
		ua = fmt.Sprintf("%s/%s", UserAgentApp, cfg.UserAgentMinor)
	}
	return &Session{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		contentURL: cfg.ContentURL,
		userAgent:  ua,
		tokens:     cfg.Tokens,
	}
}

// Close marks the session closed and drops its idle connections. Requests
// issued after Close fail with a connection error before any I/O; requests
// already in flight are not interrupted. There is no per-call cancel token,
// only this coarse shutdown.
func (s *Session) Close() {
	s.closed.Store(true)
	s.httpClient.CloseIdleConnections()
}

// SetPathRoot sets (or, if namespaceID is empty, clears) the namespace
// header sent with every subsequent request.
func (s *Session) SetPathRoot(namespaceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if namespaceID == "" {
		s.pathRoot = ""
		return
	}
	s.pathRoot = fmt.Sprintf(`{".tag":"root","root":"%s"}`, namespaceID)
}

// WithoutPathRoot returns a shallow copy of the session that never sends
// the path-root header, for root-unaware (account/user) endpoints.
func (s *Session) WithoutPathRoot() *Session {
	return &Session{
		httpClient: s.httpClient,
		baseURL:    s.baseURL,
		contentURL: s.contentURL,
		userAgent:  s.userAgent,
		tokens:     s.tokens,
	}
}

func (s *Session) pathRootValue() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pathRoot
}

// rpc issues a POST to the RPC endpoint with a JSON body and decodes the
// JSON response into result (which may be nil to discard the body).
func (s *Session) rpc(ctx context.Context, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	return s.do(ctx, s.baseURL, path, bodyReader, "application/json", result)
}

// contentUpload issues a POST to the content endpoint with a raw body and
// a JSON API-argument header, decoding a JSON response.
func (s *Session) contentUpload(ctx context.Context, path string, apiArg any, body io.Reader, result any) error {
	argJSON, err := json.Marshal(apiArg)
	if err != nil {
		return fmt.Errorf("encode api arg: %w", err)
	}
	req, err := s.newRequest(ctx, s.contentURL, path, body, "application/octet-stream")
	if err != nil {
		return err
	}
	req.Header.Set("Dropbox-API-Arg", string(argJSON))
	return s.send(req, result)
}

// contentDownload issues a POST to the content endpoint and returns the
// raw response body for the caller to stream, along with any parsed
// response metadata carried in the Dropbox-API-Result header.
func (s *Session) contentDownload(ctx context.Context, path string, apiArg any, result any) (io.ReadCloser, error) {
	argJSON, err := json.Marshal(apiArg)
	if err != nil {
		return nil, fmt.Errorf("encode api arg: %w", err)
	}
	req, err := s.newRequest(ctx, s.contentURL, path, nil, "")
	if err != nil {
		return nil, err
	}
	req.Header.Set("Dropbox-API-Arg", string(argJSON))

	resp, err := s.roundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		return nil, s.errorFromResponse(resp)
	}
	if result != nil {
		if header := resp.Header.Get("Dropbox-API-Result"); header != "" {
			if err := json.Unmarshal([]byte(header), result); err != nil {
				_ = resp.Body.Close()
				return nil, fmt.Errorf("decode result header: %w", err)
			}
		}
	}
	return resp.Body, nil
}

func (s *Session) do(ctx context.Context, base, path string, body io.Reader, contentType string, result any) error {
	req, err := s.newRequest(ctx, base, path, body, contentType)
	if err != nil {
		return err
	}
	return s.send(req, result)
}

func (s *Session) newRequest(ctx context.Context, base, path string, body io.Reader, contentType string) (*http.Request, error) {
	if s.closed.Load() {
		return nil, &transportError{StatusCode: 0, Summary: "session closed", cause: http.ErrServerClosed}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("User-Agent", s.userAgent)
	if pr := s.pathRootValue(); pr != "" {
		req.Header.Set(pathRootHeader, pr)
	}
	if s.tokens != nil {
		token, err := s.tokens.Token(ctx)
		if err != nil {
			return nil, &transportError{StatusCode: http.StatusUnauthorized, Tag: "invalid_access_token", Summary: "token unavailable", cause: err}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	lc := logger.FromContext(ctx)
	if lc == nil {
		lc = logger.NewLogContext(path)
	} else {
		lc = lc.Clone()
	}
	if lc.RequestID == "" {
		lc = lc.WithRequestID(uuid.NewString())
	}
	logger.Debug("remote request", logger.RequestID(lc.RequestID), "path", path, "operation", lc.Operation)

	return req, nil
}

func (s *Session) send(req *http.Request, result any) error {
	resp, err := s.roundTrip(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transportError{StatusCode: resp.StatusCode, Summary: "read response body", cause: err}
	}

	if resp.StatusCode >= 400 {
		return s.errorFromBody(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (s *Session) roundTrip(req *http.Request) (*http.Response, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{StatusCode: 0, Summary: "request failed", cause: err}
	}
	return resp, nil
}

func (s *Session) errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return s.errorFromBody(resp.StatusCode, body)
}

// remoteErrorEnvelope is the remote's published error body shape:
// {"error_summary": "...", "error": {".tag": "..."}}
type remoteErrorEnvelope struct {
	ErrorSummary string `json:"error_summary"`
	Error        struct {
		Tag           string `json:".tag"`
		CorrectOffset int64  `json:"correct_offset"`
	} `json:"error"`
}

func (s *Session) errorFromBody(statusCode int, body []byte) error {
	var env remoteErrorEnvelope
	if json.Unmarshal(body, &env) == nil && (env.ErrorSummary != "" || env.Error.Tag != "") {
		summary := env.ErrorSummary
		if summary == "" {
			summary = env.Error.Tag
		}
		return &transportError{
			StatusCode:    statusCode,
			Tag:           env.Error.Tag,
			Summary:       summary,
			correctOffset: env.Error.CorrectOffset,
		}
	}
	return &transportError{StatusCode: statusCode, Summary: string(body)}
}
