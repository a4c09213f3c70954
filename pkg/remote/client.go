// Package remote implements the Remote Client Layer: authenticated access
// to a paginated, cursor-based remote object store — metadata enumeration,
// chunked transfer with content-hash verification, batched folder
// create/delete, and long-poll change notification.
package remote

import (
	"context"
	"sync"
	"time"

	"github.com/bogwonch/maestral/internal/telemetry"
	"github.com/bogwonch/maestral/pkg/metrics"
)

// Config configures a RemoteClient. Defaults for unset fields match
// SPEC_FULL.md's ambient configuration layer.
type Config struct {
	Endpoints        OAuthEndpoints
	BaseURL          string
	ContentURL       string
	UserAgentSuffix  string
	RequestTimeout   time.Duration
	ChunkSize        int64
	MaxUploadRetries int
	BatchSize        int
}

// RemoteClient is the aggregate component of the Remote Client Layer. It
// holds a Session, two logical namespace handles, and the account's
// namespace id. A client is either linked or unlinked; a request is only
// issued while linked.
type RemoteClient struct {
	cfg        Config
	credStore  CredentialStore
	stateStore StateStore
	mapper     *ErrorMapper
	metrics    *metrics.Metrics

	mu            sync.Mutex
	rootSession   *Session // root-unaware, no path-root header
	nsSession     *Session // namespace-bound
	credential    *Credential
	namespaceID   string
	isTeamSpace   bool
	cachedAccount *AccountInfo
	authFlow      *AuthFlow

	transfer *TransferEngine
	batch    *BatchExecutor
	changes  *ChangeFeed
}

// New builds a RemoteClient over the given collaborators. No network I/O
// happens until the first call that requires linking.
func New(cfg Config, credStore CredentialStore, stateStore StateStore) *RemoteClient {
	m := metrics.Get()
	c := &RemoteClient{
		cfg:        cfg,
		credStore:  credStore,
		stateStore: stateStore,
		mapper:     NewErrorMapper(m),
		metrics:    m,
	}
	c.transfer = newTransferEngine(c)
	c.batch = newBatchExecutor(c)
	c.changes = newChangeFeed(c)
	return c
}

// Transfer exposes the download/upload submodule.
func (c *RemoteClient) Transfer() *TransferEngine { return c.transfer }

// Batch exposes the create-folder/delete submodule.
func (c *RemoteClient) Batch() *BatchExecutor { return c.batch }

// Changes exposes the long-poll/iterator submodule.
func (c *RemoteClient) Changes() *ChangeFeed { return c.changes }

// Linked reports whether a credential exists in CredentialStore. It does
// not itself perform a network call.
func (c *RemoteClient) Linked() (bool, error) {
	cred, err := c.credStore.Load()
	if err != nil {
		return false, Wrap(KindNotLinked, "Credential store error", "Could not read the stored credential.", err)
	}
	return cred != nil, nil
}

// StartLink begins a new PKCE authorization attempt and returns the URL
// the user must visit.
func (c *RemoteClient) StartLink() (string, error) {
	_, span := telemetry.StartRemoteSpan(context.Background(), telemetry.SpanLink, "")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.authFlow = newAuthFlow(c.cfg.Endpoints)
	return c.authFlow.Start()
}

// FinishLink exchanges the authorization code, looks up the account's root
// namespace, and persists the credential plus cached account facts. On any
// network error between exchange and persistence, linking fails and no
// partial credential is stored.
func (c *RemoteClient) FinishLink(ctx context.Context, code string) error {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanLink, "")
	defer span.End()

	c.mu.Lock()
	flow := c.authFlow
	c.mu.Unlock()
	if flow == nil {
		err := New(KindBadInput, "Linking not started", "StartLink must be called before FinishLink.")
		telemetry.RecordError(ctx, err)
		return err
	}

	result, err := flow.Finish(ctx, code)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}

	cred := &Credential{AccountID: result.AccountID, Secret: result.RefreshToken, Kind: TokenOffline}
	telemetry.SetAttributes(ctx, telemetry.AccountID(result.AccountID))

	c.mu.Lock()
	c.authFlow = nil
	c.credential = cred
	c.rootSession = nil // force re-init with the new credential
	c.nsSession = nil
	c.mu.Unlock()

	if err := c.ensureInit(ctx); err != nil {
		c.mu.Lock()
		c.credential = nil
		c.mu.Unlock()
		telemetry.RecordError(ctx, err)
		return err
	}

	account, rootInfo, err := c.fetchAccountAndRoot(ctx)
	if err != nil {
		c.mu.Lock()
		c.credential = nil
		c.mu.Unlock()
		telemetry.RecordError(ctx, err)
		return err
	}

	if err := c.credStore.Save(cred); err != nil {
		err = Wrap(KindNotLinked, "Could not save credential", "Linking succeeded but the credential could not be persisted.", err)
		telemetry.RecordError(ctx, err)
		return err
	}

	c.mu.Lock()
	c.namespaceID = rootInfo.NamespaceID
	c.isTeamSpace = rootInfo.Kind == RootTeam
	c.cachedAccount = account
	c.nsSession.SetPathRoot(rootInfo.NamespaceID)
	c.mu.Unlock()

	if err := c.persistAccountState(account); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	return nil
}

// Unlink revokes the token at the remote, deletes it locally, and clears
// in-memory SDK handles and cached account info. Revocation failures still
// delete local state: the credential is useless to the client either way.
func (c *RemoteClient) Unlink(ctx context.Context) error {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanUnlink, "")
	defer span.End()

	c.mu.Lock()
	session := c.rootSession
	c.mu.Unlock()

	if session != nil {
		_ = session.rpc(ctx, "/2/auth/token/revoke", nil, nil) // best-effort
	}

	if err := c.credStore.Delete(); err != nil {
		err = Wrap(KindNotLinked, "Could not clear credential", "Failed to delete the stored credential.", err)
		telemetry.RecordError(ctx, err)
		return err
	}

	c.mu.Lock()
	if c.rootSession != nil {
		c.rootSession.Close()
	}
	if c.nsSession != nil {
		c.nsSession.Close()
	}
	c.rootSession = nil
	c.nsSession = nil
	c.credential = nil
	c.namespaceID = ""
	c.isTeamSpace = false
	c.cachedAccount = nil
	c.mu.Unlock()

	return nil
}

// Close closes both sessions: calls issued afterwards fail with a
// ConnectionError, while calls already in flight run to completion. There
// is no per-call cancel token.
func (c *RemoteClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rootSession != nil {
		c.rootSession.Close()
	}
	if c.nsSession != nil {
		c.nsSession.Close()
	}
}

// Clone returns a new RemoteClient sharing this client's CredentialStore
// and StateStore but owning an independent Session pair, so callers that
// need concurrent in-flight requests beyond one Session's connection pool
// (e.g. a parallel download alongside a long-poll wait) can do so without
// contending on ensureInit's lock.
func (c *RemoteClient) Clone() *RemoteClient {
	return New(c.cfg, c.credStore, c.stateStore)
}

// ensureInit lazily constructs the two SDK handles under the double-checked
// lock described in §4.2: a root-unaware handle for account endpoints and
// a namespace-bound handle for path-scoped endpoints.
func (c *RemoteClient) ensureInit(ctx context.Context) error {
	c.mu.Lock()
	if c.rootSession != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	cred, err := c.credStore.Load()
	if err != nil {
		return Wrap(KindNotLinked, "Credential store error", "Could not read the stored credential.", err)
	}
	if cred == nil {
		return New(KindNotLinked, "Not linked", "No account is linked.")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rootSession != nil {
		return nil // another goroutine won the race
	}

	tokens := tokenSourceFor(ctx, c.cfg.Endpoints, cred)
	sessionCfg := SessionConfig{
		BaseURL:        c.cfg.BaseURL,
		ContentURL:     c.cfg.ContentURL,
		UserAgentMinor: c.cfg.UserAgentSuffix,
		Timeout:        c.cfg.RequestTimeout,
		Tokens:         tokens,
	}
	root := NewSession(sessionCfg)
	ns := NewSession(sessionCfg)
	if c.namespaceID != "" {
		ns.SetPathRoot(c.namespaceID)
	}

	c.credential = cred
	c.rootSession = root
	c.nsSession = ns
	return nil
}

// nsSessionFor returns the namespace-bound session, initializing it first
// if necessary.
func (c *RemoteClient) nsSessionFor(ctx context.Context) (*Session, error) {
	if err := c.ensureInit(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nsSession, nil
}

// rootSessionFor returns the root-unaware session, initializing it first
// if necessary.
func (c *RemoteClient) rootSessionFor(ctx context.Context) (*Session, error) {
	if err := c.ensureInit(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rootSession, nil
}

// accountInfoWire is the remote's account-endpoint response shape.
type accountInfoWire struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Name      struct {
		DisplayName     string `json:"display_name"`
		AbbreviatedName string `json:"abbreviated_name"`
	} `json:"name"`
	AccountType struct {
		Tag string `json:".tag"`
	} `json:"account_type"`
	RootInfo struct {
		Tag      string `json:".tag"`
		RootNSID string `json:"root_namespace_id"`
		HomeNSID string `json:"home_namespace_id"`
		HomePath string `json:"home_path"`
	} `json:"root_info"`
}

func (c *RemoteClient) fetchAccountAndRoot(ctx context.Context) (*AccountInfo, *RootInfo, error) {
	session, err := c.rootSessionFor(ctx)
	if err != nil {
		return nil, nil, err
	}

	var wire accountInfoWire
	err = withErrorScopeVoid(c.mapper, "", "", func() error {
		return session.rpc(ctx, "/2/users/get_current_account", nil, &wire)
	})
	if err != nil {
		return nil, nil, err
	}

	root := &RootInfo{NamespaceID: wire.RootInfo.RootNSID}
	if wire.RootInfo.Tag == "team" {
		root.Kind = RootTeam
		root.HomePath = ""
	} else {
		root.Kind = RootUser
		root.HomePath = wire.RootInfo.HomePath
	}

	account := &AccountInfo{
		Email:           wire.Email,
		DisplayName:     wire.Name.DisplayName,
		AbbreviatedName: wire.Name.AbbreviatedName,
		AccountType:     wire.AccountType.Tag,
		PathRootNSID:    root.NamespaceID,
		PathRootType:    root.Kind.String(),
		HomePath:        root.HomePath,
	}
	return account, root, nil
}

func (c *RemoteClient) persistAccountState(account *AccountInfo) error {
	fields := map[string]string{
		"email":            account.Email,
		"display_name":     account.DisplayName,
		"abbreviated_name": account.AbbreviatedName,
		"type":             account.AccountType,
		"usage":            account.UsageFormatted,
		"usage_type":       account.UsageType,
		"path_root_nsid":   account.PathRootNSID,
		"path_root_type":   account.PathRootType,
		"home_path":        account.HomePath,
	}
	for key, value := range fields {
		if err := c.stateStore.Set("account", key, value); err != nil {
			return Wrap(KindSyncError, "Could not persist account state", "Account info was fetched but not saved locally.", err)
		}
	}
	return nil
}

// UpdatePathRoot rebuilds the namespace handle and persists the new root.
// Callers invoke this in response to a PathRootError; the client never
// auto-switches. If rootInfo is nil it is fetched from the account
// endpoint first.
func (c *RemoteClient) UpdatePathRoot(ctx context.Context, rootInfo *RootInfo) error {
	ctx, span := telemetry.StartRemoteSpan(ctx, telemetry.SpanGetMetadata, "")
	defer span.End()

	var account *AccountInfo
	var err error
	if rootInfo == nil {
		account, rootInfo, err = c.fetchAccountAndRoot(ctx)
		if err != nil {
			telemetry.RecordError(ctx, err)
			return err
		}
	}

	c.mu.Lock()
	c.namespaceID = rootInfo.NamespaceID
	c.isTeamSpace = rootInfo.Kind == RootTeam
	if account != nil {
		c.cachedAccount = account
	}
	if c.nsSession != nil {
		c.nsSession.SetPathRoot(rootInfo.NamespaceID)
	}
	c.mu.Unlock()

	if account != nil {
		return c.persistAccountState(account)
	}
	return c.stateStore.Set("account", "path_root_nsid", rootInfo.NamespaceID)
}
