package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"golang.org/x/sync/singleflight"

	"github.com/groupvan/go-client/storage"
)

// DefaultRefreshBuffer is the safety margin before expiry at which a
// proactive refresh is scheduled.
const DefaultRefreshBuffer = 2 * time.Minute

const (
	loginPath         = "/auth/login"
	refreshPath       = "/auth/refresh"
	logoutPath        = "/auth/logout"
	oauthCallbackPath = "/auth/oauth/callback"
	linkPath          = "/auth/link"
)

// AuthManager owns the session lifecycle: login, proactive refresh, logout
// and restore. It is the sole writer of the token storage and the sole
// producer of AuthStatus transitions. Resource clients consume it through
// GetValidAccessToken, Subscribe/CurrentStatus and the shared
// SessionPropagator.
type AuthManager struct {
	client        HTTPClient
	store         storage.TokenStorage
	scheduler     Scheduler
	logger        Logger
	propagator    *SessionPropagator
	clientID      string
	refreshBuffer time.Duration
	now           func() time.Time

	broadcast *StatusBroadcast
	refreshes singleflight.Group

	mu            sync.Mutex
	cancelRefresh CancelFunc
	disposed      bool
}

// Option customizes an AuthManager.
type Option func(*AuthManager)

// WithLogger overrides the default logger.
func WithLogger(logger Logger) Option {
	return func(m *AuthManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithScheduler injects the refresh timer port (useful for tests).
func WithScheduler(scheduler Scheduler) Option {
	return func(m *AuthManager) {
		if scheduler != nil {
			m.scheduler = scheduler
		}
	}
}

// WithRefreshBuffer overrides the proactive refresh margin.
func WithRefreshBuffer(d time.Duration) Option {
	return func(m *AuthManager) {
		if d > 0 {
			m.refreshBuffer = d
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(m *AuthManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithClientID sets the client id stamped on auth endpoints.
func WithClientID(clientID string) Option {
	return func(m *AuthManager) {
		m.clientID = clientID
	}
}

// WithSessionPropagator shares a sticky session id store with resource
// clients; the manager clears it on logout.
func WithSessionPropagator(p *SessionPropagator) Option {
	return func(m *AuthManager) {
		if p != nil {
			m.propagator = p
		}
	}
}

// NewAuthManager builds a manager in the Unauthenticated state.
func NewAuthManager(client HTTPClient, store storage.TokenStorage, opts ...Option) *AuthManager {
	m := &AuthManager{
		client:        client,
		store:         store,
		scheduler:     TimerScheduler{},
		logger:        defLogger{},
		propagator:    NewSessionPropagator(),
		refreshBuffer: DefaultRefreshBuffer,
		now:           time.Now,
		broadcast:     NewStatusBroadcast(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// CurrentStatus returns the latest status snapshot.
func (m *AuthManager) CurrentStatus() AuthStatus {
	return m.broadcast.Current()
}

// Subscribe registers a status listener; it is immediately invoked with the
// current snapshot. The returned function unsubscribes.
func (m *AuthManager) Subscribe(fn func(AuthStatus)) func() {
	return m.broadcast.Subscribe(fn)
}

// SessionPropagator exposes the sticky session id store shared with
// resource clients.
func (m *AuthManager) SessionPropagator() *SessionPropagator {
	return m.propagator
}

func (m *AuthManager) setStatus(status AuthStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.broadcast.Emit(status)
}

type initializeOptions struct {
	redirect url.Values
}

// InitializeOption customizes Initialize.
type InitializeOption func(*initializeOptions)

// WithRedirectQuery passes the query parameters of an OAuth redirect landing
// so Initialize can complete the provider exchange.
func WithRedirectQuery(values url.Values) InitializeOption {
	return func(o *initializeOptions) {
		o.redirect = values
	}
}

// Initialize warm-starts the session. Stored tokens are restored through one
// unconditional refresh; an OAuth redirect is exchanged when present;
// otherwise the manager settles Unauthenticated. Restore failures are never
// fatal: a broken local cache degrades to a usable logged-out state.
func (m *AuthManager) Initialize(ctx context.Context, opts ...InitializeOption) AuthStatus {
	options := &initializeOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	stored, err := m.store.Get(ctx)
	if err != nil {
		m.logger.Warn("token storage read failed during restore: %v", err)
		stored = storage.Tokens{}
	}

	switch {
	case stored.AccessToken != "":
		m.restoreStoredTokens(ctx, stored)
	case options.redirect.Get("code") != "" && options.redirect.Get("provider") != "":
		err := m.HandleOAuthCallback(ctx,
			options.redirect.Get("provider"),
			options.redirect.Get("code"),
			options.redirect.Get("state"),
		)
		// account_not_linked keeps its Failed status so the caller can route
		// to a linking flow; everything else degrades to logged-out.
		if err != nil && !IsAccountNotLinkedError(err) {
			m.logger.Warn("oauth redirect exchange failed during initialize: %v", err)
			m.setStatus(AuthStatus{State: StateUnauthenticated})
		}
	default:
		m.setStatus(AuthStatus{State: StateUnauthenticated})
	}

	return m.broadcast.Current()
}

func (m *AuthManager) restoreStoredTokens(ctx context.Context, stored storage.Tokens) {
	claims, err := DecodeToken(stored.AccessToken)
	if err != nil {
		// A stale or undecodable cached token never blocks the restore
		// refresh; the server decides whether the pair is still good.
		m.logger.Warn("stored access token claims undecodable")
		claims = nil
	}

	m.setStatus(AuthStatus{
		State:        StateRefreshing,
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		Claims:       claims,
	})

	if err := m.RefreshToken(ctx); err != nil {
		m.logger.Warn("session restore refresh failed: %v", err)
		if clearErr := m.store.Clear(ctx); clearErr != nil {
			m.logger.Error("token storage clear failed: %v", clearErr)
		}
		m.setStatus(AuthStatus{State: StateUnauthenticated})
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

type tokenResponse struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	ExpiresIn    int64          `json:"expires_in"`
	TokenType    string         `json:"token_type"`
	User         map[string]any `json:"user,omitempty"`
}

// Login authenticates with credentials. Success stores the token pair,
// decodes claims, arms the refresh timer and broadcasts Authenticated.
// Failure broadcasts Failed and returns the error.
func (m *AuthManager) Login(ctx context.Context, email, password string) error {
	req := loginRequest{Email: email, Password: password}
	if err := req.Validate(); err != nil {
		verr := errWithMeta(ErrValidation, err, map[string]any{"operation": "login"})
		m.setStatus(AuthStatus{State: StateFailed, Err: verr})
		return verr
	}

	m.setStatus(AuthStatus{State: StateAuthenticating})

	res, err := m.client.Post(ctx, loginPath, req, m.clientHeaders()...)
	if err != nil {
		failure := loginFailure(res, err)
		m.setStatus(AuthStatus{State: StateFailed, Err: failure})
		return failure
	}

	tokens, err := decodeTokenResponse(res)
	if err != nil {
		m.setStatus(AuthStatus{State: StateFailed, Err: err})
		return err
	}

	m.applyTokens(ctx, tokens, false)
	return nil
}

func loginFailure(res *Response, err error) error {
	if res != nil && res.StatusCode == http.StatusUnauthorized {
		return errWithMeta(ErrInvalidCredentials, err, nil)
	}
	return err
}

func decodeTokenResponse(res *Response) (*tokenResponse, error) {
	tokens := &tokenResponse{}
	if err := res.DecodeJSON(tokens); err != nil {
		return nil, err
	}
	if tokens.AccessToken == "" {
		return nil, errWithMeta(ErrInvalidToken, nil, map[string]any{
			"reason": "response missing access_token",
		})
	}
	return tokens, nil
}

// RefreshToken exchanges the refresh credential for a fresh token pair.
// Concurrent callers share one in-flight network call and observe the same
// outcome. Failure from an authenticated state transitions to Expired and
// clears storage.
func (m *AuthManager) RefreshToken(ctx context.Context) error {
	_, err, _ := m.refreshes.Do("refresh", func() (any, error) {
		return nil, m.doRefresh(ctx)
	})
	return err
}

func (m *AuthManager) doRefresh(ctx context.Context) error {
	prev := m.broadcast.Current()
	if prev.HasAccessToken() && prev.State != StateRefreshing {
		refreshing := prev
		refreshing.State = StateRefreshing
		m.setStatus(refreshing)
	}

	// Session-only/web mode sends no body: the HttpOnly refresh cookie rides
	// on the transport's cookie jar.
	var body any
	if prev.RefreshToken != "" {
		body = map[string]string{"refresh_token": prev.RefreshToken}
	}

	res, err := m.client.Post(ctx, refreshPath, body, m.clientHeaders()...)
	if err != nil {
		return m.expireAfterRefreshFailure(ctx, err)
	}

	tokens, err := decodeTokenResponse(res)
	if err != nil {
		return m.expireAfterRefreshFailure(ctx, err)
	}

	m.applyTokens(ctx, tokens, true)
	return nil
}

func (m *AuthManager) expireAfterRefreshFailure(ctx context.Context, cause error) error {
	m.cancelScheduled()
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("token storage clear failed: %v", err)
	}

	prev := m.broadcast.Current()
	if !prev.HasAccessToken() {
		m.setStatus(AuthStatus{State: StateUnauthenticated, Err: cause})
		return cause
	}

	failure := errWithMeta(ErrExpiredToken, cause, nil)

	// The stale token and claims stay on the snapshot for diagnostics; the
	// refresh token is gone either way.
	m.setStatus(AuthStatus{
		State:           StateExpired,
		AccessToken:     prev.AccessToken,
		Claims:          prev.Claims,
		UserInfo:        prev.UserInfo,
		AuthenticatedAt: prev.AuthenticatedAt,
		RefreshedAt:     prev.RefreshedAt,
		Err:             failure,
	})
	return failure
}

// applyTokens is the shared success tail of login, refresh and linking:
// decode claims, persist, broadcast Authenticated, re-arm the refresh timer.
func (m *AuthManager) applyTokens(ctx context.Context, tokens *tokenResponse, refreshed bool) {
	prev := m.broadcast.Current()

	claims, err := DecodeToken(tokens.AccessToken)
	if err != nil {
		m.logger.Warn("access token claims undecodable")
		claims = nil
	}

	if err := m.store.Store(ctx, storage.Tokens{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}); err != nil {
		m.logger.Error("token storage write failed: %v", err)
	}

	now := m.now()
	status := AuthStatus{
		State:        StateAuthenticated,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		Claims:       claims,
		UserInfo:     tokens.User,
	}

	if refreshed {
		status.AuthenticatedAt = prev.AuthenticatedAt
		if status.AuthenticatedAt == nil {
			status.AuthenticatedAt = &now
		}
		status.RefreshedAt = &now
		if len(status.UserInfo) == 0 {
			status.UserInfo = prev.UserInfo
		}
	} else {
		status.AuthenticatedAt = &now
	}

	m.setStatus(status)
	m.scheduleRefresh(claims, tokens.ExpiresIn)
}

func (m *AuthManager) scheduleRefresh(claims *TokenClaims, expiresIn int64) {
	var remaining time.Duration
	if claims != nil {
		remaining = claims.TimeUntilExpiration()
	} else if expiresIn > 0 {
		remaining = time.Duration(expiresIn) * time.Second
	}
	delay := remaining - m.refreshBuffer

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancelRefresh != nil {
		m.cancelRefresh()
		m.cancelRefresh = nil
	}
	if m.disposed || delay <= 0 {
		// Near-expiry tokens skip the timer; the next GetValidAccessToken
		// refreshes in-band.
		return
	}

	m.cancelRefresh = m.scheduler.Schedule(delay, func() {
		if err := m.RefreshToken(context.Background()); err != nil {
			m.logger.Warn("scheduled token refresh failed: %v", err)
		}
	})
}

func (m *AuthManager) cancelScheduled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelRefresh != nil {
		m.cancelRefresh()
		m.cancelRefresh = nil
	}
}

// GetValidAccessToken returns an access token, refreshing first when the
// current one expires within the refresh buffer. It fails with
// ErrMissingToken when no usable token remains.
func (m *AuthManager) GetValidAccessToken(ctx context.Context) (string, error) {
	if m.needsRefresh() {
		if err := m.RefreshToken(ctx); err != nil {
			m.logger.Debug("refresh before token hand-out failed: %v", err)
		}
	}

	status := m.broadcast.Current()
	if status.IsAuthenticated() && status.AccessToken != "" {
		return status.AccessToken, nil
	}
	return "", errWithMeta(ErrMissingToken, status.Err, nil)
}

func (m *AuthManager) needsRefresh() bool {
	status := m.broadcast.Current()
	if !status.HasAccessToken() {
		return false
	}
	if status.Claims == nil {
		return true
	}
	return status.Claims.WillExpireWithin(m.refreshBuffer)
}

// Logout invalidates the session remotely on a best-effort basis, then
// unconditionally clears local state: storage, the refresh timer and the
// sticky session id.
func (m *AuthManager) Logout(ctx context.Context) error {
	status := m.broadcast.Current()

	opts := m.clientHeaders()
	if status.AccessToken != "" {
		opts = append(opts, WithHeader("Authorization", "Bearer "+status.AccessToken))
	}
	if _, err := m.client.Post(ctx, logoutPath, nil, opts...); err != nil {
		m.logger.Warn("remote logout failed: %v", err)
	}

	m.cancelScheduled()
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("token storage clear failed: %v", err)
	}
	m.propagator.Clear()
	m.setStatus(AuthStatus{State: StateUnauthenticated})
	return nil
}

type oauthCallbackRequest struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
	State    string `json:"state"`
}

func (r oauthCallbackRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Provider, validation.Required),
		validation.Field(&r.Code, validation.Required),
		validation.Field(&r.State, validation.Required),
	)
}

// HandleOAuthCallback exchanges an OAuth redirect (code/state/provider) for
// a token pair. The account_not_linked failure mode broadcasts Failed with
// provider and email metadata so callers can route to a linking flow.
func (m *AuthManager) HandleOAuthCallback(ctx context.Context, provider, code, state string) error {
	req := oauthCallbackRequest{Provider: provider, Code: code, State: state}
	if err := req.Validate(); err != nil {
		verr := errWithMeta(ErrValidation, err, map[string]any{"operation": "oauth_callback"})
		m.setStatus(AuthStatus{State: StateFailed, Err: verr})
		return verr
	}

	m.setStatus(AuthStatus{State: StateAuthenticating})

	res, err := m.client.Post(ctx, oauthCallbackPath, req, m.clientHeaders()...)
	if err != nil {
		return m.failProviderExchange(res, err)
	}

	tokens, err := decodeTokenResponse(res)
	if err != nil {
		m.setStatus(AuthStatus{State: StateFailed, Err: err})
		return err
	}

	m.applyTokens(ctx, tokens, false)
	return nil
}

type linkRequest struct {
	Provider string `json:"provider"`
	Email    string `json:"email"`
}

func (r linkRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Provider, validation.Required),
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

// LinkAccount links a federated provider identity to a GroupVAN account and
// finishes with the same store/decode/schedule/broadcast tail as Login.
func (m *AuthManager) LinkAccount(ctx context.Context, provider, email string) error {
	req := linkRequest{Provider: provider, Email: email}
	if err := req.Validate(); err != nil {
		verr := errWithMeta(ErrValidation, err, map[string]any{"operation": "link_account"})
		m.setStatus(AuthStatus{State: StateFailed, Err: verr})
		return verr
	}

	m.setStatus(AuthStatus{State: StateAuthenticating})

	res, err := m.client.Post(ctx, linkPath, req, m.clientHeaders()...)
	if err != nil {
		return m.failProviderExchange(res, err)
	}

	tokens, err := decodeTokenResponse(res)
	if err != nil {
		m.setStatus(AuthStatus{State: StateFailed, Err: err})
		return err
	}

	m.applyTokens(ctx, tokens, false)
	return nil
}

func (m *AuthManager) failProviderExchange(res *Response, cause error) error {
	if meta, ok := accountNotLinkedMeta(res); ok {
		linkErr := errWithMeta(ErrAccountNotLinked, cause, meta)
		m.setStatus(AuthStatus{State: StateFailed, Err: linkErr, Metadata: meta})
		return linkErr
	}
	m.setStatus(AuthStatus{State: StateFailed, Err: cause})
	return cause
}

// accountNotLinkedMeta inspects a failed exchange response for the
// account_not_linked error payload.
func accountNotLinkedMeta(res *Response) (map[string]any, bool) {
	if res == nil || len(res.Body) == 0 {
		return nil, false
	}
	var payload struct {
		Error    string `json:"error"`
		Provider string `json:"provider"`
		Email    string `json:"email"`
	}
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		return nil, false
	}
	if payload.Error != "account_not_linked" {
		return nil, false
	}
	return map[string]any{
		"provider": payload.Provider,
		"email":    payload.Email,
	}, true
}

func (m *AuthManager) clientHeaders() []RequestOption {
	if m.clientID == "" {
		return nil
	}
	return []RequestOption{WithHeader(HeaderClientID, m.clientID)}
}

// Dispose cancels the pending refresh timer and stops further status
// emissions. It is idempotent. In-flight network operations are not aborted;
// their results are ignored once disposed.
func (m *AuthManager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.disposed = true
	if m.cancelRefresh != nil {
		m.cancelRefresh()
		m.cancelRefresh = nil
	}
}
