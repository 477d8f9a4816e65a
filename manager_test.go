package client_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	client "github.com/groupvan/go-client"
	"github.com/groupvan/go-client/storage"
)

type recordedRequest struct {
	Method      string
	Path        string
	EscapedPath string
	Query       url.Values
	Header      http.Header
	Body        map[string]any
}

// apiServer records every request and delegates to a swappable handler.
type apiServer struct {
	*httptest.Server

	mu       sync.Mutex
	handler  http.HandlerFunc
	requests []recordedRequest
}

func newAPIServer(t *testing.T) *apiServer {
	t.Helper()
	s := &apiServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		if len(data) > 0 {
			_ = json.Unmarshal(data, &body)
		}

		s.mu.Lock()
		s.requests = append(s.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.Path,
			EscapedPath: r.URL.EscapedPath(),
			Query:       r.URL.Query(),
			Header:      r.Header.Clone(),
			Body:        body,
		})
		handler := s.handler
		s.mu.Unlock()

		if handler == nil {
			http.NotFound(w, r)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *apiServer) respond(h http.HandlerFunc) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *apiServer) requestsTo(path string) []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recordedRequest
	for _, req := range s.requests {
		if req.Path == path {
			out = append(out, req)
		}
	}
	return out
}

func tokenResponseHandler(access, refresh string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  access,
			"refresh_token": refresh,
			"expires_in":    3600,
			"token_type":    "Bearer",
			"user":          map[string]any{"name": "Pat"},
		})
	}
}

func statusHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

// manualScheduler captures the scheduled refresh so tests can fire it
// deterministically.
type manualScheduler struct {
	mu    sync.Mutex
	delay time.Duration
	fn    func()
}

var _ client.Scheduler = (*manualScheduler)(nil)

func (s *manualScheduler) Schedule(d time.Duration, fn func()) client.CancelFunc {
	s.mu.Lock()
	s.delay = d
	s.fn = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		s.fn = nil
		s.mu.Unlock()
	}
}

func (s *manualScheduler) fire() {
	s.mu.Lock()
	fn := s.fn
	s.fn = nil
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *manualScheduler) lastDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay
}

func (s *manualScheduler) armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fn != nil
}

func makeToken(t *testing.T, subject string, ttl time.Duration) string {
	t.Helper()
	return signedToken(t, &client.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        "jti-" + subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		TokenType: "access",
	})
}

// rig wires an AuthManager to a recording server with a manual refresh
// timer and in-memory storage.
type rig struct {
	manager *client.AuthManager
	api     *client.APIClient
	server  *apiServer
	sched   *manualScheduler
	store   *storage.Memory
}

func newRig(t *testing.T, opts ...client.Option) *rig {
	t.Helper()
	server := newAPIServer(t)
	api, err := client.NewAPIClient(server.URL, client.WithRetryAttempts(1))
	require.NoError(t, err)

	sched := &manualScheduler{}
	store := storage.NewMemory()
	base := []client.Option{client.WithScheduler(sched)}
	m := client.NewAuthManager(api, store, append(base, opts...)...)
	t.Cleanup(m.Dispose)

	return &rig{manager: m, api: api, server: server, sched: sched, store: store}
}

func (r *rig) login(t *testing.T, ttl time.Duration) string {
	t.Helper()
	access := makeToken(t, "user-1", ttl)
	r.server.respond(tokenResponseHandler(access, "refresh-1"))
	require.NoError(t, r.manager.Login(context.Background(), "pat@example.com", "hunter2"))
	return access
}

func TestLoginSuccess(t *testing.T) {
	r := newRig(t, client.WithClientID("client-1"))

	access := r.login(t, time.Hour)

	status := r.manager.CurrentStatus()
	assert.Equal(t, client.StateAuthenticated, status.State)
	assert.Equal(t, access, status.AccessToken)
	assert.Equal(t, "refresh-1", status.RefreshToken)
	require.NotNil(t, status.Claims)
	assert.Equal(t, "user-1", status.Claims.UserID())
	assert.Equal(t, "Pat", status.UserInfo["name"])
	require.NotNil(t, status.AuthenticatedAt)
	assert.Nil(t, status.RefreshedAt)

	stored, err := r.store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, access, stored.AccessToken)
	assert.Equal(t, "refresh-1", stored.RefreshToken)

	// Timer armed for expiry minus the two minute buffer.
	assert.True(t, r.sched.armed())
	assert.InDelta(t, (58 * time.Minute).Seconds(), r.sched.lastDelay().Seconds(), 5)

	logins := r.server.requestsTo("/auth/login")
	require.Len(t, logins, 1)
	assert.Equal(t, http.MethodPost, logins[0].Method)
	assert.Equal(t, "client-1", logins[0].Header.Get(client.HeaderClientID))
	assert.Equal(t, "pat@example.com", logins[0].Body["email"])
}

func TestLoginValidation(t *testing.T) {
	r := newRig(t)

	err := r.manager.Login(context.Background(), "not-an-email", "")
	require.Error(t, err)
	assert.True(t, client.IsValidationError(err))
	assert.Equal(t, client.StateFailed, r.manager.CurrentStatus().State)
	assert.Empty(t, r.server.requestsTo("/auth/login"))
}

func TestLoginInvalidCredentials(t *testing.T) {
	r := newRig(t)
	r.server.respond(statusHandler(http.StatusUnauthorized, `{}`))

	err := r.manager.Login(context.Background(), "pat@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, client.IsInvalidCredentialsError(err))

	status := r.manager.CurrentStatus()
	assert.Equal(t, client.StateFailed, status.State)
	assert.False(t, status.HasAccessToken())

	stored, err := r.store.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, stored.IsEmpty())
}

func TestRefreshDeduplicatesConcurrentCallers(t *testing.T) {
	r := newRig(t)
	r.login(t, time.Hour)

	next := makeToken(t, "user-1", time.Hour)
	r.server.respond(func(w http.ResponseWriter, req *http.Request) {
		time.Sleep(30 * time.Millisecond)
		tokenResponseHandler(next, "refresh-2")(w, req)
	})

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.manager.RefreshToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "caller %d", i)
	}
	assert.Len(t, r.server.requestsTo("/auth/refresh"), 1)

	status := r.manager.CurrentStatus()
	assert.Equal(t, client.StateAuthenticated, status.State)
	assert.Equal(t, next, status.AccessToken)
	assert.Equal(t, "refresh-2", status.RefreshToken)
	require.NotNil(t, status.RefreshedAt)
}

func TestRefreshSendsStoredRefreshToken(t *testing.T) {
	r := newRig(t)
	r.login(t, time.Hour)

	r.server.respond(tokenResponseHandler(makeToken(t, "user-1", time.Hour), "refresh-2"))
	require.NoError(t, r.manager.RefreshToken(context.Background()))

	refreshes := r.server.requestsTo("/auth/refresh")
	require.Len(t, refreshes, 1)
	assert.Equal(t, "refresh-1", refreshes[0].Body["refresh_token"])
}

func TestRefreshFailureExpiresSession(t *testing.T) {
	r := newRig(t)
	access := r.login(t, time.Hour)

	r.server.respond(statusHandler(http.StatusUnauthorized, `{}`))

	err := r.manager.RefreshToken(context.Background())
	require.Error(t, err)
	assert.True(t, client.IsExpiredTokenError(err))

	status := r.manager.CurrentStatus()
	assert.Equal(t, client.StateExpired, status.State)
	assert.False(t, status.IsAuthenticated())
	// The stale access token stays on the snapshot, the refresh token is gone.
	assert.Equal(t, access, status.AccessToken)
	assert.Empty(t, status.RefreshToken)
	assert.True(t, client.IsExpiredTokenError(status.Err))

	stored, getErr := r.store.Get(context.Background())
	require.NoError(t, getErr)
	assert.True(t, stored.IsEmpty())

	assert.False(t, r.sched.armed())
}

func TestScheduledRefreshFiresAndRearms(t *testing.T) {
	r := newRig(t)
	r.login(t, time.Hour)

	next := makeToken(t, "user-1", time.Hour)
	r.server.respond(tokenResponseHandler(next, "refresh-2"))

	r.sched.fire()

	require.Eventually(t, func() bool {
		status := r.manager.CurrentStatus()
		return status.State == client.StateAuthenticated && status.RefreshedAt != nil
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, next, r.manager.CurrentStatus().AccessToken)
	assert.Len(t, r.server.requestsTo("/auth/refresh"), 1)
	assert.True(t, r.sched.armed())
}

func TestNearExpiryTokenSkipsTimer(t *testing.T) {
	r := newRig(t)

	// One minute of life is inside the two minute refresh buffer.
	r.login(t, time.Minute)

	assert.Equal(t, client.StateAuthenticated, r.manager.CurrentStatus().State)
	assert.False(t, r.sched.armed())
}

func TestGetValidAccessToken(t *testing.T) {
	r := newRig(t)
	access := r.login(t, time.Hour)

	token, err := r.manager.GetValidAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, access, token)
	assert.Empty(t, r.server.requestsTo("/auth/refresh"))
}

func TestGetValidAccessTokenRefreshesNearExpiry(t *testing.T) {
	r := newRig(t)
	r.login(t, time.Minute)

	next := makeToken(t, "user-1", time.Hour)
	r.server.respond(tokenResponseHandler(next, "refresh-2"))

	token, err := r.manager.GetValidAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, next, token)
	assert.Len(t, r.server.requestsTo("/auth/refresh"), 1)
}

func TestGetValidAccessTokenUnauthenticated(t *testing.T) {
	r := newRig(t)

	token, err := r.manager.GetValidAccessToken(context.Background())
	require.Error(t, err)
	assert.Empty(t, token)
	assert.True(t, client.IsMissingTokenError(err))
}

func TestLogout(t *testing.T) {
	r := newRig(t)
	access := r.login(t, time.Hour)
	r.manager.SessionPropagator().Update("sess-9")

	r.server.respond(statusHandler(http.StatusNoContent, ""))
	require.NoError(t, r.manager.Logout(context.Background()))

	logouts := r.server.requestsTo("/auth/logout")
	require.Len(t, logouts, 1)
	assert.Equal(t, "Bearer "+access, logouts[0].Header.Get("Authorization"))

	assert.Equal(t, client.StateUnauthenticated, r.manager.CurrentStatus().State)
	assert.Empty(t, r.manager.SessionPropagator().Current())
	assert.False(t, r.sched.armed())

	stored, err := r.store.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, stored.IsEmpty())
}

func TestLogoutSurvivesRemoteFailure(t *testing.T) {
	r := newRig(t)
	r.login(t, time.Hour)

	r.server.respond(statusHandler(http.StatusInternalServerError, `{}`))
	require.NoError(t, r.manager.Logout(context.Background()))

	assert.Equal(t, client.StateUnauthenticated, r.manager.CurrentStatus().State)
	stored, err := r.store.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, stored.IsEmpty())
}

func TestInitializeEmptyStorage(t *testing.T) {
	r := newRig(t)

	status := r.manager.Initialize(context.Background())

	assert.Equal(t, client.StateUnauthenticated, status.State)
	assert.Empty(t, r.server.requestsTo("/auth/refresh"))
}

func TestInitializeRestoresStoredSession(t *testing.T) {
	r := newRig(t)

	require.NoError(t, r.store.Store(context.Background(), storage.Tokens{
		AccessToken:  makeToken(t, "user-1", time.Hour),
		RefreshToken: "refresh-old",
	}))

	fresh := makeToken(t, "user-1", time.Hour)
	r.server.respond(tokenResponseHandler(fresh, "refresh-new"))

	status := r.manager.Initialize(context.Background())

	assert.Equal(t, client.StateAuthenticated, status.State)
	assert.Equal(t, fresh, status.AccessToken)
	require.NotNil(t, status.RefreshedAt)

	// Restore always refreshes, even with a still valid stored token.
	refreshes := r.server.requestsTo("/auth/refresh")
	require.Len(t, refreshes, 1)
	assert.Equal(t, "refresh-old", refreshes[0].Body["refresh_token"])

	assert.True(t, r.sched.armed())
}

func TestInitializeRestoreFailureDegradesToUnauthenticated(t *testing.T) {
	r := newRig(t)

	require.NoError(t, r.store.Store(context.Background(), storage.Tokens{
		AccessToken:  makeToken(t, "user-1", time.Hour),
		RefreshToken: "refresh-old",
	}))
	r.server.respond(statusHandler(http.StatusUnauthorized, `{}`))

	status := r.manager.Initialize(context.Background())

	assert.Equal(t, client.StateUnauthenticated, status.State)
	stored, err := r.store.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, stored.IsEmpty())
}

func TestInitializeUndecodableStoredTokenStillRefreshes(t *testing.T) {
	r := newRig(t)

	require.NoError(t, r.store.Store(context.Background(), storage.Tokens{
		AccessToken:  "garbage-not-a-jwt",
		RefreshToken: "refresh-old",
	}))

	fresh := makeToken(t, "user-1", time.Hour)
	r.server.respond(tokenResponseHandler(fresh, "refresh-new"))

	status := r.manager.Initialize(context.Background())

	assert.Equal(t, client.StateAuthenticated, status.State)
	assert.Equal(t, fresh, status.AccessToken)
}

func TestInitializeOAuthRedirect(t *testing.T) {
	r := newRig(t)

	fresh := makeToken(t, "user-1", time.Hour)
	r.server.respond(tokenResponseHandler(fresh, "refresh-1"))

	status := r.manager.Initialize(context.Background(), client.WithRedirectQuery(url.Values{
		"code":     {"auth-code"},
		"state":    {"oauth-state"},
		"provider": {"google"},
	}))

	assert.Equal(t, client.StateAuthenticated, status.State)
	callbacks := r.server.requestsTo("/auth/oauth/callback")
	require.Len(t, callbacks, 1)
	assert.Equal(t, "google", callbacks[0].Body["provider"])
	assert.Equal(t, "auth-code", callbacks[0].Body["code"])
	assert.Equal(t, "oauth-state", callbacks[0].Body["state"])
}

func TestOAuthCallbackAccountNotLinked(t *testing.T) {
	r := newRig(t)

	r.server.respond(statusHandler(http.StatusConflict,
		`{"error":"account_not_linked","provider":"google","email":"pat@example.com"}`))

	err := r.manager.HandleOAuthCallback(context.Background(), "google", "auth-code", "oauth-state")
	require.Error(t, err)
	assert.True(t, client.IsAccountNotLinkedError(err))

	status := r.manager.CurrentStatus()
	assert.Equal(t, client.StateFailed, status.State)
	assert.Equal(t, "google", status.Metadata["provider"])
	assert.Equal(t, "pat@example.com", status.Metadata["email"])
}

func TestLinkAccount(t *testing.T) {
	r := newRig(t)

	fresh := makeToken(t, "user-1", time.Hour)
	r.server.respond(tokenResponseHandler(fresh, "refresh-1"))

	require.NoError(t, r.manager.LinkAccount(context.Background(), "google", "pat@example.com"))

	status := r.manager.CurrentStatus()
	assert.Equal(t, client.StateAuthenticated, status.State)
	assert.Equal(t, fresh, status.AccessToken)
	require.Len(t, r.server.requestsTo("/auth/link"), 1)
}

func TestLinkAccountValidation(t *testing.T) {
	r := newRig(t)

	err := r.manager.LinkAccount(context.Background(), "", "not-an-email")
	require.Error(t, err)
	assert.True(t, client.IsValidationError(err))
	assert.Empty(t, r.server.requestsTo("/auth/link"))
}

func TestRefreshPreservesAuthenticatedAt(t *testing.T) {
	r := newRig(t)
	r.login(t, time.Hour)
	loginAt := r.manager.CurrentStatus().AuthenticatedAt
	require.NotNil(t, loginAt)

	r.server.respond(tokenResponseHandler(makeToken(t, "user-1", time.Hour), "refresh-2"))
	require.NoError(t, r.manager.RefreshToken(context.Background()))

	status := r.manager.CurrentStatus()
	require.NotNil(t, status.AuthenticatedAt)
	assert.Equal(t, *loginAt, *status.AuthenticatedAt)
	require.NotNil(t, status.RefreshedAt)
	assert.Equal(t, "Pat", status.UserInfo["name"])
}

func TestDispose(t *testing.T) {
	r := newRig(t)
	r.login(t, time.Hour)
	require.True(t, r.sched.armed())

	r.manager.Dispose()
	r.manager.Dispose()

	assert.False(t, r.sched.armed())

	// Post-dispose transitions are dropped.
	r.server.respond(statusHandler(http.StatusNoContent, ""))
	require.NoError(t, r.manager.Logout(context.Background()))
	assert.Equal(t, client.StateAuthenticated, r.manager.CurrentStatus().State)
}
