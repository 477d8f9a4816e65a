package client

import (
	"fmt"
	"time"
)

// AuthState identifies where the session is in its lifecycle.
type AuthState string

const (
	StateUnauthenticated AuthState = "unauthenticated"
	StateAuthenticating  AuthState = "authenticating"
	StateAuthenticated   AuthState = "authenticated"
	StateRefreshing      AuthState = "refreshing"
	StateExpired         AuthState = "expired"
	StateFailed          AuthState = "failed"
)

// AuthStatus is an immutable snapshot of the authentication state. Every
// transition produces a whole new value; AuthManager is the only producer.
//
// AccessToken is present exactly in the Authenticated, Refreshing and Expired
// states. Claims are present when the access token was decodable.
// RefreshToken may be absent even when authenticated (session-only/web mode,
// where the refresh token lives in an HttpOnly cookie).
type AuthStatus struct {
	State           AuthState
	AccessToken     string
	RefreshToken    string
	Claims          *TokenClaims
	UserInfo        map[string]any
	Err             error
	Metadata        map[string]any
	AuthenticatedAt *time.Time
	RefreshedAt     *time.Time
}

// IsAuthenticated reports whether the session currently holds a usable
// access token. Expired deliberately returns false: the stale token is kept
// in the snapshot for diagnostics but must not be handed to callers.
func (s AuthStatus) IsAuthenticated() bool {
	return s.State == StateAuthenticated || s.State == StateRefreshing
}

// HasAccessToken reports whether the snapshot carries a token at all,
// usable or not.
func (s AuthStatus) HasAccessToken() bool {
	return s.AccessToken != ""
}

// String renders the snapshot without any token material.
func (s AuthStatus) String() string {
	user := "<none>"
	if s.Claims != nil {
		user = s.Claims.UserID()
	}
	return fmt.Sprintf("state=%s user=%s token=%t refresh=%t err=%v",
		s.State, user, s.AccessToken != "", s.RefreshToken != "", s.Err)
}
