package client

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the decoded access token payload. Registered claims carry
// subject, issued-at, expiration and jti; the remaining fields are the
// GroupVAN extensions.
type TokenClaims struct {
	jwt.RegisteredClaims
	TokenType              string         `json:"type,omitempty"`
	Member                 map[string]any `json:"member,omitempty"`
	Impersonating          bool           `json:"imp,omitempty"`
	ImpersonatedBy         string         `json:"imp_by,omitempty"`
	ImpersonationSessionID string         `json:"imp_session,omitempty"`
}

// DecodeToken decodes the payload segment of a JWT without verifying its
// signature; the server and transport security are trusted for that. Any
// malformed input (wrong segment count, bad base64url, non-JSON payload)
// returns an ErrTokenDecode error carrying the original token in metadata,
// and never any other error class.
func DecodeToken(token string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, errWithMeta(ErrTokenDecode, err, map[string]any{
			"data_type": "JWT",
			"token":     token,
		})
	}
	return claims, nil
}

// UserID returns the token subject.
func (c *TokenClaims) UserID() string {
	return c.Subject
}

// TokenID returns the jti claim.
func (c *TokenClaims) TokenID() string {
	return c.ID
}

func (c *TokenClaims) expiresAt() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IsExpired reports whether the token expiration has passed. A token without
// an exp claim is treated as expired.
func (c *TokenClaims) IsExpired() bool {
	exp := c.expiresAt()
	if exp.IsZero() {
		return true
	}
	return time.Now().After(exp)
}

// WillExpireWithin reports whether the token expires within d from now.
func (c *TokenClaims) WillExpireWithin(d time.Duration) bool {
	exp := c.expiresAt()
	if exp.IsZero() {
		return true
	}
	return time.Until(exp) <= d
}

// TimeUntilExpiration returns the remaining lifetime, floored at zero.
func (c *TokenClaims) TimeUntilExpiration() time.Duration {
	exp := c.expiresAt()
	if exp.IsZero() {
		return 0
	}
	if remaining := time.Until(exp); remaining > 0 {
		return remaining
	}
	return 0
}
