package client

import (
	goerrors "github.com/goliatone/go-errors"
)

// Text codes attached to the error taxonomy so callers can branch without
// string matching on messages.
const (
	textCodeNetwork            = "NETWORK_ERROR"
	textCodeHTTP               = "HTTP_ERROR"
	textCodeRateLimited        = "RATE_LIMITED"
	textCodeMissingToken       = "MISSING_TOKEN"
	textCodeExpiredToken       = "EXPIRED_TOKEN"
	textCodeInvalidToken       = "INVALID_TOKEN"
	textCodeInvalidCredentials = "INVALID_CREDENTIALS"
	textCodeAccountNotLinked   = "ACCOUNT_NOT_LINKED"
	textCodeValidation         = "VALIDATION_ERROR"
	textCodeStorageConfig      = "STORAGE_CONFIG"
	textCodeJWTDecode          = "JWT_DECODE"
)

// ErrNetwork is returned when the transport fails before an HTTP status is
// available.
var ErrNetwork = goerrors.New("network request failed", goerrors.CategoryOperation).
	WithTextCode(textCodeNetwork)

// ErrHTTP is returned for non-2xx responses; metadata carries the status and
// whether the failure is retryable.
var ErrHTTP = goerrors.New("request failed", goerrors.CategoryOperation).
	WithTextCode(textCodeHTTP)

// ErrRateLimited is the 429 specialization of ErrHTTP.
var ErrRateLimited = goerrors.New("rate limited by server", goerrors.CategoryRateLimit).
	WithTextCode(textCodeRateLimited)

// ErrMissingToken is returned by GetValidAccessToken when no usable access
// token exists after any refresh attempt.
var ErrMissingToken = goerrors.New("no valid access token available", goerrors.CategoryAuth).
	WithTextCode(textCodeMissingToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrExpiredToken is returned when an authenticated session fails to
// refresh; the refresh cause is carried as the error source.
var ErrExpiredToken = goerrors.New("session expired", goerrors.CategoryAuth).
	WithTextCode(textCodeExpiredToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidToken indicates a token response the client could not use.
var ErrInvalidToken = goerrors.New("invalid token response", goerrors.CategoryAuth).
	WithTextCode(textCodeInvalidToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidCredentials is returned when the server rejects a login.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(textCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountNotLinked is surfaced when an OAuth identity exists but is not
// linked to a GroupVAN account; metadata carries provider and email so the
// caller can route to a linking flow.
var ErrAccountNotLinked = goerrors.New("account not linked", goerrors.CategoryAuth).
	WithTextCode(textCodeAccountNotLinked).
	WithCode(goerrors.CodeConflict)

// ErrValidation is returned for malformed caller input before any request is
// issued.
var ErrValidation = goerrors.New("invalid request input", goerrors.CategoryValidation).
	WithTextCode(textCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrStorageConfig indicates a misconfigured storage backend.
var ErrStorageConfig = goerrors.New("token storage misconfigured", goerrors.CategoryBadInput).
	WithTextCode(textCodeStorageConfig)

// ErrTokenDecode is returned for every JWT decode failure. Metadata carries
// data_type and the offending token for caller-visible diagnostics; it is
// never logged by the SDK.
var ErrTokenDecode = goerrors.New("unable to decode JWT payload", goerrors.CategoryBadInput).
	WithTextCode(textCodeJWTDecode)

// errWithMeta clones a taxonomy template and attaches metadata and an
// optional source, leaving the package-level template untouched.
func errWithMeta(base *goerrors.Error, source error, meta map[string]any) error {
	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if source != nil {
		clone.Source = source
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

// IsMissingTokenError reports whether err means "no usable access token".
func IsMissingTokenError(err error) bool {
	return hasTextCode(err, textCodeMissingToken)
}

// IsExpiredTokenError reports whether err means an authenticated session
// failed to refresh.
func IsExpiredTokenError(err error) bool {
	return hasTextCode(err, textCodeExpiredToken)
}

// IsInvalidCredentialsError reports whether the server rejected a login.
func IsInvalidCredentialsError(err error) bool {
	return hasTextCode(err, textCodeInvalidCredentials)
}

// IsAccountNotLinkedError reports whether err is the account-linking failure
// mode of an OAuth exchange.
func IsAccountNotLinkedError(err error) bool {
	return hasTextCode(err, textCodeAccountNotLinked)
}

// IsDecodeError reports whether err came from DecodeToken.
func IsDecodeError(err error) bool {
	return hasTextCode(err, textCodeJWTDecode)
}

// IsValidationError reports whether err is caller-input validation.
func IsValidationError(err error) bool {
	return hasTextCode(err, textCodeValidation)
}

// IsRateLimitedError reports whether the server throttled the request.
func IsRateLimitedError(err error) bool {
	return hasTextCode(err, textCodeRateLimited)
}

// IsRetryableError reports whether a failed request may be retried: any
// transport failure, plus HTTP 5xx/429/408.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if hasTextCode(err, textCodeNetwork) || hasTextCode(err, textCodeRateLimited) {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode == textCodeHTTP {
		if retryable, ok := richErr.Metadata["is_retryable"].(bool); ok {
			return retryable
		}
	}
	return false
}

// HTTPStatus extracts the status code carried by an HTTP taxonomy error, or 0.
func HTTPStatus(err error) int {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if status, ok := richErr.Metadata["status"].(int); ok {
			return status
		}
	}
	return 0
}
