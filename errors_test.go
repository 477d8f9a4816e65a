package client_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	client "github.com/groupvan/go-client"
)

func TestErrorPredicates(t *testing.T) {
	assert.True(t, client.IsMissingTokenError(client.ErrMissingToken))
	assert.True(t, client.IsAccountNotLinkedError(client.ErrAccountNotLinked))
	assert.True(t, client.IsDecodeError(client.ErrTokenDecode))
	assert.True(t, client.IsValidationError(client.ErrValidation))
	assert.True(t, client.IsRateLimitedError(client.ErrRateLimited))

	assert.False(t, client.IsMissingTokenError(nil))
	assert.False(t, client.IsMissingTokenError(errors.New("plain")))
	assert.False(t, client.IsMissingTokenError(client.ErrExpiredToken))
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, client.IsRetryableError(nil))
	assert.False(t, client.IsRetryableError(errors.New("plain")))
	assert.True(t, client.IsRetryableError(client.ErrNetwork))
	assert.True(t, client.IsRetryableError(client.ErrRateLimited))
	assert.False(t, client.IsRetryableError(client.ErrValidation))
	assert.False(t, client.IsRetryableError(client.ErrMissingToken))

	// A bare HTTP template carries no retryability metadata.
	assert.False(t, client.IsRetryableError(client.ErrHTTP))
}

func TestHTTPStatusFromPlainError(t *testing.T) {
	assert.Equal(t, 0, client.HTTPStatus(errors.New("plain")))
	assert.Equal(t, 0, client.HTTPStatus(nil))
}
