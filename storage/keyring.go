package storage

import (
	"context"
	"errors"

	"github.com/zalando/go-keyring"
)

const (
	keyringAccessToken  = "access_token"
	keyringRefreshToken = "refresh_token"
)

// Keyring delegates to the OS secure keystore (macOS Keychain, Windows
// Credential Manager, libsecret). The platform handles encryption, so no
// custom crypto is layered on top.
type Keyring struct {
	service string
}

var _ TokenStorage = (*Keyring)(nil)

// NewKeyring stores tokens under the given keyring service name.
func NewKeyring(service string) *Keyring {
	return &Keyring{service: service}
}

func (k *Keyring) Store(_ context.Context, tokens Tokens) error {
	if err := k.setOrDelete(keyringAccessToken, tokens.AccessToken); err != nil {
		return err
	}
	return k.setOrDelete(keyringRefreshToken, tokens.RefreshToken)
}

func (k *Keyring) setOrDelete(user, value string) error {
	if value == "" {
		return k.delete(user)
	}
	return keyring.Set(k.service, user, value)
}

func (k *Keyring) Get(_ context.Context) (Tokens, error) {
	access, err := k.get(keyringAccessToken)
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := k.get(keyringRefreshToken)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

func (k *Keyring) get(user string) (string, error) {
	value, err := keyring.Get(k.service, user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (k *Keyring) Clear(_ context.Context) error {
	if err := k.delete(keyringAccessToken); err != nil {
		return err
	}
	return k.delete(keyringRefreshToken)
}

func (k *Keyring) delete(user string) error {
	err := keyring.Delete(k.service, user)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
