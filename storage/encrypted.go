package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	recordAccessToken = "gv_access_token"
	recordRefreshToken = "gv_refresh_token"
	recordKeyMaterial = "gv_token_key"

	keyAlgorithm = "AES-256-GCM"
	keySize      = 32
)

type keyRecord struct {
	Key       string    `json:"key"`
	Algorithm string    `json:"algorithm"`
	Created   time.Time `json:"created"`
}

// Encrypted wraps a Backend with AES-256-GCM. Each token is sealed with a
// random 12-byte nonce prepended to the ciphertext and stored as a single
// base64 string. The key material is persisted in the same backend as
// plaintext: this defends tokens against casual scraping and backup leakage,
// not against an attacker who can already read the same storage.
//
// Corrupt or tampered records are treated as absent: Get logs a warning,
// clears every record for this backend, and returns zero values rather than
// an error.
type Encrypted struct {
	backend Backend
	logger  Logger

	mu   sync.Mutex
	aead cipher.AEAD
}

var _ TokenStorage = (*Encrypted)(nil)

// EncryptedOption customizes an Encrypted store.
type EncryptedOption func(*Encrypted)

// WithEncryptedLogger sets the logger used for self-heal warnings.
func WithEncryptedLogger(logger Logger) EncryptedOption {
	return func(e *Encrypted) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewEncrypted(backend Backend, opts ...EncryptedOption) *Encrypted {
	e := &Encrypted{
		backend: backend,
		logger:  nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// ensureAEAD loads or creates the encryption key. First use generates a key,
// persists it, then re-reads the record so concurrent first users converge
// on whichever key was persisted first.
func (e *Encrypted) ensureAEAD(ctx context.Context) (cipher.AEAD, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.aead != nil {
		return e.aead, nil
	}

	record, err := e.loadKeyRecord(ctx)
	if errors.Is(err, ErrNotFound) {
		if err := e.persistNewKey(ctx); err != nil {
			return nil, err
		}
		record, err = e.loadKeyRecord(ctx)
	}
	if err != nil {
		return nil, err
	}

	material, err := base64.StdEncoding.DecodeString(record.Key)
	if err != nil {
		return nil, fmt.Errorf("decode key material: %w", err)
	}

	block, err := aes.NewCipher(material)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	e.aead = gcm
	return gcm, nil
}

func (e *Encrypted) loadKeyRecord(ctx context.Context) (*keyRecord, error) {
	raw, err := e.backend.Get(ctx, recordKeyMaterial)
	if err != nil {
		return nil, err
	}
	var record keyRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("unmarshal key record: %w", err)
	}
	return &record, nil
}

func (e *Encrypted) persistNewKey(ctx context.Context) error {
	material := make([]byte, keySize)
	if _, err := rand.Read(material); err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	record := keyRecord{
		Key:       base64.StdEncoding.EncodeToString(material),
		Algorithm: keyAlgorithm,
		Created:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal key record: %w", err)
	}
	return e.backend.Set(ctx, recordKeyMaterial, string(encoded))
}

func (e *Encrypted) Store(ctx context.Context, tokens Tokens) error {
	gcm, err := e.ensureAEAD(ctx)
	if err != nil {
		// Corrupt key material is dropped and regenerated; the old
		// ciphertexts were unreadable with it anyway.
		_, _ = e.selfHeal(ctx, err)
		gcm, err = e.ensureAEAD(ctx)
		if err != nil {
			return err
		}
	}
	if err := e.storeRecord(ctx, gcm, recordAccessToken, tokens.AccessToken); err != nil {
		return err
	}
	return e.storeRecord(ctx, gcm, recordRefreshToken, tokens.RefreshToken)
}

func (e *Encrypted) storeRecord(ctx context.Context, gcm cipher.AEAD, key, value string) error {
	if value == "" {
		return e.backend.Delete(ctx, key)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(value), nil)
	return e.backend.Set(ctx, key, base64.StdEncoding.EncodeToString(sealed))
}

func (e *Encrypted) Get(ctx context.Context) (Tokens, error) {
	gcm, err := e.ensureAEAD(ctx)
	if err != nil {
		// A key record that cannot be loaded reads the same as corrupt
		// ciphertext: nothing stored.
		return e.selfHeal(ctx, err)
	}

	access, err := e.loadRecord(ctx, gcm, recordAccessToken)
	if err != nil {
		return e.selfHeal(ctx, err)
	}
	refresh, err := e.loadRecord(ctx, gcm, recordRefreshToken)
	if err != nil {
		return e.selfHeal(ctx, err)
	}

	return Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

func (e *Encrypted) loadRecord(ctx context.Context, gcm cipher.AEAD, key string) (string, error) {
	raw, err := e.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	sealed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("decode record %s: %w", key, err)
	}
	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("record %s too short", key)
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open record %s: %w", key, err)
	}
	return string(plaintext), nil
}

// selfHeal handles unreadable records: warn, drop everything including the
// key so a fresh pair can be written, and report "nothing stored".
func (e *Encrypted) selfHeal(ctx context.Context, cause error) (Tokens, error) {
	e.logger.Warn("encrypted token storage unreadable, clearing: %v", cause)

	_ = e.backend.Delete(ctx, recordAccessToken)
	_ = e.backend.Delete(ctx, recordRefreshToken)
	_ = e.backend.Delete(ctx, recordKeyMaterial)

	e.mu.Lock()
	e.aead = nil
	e.mu.Unlock()

	return Tokens{}, nil
}

func (e *Encrypted) Clear(ctx context.Context) error {
	if err := e.backend.Delete(ctx, recordAccessToken); err != nil {
		return err
	}
	return e.backend.Delete(ctx, recordRefreshToken)
}
