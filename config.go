package client

import "github.com/groupvan/go-client/storage"

// StorageMode selects the token persistence variant.
type StorageMode string

const (
	// StorageMemory keeps tokens in process memory only.
	StorageMemory StorageMode = "memory"
	// StorageSession keeps only the access token; the refresh token rides
	// the HttpOnly cookie on the transport.
	StorageSession StorageMode = "session"
	// StorageEncryptedFile persists AES-GCM sealed tokens under a directory.
	StorageEncryptedFile StorageMode = "encrypted-file"
	// StorageKeyring delegates to the OS secure keystore.
	StorageKeyring StorageMode = "keyring"
)

// StorageConfig describes which token storage to build. Zero value means
// in-memory.
type StorageConfig struct {
	Mode StorageMode

	// Dir is the record directory for encrypted-file mode.
	Dir string

	// Service is the keystore service name for keyring mode.
	Service string

	// Logger receives self-heal warnings from the encrypted backend.
	Logger Logger
}

// NewTokenStorage builds the configured storage backend. Unknown modes and
// missing mode parameters fail with a configuration error.
func NewTokenStorage(cfg StorageConfig) (storage.TokenStorage, error) {
	switch cfg.Mode {
	case StorageMemory, "":
		return storage.NewMemory(), nil
	case StorageSession:
		return storage.NewSessionOnly(), nil
	case StorageEncryptedFile:
		if cfg.Dir == "" {
			return nil, errWithMeta(ErrStorageConfig, nil, map[string]any{
				"reason": "encrypted-file storage requires a directory",
			})
		}
		var opts []storage.EncryptedOption
		if cfg.Logger != nil {
			opts = append(opts, storage.WithEncryptedLogger(cfg.Logger))
		}
		return storage.NewEncrypted(storage.NewFileBackend(cfg.Dir), opts...), nil
	case StorageKeyring:
		if cfg.Service == "" {
			return nil, errWithMeta(ErrStorageConfig, nil, map[string]any{
				"reason": "keyring storage requires a service name",
			})
		}
		return storage.NewKeyring(cfg.Service), nil
	}
	return nil, errWithMeta(ErrStorageConfig, nil, map[string]any{
		"mode": string(cfg.Mode),
	})
}
