package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
)

type tokenEntry struct {
	bun.BaseModel `bun:"table:gv_token_store,alias:ts"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// BunBackend persists records in a key/value table on a bun.DB, typically
// SQLite for desktop/CLI installs. Pair it with Encrypted so tokens never
// land in the database as plaintext.
type BunBackend struct {
	db *bun.DB
}

var _ Backend = (*BunBackend)(nil)

// NewBunBackend creates the backing table when missing.
func NewBunBackend(ctx context.Context, db *bun.DB) (*BunBackend, error) {
	if db == nil {
		return nil, errors.New("storage: bun backend requires a database")
	}
	if _, err := db.NewCreateTable().
		Model((*tokenEntry)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return nil, err
	}
	return &BunBackend{db: db}, nil
}

func (b *BunBackend) Get(ctx context.Context, key string) (string, error) {
	entry := new(tokenEntry)
	err := b.db.NewSelect().
		Model(entry).
		Where("ts.key = ?", key).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return entry.Value, nil
}

func (b *BunBackend) Set(ctx context.Context, key, value string) error {
	entry := &tokenEntry{Key: key, Value: value}
	_, err := b.db.NewInsert().
		Model(entry).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	return err
}

func (b *BunBackend) Delete(ctx context.Context, key string) error {
	_, err := b.db.NewDelete().
		Model((*tokenEntry)(nil)).
		Where("ts.key = ?", key).
		Exec(ctx)
	return err
}
