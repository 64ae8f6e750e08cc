package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores values in a (key TEXT PRIMARY KEY, value BYTEA, updated_at) table.
// See migrations/001_kv_entries.sql.
type Postgres struct {
	pool   *pgxpool.Pool
	prefix string

	saveSQL   string
	loadSQL   string
	deleteSQL string
}

// NewPostgres binds the store to table. The table name is interpolated into
// SQL, so it must already be validated (config.DatabaseConfig does this).
func NewPostgres(pool *pgxpool.Pool, table, prefix string) *Postgres {
	if pool == nil {
		panic("kvstore: postgres pool cannot be nil")
	}
	return &Postgres{
		pool:   pool,
		prefix: prefix,
		saveSQL: fmt.Sprintf(`
			INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, table),
		loadSQL:   fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, table),
		deleteSQL: fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, table),
	}
}

func (p *Postgres) key(k string) string {
	if p.prefix == "" {
		return k
	}
	return p.prefix + ":" + k
}

func (p *Postgres) Save(ctx context.Context, key string, value []byte) error {
	if _, err := p.pool.Exec(ctx, p.saveSQL, p.key(key), value); err != nil {
		return storageError("save", key, err)
	}
	return nil
}

func (p *Postgres) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	err := p.pool.QueryRow(ctx, p.loadSQL, p.key(key)).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageError("load", key, err)
	}
	return v, true, nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, p.deleteSQL, p.key(key)); err != nil {
		return storageError("delete", key, err)
	}
	return nil
}
