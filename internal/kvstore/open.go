package kvstore

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/srab2001/featuregate/internal/cache"
	"github.com/srab2001/featuregate/internal/config"
)

// Backends carries the already opened connections a Store may be built on.
type Backends struct {
	Redis    *redis.Client
	Postgres *pgxpool.Pool
	KVTable  string
}

// Open builds the Store selected by cfg.Backend. The returned close function
// releases the L1 cache when one was created; it never closes the connections
// in b.
func Open(cfg *config.StorageConfig, b Backends) (Store, func(), error) {
	var remote Store
	switch cfg.Backend {
	case config.BackendMemory, "":
		return NewMemory(), func() {}, nil
	case config.BackendRedis:
		if b.Redis == nil {
			return nil, nil, fmt.Errorf("storage backend %q needs a redis client", cfg.Backend)
		}
		remote = NewRedis(b.Redis, cfg.KeyPrefix)
	case config.BackendPostgres:
		if b.Postgres == nil {
			return nil, nil, fmt.Errorf("storage backend %q needs a postgres pool", cfg.Backend)
		}
		remote = NewPostgres(b.Postgres, b.KVTable, cfg.KeyPrefix)
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	remote = WithTimeout(remote, cfg.OperationTimeout)
	if cfg.L1Capacity <= 0 {
		return remote, func() {}, nil
	}

	l1, err := cache.NewMemoryCache[[]byte](cfg.L1Capacity, cfg.L1TTL)
	if err != nil {
		return nil, nil, fmt.Errorf("build storage L1 cache: %w", err)
	}
	layered := NewLayered(l1, remote)
	return layered, layered.Close, nil
}
