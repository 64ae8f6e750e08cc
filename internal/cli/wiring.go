package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/srab2001/featuregate/internal/audit"
	"github.com/srab2001/featuregate/internal/cache"
	"github.com/srab2001/featuregate/internal/config"
	"github.com/srab2001/featuregate/internal/database"
	"github.com/srab2001/featuregate/internal/flags"
	"github.com/srab2001/featuregate/internal/integration"
	"github.com/srab2001/featuregate/internal/kvstore"
	"github.com/srab2001/featuregate/internal/logger"
	"github.com/srab2001/featuregate/internal/observability"
	"github.com/srab2001/featuregate/internal/rollout"
)

// endpointTimeout bounds each HTTP probe of a configured endpoint integration.
const endpointTimeout = 5 * time.Second

// auditLog is an audit backend that can be both written and read.
type auditLog interface {
	audit.Source
	audit.Recorder
}

// components holds the services built from configuration.
type components struct {
	flags        *flags.Evaluator
	integrations *integration.Registry
	rollouts     *rollout.Engine
	checkers     []observability.Checker

	closers []func()
}

// close releases what build opened, in reverse order.
func (c *components) close() {
	for _, fn := range slices.Backward(c.closers) {
		fn()
	}
}

// build opens the storage and audit backends and wires the evaluator, the
// integration registry and the rollout engine on top of them. On error,
// everything already opened is released.
func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	var (
		pool *pgxpool.Pool
		rdb  *redis.Client
	)
	if cfg.NeedsDatabase() {
		pool, err = database.NewPostgresPool(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		c.closers = append(c.closers, pool.Close)
		c.checkers = append(c.checkers, database.NewHealthChecker(pool, requiredTables(cfg)...))
	}
	if cfg.NeedsRedis() {
		rdb, err = cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.closers = append(c.closers, func() { _ = rdb.Close() })
		c.checkers = append(c.checkers, cache.NewHealthChecker(rdb, cfg.Storage.KeyPrefix))
	}

	store, closeStore, err := kvstore.Open(&cfg.Storage, kvstore.Backends{
		Redis:    rdb,
		Postgres: pool,
		KVTable:  cfg.Database.KVTable,
	})
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, closeStore)

	auditBackend, err := openAudit(&cfg.Audit, &cfg.Database, pool)
	if err != nil {
		return nil, err
	}

	initial, err := loadFlags(&cfg.Flags)
	if err != nil {
		return nil, err
	}
	c.flags, err = flags.NewEvaluator(logger.Component(log, "flags"), initial, flags.WithStore(store))
	if err != nil {
		return nil, fmt.Errorf("failed to build flag evaluator: %w", err)
	}
	if n := c.flags.LoadOverrides(ctx); n > 0 {
		log.Info("restored local overrides", slog.Int("count", n))
	}

	c.integrations = integration.NewRegistry()
	if err := registerEndpoints(c.integrations, &cfg.Integration, c.flags, auditBackend, store, log); err != nil {
		return nil, err
	}

	c.rollouts, err = rollout.New(logger.Component(log, "rollout"), rollout.Deps{
		Flags:        c.flags,
		Integrations: c.integrations,
		Audit:        auditBackend,
		Store:        store,
	}, rollout.Config{
		Defaults:    rollout.OptionsFromConfig(&cfg.Rollout),
		AuditWindow: cfg.Audit.Window,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build rollout engine: %w", err)
	}
	if n := c.rollouts.Restore(ctx); n > 0 {
		log.Info("restored rollout plans", slog.Int("count", n))
	}

	return c, nil
}

// requiredTables lists the postgres tables the selected backends write to.
func requiredTables(cfg *config.Config) []string {
	var tables []string
	if cfg.Storage.Backend == config.BackendPostgres {
		tables = append(tables, cfg.Database.KVTable)
	}
	if cfg.Audit.Backend == config.BackendPostgres {
		tables = append(tables, cfg.Database.AuditTable)
	}
	return tables
}

func openAudit(cfg *config.AuditConfig, db *config.DatabaseConfig, pool *pgxpool.Pool) (auditLog, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		if pool == nil {
			return nil, fmt.Errorf("audit backend %q needs a postgres pool", cfg.Backend)
		}
		return audit.NewPostgres(pool, db.AuditTable), nil
	case config.BackendMemory, "":
		return audit.NewMemoryLog(cfg.MemoryCapacity), nil
	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.Backend)
	}
}

func loadFlags(cfg *config.FlagsConfig) ([]flags.FeatureFlag, error) {
	if cfg.File == "" {
		return nil, nil
	}
	return flags.LoadFile(cfg.File)
}

// registerEndpoints turns each configured flag/URL pair into an HTTP endpoint
// integration gated by that flag. Events are written to rec so they feed the
// rollout error rate.
func registerEndpoints(reg *integration.Registry, cfg *config.IntegrationConfig, ev *flags.Evaluator, rec audit.Recorder, store kvstore.Store, log *slog.Logger) error {
	flagNames := make([]string, 0, len(cfg.Endpoints))
	for flag := range cfg.Endpoints {
		flagNames = append(flagNames, flag)
	}
	slices.Sort(flagNames)

	opts := integration.Options{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay,
		Store:      store,
	}
	itLogger := logger.Component(log, "integration")

	for _, flag := range flagNames {
		rawURL := cfg.Endpoints[flag]
		name, err := integrationName(rawURL)
		if err != nil {
			return fmt.Errorf("integration endpoint for flag %s: %w", flag, err)
		}
		if _, ok := ev.GetFlag(flag); !ok {
			log.Warn("integration gated by unknown flag stays disabled",
				slog.String("integration", name),
				slog.String("flag", flag),
			)
		}

		it := integration.New(name, flag, integration.NewHTTPEndpoint(rawURL, endpointTimeout), ev, itLogger, opts)
		it.On(integration.AuditListener(rec, itLogger))
		if err := reg.Register(it); err != nil {
			return err
		}
	}
	return nil
}

// integrationName derives an integration name from an endpoint URL: its host
// without the port.
func integrationName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid url %q: scheme must be http or https", rawURL)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("invalid url %q: host is required", rawURL)
	}
	return u.Hostname(), nil
}
