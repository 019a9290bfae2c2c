// Package app builds the rules function and its dependencies from the
// configuration.
package app

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/ezachrisen/ruleswp"
	"github.com/ezachrisen/ruleswp/cel"
	"github.com/ezachrisen/ruleswp/internal/config"
	"github.com/ezachrisen/ruleswp/internal/function"
	"github.com/ezachrisen/ruleswp/internal/httpapi"
	"github.com/ezachrisen/ruleswp/store"
)

// ErrReadOnlySource is returned by Publish when the configured source cannot
// store definitions.
var ErrReadOnlySource = errors.New("rule set source is read-only")

// Publisher stores rule set definitions.
type Publisher interface {
	Put(ctx context.Context, def *ruleswp.Definition) error
}

// App holds the wired components of the service.
type App struct {
	Config     *config.Config
	Log        *slog.Logger
	Source     ruleswp.Source
	Compiler   *cel.Compiler
	Repository *ruleswp.Repository
	Executor   *ruleswp.Executor
	Handler    *function.Handler

	closers []func()
}

// New connects to the configured rule set source and builds the rules
// function on top of it. The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	a := &App{Config: cfg, Log: log}

	src, err := a.openSource(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Source = src

	var repoOpts []ruleswp.RepositoryOption
	repoOpts = append(repoOpts, ruleswp.WithRepositoryLogger(log))
	if cfg.Rules.CacheTTL > 0 {
		repoOpts = append(repoOpts, ruleswp.WithExpiry(cfg.Rules.CacheCapacity, cfg.Rules.CacheTTL))
	}

	a.Compiler = cel.NewCompiler()
	repo, err := ruleswp.NewRepository(ruleswp.NewDefinitionLoader(src, a.Compiler), repoOpts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.Repository = repo
	a.closers = append(a.closers, repo.Close)

	engine := ruleswp.NewEngine(
		ruleswp.MaxCycles(cfg.Rules.MaxCycles),
		ruleswp.WithLogger(log),
	)
	a.Executor = ruleswp.NewExecutor(repo, engine, ruleswp.WithExecutorLogger(log))
	a.Handler = function.NewHandler(a.Executor)

	log.Info("rules function ready",
		slog.String("source", cfg.Rules.Source),
		slog.Int("max_cycles", cfg.Rules.MaxCycles),
		slog.Duration("cache_ttl", cfg.Rules.CacheTTL),
	)
	return a, nil
}

// API returns the HTTP interface of the rules function.
func (a *App) API() *httpapi.API {
	return httpapi.NewAPI(a.Handler, a.Repository,
		httpapi.MaxBodyBytes(a.Config.Server.MaxBodyBytes),
		httpapi.Logger(a.Log),
	)
}

// Publish validates and compiles the definition, then stores it in the
// configured source.
func (a *App) Publish(ctx context.Context, def *ruleswp.Definition) error {
	p, ok := a.Source.(Publisher)
	if !ok {
		return fmt.Errorf("%w: %s", ErrReadOnlySource, a.Config.Rules.Source)
	}
	if _, err := a.Compiler.Compile(def); err != nil {
		return err
	}
	if err := p.Put(ctx, def); err != nil {
		return fmt.Errorf("publishing rule set %s: %w", def.Name, err)
	}
	a.Log.Info("rule set published", slog.String("rule_set", def.Name))
	return nil
}

// Close releases every connection held by the app, in reverse order of
// creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) openSource(ctx context.Context) (ruleswp.Source, error) {
	cfg := a.Config
	switch cfg.Rules.Source {
	case config.SourceDir:
		src, err := store.NewDirSource(cfg.Rules.Dir)
		if err != nil {
			return nil, err
		}
		return src, nil

	case config.SourceSQLite:
		db, err := sql.Open("sqlite", cfg.Database.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite database: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })

		src, err := store.NewSQLSource(db, cfg.Rules.Table)
		if err != nil {
			return nil, err
		}
		if err := src.Migrate(ctx); err != nil {
			return nil, err
		}
		return src, nil

	case config.SourcePostgres:
		pool, err := NewPostgresPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)

		src := store.NewPostgresSource(pool, cfg.Rules.Table)
		if err := src.Migrate(ctx); err != nil {
			return nil, err
		}
		return src, nil

	case config.SourceRedis:
		client, err := NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		return store.NewRedisSource(client, cfg.Rules.KeyPrefix), nil

	default:
		return nil, fmt.Errorf("unknown rule set source '%s'", cfg.Rules.Source)
	}
}

// NewPostgresPool creates a connection pool and checks that the database can
// be reached.
func NewPostgresPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pcfg.MaxConns = cfg.MaxConns
	pcfg.MinConns = 1
	pcfg.MaxConnLifetime = 1 * time.Hour
	pcfg.MaxConnIdleTime = 30 * time.Minute

	// Fail fast
	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(initCtx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(initCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// NewRedisClient creates a Redis client and checks that the server can be
// reached.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	initCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(initCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func redisOptions(cfg *config.RedisConfig) (*redis.Options, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		opts.DialTimeout = cfg.DialTimeout
		opts.ReadTimeout = cfg.ReadTimeout
		opts.WriteTimeout = cfg.WriteTimeout
		opts.PoolSize = cfg.PoolSize
		return opts, nil
	}

	opts := &redis.Options{
		Addr:         cfg.Address(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}
