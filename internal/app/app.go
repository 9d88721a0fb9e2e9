// Package app wires the custody auth daemon: configuration, logging,
// PostgreSQL, Redis, the engine and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	custodyauth "github.com/MrEthical07/goCustodyAuth"
	"github.com/MrEthical07/goCustodyAuth/internal/httpapi"
	"github.com/MrEthical07/goCustodyAuth/pgstore"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	cfg       *Config
	log       zerolog.Logger
	pool      *pgxpool.Pool
	redis     *redis.Client
	miniredis *miniredis.Miniredis
	engine    *custodyauth.Engine
	echo      *echo.Echo
}

// New connects every backing service and builds the engine. Backing services
// are probed with exponential backoff until cfg.StartupTimeout.
func New(ctx context.Context) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	a := &App{cfg: cfg, log: NewLogger(cfg.AppEnv, cfg.LogLevel)}
	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}

	store := pgstore.New(a.pool)
	if err := store.Migrate(ctx); err != nil {
		a.Close()
		return nil, err
	}

	b := custodyauth.New().
		WithConfig(engineCfg).
		WithRedis(a.redis).
		WithUserProvider(store).
		WithDeviceStore(store).
		WithTwoFactorStore(store).
		WithHTTPClient(&http.Client{Timeout: cfg.BackofficeTimeout}).
		WithLogger(a.log).
		WithAuditSink(custodyauth.NewZerologSink(a.log))
	switch cfg.ChallengeStore {
	case "redis":
	case "postgres":
		b = b.WithChallengeStore(store)
	default:
		a.Close()
		return nil, fmt.Errorf("unknown challenge store %q", cfg.ChallengeStore)
	}

	a.engine, err = b.Build()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build engine: %w", err)
	}

	a.echo = httpapi.NewServer(a.engine, httpapi.Options{
		BasePath: cfg.HTTPBasePath,
		Health:   a.health,
	})
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.StartupTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	a.pool = pool
	if err := a.probe(ctx, "postgres", pool.Ping); err != nil {
		return err
	}

	addr := a.cfg.RedisAddr
	if addr == "memory" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("in-process redis: %w", err)
		}
		a.miniredis = mr
		addr = mr.Addr()
		a.log.Warn().Msg("using in-process redis; rate limits and challenges are not shared")
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	return a.probe(ctx, "redis", func(ctx context.Context) error {
		return a.redis.Ping(ctx).Err()
	})
}

func (a *App) probe(ctx context.Context, name string, ping func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = a.cfg.StartupTimeout
	err := backoff.RetryNotify(func() error {
		return ping(ctx)
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		a.log.Warn().Err(err).Str("backend", name).Dur("retry_in", wait).Msg("backend not ready")
	})
	if err != nil {
		return fmt.Errorf("%s unreachable: %w", name, err)
	}
	return nil
}

func (a *App) health(ctx context.Context) error {
	if err := a.pool.Ping(ctx); err != nil {
		return err
	}
	return a.redis.Ping(ctx).Err()
}

// Run serves HTTP until ctx is cancelled and returns once in-flight requests
// have drained.
func (a *App) Run(ctx context.Context) error {
	return serve(ctx, a.echo, a.cfg.addr(), a.log)
}

// serve runs e on addr until ctx is cancelled, then drains in-flight requests
// for up to shutdownTimeout before returning.
func serve(ctx context.Context, e *echo.Echo, addr string, log zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := e.Shutdown(shutdownCtx)
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Join(err, shutdownErr)
	}
	return shutdownErr
}

// Close releases every backing connection. It tolerates a partially
// constructed App.
func (a *App) Close() {
	if a.engine != nil {
		a.engine.Close()
		if n := a.engine.AuditDropped(); n > 0 {
			a.log.Warn().Uint64("dropped", n).Msg("audit events dropped")
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.miniredis != nil {
		a.miniredis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
