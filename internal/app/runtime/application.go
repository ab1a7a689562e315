// Package runtime turns a loaded configuration into a running server: it
// opens the database, builds the providers and the application, and owns the
// HTTP server lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	app "github.com/R3E-Network/agentchat/internal/app"
	"github.com/R3E-Network/agentchat/internal/app/auth"
	"github.com/R3E-Network/agentchat/internal/app/httpapi"
	"github.com/R3E-Network/agentchat/internal/app/inference"
	"github.com/R3E-Network/agentchat/internal/app/market"
	"github.com/R3E-Network/agentchat/internal/app/storage/sqlstore"
	"github.com/R3E-Network/agentchat/internal/config"
	"github.com/R3E-Network/agentchat/internal/platform/database"
	"github.com/R3E-Network/agentchat/internal/platform/migrations"
	"github.com/R3E-Network/agentchat/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg    *config.Config
	log    *logger.Logger
	db     *sqlx.DB
	redis  redis.UniversalClient
	app    *app.Application
	server *http.Server

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewApplication constructs the application described by cfg.
func NewApplication(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.New(logger.LoggingConfig{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: cfg.Logging.Output,
		})
	}

	db, err := OpenDatabase(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a := &Application{cfg: cfg, log: log, db: db}

	if err := a.build(ctx); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

// OpenDatabase opens the configured database and applies the embedded
// migrations when auto_migrate is set.
func OpenDatabase(ctx context.Context, cfg *config.Config, log *logger.Logger) (*sqlx.DB, error) {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := migrations.Apply(ctx, db.DB, cfg.Database.Driver); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		log.WithField("driver", cfg.Database.Driver).Info("database migrations applied")
	}
	return db, nil
}

func (a *Application) build(ctx context.Context) error {
	cfg := a.cfg

	var tokens *auth.TokenIssuer
	if cfg.Auth.Secret != "" {
		issuer, err := auth.NewTokenIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		if err != nil {
			return fmt.Errorf("configure tokens: %w", err)
		}
		tokens = issuer
	} else {
		a.log.Warn("auth.secret not set; login returns no token")
	}

	provider, err := inference.New(ctx, cfg.Inference)
	if err != nil {
		return fmt.Errorf("configure inference: %w", err)
	}

	opts := app.Options{
		Tokens:         tokens,
		Provider:       provider,
		MarketSchedule: cfg.Market.Schedule,
		SystemPrompt:   cfg.Inference.SystemPrompt,
		HistoryLimit:   cfg.Inference.HistoryLimit,
	}

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := a.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			// The cache is an optimisation; reads fall back to the store.
			a.log.WithError(err).Warn("redis unreachable; market cache may miss")
		}
		opts.MarketCache = market.NewRedisCache(a.redis, cfg.Market.CacheTTL)
	}

	if cfg.Market.FetchURL != "" {
		fetcher, err := market.NewHTTPFetcher(&http.Client{Timeout: 10 * time.Second}, cfg.Market.FetchURL, cfg.Market.FetchKey, market.FieldPaths{
			Items:     cfg.Market.ItemsPath,
			Symbol:    cfg.Market.SymbolPath,
			Name:      cfg.Market.NamePath,
			Price:     cfg.Market.PricePath,
			Change24h: cfg.Market.ChangePath,
		}, a.log.Named("market-fetcher"))
		if err != nil {
			return fmt.Errorf("configure market fetcher: %w", err)
		}
		opts.MarketFetcher = fetcher
	}

	store := sqlstore.New(a.db)
	application, err := app.New(app.Stores{
		Users:    store,
		Chats:    store,
		Messages: store,
		Market:   store,
	}, opts, a.log.Named("app"))
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	api, err := httpapi.NewHandler(application, httpapi.Options{
		AuthRequired:   cfg.Auth.Required,
		CORSOrigins:    cfg.CORS.Origins(),
		RateLimitRPS:   cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst: cfg.RateLimit.Burst,
	}, a.log.Named("httpapi"))
	if err != nil {
		return err
	}
	if err := application.Attach(api.Janitor()); err != nil {
		return fmt.Errorf("attach rate limit janitor: %w", err)
	}

	a.app = application
	a.server = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		// Streamed replies may legitimately outlive any fixed write timeout.
		IdleTimeout: cfg.Server.IdleTimeout,
	}
	return nil
}

// App exposes the composed application.
func (a *Application) App() *app.Application {
	return a.app
}

// Handler exposes the wrapped HTTP handler.
func (a *Application) Handler() http.Handler {
	return a.server.Handler
}

// Run listens on the configured address and serves until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve starts the lifecycle services and serves HTTP on ln until ctx is
// cancelled or the server fails, then shuts everything down.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	if err := a.app.Start(ctx); err != nil {
		ln.Close()
		return fmt.Errorf("start services: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.WithField("addr", ln.Addr().String()).Info("HTTP server listening")
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.WithoutCancel(ctx))
	})
	return g.Wait()
}

// Shutdown stops the HTTP server, the lifecycle services and closes the
// connections. It is safe to call more than once.
func (a *Application) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var errs []error
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := a.app.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop services: %w", err))
		}
		if err := a.close(); err != nil {
			errs = append(errs, err)
		}
		a.shutdownErr = errors.Join(errs...)
		a.log.Info("shutdown complete")
	})
	return a.shutdownErr
}

func (a *Application) close() error {
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// SeedMarket upserts the default market snapshot into the configured store.
func SeedMarket(ctx context.Context, cfg *config.Config, log *logger.Logger) (int, error) {
	db, err := OpenDatabase(ctx, cfg, log)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	svc := market.New(sqlstore.New(db), nil, nil, log.Named("market"))
	quotes, err := svc.Upsert(ctx, market.DefaultQuotes())
	if err != nil {
		return 0, err
	}
	return len(quotes), nil
}
