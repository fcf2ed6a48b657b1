package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/alialinx/mini-gateway/internal/gateway/http"
	"github.com/alialinx/mini-gateway/internal/gateway/pipeline"
	"github.com/alialinx/mini-gateway/internal/gateway/proxy"
	"github.com/alialinx/mini-gateway/internal/gateway/router"
	"github.com/alialinx/mini-gateway/internal/gateway/service"
	"github.com/alialinx/mini-gateway/internal/gateway/store"
	"github.com/alialinx/mini-gateway/internal/gateway/store/drivers/memory"
	"github.com/alialinx/mini-gateway/internal/gateway/store/drivers/mongo"
	"github.com/alialinx/mini-gateway/internal/gateway/store/drivers/redis"
	"github.com/alialinx/mini-gateway/internal/gateway/store/drivers/sqlite"
	"github.com/alialinx/mini-gateway/pkg/slogx"
)

// BuildVersion is overridden at build time via -ldflags.
var BuildVersion = "v0.1.0"

// Application owns every long lived dependency of the gateway process.
type Application struct {
	cfg    Config
	logger *slog.Logger

	sessions     store.Sessions
	tokens       *service.TokenService
	housekeeping *service.HousekeepingService
	upstream     *proxy.Client

	server *http.Server
}

// New validates cfg and wires the application. Any error is fatal.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "mini-gateway",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	for _, w := range cfg.Warnings() {
		app.logger.Warn("unsafe configuration", "warning", w, "env", cfg.Env)
	}

	signer, err := NewSigner(cfg, app.logger)
	if err != nil {
		return nil, err
	}
	pepper, err := LoadPepper(cfg, app.logger)
	if err != nil {
		return nil, err
	}

	routes, err := router.Load(cfg.RoutesFile)
	if err != nil {
		return nil, err
	}
	app.logger.Info("routes loaded", "file", cfg.RoutesFile, "count", len(routes.Routes()))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.initStore(ctx); err != nil {
		return nil, err
	}

	app.tokens, err = service.NewTokenService(signer, app.sessions, service.TokenConfig{
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		Pepper:     pepper,
		Leeway:     cfg.Leeway,
	})
	if err != nil {
		_ = app.sessions.Close()
		return nil, err
	}

	app.housekeeping = service.NewHousekeepingService(
		app.sessions,
		app.logger,
		cfg.HousekeepingInterval,
		cfg.HousekeepingRetention,
	)

	app.initHTTP(routes, pepper)
	return app, nil
}

// Run blocks until the server fails or a shutdown signal arrives.
func (app *Application) Run() error {
	app.housekeeping.Start()

	app.logger.Info("gateway starting", "port", app.cfg.Port, "version", BuildVersion, "store", app.cfg.SessionStore)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		app.housekeeping.Stop()
		_ = app.sessions.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}
	return nil
}

// Shutdown drains in-flight requests before releasing the session store.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down gateway")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeeping.Stop()
	app.upstream.CloseIdleConnections()

	if err := app.sessions.Close(); err != nil {
		app.logger.Error("error closing session store", "error", err)
		return err
	}

	app.logger.Info("gateway stopped")
	return nil
}

func (app *Application) initStore(ctx context.Context) error {
	switch app.cfg.SessionStore {
	case StoreSQLite:
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
		db, err := sqlite.NewStore(dsn)
		if err != nil {
			return fmt.Errorf("failed to open sqlite store: %w", err)
		}
		if err := db.ApplyMigrations(); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply sqlite migrations: %w", err)
		}
		app.logger.Info("sqlite session store ready", "file", app.cfg.DatabaseFile)
		app.sessions = db

	case StoreRedis:
		rs, err := redis.Open(ctx, app.cfg.RedisURL, redis.WithRetention(app.cfg.HousekeepingRetention))
		if err != nil {
			return fmt.Errorf("failed to open redis store: %w", err)
		}
		app.logger.Info("redis session store ready")
		app.sessions = rs

	case StoreMongo:
		ms, err := mongo.Open(ctx, app.cfg.MongoURI, app.cfg.MongoDBName, mongo.DefaultCollection)
		if err != nil {
			return fmt.Errorf("failed to open mongo store: %w", err)
		}
		app.logger.Info("mongo session store ready", "database", app.cfg.MongoDBName)
		app.sessions = ms

	default:
		app.logger.Warn("in-memory session store: sessions are lost on restart")
		app.sessions = memory.NewStore()
	}
	return nil
}

func (app *Application) initHTTP(routes *router.Router, pepper []byte) {
	app.upstream = proxy.New(proxy.Config{
		ConnectTimeout: app.cfg.UpstreamConnectTimeout,
		ReadTimeout:    app.cfg.UpstreamReadTimeout,
	})

	gateway := pipeline.New(
		routes,
		app.upstream,
		app.tokens,
		pipeline.NewSlogLogger(app.logger),
		pipeline.Config{
			MaxBodyBytes:      app.cfg.MaxBodyBytes,
			ExposeErrorDetail: app.cfg.IsDev(),
		},
	)

	rt := httpapi.NewRouter(httpapi.Config{
		TokenURL:           app.cfg.TokenURL,
		RefreshURL:         app.cfg.RefreshURL,
		RevokeURL:          app.cfg.RevokeURL,
		IssuerUser:         app.cfg.IssuerUser,
		IssuerPasswordHash: app.cfg.IssuerPasswordHash,
		Pepper:             pepper,
		StrictLimit:        app.cfg.StrictLimit,
		ModerateLimit:      app.cfg.ModerateLimit,
		ExposeErrorDetail:  app.cfg.IsDev(),
		SwaggerUser:        app.cfg.SwaggerUser,
		SwaggerPass:        app.cfg.SwaggerPass,
		Version:            BuildVersion,
	}, app.tokens, app.sessions, gateway, app.logger)
	rt.ApplyRoutes()

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           rt,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// Handler exposes the root handler, mainly for tests.
func (app *Application) Handler() http.Handler { return app.server.Handler }
