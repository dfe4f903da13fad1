package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"rentdesk.org/internal/api"
	"rentdesk.org/internal/config"
	"rentdesk.org/internal/ids"
	"rentdesk.org/internal/obs"
	"rentdesk.org/internal/session"
	"rentdesk.org/internal/statestore"
	"rentdesk.org/internal/statusapi"
	"rentdesk.org/internal/token"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on system env vars")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := obs.NewLogger(cfg.LogLevel, cfg.IsDevelopment())
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	state, cleanup, err := openStateStore(cfg)
	if err != nil {
		logger.Fatal("open state store", zap.Error(err))
	}
	defer cleanup()

	backend := api.NewClient(cfg.APIBaseURL, logger)
	tokens := token.NewManager(state, logger, token.WithRefreshWindow(cfg.RefreshWindow))
	store := session.New(tokens, state, backend, logger,
		session.WithDevFlags(cfg.IsDevelopment() && cfg.DevMode, cfg.AuthDisabled))
	defer store.Dispose()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hydrateCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	store.Hydrate(hydrateCtx)
	cancel()

	// Descriptive metadata only; independent of the auth lifecycle.
	store.SetSessionInfo(ctx, ids.NewSessionID(), deviceID(ctx, state))

	store.CheckBackendHealth(ctx)
	go healthLoop(ctx, store, cfg.HealthInterval)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           statusapi.New(store, logger, version).Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting rentdesk-sessiond",
		zap.String("version", version),
		zap.String("addr", srv.Addr),
		zap.String("env", cfg.Environment),
		zap.String("state_backend", cfg.StateBackend),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("stopped")
}

func healthLoop(ctx context.Context, store *session.Store, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.CheckBackendHealth(ctx)
		}
	}
}

// deviceID returns the install-scoped device identifier, minting one on
// first run.
func deviceID(ctx context.Context, state statestore.Store) string {
	const key = "agent.device_id"
	if raw, err := state.Get(ctx, key); err == nil && len(raw) > 0 {
		return string(raw)
	}
	id := ids.NewDeviceID()
	if err := state.Set(ctx, key, []byte(id)); err != nil {
		return id
	}
	return id
}

func openStateStore(cfg config.Config) (statestore.Store, func(), error) {
	switch cfg.StateBackend {
	case "redis":
		s, err := statestore.NewRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		s, err := statestore.OpenPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "memory":
		return statestore.NewMemory(), func() {}, nil
	default:
		s, err := statestore.NewFile(cfg.StatePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
}
