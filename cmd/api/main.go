package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"agora/api/internal/app"
	"agora/api/internal/authpw"
	"agora/api/internal/chat"
	"agora/api/internal/config"
	"agora/api/internal/flash"
	"agora/api/internal/follows"
	"agora/api/internal/posts"
	"agora/api/internal/search"
	"agora/api/internal/session"
	"agora/api/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("agora api stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		return err
	}
	dataStore := store.NewPostgresStore(db)
	checks := map[string]app.Pinger{"database": dataStore}

	var (
		sessions session.Store
		flashes  flash.Store
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for sessions and flash messages")
		redisStore, err := session.NewRedisStore(cfg.RedisURL, cfg.SessionTTL, logger)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		sessions = redisStore
		flashes = flash.NewRedisStore(redisStore.Client(), flash.DefaultTTL)
		checks["redis"] = redisStore
	} else {
		logger.Warn("REDIS_URL not set, sessions and flash messages are kept in memory")
		memStore := session.NewMemoryStore(cfg.SessionTTL)
		defer memStore.Close()
		sessions = memStore
		flashStore := flash.NewMemoryStore(flash.DefaultTTL)
		defer flashStore.Close()
		flashes = flashStore
	}

	pgfts := search.NewPgFTS(db)
	var primary search.Backend
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		primary = meili
	}
	searchService := search.NewService(primary, pgfts, logger)
	searchService.ReindexOnRecovery(ctx, pgfts)
	go searchService.Reindex(ctx, pgfts)

	service := app.New(app.Dependencies{
		Sessions: sessions,
		Flash:    flashes,
		Accounts: authpw.NewService(dataStore, logger),
		Posts:    posts.NewService(dataStore, searchService, logger),
		Follows:  follows.NewService(dataStore, logger),
		Users:    dataStore,
		Checks:   checks,
	}, logger)

	hub := chat.NewHub(logger)
	httpServer := app.NewHTTPServer(service, hub, cfg, logger)
	defer httpServer.Close()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("agora api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	// Hijacked chat connections are not tracked by the server.
	hub.Shutdown()
	searchService.Wait()
	return nil
}
