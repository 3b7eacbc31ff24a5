// Package main wires the head-soccer match server: config, logging,
// optional Postgres/Redis backends, every internal component, and the
// HTTP/WebSocket listener. Grounded on the teacher's cmd/gameserver/main.go
// (load config, construct one server struct, register handlers, block on
// ListenAndServe) generalized to context-cancellable graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/headsoccer/matchserver/internal/config"
	"github.com/headsoccer/matchserver/internal/store"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
	} else {
		logger.Warn().Msg("DATABASE_URL not set, match results will fail to persist")
	}

	var cache store.Cache
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		cache = store.NewRedisCache(redis.NewClient(opts))
	} else {
		logger.Info().Msg("REDIS_URL not set, using in-memory cache fallback")
		cache = store.NewMemoryCache()
	}

	srv := NewServer(cfg, pool, cache, logger)
	srv.Run(ctx)

	httpServer := &http.Server{
		Addr:    srv.Addr(),
		Handler: srv.routes(),
	}

	go func() {
		logger.Info().Str("addr", srv.Addr()).Msg("match server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
}
