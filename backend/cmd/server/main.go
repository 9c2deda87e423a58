package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Abulk79/Virt/backend/internal/config"
	"github.com/Abulk79/Virt/backend/internal/database"
	"github.com/Abulk79/Virt/backend/internal/events"
	"github.com/Abulk79/Virt/backend/internal/exchange"
	"github.com/Abulk79/Virt/backend/internal/handlers"
	"github.com/Abulk79/Virt/backend/internal/logger"
	"github.com/Abulk79/Virt/backend/internal/matching"
	"github.com/Abulk79/Virt/backend/internal/metrics"
	"github.com/Abulk79/Virt/backend/internal/store"
	"github.com/Abulk79/Virt/backend/internal/store/memstore"
	"github.com/Abulk79/Virt/backend/internal/ticker"
	internalws "github.com/Abulk79/Virt/backend/internal/websocket"
)

func main() {
	log := logger.New("exchange", nil)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	log = logger.WithLevel(log, cfg.LogLevel)
	if cfg.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET not set, every protected request will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer st.Close()

	for _, t := range cfg.Tickers() {
		if _, err := st.EnsureInstrument(ctx, t); err != nil {
			log.Fatal().Err(err).Str("ticker", t).Msg("failed to ensure instrument")
		}
	}

	metrics.Init()

	engine := matching.New(st, log, matching.WithQuoteTicker(cfg.QuoteTicker))

	hub := internalws.NewHub(log)
	go hub.Run(ctx)

	prices := ticker.New()
	publishers := []exchange.Publisher{prices, hub}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis not reachable, event publishing fails until it is")
		}
		publishers = append(publishers, events.NewRedisPublisher(rdb, cfg.RedisChannel))
	}

	svc := exchange.New(engine, st, log,
		exchange.WithDefaultDepth(cfg.DefaultDepth),
		exchange.WithPublishers(publishers...),
	)

	sweeper := matching.NewSweeper(engine, cfg.SweepEvery, log)
	sweeper.OnResult = svc.Notify
	sweeper.Start(ctx)
	defer sweeper.Stop()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handlers.New(svc, prices, hub, log).Register(app, []byte(cfg.JWTSecret))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Str("store", cfg.StoreDriver).Msg("starting server")
	if err := app.Listen(cfg.HTTPAddr); err != nil {
		log.Error().Err(err).Msg("server stopped")
	}
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn().Msg("using in-memory store, state is lost on exit")
		return memstore.New(), nil
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	db := database.New(pool, cfg.MaxRetries, log)
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
