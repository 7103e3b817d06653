package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/config"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/controller"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/dao"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/db"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/pkg/gemini"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/realtime"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	logger := log.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Thread store
	repo, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("Failed to open store")
	}
	defer repo.Close()
	logger.Info().Str("driver", cfg.StoreDriver).Msg("Store ready")

	// 2. Realtime fan-out and presence
	hub := realtime.NewHub(logger)
	defer hub.Close()

	checks := map[string]controller.Pinger{"store": repo}
	var (
		publisher usecase.Publisher = hub
		presence  usecase.Presence  = realtime.NewMemoryPresence()
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		broker := realtime.NewRedisBroker(rdb, hub, logger)
		ready := make(chan struct{})
		go func() {
			if err := broker.Run(ctx, ready); err != nil {
				logger.Error().Err(err).Msg("Event broker stopped")
			}
		}()
		select {
		case <-ready:
		case <-time.After(5 * time.Second):
			logger.Warn().Msg("Event broker not subscribed yet, continuing")
		}

		rp := realtime.NewRedisPresence(rdb)
		publisher, presence = broker, rp
		checks["redis"] = rp
		logger.Info().Msg("Redis fan-out enabled")
	}

	// 3. Negotiation assistant
	var advisor usecase.Advisor
	if cfg.GeminiAPIKey != "" {
		client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			logger.Warn().Err(err).Msg("Gemini client unavailable, assistant disabled")
		} else {
			defer client.Close()
			advisor = client
		}
	}

	// 4. Dependency Injection
	threads := usecase.NewThreadUsecase(repo, publisher, logger)
	nego := usecase.NewNegotiationUsecase(repo, publisher, advisor, logger)
	typing := usecase.NewTypingUsecase(presence, publisher, cfg.TypingTTL, logger)

	router := controller.NewRouter(controller.RouterConfig{
		Threads:        controller.NewThreadController(threads, typing, logger),
		Negotiation:    controller.NewNegotiationController(nego, logger),
		Socket:         controller.NewSocketController(hub, threads, typing, logger),
		Health:         controller.NewHealthController(checks),
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})

	// 5. Start Server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

func openStore(ctx context.Context, cfg *config.Config) (dao.ThreadRepository, error) {
	var (
		conn    *sqlx.DB
		dialect dao.Dialect
		err     error
	)
	switch cfg.StoreDriver {
	case "memory":
		return dao.NewMemoryThreadRepository(), nil
	case "mysql":
		dialect = dao.MySQL
		conn, err = sqlx.Open(dialect.DriverName, cfg.MySQLDSN())
	case "sqlite":
		dialect = dao.SQLite
		conn, err = sqlx.Open(dialect.DriverName, cfg.SQLiteDSN())
		if err == nil {
			// one writer at a time
			conn.SetMaxOpenConns(1)
		}
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	if err != nil {
		return nil, err
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, conn); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return dao.NewSQLThreadRepository(conn, dialect), nil
}
