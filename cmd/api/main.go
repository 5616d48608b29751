package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-portal/internal/config"
	"github.com/noah-isme/gema-portal/internal/database"
	"github.com/noah-isme/gema-portal/internal/handler"
	"github.com/noah-isme/gema-portal/internal/middleware"
	"github.com/noah-isme/gema-portal/internal/router"
	"github.com/noah-isme/gema-portal/internal/service"
	"github.com/noah-isme/gema-portal/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", cfg.AppName).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := openStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		backend = store.NewCachedStore(backend, redisClient, cfg.ChannelBase, cfg.SnapshotTTL, logger)
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	}

	feed := service.NewChangeFeedService(redisClient, cfg.ChannelBase, natsConn, logger)
	feed.Start(ctx)

	validate := validator.New(validator.WithRequiredStructEnabled())

	storeService := service.NewStoreService(backend, feed, validate, logger)
	storeHandler := handler.NewStoreHandler(storeService, validate, logger)
	streamHandler := handler.NewStreamHandler(feed, cfg.StreamKeepWarm, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    cfg.BodyLimit,
		ErrorHandler: handler.ErrorHandler,
	})

	middleware.Register(app, middleware.Config{
		Logger:        &logger,
		AccessLogging: cfg.AppEnv == "development",
	})
	router.Register(app, cfg, router.Dependencies{
		StoreHandler:  storeHandler,
		StreamHandler: streamHandler,
		SaveGuards:    []fiber.Handler{middleware.RateLimit("save", cfg.SaveRateLimit, time.Second)},
	})

	go func() {
		logger.Info().
			Str("address", cfg.HTTPAddress()).
			Str("store_driver", cfg.StoreDriver).
			Str("node_id", feed.NodeID()).
			Msg("store server listening")
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, cancel)
}

func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverFile:
		return store.OpenFileStore(cfg.StorePath, logger)
	case config.StoreDriverSQLite:
		db, err := database.ConnectSQLite(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return store.NewSQLStore(ctx, db, logger)
	case config.StoreDriverPostgres:
		db, err := database.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return store.NewSQLStore(ctx, db, logger)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

func waitForShutdown(app *fiber.App, cancel context.CancelFunc) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()
	cancel()

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
