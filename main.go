package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-relay/internal/config"
	"chat-relay/internal/db"
	"chat-relay/internal/handlers"
	"chat-relay/internal/identity"
	"chat-relay/internal/logging"
	"chat-relay/internal/middleware"
	"chat-relay/internal/observability"
	"chat-relay/internal/rabbitmq"
	"chat-relay/internal/relay"
	"chat-relay/internal/repositories"
	"chat-relay/internal/telemetry"
	"chat-relay/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("relay stopped")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.Info().
		Str("mode", rabbitmq.PublisherMode(publisher)).
		Str("noop_reason", rabbitmq.PublisherNoopReason(publisher)).
		Msg("event publisher ready")

	audit := telemetry.NewAuditEmitter(publisher, "audit.chat", cfg.ServiceName, cfg.Environment, logger)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	provider, err := identity.New(cfg.AuthMode, identity.Options{JWTSecret: cfg.JWTSecret, GRPCAddr: cfg.AuthGRPCAddr})
	if err != nil {
		return err
	}
	if closer, ok := provider.(io.Closer); ok {
		defer closer.Close()
	}

	engine := relay.NewEngine(store, logger,
		relay.WithStoreTimeout(cfg.StoreTimeout),
		relay.WithPublishTimeout(cfg.PublishTimeout),
		relay.WithAudit(audit),
	)
	wsHandler := ws.NewHandler(engine, provider, ws.Options{
		SendBufferSize: cfg.SendBufferSize,
		MaxMessageSize: cfg.MaxMessageSize,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger)
	historyHandler := handlers.NewHistoryHandler(store, engine, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(provider)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": wsHandler.Active()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/rooms/:room/messages", historyHandler.GetRoomMessages)
	router.GET("/direct/:peer/messages", authMiddleware, historyHandler.GetDirectMessages)
	router.GET("/presence/:identity", historyHandler.GetPresence)
	router.GET("/ws", wsHandler.Handle)
	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("storage", cfg.StorageDriver).Str("auth", cfg.AuthMode).Msg("relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wsHandler.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// openStore builds the message store selected by STORAGE_DRIVER.
func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (repositories.MessageStore, func(), error) {
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		database, err := db.Connect(ctx, cfg.DBDSN, logger)
		if err != nil {
			return nil, nil, err
		}
		return repositories.NewPostgresMessageRepo(database), func() { _ = database.Close() }, nil
	case config.DriverBadger:
		bdb, err := db.OpenBadger(cfg.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		repo, err := repositories.NewBadgerMessageRepo(bdb, logger)
		if err != nil {
			_ = bdb.Close()
			return nil, nil, err
		}
		return repo, func() {
			_ = repo.Close()
			_ = bdb.Close()
		}, nil
	default:
		logger.Warn().Msg("using in-memory message store, history is lost on restart")
		return repositories.NewMemoryMessageRepo(), func() {}, nil
	}
}
