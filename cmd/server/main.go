package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lavsmart/cyclebridge/internal/api"
	"github.com/lavsmart/cyclebridge/internal/config"
	"github.com/lavsmart/cyclebridge/internal/dispatch"
	"github.com/lavsmart/cyclebridge/internal/events"
	"github.com/lavsmart/cyclebridge/internal/gateway"
	"github.com/lavsmart/cyclebridge/internal/handlers"
	"github.com/lavsmart/cyclebridge/internal/outbox"
	"github.com/lavsmart/cyclebridge/internal/pricing"
	"github.com/lavsmart/cyclebridge/internal/registry"
	"github.com/lavsmart/cyclebridge/internal/repository"
	"github.com/lavsmart/cyclebridge/internal/resolver"
	"github.com/lavsmart/cyclebridge/internal/signature"
	"github.com/lavsmart/cyclebridge/internal/telemetry"
)

func main() {
	// Initialize telemetry
	if err := telemetry.InitTelemetry("cyclebridge"); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	telemetry.Logger.Info("Starting cyclebridge")

	cfg := config.Load()

	// Load the tenant registry; immutable for the process lifetime
	reg, err := registry.LoadFile(cfg.TenantsFile)
	if err != nil {
		telemetry.Logger.Fatal("Failed to load tenant registry", zap.Error(err))
	}

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	outboxRepo := repository.NewOutboxRepository(db)
	if err := outboxRepo.InitDB(); err != nil {
		telemetry.Logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
	})

	// Connect to the command transport
	publisher, err := dispatch.NewNATSPublisher(cfg.NATSURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to transport", zap.Error(err))
	}
	defer publisher.Close()

	// Lifecycle events are optional; nil emitter drops them
	emitter := events.NewEmitter(cfg.KafkaBrokers)
	defer emitter.Close()

	mpClient := gateway.NewMercadoPagoClient(cfg.GatewayBaseURL, cfg.GatewayTimeout)

	prices := pricing.Source(pricing.NewHTTPSource(cfg.PriceFetchTimeout))
	prices = pricing.NewCachedSource(prices, redisClient, 30*time.Second)

	verifier := signature.NewVerifier(cfg.WebhookSecret, cfg.SignatureMaxAge)

	paymentResolver := resolver.NewChainResolver(
		resolver.NewReferenceResolver(reg, mpClient),
		resolver.NewProbingResolver(reg, mpClient),
	)

	dispatcher := dispatch.NewDispatcher(publisher)

	webhookHandler := handlers.NewWebhookHandler(
		verifier, paymentResolver, reg, prices, outboxRepo, dispatcher, emitter, cfg.TopicNamespace,
	)
	initiationHandler := handlers.NewInitiationHandler(reg, prices, mpClient, redisClient)

	// Sweep undelivered dispatch intents in the background
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	sweeper := outbox.NewSweeper(outboxRepo, dispatcher)
	go sweeper.Run(sweepCtx)

	r := api.NewRouter(webhookHandler, initiationHandler, redisClient)

	// Setup HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		telemetry.Logger.Info("cyclebridge starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down server...")
	stopSweeper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	telemetry.Logger.Info("Server exited")
}
