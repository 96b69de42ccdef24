package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/tallerverde/shop-go/internal/api"
	"github.com/tallerverde/shop-go/internal/cart"
	"github.com/tallerverde/shop-go/internal/db"
	"github.com/tallerverde/shop-go/internal/metrics"
	"github.com/tallerverde/shop-go/internal/pricing"
	"github.com/tallerverde/shop-go/internal/services"
	"github.com/tallerverde/shop-go/pkg/config"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.OTELServiceName).Logger()

	// Initialize OpenTelemetry metrics
	ctx := context.Background()
	appMetrics, meterProvider, err := metrics.InitMetrics(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize metrics")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("error shutting down meter provider")
		}
	}()

	// Initialize database
	database, err := db.NewDB(cfg.GetDSN(), logger, cfg.OTELServiceName)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	// Initialize schema
	schemaSQL, err := os.ReadFile("schema.sql")
	if err != nil {
		logger.Warn().Err(err).Msg("could not read schema.sql, assuming schema already exists")
	} else {
		if err := database.InitSchema(ctx, string(schemaSQL)); err != nil {
			logger.Warn().Err(err).Msg("could not initialize schema, assuming it already exists")
		}
	}

	// Cart snapshot storage: redis when configured, in-process otherwise
	var cartStorage cart.Storage
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		cartStorage = cart.NewRedisStorage(client)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("cart snapshots persisted to redis")
	} else {
		cartStorage = cart.NewMemoryStorage()
		logger.Info().Msg("no redis configured, cart snapshots held in process")
	}

	// Initialize services
	cartStore := cart.NewStore(cartStorage, appMetrics, logger)
	priceResolver := pricing.NewResolver(cfg, appMetrics, logger)
	productService := services.NewProductService(database, appMetrics)
	orderService := services.NewOrderService(database, appMetrics)
	orderLink := services.NewOrderLinkService(services.NewSQLGuestOrderStore(database, appMetrics), appMetrics, logger)
	userService := services.NewUserService(database, appMetrics, orderLink, logger)
	newsletterService := services.NewNewsletterService(database, appMetrics)

	// Initialize app
	app := api.NewApp(cfg, database, appMetrics, logger, cartStore, priceResolver, productService, orderService, userService, newsletterService)

	// Setup router
	router := mux.NewRouter()
	app.SetupRoutes(router)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("port", cfg.AppPort).Str("otlp_endpoint", cfg.OTELExporterOTLPEndpoint).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server exited")
}
