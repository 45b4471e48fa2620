package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/salon-loyalty-core/internal/config"
	"github.com/fairyhunter13/salon-loyalty-core/internal/handler"
	"github.com/fairyhunter13/salon-loyalty-core/internal/metrics"
	"github.com/fairyhunter13/salon-loyalty-core/internal/projector"
	"github.com/fairyhunter13/salon-loyalty-core/internal/repository"
	"github.com/fairyhunter13/salon-loyalty-core/internal/sched"
	"github.com/fairyhunter13/salon-loyalty-core/internal/service"
	"github.com/fairyhunter13/salon-loyalty-core/internal/validator"
	"github.com/fairyhunter13/salon-loyalty-core/pkg/database"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize zerolog based on configuration
	initLogger(cfg)
	metrics.Register()

	// Create context for startup; workers stop when it is cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database pool with retry
	pool, err := database.NewPool(ctx, cfg.DB.DSN(), 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Initialize Fiber with production-ready configuration
	app := fiber.New(fiber.Config{
		AppName:      "Salon Loyalty Core",
		ReadTimeout:  30 * time.Second,  // Max time to read request
		WriteTimeout: 30 * time.Second,  // Max time to write response
		IdleTimeout:  120 * time.Second, // Max time for keep-alive connections
		BodyLimit:    1 * 1024 * 1024,   // 1MB body limit (explicit, prevents large payloads)
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New()) // Adds X-Request-ID header to all requests
	app.Use(logger.New())

	// Initialize validator with the notblank rule
	validate := validator.New()

	// Initialize loyalty components (layered architecture)
	stampRepo := repository.NewStampRepository(pool)
	rewardRepo := repository.NewRewardRepository(pool)
	configRepo := repository.NewConfigRepository(pool)
	summaryProjector := projector.NewSummaryProjector(pool)
	loyaltyService := service.NewLoyaltyService(pool, stampRepo, rewardRepo, configRepo, summaryProjector)
	expirationService := service.NewExpirationService(stampRepo, rewardRepo, summaryProjector)
	redeemHandler := handler.NewRedeemHandler(loyaltyService, validate)
	ticketHandler := handler.NewTicketHandler(loyaltyService, validate)

	// Health and metrics
	healthHandler := handler.NewHealthHandler(pool)
	app.Get("/health", healthHandler.Check)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Loyalty routes
	app.Post("/api/rewards/redeem", redeemHandler.RedeemReward)
	app.Post("/internal/tickets/events", ticketHandler.HandleEvent)

	// Expiration sweep workers
	if cfg.Sweep.Enabled {
		stampSweeper := sched.NewWorker("stamp_sweeper", cfg.Sweep.StampInterval(), expirationService.ExpireStamps, log.Logger)
		rewardSweeper := sched.NewWorker("reward_sweeper", cfg.Sweep.RewardInterval(), expirationService.ExpireRewards, log.Logger)
		go func() { _ = stampSweeper.Run(ctx) }()
		go func() { _ = rewardSweeper.Run(ctx) }()
	} else {
		log.Warn().Msg("expiration sweep workers disabled by configuration")
	}

	// Start server with graceful shutdown
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	log.Info().Int("timeout_seconds", cfg.Server.ShutdownTimeout).Msg("shutting down server...")

	// Stop sweep workers before the pool goes away
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	// Shutdown server (waits for in-flight requests)
	log.Info().Msg("waiting for in-flight requests to complete...")
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	// Close database pool AFTER server shutdown (even if shutdown timed out)
	log.Info().Msg("closing database connections...")
	pool.Close()
	log.Info().Msg("database connections closed")
	log.Info().Msg("server stopped")
}

// initLogger configures zerolog based on the application configuration.
func initLogger(cfg *config.Config) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output format
	if cfg.Log.Pretty {
		// Human-readable output for development
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	} else {
		// JSON output for production
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
