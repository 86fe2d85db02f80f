package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/trailcrew/TrailCrewBack/internal/config"
	"github.com/trailcrew/TrailCrewBack/internal/database"
	"github.com/trailcrew/TrailCrewBack/internal/logging"
	"github.com/trailcrew/TrailCrewBack/internal/middleware"
	"github.com/trailcrew/TrailCrewBack/internal/repository"
	"github.com/trailcrew/TrailCrewBack/internal/routes"
	chatws "github.com/trailcrew/TrailCrewBack/internal/websocket"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	// 2. Connect to Database
	if cfg.DBUrl == "" {
		logging.Fatal().Msg("DB_URL is required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.ConnectDB(ctx, cfg.DBUrl); err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.CloseDB()

	// 3. Pick the fan-out broker
	var broker chatws.Broker = chatws.NewLocalBroker()
	if cfg.UsesNATS() {
		natsBroker, err := chatws.NewNATSBroker(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			logging.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("failed to connect to NATS")
		}
		broker = natsBroker
	}

	// 4. Setup Fiber
	app := fiber.New(fiber.Config{
		AppName:           "trailcrew-chat",
		JSONEncoder:       json.Marshal,
		JSONDecoder:       json.Unmarshal,
		EnablePrintRoutes: cfg.IsDevelopment(),
	})

	app.Use(cors.New(cors.Config{AllowOrigins: cfg.CORSAllowOrigins}))
	app.Use(middleware.RequestLogger())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
	gateway, err := routes.RegisterRoutes(app, cfg, repository.NewPgStore(database.DB), broker)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to register routes")
	}

	// 5. Start Server
	serverErr := make(chan error, 1)
	go func() {
		logging.Info().
			Str("port", cfg.Port).
			Str("env", cfg.AppEnv).
			Bool("nats", cfg.UsesNATS()).
			Msg("server starting")
		serverErr <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logging.Error().Err(err).Msg("server failed")
		}
	case <-ctx.Done():
		logging.Info().Msg("shutdown signal received")
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logging.Error().Err(err).Msg("http shutdown")
	}
	if err := gateway.Close(); err != nil {
		logging.Error().Err(err).Msg("gateway shutdown")
	}
	logging.Info().Msg("server stopped")
}
