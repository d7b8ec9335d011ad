package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dealerchat-backend/internal/config"
	"dealerchat-backend/internal/database"
	"dealerchat-backend/internal/handler"
	"dealerchat-backend/internal/middleware"
	"dealerchat-backend/internal/repository"
	"dealerchat-backend/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if !cfg.IsProduction() {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stdout}).Level(zerolog.DebugLevel)
	}

	// Database
	db, err := database.NewPool(context.Background(), cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := database.RunMigrations(context.Background(), db, log); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Repositories and services
	chatRepo := repository.NewChatRepository(db)
	hub := service.NewHub(log)
	chatSvc := service.NewChatService(chatRepo, hub, log)

	// Fiber app
	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
		BodyLimit:    256 * 1024,
	})

	app.Use(recover.New())
	app.Use(middleware.Logger(log))
	app.Use(cors.New())

	// Health and metrics
	healthH := handler.NewHealthHandler(db)
	app.Get("/health", healthH.Health)
	app.Get("/ready", healthH.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API v1 (all chat routes require a verified identity)
	v1 := app.Group("/api/v1", middleware.Auth(cfg.JWTSecret))

	chatH := handler.NewChatHandler(chatSvc)
	chat := v1.Group("/chat")
	chat.Post("/messages", middleware.RateLimit(30, time.Minute), chatH.Send)
	chat.Get("/history", chatH.History)
	chat.Put("/conversations/:id/read", chatH.MarkRead)

	// Back office
	adminRoutes := chat.Group("", middleware.AdminOnly())
	adminRoutes.Get("/conversations", chatH.ListConversations)
	adminRoutes.Delete("/conversations/:id", chatH.DeleteConversation)

	adminH := handler.NewAdminHandler(chatRepo, hub, cfg.RetentionDays)
	adminRoutes.Get("/admin/stats", adminH.Stats)
	adminRoutes.Post("/admin/sweep", adminH.Sweep)

	// Live channel
	wsH := handler.NewWSHandler(hub, chatSvc, cfg.JWTSecret, log)
	app.Get("/ws", wsH.Upgrade)

	go hub.Run()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("dealerchat backend running")

	<-quit
	log.Info().Msg("shutting down")
	_ = app.ShutdownWithTimeout(5 * time.Second)
	hub.Shutdown()
	log.Info().Msg("server stopped")
}
