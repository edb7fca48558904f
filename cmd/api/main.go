package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/passbi/intercity/internal/api"
	"github.com/passbi/intercity/internal/app"
	"github.com/passbi/intercity/internal/config"
	"github.com/passbi/intercity/internal/middleware"
)

func main() {
	log.Println("Starting intercity booking API...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("Startup failed: %v", err)
	}
	defer a.Close()

	go a.Engine.RunReaper(ctx, cfg.Booking.ReapInterval)

	h := api.New(api.Deps{
		Store:        a.Store,
		Engine:       a.Engine,
		Materializer: a.Materializer,
		Routes:       a.Routes,
		Clock:        a.Clock,
		HorizonDays:  cfg.Materializer.HorizonDays,
		Usage:        usageReader(a),
		Checks:       a.HealthChecks(),
	})

	fiberApp := fiber.New(fiber.Config{
		AppName:      "Intercity Booking API",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorHandler: api.ErrorHandler,
	})

	// Global middleware
	fiberApp.Use(recover.New())
	fiberApp.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path} | ${ip}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	fiberApp.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Tenant-ID",
		AllowCredentials: false,
	}))
	fiberApp.Use(a.Metrics.Middleware())

	// ============================================
	// Public Routes
	// ============================================
	fiberApp.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"name":    "Intercity Booking API",
			"version": "1.0.0",
			"status":  "operational",
			"authentication": fiber.Map{
				"enabled": cfg.API.EnableAuth,
				"type":    "Bearer Token (JWT)",
				"claims":  "tenant_id, scopes",
			},
		})
	})
	fiberApp.Get("/health", h.Health)

	if cfg.MetricsAddr != "" {
		srv := a.Metrics.Serve(cfg.MetricsAddr)
		defer srv.Close()
	} else {
		fiberApp.Get("/metrics", adaptor.HTTPHandler(a.Metrics.Handler()))
	}

	// ============================================
	// API V1 - Tenant Routes
	// ============================================
	v1 := fiberApp.Group("/v1")

	if cfg.API.EnableAuth {
		v1.Use(middleware.AuthMiddleware([]byte(cfg.API.JWTSecret)))
		log.Println("✓ Authentication middleware enabled")
	} else {
		v1.Use(middleware.HeaderTenant())
		log.Println("⚠️  Authentication disabled, tenant taken from X-Tenant-ID")
	}

	if cfg.API.EnableRateLimit && a.Redis != nil {
		v1.Use(middleware.RateLimitMiddleware(a.Redis, middleware.RateLimits{
			PerSecond: cfg.API.RateLimitPerSecond,
			PerDay:    cfg.API.RateLimitPerDay,
		}))
		log.Println("✓ Rate limiting middleware enabled")
	}

	if a.Pool != nil {
		v1.Use(middleware.AnalyticsMiddleware(middleware.PostgresUsage{DB: a.Pool}))
	} else {
		v1.Use(middleware.AnalyticsMiddleware(middleware.LogUsage{}))
	}

	h.Register(v1)

	// ============================================
	// 404 handler
	// ============================================
	fiberApp.Use(func(c *fiber.Ctx) error {
		return c.Status(404).JSON(fiber.Map{
			"error":   "not_found",
			"message": "The requested endpoint does not exist",
			"path":    c.Path(),
		})
	})

	addr := fmt.Sprintf(":%d", cfg.API.Port)

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Println("\n⚠️  Received shutdown signal...")
		log.Println("Shutting down server...")
		if err := fiberApp.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
		log.Println("✓ Server shut down gracefully")
	}()

	log.Println("═══════════════════════════════════════════════════")
	log.Printf("🚀 Intercity Booking API Started")
	log.Printf("📍 Listening on: http://localhost%s", addr)
	log.Println("═══════════════════════════════════════════════════")
	log.Println("Available Endpoints:")
	log.Printf("  GET  /health                         - Health check")
	log.Printf("  GET  /v1/routes/:id/stops            - Route stops")
	log.Printf("  GET  /v1/routes/:id/fare             - Segment fare")
	log.Printf("  POST /v1/trips/materialize           - Materialize horizon")
	log.Printf("  POST /v1/trips                       - Manual trip")
	log.Printf("  GET  /v1/trips?date=                 - Trips of a day")
	log.Printf("  GET  /v1/trips/:id/availability      - Seat availability")
	log.Printf("  GET  /v1/trips/:id/manifest.pdf      - Passenger manifest")
	log.Printf("  POST /v1/trips/:id/sales             - Sell seats")
	log.Printf("  POST /v1/sales/:id/confirm           - Confirm held sale")
	log.Printf("  POST /v1/tickets/:id/{cancel,board,no-show}")
	log.Printf("  GET  /v1/reports/{occupancy,usage}   - Reports")
	log.Println("═══════════════════════════════════════════════════")

	if err := fiberApp.Listen(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func usageReader(a *app.App) api.UsageReader {
	if a.Pool == nil {
		return nil
	}
	return middleware.PostgresUsage{DB: a.Pool}
}
