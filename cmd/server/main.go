package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ahmetk3436/herald/internal/config"
	"github.com/ahmetk3436/herald/internal/database"
	"github.com/ahmetk3436/herald/internal/dispatch"
	"github.com/ahmetk3436/herald/internal/handlers"
	"github.com/ahmetk3436/herald/internal/mailer"
	"github.com/ahmetk3436/herald/internal/models"
	"github.com/ahmetk3436/herald/internal/routes"
	"github.com/ahmetk3436/herald/internal/services"
	"github.com/ahmetk3436/herald/internal/store"
	"github.com/ahmetk3436/herald/internal/templates"
	"github.com/ahmetk3436/herald/internal/variables"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

func main() {
	// ─── Config ──────────────────────────────────────────────────────────
	cfg := config.Load()

	// JSON structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting Herald", "version", handlers.Version)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	loc, _ := cfg.Location()

	// ─── Database ────────────────────────────────────────────────────────
	db, err := database.Connect(cfg)
	if err != nil {
		slog.Error("Database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(db); err != nil {
		slog.Error("Database migration failed", "error", err)
		os.Exit(1)
	}
	st := store.New(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Mapping & rendering ─────────────────────────────────────────────
	mapper := variables.New(variables.WithLocation(loc))
	renderer := templates.NewRenderer(mapper)

	if cfg.TemplatesFile != "" {
		tpls, err := templates.LoadCatalog(cfg.TemplatesFile)
		if err != nil {
			slog.Error("Template catalog load failed", "error", err)
			os.Exit(1)
		}
		if err := templates.Sync(ctx, st, tpls); err != nil {
			slog.Error("Template catalog sync failed", "error", err)
			os.Exit(1)
		}
		go func() {
			err := templates.WatchCatalog(ctx, cfg.TemplatesFile, func(tpls []models.EmailTemplate) {
				if err := templates.Sync(ctx, st, tpls); err != nil {
					slog.Error("Template catalog sync failed", "error", err)
				}
			})
			if err != nil {
				slog.Error("Template catalog watch stopped", "error", err)
			}
		}()
	}

	// ─── Email transport ─────────────────────────────────────────────────
	var transport mailer.Transport = mailer.LogTransport{}
	if cfg.SMTPHost != "" {
		transport = mailer.NewSMTPTransport(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			Timeout:  time.Duration(cfg.SMTPTimeout) * time.Second,
		})
	} else {
		slog.Warn("SMTP_HOST not set, emails will only be logged")
	}

	// ─── Dispatcher ──────────────────────────────────────────────────────
	var queue dispatch.Queue = dispatch.NewMemoryQueue(cfg.DispatchQueueSize)
	if cfg.RedisEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("Redis connection failed", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		queue = dispatch.NewRedisQueue(rdb, cfg.RedisQueueKey, cfg.DispatchQueueSize)
		slog.Info("Redis dispatch queue enabled", "addr", cfg.RedisAddr, "key", cfg.RedisQueueKey)
	}

	dispatcher := dispatch.New(st, queue, transport, dispatch.Policy{
		MaxAttempts: cfg.DispatchMaxAttempts,
		BackoffBase: cfg.BackoffBase(),
		BackoffMax:  cfg.BackoffMax(),
	}, cfg.DispatchWorkers)
	dispatcher.Start(ctx)
	if n, err := dispatcher.Recover(ctx); err != nil {
		slog.Error("Dispatch recovery failed", "error", err)
	} else if n > 0 {
		slog.Info("Recovered undelivered emails", "count", n)
	}

	// ─── Evaluator ───────────────────────────────────────────────────────
	pipeline := services.NewPipeline(st, mapper, renderer, dispatcher)
	evaluator := services.NewEvaluator(st, pipeline, cfg.EvaluatorInterval, cfg.NotifyOnResolve)
	evaluator.Start()

	// ─── Monitor Checker ─────────────────────────────────────────────────
	monitorChecker := services.NewMonitorChecker(st, cfg.MonitorCheckInterval)
	monitorChecker.Start()

	// ─── Metric Scraper ──────────────────────────────────────────────────
	targets, _ := cfg.Targets()
	var scraper *services.MetricScraper
	if len(targets) > 0 {
		scrapeTargets := make([]services.ScrapeTarget, 0, len(targets))
		for _, t := range targets {
			scrapeTargets = append(scrapeTargets, services.ScrapeTarget{Name: t.Name, URL: t.URL})
		}
		scraper = services.NewMetricScraper(st, scrapeTargets, cfg.ScrapeInterval)
		scraper.Start()
	}

	// ─── Fiber App ───────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      "herald v" + handlers.Version,
		ServerHeader: "herald",
		BodyLimit:    2 * 1024 * 1024,
		ErrorHandler: handlers.ErrorHandler,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, PATCH, OPTIONS",
	}))

	app.Use(recover.New(recover.Config{
		EnableStackTrace: false,
	}))

	// Security headers
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		return c.Next()
	})

	// Request logger
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if c.Path() == "/api/health" {
			return err
		}
		slog.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		)
		return err
	})

	// ─── Routes ──────────────────────────────────────────────────────────
	routes.Setup(app, cfg, routes.Handlers{
		Auth:      handlers.NewAuthHandler(cfg),
		System:    handlers.NewSystemHandler(st),
		Alert:     handlers.NewAlertHandler(st),
		Monitor:   handlers.NewMonitorHandler(st, monitorChecker),
		Template:  handlers.NewTemplateHandler(st, mapper, renderer),
		Email:     handlers.NewEmailHandler(st, dispatcher),
		Evaluator: handlers.NewEvaluatorHandler(evaluator),
	})

	// ─── Graceful Shutdown ───────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down Herald...")

		evaluator.Stop()
		monitorChecker.Stop()
		if scraper != nil {
			scraper.Stop()
		}
		dispatcher.Stop()
		cancel()
		if err := queue.Close(); err != nil {
			slog.Error("Queue close error", "error", err)
		}

		if err := app.Shutdown(); err != nil {
			slog.Error("Fiber shutdown error", "error", err)
		}

		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	// ─── Start ───────────────────────────────────────────────────────────
	listenAddr := ":" + cfg.Port
	slog.Info("Herald listening", "addr", listenAddr)

	if err := app.Listen(listenAddr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
