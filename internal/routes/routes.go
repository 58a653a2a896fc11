package routes

import (
	"github.com/ahmetk3436/herald/internal/config"
	"github.com/ahmetk3436/herald/internal/handlers"
	"github.com/ahmetk3436/herald/internal/middleware"
	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Auth      *handlers.AuthHandler
	System    *handlers.SystemHandler
	Alert     *handlers.AlertHandler
	Monitor   *handlers.MonitorHandler
	Template  *handlers.TemplateHandler
	Email     *handlers.EmailHandler
	Evaluator *handlers.EvaluatorHandler
}

func Setup(app *fiber.App, cfg *config.Config, h Handlers) {
	// ─── Public ──────────────────────────────────────────────────────────
	app.Get("/api/health", h.System.Health)

	// ─── Auth ────────────────────────────────────────────────────────────
	app.Post("/api/auth/login", h.Auth.Login)
	app.Post("/api/auth/refresh", h.Auth.Refresh)

	// ─── Protected routes ────────────────────────────────────────────────
	api := app.Group("/api", middleware.JWTProtected(cfg.JWTSecret))

	api.Get("/auth/me", h.Auth.Me)
	api.Get("/overview", h.System.Overview)

	// Alert rules & history
	alerts := api.Group("/alerts")
	alerts.Get("/rules", h.Alert.ListAlertRules)
	alerts.Post("/rules", h.Alert.CreateAlertRule)
	alerts.Get("/rules/:id", h.Alert.GetAlertRule)
	alerts.Put("/rules/:id", h.Alert.UpdateAlertRule)
	alerts.Delete("/rules/:id", h.Alert.DeleteAlertRule)
	alerts.Get("/rules/:id/state", h.Alert.GetRuleState)
	alerts.Get("/history", h.Alert.ListHistory)
	alerts.Post("/history/:id/resolve", h.Alert.ResolveHistory)

	// API monitors
	api.Get("/monitors", h.Monitor.ListMonitors)
	api.Post("/monitors", h.Monitor.CreateMonitor)
	api.Get("/monitors/:id", h.Monitor.GetMonitor)
	api.Put("/monitors/:id", h.Monitor.UpdateMonitor)
	api.Delete("/monitors/:id", h.Monitor.DeleteMonitor)
	api.Post("/monitors/:id/check", h.Monitor.CheckNow)

	// Templates
	api.Get("/templates", h.Template.ListTemplates)
	api.Put("/templates", h.Template.SaveTemplate)
	api.Get("/templates/:id", h.Template.GetTemplate)
	api.Post("/templates/:id/preview", h.Template.Preview)
	api.Post("/templates/:id/suggest-mapping", h.Template.SuggestMapping)
	api.Post("/templates/:id/validate", h.Template.Validate)

	// Email logs
	api.Get("/emails", h.Email.ListEmails)
	api.Get("/emails/:id", h.Email.GetEmail)
	api.Post("/emails/:id/retry", h.Email.RetryEmail)

	// Evaluator
	api.Post("/evaluator/run", h.Evaluator.Run)
}
