package handlers

import (
	"log/slog"

	"github.com/ahmetk3436/herald/internal/config"
	"github.com/ahmetk3436/herald/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

type AuthHandler struct {
	cfg          *config.Config
	passwordHash []byte
}

func NewAuthHandler(cfg *config.Config) *AuthHandler {
	h := &AuthHandler{cfg: cfg}
	if cfg.AdminPassword == "" {
		slog.Warn("ADMIN_PASSWORD not set, login is disabled")
		return h
	}
	// Hash the admin password on startup
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("Failed to hash admin password", "error", err)
		return h
	}
	h.passwordHash = hash
	return h
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	if h.passwordHash == nil || req.Username != h.cfg.AdminUsername ||
		bcrypt.CompareHashAndPassword(h.passwordHash, []byte(req.Password)) != nil {
		return fail(c, fiber.StatusUnauthorized, "Invalid credentials")
	}
	return h.issue(c, req.Username, h.cfg.AdminDisplayName)
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	claims, err := middleware.ParseToken(req.RefreshToken, h.cfg.JWTSecret, middleware.TokenRefresh)
	if err != nil {
		return fail(c, fiber.StatusUnauthorized, "Invalid or expired refresh token")
	}
	return h.issue(c, claims.Username, claims.DisplayName)
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	username, _ := c.Locals("username").(string)
	displayName, _ := c.Locals("display_name").(string)
	return c.JSON(fiber.Map{
		"username":     username,
		"display_name": displayName,
	})
}

func (h *AuthHandler) issue(c *fiber.Ctx, username, displayName string) error {
	access, refresh, err := middleware.GenerateTokens(username, displayName, h.cfg.JWTSecret)
	if err != nil {
		slog.Error("Failed to generate tokens", "error", err)
		return fail(c, fiber.StatusInternalServerError, "Failed to generate tokens")
	}
	return c.JSON(fiber.Map{
		"access_token":  access,
		"refresh_token": refresh,
		"user": fiber.Map{
			"username":     username,
			"display_name": displayName,
		},
	})
}
