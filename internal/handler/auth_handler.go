package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/codelens-ingest/internal/port"
	"github.com/arturoeanton/codelens-ingest/internal/service"
)

const stateCookie = "codelens_oauth_state"

// AuthService is the subset of service.AuthService the handler calls.
type AuthService interface {
	AuthURL(state string) string
	HandleCallback(ctx context.Context, code string) (*service.LoginResult, error)
}

// AuthHandler handles "Sign in with GitHub".
type AuthHandler struct {
	auth AuthService
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(auth AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Register sets up auth routes.
func (h *AuthHandler) Register(router fiber.Router) {
	auth := router.Group("/auth/github")
	auth.Get("/login", h.Login)
	auth.Get("/callback", h.Callback)
}

// Login redirects to GitHub's consent screen.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	state := generateState()
	c.Cookie(&fiber.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HTTPOnly: true,
		Secure:   c.Protocol() == "https",
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.Redirect().To(h.auth.AuthURL(state))
}

// Callback completes the flow and returns an API token as JSON.
func (h *AuthHandler) Callback(c fiber.Ctx) error {
	code := c.Query("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing authorization code"})
	}
	want := c.Cookies(stateCookie)
	got := c.Query("state")
	if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid oauth state"})
	}
	c.ClearCookie(stateCookie)

	res, err := h.auth.HandleCallback(c.Context(), code)
	if errors.Is(err, port.ErrUnauthorized) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "github sign-in rejected"})
	}
	if err != nil {
		slog.Error("Sign-in failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}
	return c.JSON(res)
}

func generateState() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
