package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
	"github.com/arturoeanton/codelens-ingest/internal/middleware"
	"github.com/arturoeanton/codelens-ingest/internal/port"
)

// OAuthProvider runs the browser sign-in flow against the code host.
type OAuthProvider interface {
	AuthURL(state string) string
	Authenticate(ctx context.Context, code string) (*domain.User, error)
}

// Claimer links pending personal installations to a signed-in account.
type Claimer interface {
	ClaimForUser(ctx context.Context, githubID int64) (int, error)
}

// LoginResult is returned to the browser after a successful sign-in.
type LoginResult struct {
	Token   string       `json:"token"`
	User    *domain.User `json:"user"`
	Claimed int          `json:"claimed_installations"`
}

// AuthService handles the sign-in flow.
type AuthService struct {
	oauth   OAuthProvider
	users   port.UserStore
	claimer Claimer
	jwtCfg  middleware.JWTConfig
}

// NewAuthService creates a new authentication service.
func NewAuthService(oauth OAuthProvider, users port.UserStore, claimer Claimer, jwtCfg middleware.JWTConfig) *AuthService {
	return &AuthService{oauth: oauth, users: users, claimer: claimer, jwtCfg: jwtCfg}
}

// AuthURL returns the consent screen URL carrying state.
func (s *AuthService) AuthURL(state string) string {
	return s.oauth.AuthURL(state)
}

// HandleCallback exchanges the code, upserts the user, claims any personal
// installation that arrived before the user existed, and returns an API token.
func (s *AuthService) HandleCallback(ctx context.Context, code string) (*LoginResult, error) {
	profile, err := s.oauth.Authenticate(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	user, err := s.users.UpsertUser(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	claimed := 0
	if githubID, err := strconv.ParseInt(user.ProviderID, 10, 64); err == nil {
		claimed, err = s.claimer.ClaimForUser(ctx, githubID)
		if err != nil {
			// Sign-in still succeeds; the next login or webhook retries the link.
			slog.Error("Installation claim failed", "user_id", user.ID, "error", err)
		}
	}

	token, err := middleware.GenerateJWT(user, s.jwtCfg)
	if err != nil {
		return nil, fmt.Errorf("generate jwt: %w", err)
	}

	slog.Info("User authenticated", "user_id", user.ID, "provider", user.Provider, "claimed_installations", claimed)
	return &LoginResult{Token: token, User: user, Claimed: claimed}, nil
}
