package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/arturoeanton/codelens-ingest/internal/adapter/auth"
	"github.com/arturoeanton/codelens-ingest/internal/adapter/jobs"
	"github.com/arturoeanton/codelens-ingest/internal/bootstrap"
	"github.com/arturoeanton/codelens-ingest/internal/handler"
	"github.com/arturoeanton/codelens-ingest/internal/middleware"
	"github.com/arturoeanton/codelens-ingest/internal/port"
	"github.com/arturoeanton/codelens-ingest/internal/service"
	"github.com/arturoeanton/codelens-ingest/pkg/config"
)

const drainTimeout = 30 * time.Second

func main() {
	// ── Load .env file ───────────────────────────────────────────────────
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	// ── Configuration ────────────────────────────────────────────────────
	cfg := config.Load()
	slog.SetDefault(cfg.NewLogger())
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.GitHubWebhookSecret == "" {
		slog.Warn("GITHUB_WEBHOOK_SECRET is not set, every webhook will be rejected with 500")
	}

	slog.Info("Starting CodeLens ingest",
		"port", cfg.Port,
		"job_backend", cfg.JobBackend,
		"github_app_id", cfg.GitHubAppID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Database ─────────────────────────────────────────────────────────
	pgStore, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()

	// ── Pipeline & jobs ──────────────────────────────────────────────────
	ingestService, err := bootstrap.Pipeline(cfg, pgStore)
	if err != nil {
		slog.Error("failed to build ingestion pipeline", "error", err)
		os.Exit(1)
	}

	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	var (
		trigger port.JobTrigger
		local   *jobs.LocalTrigger
	)
	switch cfg.JobBackend {
	case config.JobBackendTemporal:
		tc, err := bootstrap.DialTemporal(cfg)
		if err != nil {
			slog.Error("failed to connect to Temporal", "error", err)
			os.Exit(1)
		}
		defer tc.Close()
		trigger = jobs.NewTemporalTrigger(tc, cfg.TemporalTaskQueue, jobs.PolicyFromConfig(cfg))
	default:
		local = jobs.NewLocalTrigger(runCtx, ingestService, jobs.PolicyFromConfig(cfg), jobs.NewTracker(time.Hour))
		trigger = local
	}

	// ── Services ─────────────────────────────────────────────────────────
	installService := service.NewInstallationService(pgStore, pgStore, trigger)
	repoService := service.NewRepoService(pgStore, trigger, ingestService)

	jwtCfg := middleware.JWTConfig{
		Secret:    cfg.APITokenSecret,
		Issuer:    cfg.APITokenIssuer,
		ExpiresIn: cfg.APITokenTTL,
	}

	// ── Fiber App ────────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		BodyLimit:    25 << 20, // GitHub caps payloads at 25 MB
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{cfg.FrontendURL},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
	}))

	// ── Public Routes ────────────────────────────────────────────────────
	app.Get("/api/v1/health", func(c fiber.Ctx) error {
		if err := pgStore.DB().PingContext(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unhealthy", "error": "database unreachable"})
		}
		return c.JSON(fiber.Map{
			"status":      "healthy",
			"app":         cfg.AppName,
			"job_backend": cfg.JobBackend,
		})
	})

	handler.NewWebhookHandler(cfg.GitHubWebhookSecret, installService, pgStore).Register(app)

	// Sign-in routes must be registered before the authenticated group.
	oauth, err := auth.NewGitHubOAuth(auth.GitHubOAuthConfig{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		RedirectURL:  cfg.GitHubRedirectURL,
		WebURL:       cfg.GitHubWebURL,
		APIURL:       cfg.GitHubAPIURL,
	})
	switch {
	case err == nil:
		authService := service.NewAuthService(oauth, pgStore, installService, jwtCfg)
		handler.NewAuthHandler(authService).Register(app.Group("/api/v1"))
	case errors.Is(err, port.ErrCapabilityDisabled):
		slog.Info("GitHub sign-in disabled", "reason", err)
	default:
		slog.Error("failed to configure GitHub sign-in", "error", err)
		os.Exit(1)
	}

	// ── Protected Routes ─────────────────────────────────────────────────
	api := app.Group("/api/v1", middleware.JWTMiddleware(jwtCfg))

	handler.NewRepoHandler(repoService).Register(api)
	handler.NewDeliveriesHandler(pgStore).Register(api)
	if local != nil {
		handler.NewJobsHandler(local.Tracker()).Register(api)
	}

	// ── Start ────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Fiber listening", "port", cfg.Port)
		errCh <- app.Listen(":"+cfg.Port, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			slog.Error("server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("server shutdown", "error", err)
	}
	if local != nil {
		drainLocalRuns(local, cancelRuns)
	}
}

// drainLocalRuns waits for in-process ingestions, then abandons pending
// retries once drainTimeout passes. Abandoned runs stay failed on their row.
func drainLocalRuns(local *jobs.LocalTrigger, cancelRuns context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		local.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		slog.Warn("Ingestion runs still active, cancelling")
		cancelRuns()
		<-done
	}
}
