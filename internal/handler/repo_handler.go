package handler

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
	"github.com/arturoeanton/codelens-ingest/internal/port"
)

// RepoService is the subset of service.RepoService the handler calls.
type RepoService interface {
	GetRepo(ctx context.Context, id string) (*domain.Repository, error)
	Reingest(ctx context.Context, id string, force bool) (string, error)
}

// RepoHandler serves repository status and manual re-analysis.
type RepoHandler struct {
	repos RepoService
}

// NewRepoHandler creates a new repo handler.
func NewRepoHandler(repos RepoService) *RepoHandler {
	return &RepoHandler{repos: repos}
}

// Register sets up repository routes on an authenticated router.
func (h *RepoHandler) Register(api fiber.Router) {
	repos := api.Group("/repos")
	repos.Get("/:id", h.Get)
	repos.Post("/:id/ingest", h.Ingest)
}

// Get returns a repository with its ingestion fields.
func (h *RepoHandler) Get(c fiber.Ctx) error {
	repo, err := h.repos.GetRepo(c.Context(), c.Params("id"))
	if err != nil {
		return repoError(c, err)
	}
	return c.JSON(repo)
}

// Ingest queues an ingestion run. With ?force=true a finished repository is
// analysed again.
func (h *RepoHandler) Ingest(c fiber.Ctx) error {
	id := c.Params("id")
	force := queryBool(c, "force", false)

	jobID, err := h.repos.Reingest(c.Context(), id, force)
	if err != nil {
		return repoError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "ingestion queued",
		"repo_id": id,
		"job_id":  jobID,
		"force":   force,
	})
}

func repoError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, port.ErrRepoNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "repository not found"})
	case errors.Is(err, port.ErrIngestionConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, port.ErrCapabilityDisabled):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "job backend not configured"})
	}
	slog.Error("Repository request failed", "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
}

// queryBool reads a boolean query param with a default value.
func queryBool(c fiber.Ctx, key string, defaultVal bool) bool {
	v := c.Query(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
