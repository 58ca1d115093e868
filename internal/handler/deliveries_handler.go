package handler

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
)

// DeliveryLister reads the webhook delivery log.
type DeliveryLister interface {
	ListDeliveries(ctx context.Context, limit int, event string) ([]domain.WebhookDelivery, error)
}

// DeliveriesHandler serves the webhook delivery log to operators.
type DeliveriesHandler struct {
	store DeliveryLister
}

// NewDeliveriesHandler creates a new deliveries handler.
func NewDeliveriesHandler(store DeliveryLister) *DeliveriesHandler {
	return &DeliveriesHandler{store: store}
}

// Register sets up delivery log routes.
func (h *DeliveriesHandler) Register(router fiber.Router) {
	router.Group("/webhooks").Get("/deliveries", h.List)
}

// List returns recent deliveries, newest first.
func (h *DeliveriesHandler) List(c fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", "100"))
	if err != nil || limit < 1 || limit > 1000 {
		limit = 100
	}

	deliveries, err := h.store.ListDeliveries(c.Context(), limit, c.Query("event"))
	if err != nil {
		slog.Error("List deliveries failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}
	if deliveries == nil {
		deliveries = []domain.WebhookDelivery{}
	}

	return c.JSON(fiber.Map{
		"deliveries": deliveries,
		"count":      len(deliveries),
	})
}
