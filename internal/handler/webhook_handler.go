package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
	"github.com/arturoeanton/codelens-ingest/internal/middleware"
	"github.com/arturoeanton/codelens-ingest/internal/port"
	"github.com/arturoeanton/codelens-ingest/internal/service"
)

// Reconciler applies installation events.
type Reconciler interface {
	HandleInstallation(ctx context.Context, ev *domain.InstallationEvent) (*service.ReconcileResult, error)
	HandleInstallationRepositories(ctx context.Context, ev *domain.InstallationRepositoriesEvent) (*service.ReconcileResult, error)
}

// WebhookHandler receives GitHub App webhooks.
type WebhookHandler struct {
	secret     string
	reconciler Reconciler
	deliveries port.DeliveryLog
}

// NewWebhookHandler creates the webhook handler. deliveries may be nil.
func NewWebhookHandler(secret string, reconciler Reconciler, deliveries port.DeliveryLog) *WebhookHandler {
	return &WebhookHandler{secret: secret, reconciler: reconciler, deliveries: deliveries}
}

// Register sets up the webhook route. The signature check runs before any
// parsing, on the body bytes exactly as received.
func (h *WebhookHandler) Register(router fiber.Router) {
	verify := middleware.WebhookSignature(h.secret)
	if h.deliveries == nil {
		router.Post("/webhooks/github", verify, h.Receive)
		return
	}
	router.Post("/webhooks/github", middleware.DeliveryLog(h.deliveries), verify, h.Receive)
}

// Receive dispatches a verified delivery by its event type.
func (h *WebhookHandler) Receive(c fiber.Ctx) (err error) {
	event := c.Get(middleware.HeaderEvent)
	deliveryID := c.Get(middleware.HeaderDelivery)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Webhook handler panic", "event", event, "delivery_id", deliveryID, "panic", fmt.Sprint(r))
			err = c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
		}
	}()

	body := c.Body()
	var envelope struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		slog.Warn("Webhook body is not valid JSON", "event", event, "delivery_id", deliveryID, "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON payload"})
	}
	c.Locals(middleware.LocalWebhookAction, envelope.Action)

	slog.Debug("Webhook received", "event", event, "action", envelope.Action, "delivery_id", deliveryID)

	switch event {
	case domain.EventPing:
		return c.JSON(fiber.Map{"message": "pong"})
	case domain.EventPullRequest:
		return h.pullRequest(c, body, deliveryID)
	case domain.EventInstallation:
		return h.installation(c, body, deliveryID)
	case domain.EventInstallationRepositories:
		return h.installationRepositories(c, body, deliveryID)
	default:
		slog.Info("Webhook event not handled", "event", event, "delivery_id", deliveryID)
		return c.JSON(fiber.Map{"message": "not handled", "event": event})
	}
}

func (h *WebhookHandler) pullRequest(c fiber.Ctx, body []byte, deliveryID string) error {
	var ev domain.PullRequestEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return badPayload(c, domain.EventPullRequest, deliveryID, err)
	}

	switch ev.Action {
	case "opened", "synchronize":
		// Pull request analysis is not run here; the event is only classified.
		slog.Info("Pull request queued",
			"action", ev.Action, "number", ev.Number,
			"full_name", ev.Repository.FullName, "head_sha", ev.PullRequest.Head.SHA,
			"delivery_id", deliveryID)
		return c.JSON(fiber.Map{"message": "queued", "queued": true})
	default:
		return c.JSON(fiber.Map{"message": "ignored", "queued": false})
	}
}

func (h *WebhookHandler) installation(c fiber.Ctx, body []byte, deliveryID string) error {
	var ev domain.InstallationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return badPayload(c, domain.EventInstallation, deliveryID, err)
	}
	res, err := h.reconciler.HandleInstallation(c.Context(), &ev)
	if err != nil {
		return reconcileFailed(c, domain.EventInstallation, deliveryID, err)
	}
	return c.JSON(fiber.Map{"message": "ok", "result": res})
}

func (h *WebhookHandler) installationRepositories(c fiber.Ctx, body []byte, deliveryID string) error {
	var ev domain.InstallationRepositoriesEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return badPayload(c, domain.EventInstallationRepositories, deliveryID, err)
	}
	res, err := h.reconciler.HandleInstallationRepositories(c.Context(), &ev)
	if err != nil {
		return reconcileFailed(c, domain.EventInstallationRepositories, deliveryID, err)
	}
	return c.JSON(fiber.Map{"message": "ok", "result": res})
}

func badPayload(c fiber.Ctx, event, deliveryID string, err error) error {
	slog.Warn("Webhook payload does not match event schema", "event", event, "delivery_id", deliveryID, "error", err)
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid " + strings.ReplaceAll(event, "_", " ") + " payload"})
}

// reconcileFailed answers 500 so GitHub redelivers; reconciliation is idempotent.
func reconcileFailed(c fiber.Ctx, event, deliveryID string, err error) error {
	slog.Error("Webhook reconciliation failed", "event", event, "delivery_id", deliveryID, "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
}
