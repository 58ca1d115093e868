package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
	"github.com/arturoeanton/codelens-ingest/internal/port"
)

// LocalWebhookAction is the Fiber local the webhook handler sets to the
// payload's action field.
const LocalWebhookAction = "webhook_action"

// DeliveryLog records every webhook delivery, including rejected ones.
// Writes happen off the request path and failures are only logged.
func DeliveryLog(log port.DeliveryLog) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		// Copy before Next; Fiber reuses request buffers once the handler returns.
		event := strings.Clone(c.Get(HeaderEvent))
		deliveryID := strings.Clone(c.Get(HeaderDelivery))
		ip := strings.Clone(c.IP())

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		action, _ := c.Locals(LocalWebhookAction).(string)

		d := domain.WebhookDelivery{
			DeliveryID: deliveryID,
			Event:      event,
			Action:     action,
			StatusCode: status,
			DurationMS: time.Since(start).Milliseconds(),
			RemoteIP:   ip,
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if writeErr := log.RecordDelivery(ctx, d); writeErr != nil {
				slog.Error("failed to record webhook delivery", "delivery_id", d.DeliveryID, "error", writeErr)
			}
		}()

		return err
	}
}
