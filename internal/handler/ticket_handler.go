package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/salon-loyalty-core/internal/model"
)

// TicketEventServiceInterface defines the interface for completion-event logic.
type TicketEventServiceInterface interface {
	HandleTicketCompletion(ctx context.Context, event *model.TicketEvent) error
}

// TicketHandler receives ticket-change events from the queue subsystem.
type TicketHandler struct {
	service   TicketEventServiceInterface
	validator *validator.Validate
}

// NewTicketHandler creates a new TicketHandler with the given service and validator.
func NewTicketHandler(svc TicketEventServiceInterface, v *validator.Validate) *TicketHandler {
	return &TicketHandler{service: svc, validator: v}
}

// formatEventValidationError converts validator errors to caller-facing messages.
func formatEventValidationError(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			switch fe.Field() {
			case "TicketID":
				return "invalid event: ticket_id is required"
			case "After":
				return "invalid event: after snapshot is required"
			}
		}
	}
	return "invalid event"
}

// HandleEvent handles POST /internal/tickets/events requests.
//
// Returns 204 for every accepted event, whether or not it awarded a stamp:
// ineligible and duplicate events are no-ops, not failures. A 500 signals
// an infrastructure failure; the event source may redeliver, which is safe
// because the award is idempotent per ticket.
func (h *TicketHandler) HandleEvent(c *fiber.Ctx) error {
	var event model.TicketEvent

	if err := c.BodyParser(&event); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid event body"})
	}
	if err := h.validator.Struct(event); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatEventValidationError(err)})
	}

	if err := h.service.HandleTicketCompletion(c.Context(), &event); err != nil {
		log.Error().
			Err(err).
			Str("request_id", c.GetRespHeader("X-Request-ID")).
			Str("ticket_id", event.TicketID).
			Msg("failed to process ticket completion event")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.SendStatus(fiber.StatusNoContent)
}
