package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/sportcrm/internal/service"
	"github.com/mansoorceksport/sportcrm/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

type EventHandler struct {
	eventService *service.EventService
}

func NewEventHandler(eventService *service.EventService) *EventHandler {
	return &EventHandler{eventService: eventService}
}

type eventRequest struct {
	EventClassID  string `json:"event_class_id" validate:"required"`
	Date          string `json:"date" validate:"required"`
	WithExtending bool   `json:"with_extending"`
}

// Cancel POST /v1/events/cancel
func (h *EventHandler) Cancel(c *fiber.Ctx) error {
	return h.handle(c, func(tenantID string, req eventRequest, date time.Time) (*service.FanOutResult, error) {
		return h.eventService.Cancel(c.UserContext(), tenantID, req.EventClassID, date, req.WithExtending)
	})
}

// Reactivate POST /v1/events/reactivate
func (h *EventHandler) Reactivate(c *fiber.Ctx) error {
	return h.handle(c, func(tenantID string, req eventRequest, date time.Time) (*service.FanOutResult, error) {
		return h.eventService.Reactivate(c.UserContext(), tenantID, req.EventClassID, date)
	})
}

func (h *EventHandler) handle(c *fiber.Ctx, run func(tenantID string, req eventRequest, date time.Time) (*service.FanOutResult, error)) error {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return missingTenant(c)
	}

	var req eventRequest
	if msg, ok := bind(c, &req); !ok {
		return badRequest(c, msg)
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		return badRequest(c, err.Error())
	}

	result, err := run(tenantID, req, date)
	if result != nil {
		telemetry.AddSpanEvent(c, "subscriptions.fan_out",
			attribute.Int("checked", result.Checked),
			attribute.Int("extended", result.Extended),
			attribute.Int("failed", result.Failed),
		)
	}
	switch {
	case err != nil && result != nil:
		// The event itself was saved; some subscriptions were not updated.
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":  "Some subscriptions could not be updated, retry the request",
			"result": result,
		})
	case err != nil:
		return respondError(c, err)
	}
	return c.JSON(result)
}
