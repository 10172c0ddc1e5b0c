package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/sportcrm/internal/calendar"
	"github.com/mansoorceksport/sportcrm/internal/domain"
	"github.com/mansoorceksport/sportcrm/internal/service"
)

type EventClassHandler struct {
	calendarService *service.CalendarService
}

func NewEventClassHandler(calendarService *service.CalendarService) *EventClassHandler {
	return &EventClassHandler{calendarService: calendarService}
}

type eventClassRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Location string `json:"location" validate:"max=200"`
	CoachID  string `json:"coach_id"`
	Days     []int  `json:"days" validate:"max=7,dive,min=0,max=6"`
	DateFrom string `json:"date_from" validate:"required"`
	DateTo   string `json:"date_to"`
}

func (r *eventClassRequest) toDomain(tenantID string) (*domain.EventClass, error) {
	from, err := parseDate("date_from", r.DateFrom)
	if err != nil {
		return nil, err
	}
	ec := &domain.EventClass{
		TenantID: tenantID,
		Name:     r.Name,
		Location: r.Location,
		CoachID:  r.CoachID,
		Days:     r.Days,
		DateFrom: from,
	}
	if r.DateTo != "" {
		to, err := parseDate("date_to", r.DateTo)
		if err != nil {
			return nil, err
		}
		ec.DateTo = &to
	}
	return ec, nil
}

// Create POST /v1/event-classes
func (h *EventClassHandler) Create(c *fiber.Ctx) error {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return missingTenant(c)
	}

	var req eventClassRequest
	if msg, ok := bind(c, &req); !ok {
		return badRequest(c, msg)
	}
	ec, err := req.toDomain(tenantID)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.calendarService.CreateEventClass(c.UserContext(), ec); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(ec)
}

// Update PUT /v1/event-classes/:id
func (h *EventClassHandler) Update(c *fiber.Ctx) error {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return missingTenant(c)
	}

	var req eventClassRequest
	if msg, ok := bind(c, &req); !ok {
		return badRequest(c, msg)
	}
	ec, err := req.toDomain(tenantID)
	if err != nil {
		return badRequest(c, err.Error())
	}

	current, err := h.calendarService.GetEventClass(c.UserContext(), tenantID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	ec.ID = current.ID
	ec.CreatedAt = current.CreatedAt

	if err := h.calendarService.UpdateEventClass(c.UserContext(), ec); err != nil {
		return respondError(c, err)
	}
	return c.JSON(ec)
}

// Get GET /v1/event-classes/:id
func (h *EventClassHandler) Get(c *fiber.Ctx) error {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return missingTenant(c)
	}
	ec, err := h.calendarService.GetEventClass(c.UserContext(), tenantID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ec)
}

// List GET /v1/event-classes
func (h *EventClassHandler) List(c *fiber.Ctx) error {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return missingTenant(c)
	}
	classes, err := h.calendarService.ListEventClasses(c.UserContext(), tenantID)
	if err != nil {
		return respondError(c, err)
	}
	if classes == nil {
		classes = []*domain.EventClass{}
	}
	return c.JSON(classes)
}

// Occurrences GET /v1/event-classes/:id/occurrences?from=YYYY-MM-DD&to=YYYY-MM-DD
// Without a window the next four weeks are returned.
func (h *EventClassHandler) Occurrences(c *fiber.Ctx) error {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return missingTenant(c)
	}

	from := calendar.Day(time.Now())
	if v := c.Query("from"); v != "" {
		d, err := parseDate("from", v)
		if err != nil {
			return badRequest(c, err.Error())
		}
		from = d
	}
	to := from.AddDate(0, 0, 27)
	if v := c.Query("to"); v != "" {
		d, err := parseDate("to", v)
		if err != nil {
			return badRequest(c, err.Error())
		}
		to = d
	}

	occurrences, err := h.calendarService.Calendar(c.UserContext(), tenantID, c.Params("id"), from, to)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"event_class_id": c.Params("id"),
		"from":           from.Format(time.DateOnly),
		"to":             to.Format(time.DateOnly),
		"occurrences":    occurrences,
	})
}

// Feed GET /v1/event-classes/:id/calendar.ics
func (h *EventClassHandler) Feed(c *fiber.Ctx) error {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return missingTenant(c)
	}
	body, err := h.calendarService.Feed(c.UserContext(), tenantID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	c.Set(fiber.HeaderContentType, "text/calendar; charset=utf-8")
	return c.SendString(body)
}
