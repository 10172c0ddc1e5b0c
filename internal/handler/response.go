package handler

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/sportcrm/internal/calendar"
	"github.com/mansoorceksport/sportcrm/internal/domain"
	"github.com/mansoorceksport/sportcrm/internal/icsfeed"
	"github.com/mansoorceksport/sportcrm/internal/ledger"
	"github.com/mansoorceksport/sportcrm/internal/middleware"
	"github.com/mansoorceksport/sportcrm/internal/period"
	"github.com/mansoorceksport/sportcrm/internal/service"
	"github.com/mansoorceksport/sportcrm/internal/telemetry"
)

var validate = validator.New()

// statusFor maps service errors to HTTP status codes. Unknown errors are
// internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrEventClassNotFound),
		errors.Is(err, domain.ErrEventNotFound),
		errors.Is(err, domain.ErrSubscriptionTypeNotFound),
		errors.Is(err, domain.ErrSubscriptionNotFound):
		return fiber.StatusNotFound

	case errors.Is(err, domain.ErrForbidden):
		return fiber.StatusForbidden

	case errors.Is(err, domain.ErrVersionConflict),
		errors.Is(err, domain.ErrEventCanceled),
		errors.Is(err, domain.ErrOutsideSubscription),
		errors.Is(err, ledger.ErrDuplicateVisit),
		errors.Is(err, ledger.ErrInsufficientVisits),
		errors.Is(err, ledger.ErrVisitNotMarked):
		return fiber.StatusConflict

	case errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrEventNotOnSchedule),
		errors.Is(err, domain.ErrClassNotIncluded),
		errors.Is(err, ledger.ErrInvalidVisits),
		errors.Is(err, ledger.ErrMissingEventID),
		errors.Is(err, calendar.ErrInvalidWeekday),
		errors.Is(err, calendar.ErrInvalidRange),
		errors.Is(err, calendar.ErrOutOfRange),
		errors.Is(err, period.ErrInvalidDuration),
		errors.Is(err, period.ErrUnknownGranularity),
		errors.Is(err, period.ErrInvalidVisitLimit),
		errors.Is(err, service.ErrWindowTooLarge),
		errors.Is(err, service.ErrNoVisitLimit),
		errors.Is(err, icsfeed.ErrNoSessions):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

func respondError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		log.Printf("Error: %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(status).JSON(fiber.Map{"error": "Internal server error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// bind parses the JSON body into req and runs its validate tags. The
// returned message is safe to show to the caller.
func bind(c *fiber.Ctx, req interface{}) (string, bool) {
	if err := c.BodyParser(req); err != nil {
		return "Invalid request body", false
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return validationMessage(verrs), false
		}
		return err.Error(), false
	}
	return "", true
}

func validationMessage(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is required", err.Field()))
		case "min", "gte":
			msgs = append(msgs, fmt.Sprintf("field %s must be at least %s", err.Field(), err.Param()))
		case "max", "lte":
			msgs = append(msgs, fmt.Sprintf("field %s must be at most %s", err.Field(), err.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("field %s must be one of [%s]", err.Field(), err.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is not valid", err.Field()))
		}
	}
	return strings.Join(msgs, ", ")
}

// parseDate reads a YYYY-MM-DD calendar day.
func parseDate(field, value string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be a date in YYYY-MM-DD format", field)
	}
	return d, nil
}

// tenantFrom resolves the tenant the request acts on and tags the trace
// with it.
func tenantFrom(c *fiber.Ctx) (string, bool) {
	tenantID := middleware.TenantID(c)
	if tenantID == "" {
		return "", false
	}
	telemetry.SetSpanAttribute(c, "tenant_id", tenantID)
	return tenantID, true
}

func missingTenant(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing tenant context"})
}
