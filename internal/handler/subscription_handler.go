package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/sportcrm/internal/domain"
	"github.com/mansoorceksport/sportcrm/internal/middleware"
	"github.com/mansoorceksport/sportcrm/internal/period"
	"github.com/mansoorceksport/sportcrm/internal/service"
)

type SubscriptionHandler struct {
	subscriptionService *service.SubscriptionService
}

func NewSubscriptionHandler(subscriptionService *service.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptionService: subscriptionService}
}

// --- Subscription Types ---

type subscriptionTypeRequest struct {
	Name          string   `json:"name" validate:"required,max=200"`
	Granularity   string   `json:"granularity" validate:"required,oneof=day week month year"`
	Duration      int      `json:"duration" validate:"required,min=1"`
	Rounding      bool     `json:"rounding"`
	VisitLimit    int      `json:"visit_limit" validate:"required,min=1"`
	Price         float64  `json:"price" validate:"min=0"`
	EventClassIDs []string `json:"event_class_ids" validate:"required,min=1,dive,required"`
}

// CreateType POST /v1/subscription-types
func (h *SubscriptionHandler) CreateType(c *fiber.Ctx) error {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return missingTenant(c)
	}

	var req subscriptionTypeRequest
	if msg, ok := bind(c, &req); !ok {
		return badRequest(c, msg)
	}

	st := &domain.SubscriptionType{
		TenantID: tenantID,
		Name:     req.Name,
		Plan: period.Plan{
			Granularity: period.Granularity(req.Granularity),
			Duration:    req.Duration,
			Rounding:    req.Rounding,
			VisitLimit:  req.VisitLimit,
		},
		Price:         req.Price,
		EventClassIDs: req.EventClassIDs,
	}
	if err := h.subscriptionService.CreateType(c.UserContext(), st); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(st)
}

// GetType GET /v1/subscription-types/:id
func (h *SubscriptionHandler) GetType(c *fiber.Ctx) error {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return missingTenant(c)
	}
	st, err := h.subscriptionService.GetType(c.UserContext(), tenantID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(st)
}

// --- Client Subscriptions ---

type purchaseRequest struct {
	ClientID           string `json:"client_id" validate:"required"`
	SubscriptionTypeID string `json:"subscription_type_id" validate:"required"`
	PurchaseDate       string `json:"purchase_date"` // defaults to today
}

// Purchase POST /v1/subscriptions
func (h *SubscriptionHandler) Purchase(c *fiber.Ctx) error {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return missingTenant(c)
	}

	var req purchaseRequest
	if msg, ok := bind(c, &req); !ok {
		return badRequest(c, msg)
	}
	var purchase time.Time
	if req.PurchaseDate != "" {
		d, err := parseDate("purchase_date", req.PurchaseDate)
		if err != nil {
			return badRequest(c, err.Error())
		}
		purchase = d
	}

	sub, err := h.subscriptionService.Purchase(c.UserContext(), tenantID, req.ClientID, req.SubscriptionTypeID, purchase)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

// Get GET /v1/subscriptions/:id
func (h *SubscriptionHandler) Get(c *fiber.Ctx) error {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return missingTenant(c)
	}
	status, err := h.subscriptionService.Get(c.UserContext(), tenantID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	if !canView(c, status.ClientSubscription) {
		return respondError(c, domain.ErrSubscriptionNotFound)
	}
	return c.JSON(status)
}

// RemainingEvents GET /v1/subscriptions/:id/remaining-events
func (h *SubscriptionHandler) RemainingEvents(c *fiber.Ctx) error {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return missingTenant(c)
	}
	if err := h.checkOwner(c, tenantID); err != nil {
		return respondError(c, err)
	}

	events, err := h.subscriptionService.RemainingEvents(c.UserContext(), tenantID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"events": events, "count": len(events)})
}

// History GET /v1/subscriptions/:id/extensions
func (h *SubscriptionHandler) History(c *fiber.Ctx) error {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return missingTenant(c)
	}
	if err := h.checkOwner(c, tenantID); err != nil {
		return respondError(c, err)
	}

	history, err := h.subscriptionService.History(c.UserContext(), tenantID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	if history == nil {
		history = []*domain.ExtensionHistory{}
	}
	return c.JSON(history)
}

type visitRequest struct {
	EventClassID string `json:"event_class_id" validate:"required"`
	Date         string `json:"date" validate:"required"`
}

// MarkVisit POST /v1/subscriptions/:id/visits
func (h *SubscriptionHandler) MarkVisit(c *fiber.Ctx) error {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return missingTenant(c)
	}

	var req visitRequest
	if msg, ok := bind(c, &req); !ok {
		return badRequest(c, msg)
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		return badRequest(c, err.Error())
	}

	sub, err := h.subscriptionService.MarkVisit(c.UserContext(), tenantID, c.Params("id"), req.EventClassID, date)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}

// RestoreVisit DELETE /v1/subscriptions/:id/visits/:event_id
// event_id is the session key, e.g. 65f0...@2019-02-27.
func (h *SubscriptionHandler) RestoreVisit(c *fiber.Ctx) error {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return missingTenant(c)
	}

	classID, date, err := domain.ParseEventKey(c.Params("event_id"))
	if err != nil {
		return respondError(c, err)
	}

	sub, err := h.subscriptionService.RestoreVisit(c.UserContext(), tenantID, c.Params("id"), classID, date)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}

type extendRequest struct {
	AddedVisits int    `json:"added_visits" validate:"min=0"`
	Reason      string `json:"reason" validate:"max=500"`
}

// Extend POST /v1/subscriptions/:id/extensions
func (h *SubscriptionHandler) Extend(c *fiber.Ctx) error {
	tenantID, ok := tenantFrom(c)
	if !ok {
		return missingTenant(c)
	}

	var req extendRequest
	if msg, ok := bind(c, &req); !ok {
		return badRequest(c, msg)
	}

	sub, record, err := h.subscriptionService.Extend(c.UserContext(), tenantID, c.Params("id"), req.AddedVisits, req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	if record == nil {
		return c.JSON(fiber.Map{"subscription": sub})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"subscription": sub, "extension": record})
}

// checkOwner hides subscriptions of other clients from client callers
func (h *SubscriptionHandler) checkOwner(c *fiber.Ctx, tenantID string) error {
	if !clientOnly(c) {
		return nil
	}
	status, err := h.subscriptionService.Get(c.UserContext(), tenantID, c.Params("id"))
	if err != nil {
		return err
	}
	if !canView(c, status.ClientSubscription) {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

func clientOnly(c *fiber.Ctx) bool {
	return middleware.HasRole(c, domain.RoleClient) &&
		!middleware.HasRole(c, domain.RoleCoach) &&
		!middleware.HasRole(c, domain.RoleTenantAdmin) &&
		!middleware.HasRole(c, domain.RoleSuperAdmin)
}

func canView(c *fiber.Ctx, sub *domain.ClientSubscription) bool {
	return !clientOnly(c) || sub.ClientID == middleware.UserID(c)
}
