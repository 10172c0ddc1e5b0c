package server

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/mansoorceksport/sportcrm/internal/config"
	"github.com/mansoorceksport/sportcrm/internal/domain"
	"github.com/mansoorceksport/sportcrm/internal/handler"
	"github.com/mansoorceksport/sportcrm/internal/middleware"
	"github.com/mansoorceksport/sportcrm/internal/repository"
	"github.com/mansoorceksport/sportcrm/internal/service"
	"github.com/mansoorceksport/sportcrm/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// AppDependencies holds the dependencies required to start the application
type AppDependencies struct {
	Config      *config.Config
	MongoDB     *mongo.Database
	RedisClient *redis.Client
}

// NewApp creates and configures the Fiber application with the given dependencies
func NewApp(deps AppDependencies) (*fiber.App, error) {
	// Initialize repositories
	redisRepo := repository.NewRedisCacheRepository(deps.RedisClient)
	classRepo := repository.NewCachedEventClassRepository(
		repository.NewMongoEventClassRepository(deps.MongoDB),
		redisRepo,
		deps.Config.Redis.CalendarCacheTTL,
	)
	eventRepo := repository.NewMongoEventRepository(deps.MongoDB)
	typeRepo := repository.NewMongoSubscriptionTypeRepository(deps.MongoDB)
	subRepo := repository.NewMongoClientSubscriptionRepository(deps.MongoDB)
	historyRepo := repository.NewMongoExtensionHistoryRepository(deps.MongoDB)

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	// Initialize services
	calendarService := service.NewCalendarService(classRepo, eventRepo, classRepo)
	subscriptionService := service.NewSubscriptionService(
		typeRepo,
		subRepo,
		historyRepo,
		classRepo,
		eventRepo,
		repository.NewMongoTransactor(deps.MongoDB.Client()),
		metrics,
	)
	eventService := service.NewEventService(
		classRepo,
		eventRepo,
		typeRepo,
		subRepo,
		historyRepo,
		subscriptionService,
		deps.Config.Server.FanOutLimit,
	)

	// Initialize handlers
	eventClassHandler := handler.NewEventClassHandler(calendarService)
	subscriptionHandler := handler.NewSubscriptionHandler(subscriptionService)
	eventHandler := handler.NewEventHandler(eventService)

	app := fiber.New(fiber.Config{
		AppName:      "SportCRM API",
		BodyLimit:    int(deps.Config.Server.BodyLimitMB * 1024 * 1024),
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Correlation-ID, X-Tenant-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(telemetry.FiberMiddleware())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "sportcrm",
		})
	})

	// API v1 routes, all authenticated and tenant scoped
	v1 := app.Group("/v1")
	v1.Use(middleware.VerifyToken(deps.Config.JWT.Secret))
	v1.Use(middleware.TenantScope())
	v1.Use(middleware.IdempotencyMiddleware(deps.RedisClient, deps.Config.Server.IdempotencyTTL))

	admin := middleware.AuthorizeRole(domain.RoleTenantAdmin, domain.RoleSuperAdmin)
	staff := middleware.AuthorizeRole(domain.RoleCoach, domain.RoleTenantAdmin, domain.RoleSuperAdmin)

	// ===========================================
	// EVENT CLASSES
	// ===========================================
	classes := v1.Group("/event-classes")
	classes.Post("/", admin, eventClassHandler.Create)
	classes.Get("/", eventClassHandler.List)
	classes.Get("/:id", eventClassHandler.Get)
	classes.Put("/:id", admin, eventClassHandler.Update)
	classes.Get("/:id/occurrences", eventClassHandler.Occurrences)
	classes.Get("/:id/calendar.ics", eventClassHandler.Feed)

	// ===========================================
	// SUBSCRIPTION TYPES
	// ===========================================
	types := v1.Group("/subscription-types")
	types.Post("/", admin, subscriptionHandler.CreateType)
	types.Get("/:id", subscriptionHandler.GetType)

	// ===========================================
	// CLIENT SUBSCRIPTIONS
	// ===========================================
	subs := v1.Group("/subscriptions")
	subs.Post("/", admin, subscriptionHandler.Purchase)
	subs.Get("/:id", subscriptionHandler.Get)
	subs.Get("/:id/remaining-events", subscriptionHandler.RemainingEvents)
	subs.Get("/:id/extensions", subscriptionHandler.History)
	subs.Post("/:id/extensions", admin, subscriptionHandler.Extend)
	subs.Post("/:id/visits", staff, subscriptionHandler.MarkVisit)
	subs.Delete("/:id/visits/:event_id", staff, subscriptionHandler.RestoreVisit)

	// ===========================================
	// EVENTS (cancellation)
	// ===========================================
	events := v1.Group("/events")
	events.Use(staff)
	events.Post("/cancel", eventHandler.Cancel)
	events.Post("/reactivate", eventHandler.Reactivate)

	return app, nil
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	log.Printf("Error: %v", err)
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
