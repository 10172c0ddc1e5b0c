package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const CorrelationHeader = "X-Correlation-ID"

type cachedResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// IdempotencyMiddleware replays the stored response for a mutating request
// whose X-Correlation-ID was already seen within ttl. Keys are scoped by
// tenant, method and path so two tenants reusing an ID never collide.
// Only 2xx responses are stored; a failed request may be retried.
func IdempotencyMiddleware(redisClient *redis.Client, ttl time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodPost, fiber.MethodPatch, fiber.MethodPut, fiber.MethodDelete:
		default:
			return c.Next()
		}

		correlationID := c.Get(CorrelationHeader)
		if correlationID == "" {
			return c.Next()
		}

		key := fmt.Sprintf("idempotency:%s:%s:%s:%s", TenantID(c), c.Method(), c.Path(), correlationID)
		ctx := c.UserContext()

		if raw, err := redisClient.Get(ctx, key).Bytes(); err == nil {
			var cached cachedResponse
			if err := json.Unmarshal(raw, &cached); err == nil {
				c.Set("X-Idempotent-Replay", "true")
				c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
				return c.Status(cached.Status).Send(cached.Body)
			}
		}

		if err := c.Next(); err != nil {
			return err
		}

		status := c.Response().StatusCode()
		if status < 200 || status >= 300 {
			return nil
		}
		raw, err := json.Marshal(cachedResponse{Status: status, Body: c.Response().Body()})
		if err != nil {
			return nil
		}

		setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := redisClient.Set(setCtx, key, raw, ttl).Err(); err != nil {
			log.Printf("Warning: failed to store idempotent response %s: %v", key, err)
		}
		return nil
	}
}
