package middleware

import (
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mansoorceksport/sportcrm/internal/domain"
)

// Context keys for storing caller info
const (
	UserIDKey   = "userID"
	RolesKey    = "roles"
	TenantIDKey = "tenant_id"
)

// VerifyToken validates the HS256 bearer token and stores its claims in the
// request locals.
func VerifyToken(jwtSecret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing authorization token",
			})
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		claims := &domain.StudioClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(jwtSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals(UserIDKey, claims.UserID)
		c.Locals(RolesKey, claims.Roles)
		c.Locals(TenantIDKey, claims.TenantID)

		return c.Next()
	}
}

// AuthorizeRole checks if the caller has at least one of the required roles
func AuthorizeRole(allowedRoles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userRoles, ok := c.Locals(RolesKey).([]string)
		if !ok || len(userRoles) == 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "No roles found in token",
			})
		}

		for _, role := range userRoles {
			if slices.Contains(allowedRoles, role) {
				return c.Next()
			}
		}

		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":          "Insufficient permissions",
			"required_roles": allowedRoles,
		})
	}
}

// TenantScope requires a user and, for everyone but super_admin, a tenant.
// Every studio record is owned by a tenant, so a caller without one has
// nothing to read or write.
func TenantScope() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, _ := c.Locals(UserIDKey).(string)
		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing user context",
			})
		}

		roles, _ := c.Locals(RolesKey).([]string)
		if slices.Contains(roles, domain.RoleSuperAdmin) {
			return c.Next()
		}

		if TenantID(c) == "" {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "User must belong to a tenant",
			})
		}
		return c.Next()
	}
}

// TenantID returns the tenant the request is scoped to. A super_admin may
// act on any tenant by sending X-Tenant-ID.
func TenantID(c *fiber.Ctx) string {
	roles, _ := c.Locals(RolesKey).([]string)
	if slices.Contains(roles, domain.RoleSuperAdmin) {
		if h := c.Get("X-Tenant-ID"); h != "" {
			return h
		}
	}
	tenantID, _ := c.Locals(TenantIDKey).(string)
	return tenantID
}

// UserID returns the authenticated caller's ID
func UserID(c *fiber.Ctx) string {
	userID, _ := c.Locals(UserIDKey).(string)
	return userID
}

// HasRole reports whether the caller carries role
func HasRole(c *fiber.Ctx, role string) bool {
	roles, _ := c.Locals(RolesKey).([]string)
	return slices.Contains(roles, role)
}
