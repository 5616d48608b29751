package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type correlationIDKey struct{}

var correlationKey = correlationIDKey{}

// Declared client roles. They are asserted by the console and never verified.
const (
	RoleAdmin     = "admin"
	RoleProfessor = "professor"
	RoleStudent   = "student"
	RoleGuest     = "guest"
)

// CorrelationID ensures every request carries a correlation identifier and
// records the role and identity the client declares for itself.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		incoming := strings.TrimSpace(c.Get("X-Correlation-ID"))
		if incoming == "" {
			incoming = strings.TrimSpace(c.Get("X-Request-ID"))
		}
		if incoming == "" {
			incoming = uuid.NewString()
		}

		c.Locals("correlation_id", incoming)
		c.Locals("client_role", normalizeRole(c.Get("X-Client-Role")))
		c.Locals("client_email", strings.ToLower(strings.TrimSpace(c.Get("X-Client-Email"))))
		c.Set("X-Correlation-ID", incoming)

		ctx := context.WithValue(c.Context(), correlationKey, incoming)
		c.SetUserContext(ctx)

		return c.Next()
	}
}

// CorrelationIDFromContext extracts the correlation identifier from context, if present.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value := ctx.Value(correlationKey); value != nil {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return ""
}

// GetCorrelationID returns the correlation identifier bound to the active request.
func GetCorrelationID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if value := c.Locals("correlation_id"); value != nil {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return CorrelationIDFromContext(c.Context())
}

// ContextWithCorrelation attaches the correlation identifier to the provided context.
func ContextWithCorrelation(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(correlationID) == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey, strings.TrimSpace(correlationID))
}

// ClientRole returns the role the client declared, defaulting to guest.
func ClientRole(c *fiber.Ctx) string {
	if value, ok := c.Locals("client_role").(string); ok && value != "" {
		return value
	}
	return RoleGuest
}

// ClientEmail returns the identity the client declared, if any.
func ClientEmail(c *fiber.Ctx) string {
	if value, ok := c.Locals("client_email").(string); ok {
		return value
	}
	return ""
}

func normalizeRole(raw string) string {
	switch role := strings.ToLower(strings.TrimSpace(raw)); role {
	case RoleAdmin, RoleProfessor, RoleStudent:
		return role
	default:
		return RoleGuest
	}
}
