package middleware

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
)

const LocalRequestID = "request_id"

type requestIDKey struct{}

// RequestID tags every request with an id. An incoming id in header is
// reused; otherwise a fresh uuid is generated and echoed back. The id is
// also carried on the user context handed to services.
func RequestID(header string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := ""
		if header != "" {
			id = c.Get(header)
		}
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals(LocalRequestID, id)
		c.SetUserContext(context.WithValue(c.UserContext(), requestIDKey{}, id))
		if header != "" {
			c.Set(header, id)
		}
		return c.Next()
	}
}

// RequestIDFrom returns the id stored by RequestID, or "".
func RequestIDFrom(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalRequestID).(string)
	return id
}

// RequestIDFromContext returns the id carried by a request's user context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func AccessLog(log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		started := time.Now()
		err := c.Next()

		route := ""
		if r := c.Route(); r != nil {
			route = r.Path
		}
		fields := []interface{}{
			"method", c.Method(),
			"path", c.Path(),
			"route", route,
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(started).Milliseconds(),
			"request_id", RequestIDFrom(c),
		}
		if user, ok := c.Locals(LocalUserID).(string); ok && user != "" {
			fields = append(fields, "user_id", user)
		}
		if err != nil {
			fields = append(fields, "error", err.Error())
		}
		log.Infow("http_request", fields...)
		return err
	}
}
