package http

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/config"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/transport/http/dto"
	httpmw "github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/transport/http/middleware"
)

const defaultOrigin = "http://localhost:3000"

// NewApp builds the fiber application with the shared middleware chain.
// Routes are attached separately with SetupRoutes.
func NewApp(cfg *config.Config, log *logger.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "skilldash",
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		ErrorHandler:          errorHandler(log),
		DisableStartupMessage: true,
	})

	app.Use(recover.New(recover.Config{EnableStackTrace: true}))

	origins := defaultOrigin
	if len(cfg.Auth.AllowedOrigins) > 0 {
		origins = strings.Join(cfg.Auth.AllowedOrigins, ",")
	}
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Token", "X-User-ID"}
	if h := cfg.Features.RequestIDHeader; h != "" {
		allowHeaders = append(allowHeaders, h)
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: strings.Join(allowHeaders, ", "),
		AllowMethods: "GET, POST, PUT, PATCH, DELETE, HEAD",
	}))

	app.Use(httpmw.RequestID(cfg.Features.RequestIDHeader))
	if cfg.Features.EnableRequestLogging {
		app.Use(httpmw.AccessLog(log.Named("http")))
	}
	return app
}

// errorHandler renders errors that escape handlers. Handlers write their own
// service errors, so what arrives here is fiber routing errors and panics.
func errorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}

		fields := []interface{}{
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"request_id", httpmw.RequestIDFrom(c),
			"error", err.Error(),
		}
		if status < fiber.StatusInternalServerError {
			log.Warnw("http_request_rejected", fields...)
		} else {
			log.Errorw("http_request_failed", fields...)
		}
		return c.Status(status).JSON(dto.ErrorResponse{Error: err.Error()})
	}
}
