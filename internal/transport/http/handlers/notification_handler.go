package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/ports"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/services"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/transport/http/dto"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/transport/http/middleware"
)

const defaultRetryMaxAge = 24 * time.Hour

type NotificationStatsReporter interface {
	Stats() services.NotificationStats
}

// PreferenceStore persists channel preferences for the calling user.
type PreferenceStore interface {
	Update(ctx context.Context, userID string, prefs map[domain.Channel]bool) (map[domain.Channel]bool, error)
	Get(userID string) map[domain.Channel]bool
}

type NotificationHandler struct {
	service ports.NotificationService
	stats   NotificationStatsReporter
	prefs   PreferenceStore
	logger  *logger.Logger
}

func NewNotificationHandler(service ports.NotificationService, stats NotificationStatsReporter, prefs PreferenceStore, logger *logger.Logger) *NotificationHandler {
	return &NotificationHandler{service: service, stats: stats, prefs: prefs, logger: logger}
}

func (h *NotificationHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("notification_create_body_parse_failed", "error", err)
		return badRequest(c, "invalid request body")
	}
	if errors := req.Validate(); len(errors) > 0 {
		h.logger.Warnw("notification_create_validation_failed", "details", errors)
		return badRequest(c, "validation failed", errors...)
	}

	h.logger.Infow("notification_create_request", "user_id", req.UserID, "type", req.Type, "priority", req.Priority)
	n, result, err := h.service.CreateNotification(c.UserContext(), req.ToInput())
	if err != nil {
		h.logger.Warnw("notification_create_failed", "user_id", req.UserID, "error", err)
		return writeError(c, err)
	}

	status := fiber.StatusCreated
	if result.RateLimited {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(dto.CreateNotificationResponse{Notification: n, Delivery: result})
}

func (h *NotificationHandler) Batch(c *fiber.Ctx) error {
	var req dto.BatchNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(req.Notifications) == 0 {
		return badRequest(c, "notifications must not be empty")
	}

	inputs := make([]ports.CreateNotificationInput, 0, len(req.Notifications))
	for i := range req.Notifications {
		inputs = append(inputs, req.Notifications[i].ToInput())
	}
	result := h.service.BatchNotify(c.UserContext(), inputs)
	h.logger.Infow("notification_batch", "successful", result.Successful, "failed", result.Failed)
	return c.JSON(result)
}

// List returns the caller's notifications. unread=true restricts to unread.
func (h *NotificationHandler) List(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	items, err := h.service.GetUserNotifications(c.UserContext(), userID, c.QueryBool("unread", false), c.QueryInt("limit", 50))
	if err != nil {
		h.logger.Warnw("notifications_list_failed", "user_id", userID, "error", err)
		return writeError(c, err)
	}
	return c.JSON(dto.NotificationListResponse{Notifications: items, Count: len(items)})
}

func (h *NotificationHandler) UnreadCount(c *fiber.Ctx) error {
	count, err := h.service.UnreadCount(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.CountResponse{Count: count})
}

func (h *NotificationHandler) Get(c *fiber.Ctx) error {
	n, err := h.service.GetNotification(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	if n.UserID != middleware.UserID(c) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: services.ErrNotificationNotFound.Error()})
	}
	return c.JSON(n)
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	id := c.Params("id")
	n, err := h.service.MarkAsRead(c.UserContext(), id, middleware.UserID(c))
	if err != nil {
		h.logger.Warnw("notification_mark_read_failed", "id", id, "error", err)
		return writeError(c, err)
	}
	return c.JSON(n)
}

func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	count, err := h.service.MarkAllAsRead(c.UserContext(), userID)
	if err != nil {
		h.logger.Warnw("notification_mark_all_read_failed", "user_id", userID, "error", err)
		return writeError(c, err)
	}
	return c.JSON(dto.CountResponse{Count: count})
}

func (h *NotificationHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.service.DeleteNotification(c.UserContext(), id, middleware.UserID(c)); err != nil {
		h.logger.Warnw("notification_delete_failed", "id", id, "error", err)
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *NotificationHandler) GetPreferences(c *fiber.Ctx) error {
	prefs := h.prefs.Get(middleware.UserID(c))
	return c.JSON(dto.PreferencesToResponse(prefs))
}

func (h *NotificationHandler) SetPreferences(c *fiber.Ctx) error {
	var req dto.PreferencesRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if errors := req.Validate(); len(errors) > 0 {
		return badRequest(c, "validation failed", errors...)
	}
	userID := middleware.UserID(c)
	prefs, err := h.prefs.Update(c.UserContext(), userID, req.ToMap())
	if err != nil {
		h.logger.Warnw("notification_preferences_update_failed", "user_id", userID, "error", err)
		return writeError(c, err)
	}
	h.logger.Infow("notification_preferences_updated", "user_id", userID)
	return c.JSON(dto.PreferencesToResponse(prefs))
}

func (h *NotificationHandler) Retry(c *fiber.Ctx) error {
	var req dto.RetryRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	maxAge := defaultRetryMaxAge
	if req.MaxAgeHours > 0 {
		maxAge = time.Duration(req.MaxAgeHours * float64(time.Hour))
	}
	result := h.service.RetryFailedNotifications(c.UserContext(), maxAge)
	h.logger.Infow("notification_retry", "scanned", result.Scanned, "retried", result.Retried, "succeeded", result.Succeeded)
	return c.JSON(result)
}

func (h *NotificationHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(h.stats.Stats())
}
