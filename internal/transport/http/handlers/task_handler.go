package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/ports"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/services"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/transport/http/dto"
)

// CategoryReporter exposes the running per category aggregates.
type CategoryReporter interface {
	CategoryStats(category string) (services.CategoryStats, bool)
	AllCategoryStats() map[string]services.CategoryStats
}

type TaskHandler struct {
	service ports.ProgressService
	stats   CategoryReporter
	logger  *logger.Logger
}

func NewTaskHandler(service ports.ProgressService, stats CategoryReporter, logger *logger.Logger) *TaskHandler {
	return &TaskHandler{service: service, stats: stats, logger: logger}
}

func (h *TaskHandler) CreateTask(c *fiber.Ctx) error {
	var req dto.CreateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("task_create_body_parse_failed", "error", err)
		return badRequest(c, "invalid request body")
	}
	if errors := req.Validate(); len(errors) > 0 {
		h.logger.Warnw("task_create_validation_failed", "details", errors)
		return badRequest(c, "validation failed", errors...)
	}

	h.logger.Infow("task_create_request", "task_id", req.TaskID, "user_id", req.UserID, "category", req.Category)
	task, err := h.service.CreateTask(c.UserContext(), req.ToInput())
	if err != nil {
		h.logger.Warnw("task_create_failed", "task_id", req.TaskID, "error", err)
		return writeError(c, err)
	}

	h.logger.Infow("task_create_success", "task_id", task.ID)
	return c.Status(fiber.StatusCreated).JSON(task)
}

func (h *TaskHandler) GetTask(c *fiber.Ctx) error {
	id := c.Params("id")
	task, err := h.service.GetTask(c.UserContext(), id)
	if err != nil {
		h.logger.Warnw("task_get_failed", "task_id", id, "error", err)
		return writeError(c, err)
	}
	return c.JSON(task)
}

// ListTasks accepts user_id, category, a comma separated status list and limit.
func (h *TaskHandler) ListTasks(c *fiber.Ctx) error {
	filter := ports.TaskFilter{
		UserID:   c.Query("user_id"),
		Category: c.Query("category"),
		Limit:    c.QueryInt("limit", 0),
	}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, domain.TaskStatus(strings.TrimSpace(s)))
		}
	}

	tasks, err := h.service.ListTasks(c.UserContext(), filter)
	if err != nil {
		h.logger.Warnw("tasks_list_failed", "error", err)
		return writeError(c, err)
	}
	h.logger.Debugw("tasks_list_success", "count", len(tasks))
	return c.JSON(dto.TaskListResponse{Tasks: tasks, Count: len(tasks)})
}

func (h *TaskHandler) UpdateProgress(c *fiber.Ctx) error {
	id := c.Params("id")
	var req dto.UpdateProgressRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("task_progress_body_parse_failed", "task_id", id, "error", err)
		return badRequest(c, "invalid request body")
	}
	if errors := req.Validate(); len(errors) > 0 {
		return badRequest(c, "validation failed", errors...)
	}

	task, err := h.service.UpdateProgress(c.UserContext(), id, req.ToInput())
	if err != nil {
		h.logger.Warnw("task_progress_failed", "task_id", id, "error", err)
		return writeError(c, err)
	}
	return c.JSON(task)
}

func (h *TaskHandler) UpdateStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	var req dto.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("task_status_body_parse_failed", "task_id", id, "error", err)
		return badRequest(c, "invalid request body")
	}
	if errors := req.Validate(); len(errors) > 0 {
		return badRequest(c, "validation failed", errors...)
	}

	h.logger.Infow("task_status_request", "task_id", id, "status", req.Status)
	task, err := h.service.UpdateStatus(c.UserContext(), id, req.ToInput())
	if err != nil {
		h.logger.Warnw("task_status_failed", "task_id", id, "status", req.Status, "error", err)
		return writeError(c, err)
	}
	return c.JSON(task)
}

func (h *TaskHandler) DeleteTask(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.service.DeleteTask(c.UserContext(), id); err != nil {
		h.logger.Warnw("task_delete_failed", "task_id", id, "error", err)
		return writeError(c, err)
	}
	h.logger.Infow("task_delete_success", "task_id", id)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *TaskHandler) Aggregate(c *fiber.Ctx) error {
	var req dto.AggregateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	result, err := h.service.AggregateProgress(c.UserContext(), req.TaskIDs)
	if err != nil {
		h.logger.Warnw("task_aggregate_failed", "count", len(req.TaskIDs), "error", err)
		return writeError(c, err)
	}
	return c.JSON(result)
}

func (h *TaskHandler) BatchProgress(c *fiber.Ctx) error {
	var req dto.BatchProgressRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(req.Updates) == 0 {
		return badRequest(c, "updates must not be empty")
	}
	result := h.service.BatchUpdateProgress(c.UserContext(), req.ToInput())
	h.logger.Infow("task_batch_progress", "successful", result.Successful, "failed", result.Failed)
	return c.JSON(result)
}

func (h *TaskHandler) CategoryStats(c *fiber.Ctx) error {
	if category := c.Query("category"); category != "" {
		stats, ok := h.stats.CategoryStats(category)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "category not found"})
		}
		return c.JSON(stats)
	}
	return c.JSON(h.stats.AllCategoryStats())
}
