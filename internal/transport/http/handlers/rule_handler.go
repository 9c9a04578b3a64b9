package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/services"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/transport/http/dto"
)

// RuleReloader re-reads rules from their backing file.
type RuleReloader interface {
	Reload() (int, error)
}

type RuleHandler struct {
	engine   *services.RuleEngine
	reloader RuleReloader
	logger   *logger.Logger
}

// NewRuleHandler builds the handler. reloader may be nil when no rules file
// is configured.
func NewRuleHandler(engine *services.RuleEngine, reloader RuleReloader, logger *logger.Logger) *RuleHandler {
	return &RuleHandler{engine: engine, reloader: reloader, logger: logger}
}

func (h *RuleHandler) Create(c *fiber.Ctx) error {
	var req dto.RuleRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("rule_create_body_parse_failed", "error", err)
		return badRequest(c, "invalid request body")
	}
	input, errors := req.ToInput()
	if len(errors) > 0 {
		h.logger.Warnw("rule_create_validation_failed", "details", errors)
		return badRequest(c, "validation failed", errors...)
	}

	id, err := h.engine.AddRule(input)
	if err != nil {
		h.logger.Warnw("rule_create_failed", "name", req.Name, "error", err)
		return writeError(c, err)
	}
	rule, err := h.engine.GetRule(id)
	if err != nil {
		return writeError(c, err)
	}
	h.logger.Infow("rule_create_success", "rule_id", id, "name", rule.Name)
	return c.Status(fiber.StatusCreated).JSON(dto.RuleToResponse(rule))
}

func (h *RuleHandler) List(c *fiber.Ctx) error {
	rules := h.engine.ListRules(services.RuleFilter{
		Type:  domain.RuleType(c.Query("type")),
		Group: c.Query("group"),
		Limit: c.QueryInt("limit", 0),
	})
	return c.JSON(dto.RulesToResponse(rules))
}

func (h *RuleHandler) Get(c *fiber.Ctx) error {
	rule, err := h.engine.GetRule(c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.RuleToResponse(rule))
}

func (h *RuleHandler) Update(c *fiber.Ctx) error {
	id := c.Params("id")
	var req dto.RuleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	update, errors := req.ToUpdate()
	if len(errors) > 0 {
		return badRequest(c, "validation failed", errors...)
	}

	ok, err := h.engine.UpdateRule(id, update)
	if err != nil {
		h.logger.Warnw("rule_update_failed", "rule_id", id, "error", err)
		return writeError(c, err)
	}
	if !ok {
		return writeError(c, services.ErrRuleNotFound)
	}
	rule, err := h.engine.GetRule(id)
	if err != nil {
		return writeError(c, err)
	}
	h.logger.Infow("rule_update_success", "rule_id", id)
	return c.JSON(dto.RuleToResponse(rule))
}

func (h *RuleHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if !h.engine.RemoveRule(id) {
		return writeError(c, services.ErrRuleNotFound)
	}
	h.logger.Infow("rule_delete_success", "rule_id", id)
	return c.SendStatus(fiber.StatusNoContent)
}

// Evaluate dry-runs the rules against a caller supplied context. Actions are
// rendered but nothing is sent.
func (h *RuleHandler) Evaluate(c *fiber.Ctx) error {
	var req dto.EvaluateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Context == nil {
		req.Context = map[string]interface{}{}
	}

	matches := h.engine.EvaluateRules(req.Context, services.RuleFilter{
		Type:  domain.RuleType(req.Type),
		Group: req.Group,
		Limit: req.Limit,
	})
	if req.Resolve {
		matches = h.engine.ResolveConflicts(matches)
	}
	exec := h.engine.ExecuteActions(matches, req.Context)
	return c.JSON(dto.EvaluationToResponse(matches, exec))
}

func (h *RuleHandler) Reload(c *fiber.Ctx) error {
	if h.reloader == nil {
		return badRequest(c, "no rules file configured")
	}
	count, err := h.reloader.Reload()
	if err != nil {
		h.logger.Errorw("rules_reload_failed", "error", err)
		return writeError(c, err)
	}
	h.logger.Infow("rules_reloaded", "count", count)
	return c.JSON(dto.CountResponse{Count: count})
}

func (h *RuleHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(h.engine.Stats())
}
