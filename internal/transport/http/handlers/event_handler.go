package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/services"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/transport/http/dto"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/transport/ws"
)

type EventHandler struct {
	bus *services.EventBus
	hub *ws.Hub
}

func NewEventHandler(bus *services.EventBus, hub *ws.Hub) *EventHandler {
	return &EventHandler{bus: bus, hub: hub}
}

func (h *EventHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"bus":       h.bus.Stats(),
		"websocket": h.hub.Stats(),
	})
}

func (h *EventHandler) ListHandlers(c *fiber.Ctx) error {
	return c.JSON(h.bus.ListHandlers())
}

func (h *EventHandler) GetHandler(c *fiber.Ctx) error {
	stats, ok := h.bus.HandlerStats(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "handler not found"})
	}
	return c.JSON(stats)
}
