package ws

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
)

// clientMessage is what browsers send over the socket.
type clientMessage struct {
	Action string `json:"action"`
	TaskID string `json:"task_id"`
}

type Handler struct {
	hub    *Hub
	logger *logger.Logger
}

func NewHandler(hub *Hub, logger *logger.Logger) *Handler {
	return &Handler{hub: hub, logger: logger}
}

// Handle serves one upgraded connection. The user id is placed in locals by
// the auth middleware before the upgrade.
func (h *Handler) Handle(c *websocket.Conn) {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		h.logger.Warnw("ws_missing_user")
		c.WriteJSON(map[string]interface{}{"type": "error", "error": "unauthorized"})
		c.Close()
		return
	}

	client := h.hub.Register(userID, c)
	log := h.logger.With("client_id", client.ID, "user_id", userID)
	log.Debugw("ws_connected")
	defer func() {
		h.hub.Unregister(client)
		c.Close()
	}()

	if taskID := c.Query("task_id"); taskID != "" {
		h.hub.SubscribeTask(client, taskID)
	}
	client.write(map[string]interface{}{"type": "connected", "client_id": client.ID})

	for {
		var msg clientMessage
		if err := c.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnw("ws_read_failed", "error", err)
			}
			log.Debugw("ws_disconnected")
			return
		}
		h.dispatch(client, msg)
	}
}

func (h *Handler) dispatch(client *Client, msg clientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.TaskID == "" {
			client.write(map[string]interface{}{"type": "error", "error": "task_id is required"})
			return
		}
		h.hub.SubscribeTask(client, msg.TaskID)
		client.write(map[string]interface{}{"type": "subscribed", "task_id": msg.TaskID})
	case "unsubscribe":
		h.hub.UnsubscribeTask(client, msg.TaskID)
		client.write(map[string]interface{}{"type": "unsubscribed", "task_id": msg.TaskID})
	case "ping":
		client.write(map[string]interface{}{"type": "pong"})
	default:
		client.write(map[string]interface{}{"type": "error", "error": "unknown action"})
	}
}
