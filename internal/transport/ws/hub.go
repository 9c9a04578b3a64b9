package ws

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/ports"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
)

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Client is one registered connection.
type Client struct {
	ID     string
	UserID string

	conn    Conn
	writeMu sync.Mutex
	tasks   map[string]struct{}
}

func (c *Client) write(msg interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

type HubStats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
	Tasks       int `json:"tasks"`
}

// Hub tracks connections by user and by subscribed task and fans
// messages out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	byUser  map[string]map[string]*Client
	byTask  map[string]map[string]*Client
	log     *logger.Logger
}

var _ ports.Broadcaster = (*Hub)(nil)

func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		byUser:  make(map[string]map[string]*Client),
		byTask:  make(map[string]map[string]*Client),
		log:     log,
	}
}

func (h *Hub) Register(userID string, conn Conn) *Client {
	c := &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		conn:   conn,
		tasks:  make(map[string]struct{}),
	}
	h.mu.Lock()
	h.clients[c.ID] = c
	addMember(h.byUser, userID, c)
	h.mu.Unlock()

	h.log.Infow("ws_client_registered", "client_id", c.ID, "user_id", userID)
	return c
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	removeMember(h.byUser, c.UserID, c.ID)
	for taskID := range c.tasks {
		removeMember(h.byTask, taskID, c.ID)
	}
	h.mu.Unlock()

	h.log.Infow("ws_client_unregistered", "client_id", c.ID, "user_id", c.UserID)
}

func (h *Hub) SubscribeTask(c *Client, taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	c.tasks[taskID] = struct{}{}
	addMember(h.byTask, taskID, c)
}

func (h *Hub) UnsubscribeTask(c *Client, taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(c.tasks, taskID)
	removeMember(h.byTask, taskID, c.ID)
}

func (h *Hub) BroadcastToTask(ctx context.Context, taskID string, message map[string]interface{}) (int, error) {
	return h.broadcast(ctx, h.snapshot(h.byTask, taskID), message), nil
}

func (h *Hub) BroadcastToUser(ctx context.Context, userID string, message map[string]interface{}) (int, error) {
	return h.broadcast(ctx, h.snapshot(h.byUser, userID), message), nil
}

func (h *Hub) snapshot(index map[string]map[string]*Client, key string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := index[key]
	out := make([]*Client, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// broadcast writes outside the hub lock. Connections that fail a write are
// dropped.
func (h *Hub) broadcast(ctx context.Context, targets []*Client, message map[string]interface{}) int {
	delivered := 0
	for _, c := range targets {
		if ctx.Err() != nil {
			break
		}
		if err := c.write(message); err != nil {
			h.log.Warnw("ws_write_failed", "client_id", c.ID, "error", err)
			h.Unregister(c)
			c.conn.Close()
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubStats{Connections: len(h.clients), Users: len(h.byUser), Tasks: len(h.byTask)}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.byUser = make(map[string]map[string]*Client)
	h.byTask = make(map[string]map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

func addMember(index map[string]map[string]*Client, key string, c *Client) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]*Client)
		index[key] = set
	}
	set[c.ID] = c
}

func removeMember(index map[string]map[string]*Client, key, id string) {
	set := index[key]
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}
