package ws

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	messages []interface{}
	writeErr error
	closed   bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.messages = append(c.messages, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func TestHub_BroadcastToUserAndTask(t *testing.T) {
	hub := NewHub(nil)
	ctx := context.Background()

	a1, a2, b := &fakeConn{}, &fakeConn{}, &fakeConn{}
	clientA1 := hub.Register("alice", a1)
	hub.Register("alice", a2)
	clientB := hub.Register("bob", b)

	hub.SubscribeTask(clientA1, "t1")
	hub.SubscribeTask(clientB, "t1")

	n, err := hub.BroadcastToUser(ctx, "alice", map[string]interface{}{"type": "notification"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, b.count())

	n, err = hub.BroadcastToTask(ctx, "t1", map[string]interface{}{"type": "progress_update"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, a1.count())
	assert.Equal(t, 1, a2.count())

	n, err = hub.BroadcastToUser(ctx, "nobody", map[string]interface{}{"type": "x"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Equal(t, HubStats{Connections: 3, Users: 2, Tasks: 1}, hub.Stats())
}

func TestHub_UnsubscribeAndUnregister(t *testing.T) {
	hub := NewHub(nil)
	ctx := context.Background()
	conn := &fakeConn{}
	client := hub.Register("alice", conn)
	hub.SubscribeTask(client, "t1")

	hub.UnsubscribeTask(client, "t1")
	n, _ := hub.BroadcastToTask(ctx, "t1", map[string]interface{}{"type": "x"})
	assert.Equal(t, 0, n)

	hub.Unregister(client)
	hub.Unregister(client)
	hub.SubscribeTask(client, "t2")
	assert.Equal(t, HubStats{}, hub.Stats())
}

func TestHub_DropsFailingConnections(t *testing.T) {
	hub := NewHub(nil)
	good := &fakeConn{}
	bad := &fakeConn{writeErr: errors.New("broken pipe")}
	hub.Register("alice", good)
	hub.Register("alice", bad)

	n, err := hub.BroadcastToUser(context.Background(), "alice", map[string]interface{}{"type": "x"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, bad.closed)
	assert.Equal(t, 1, hub.Stats().Connections)
}

func TestHub_StopsOnCancelledContext(t *testing.T) {
	hub := NewHub(nil)
	conn := &fakeConn{}
	hub.Register("alice", conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := hub.BroadcastToUser(ctx, "alice", map[string]interface{}{"type": "x"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHub_CloseDisconnectsEveryone(t *testing.T) {
	hub := NewHub(nil)
	a, b := &fakeConn{}, &fakeConn{}
	hub.Register("alice", a)
	hub.Register("bob", b)

	hub.Close()
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Equal(t, HubStats{}, hub.Stats())
}
