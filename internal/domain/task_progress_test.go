package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskStatusPending, TaskStatusRunning, true},
		{TaskStatusPending, TaskStatusCompleted, false},
		{TaskStatusRunning, TaskStatusPaused, true},
		{TaskStatusPaused, TaskStatusRunning, true},
		{TaskStatusRunning, TaskStatusCompleted, true},
		{TaskStatusCompleted, TaskStatusRunning, false},
		{TaskStatusFailed, TaskStatusPending, false},
		{TaskStatusCancelled, TaskStatusCancelled, true},
		{TaskStatusPending, TaskStatusCancelled, true},
		{TaskStatusPending, TaskStatusFailed, true},
		{TaskStatusPending, TaskStatusPaused, false},
		{TaskStatusPaused, TaskStatusFailed, true},
		{TaskStatusPaused, TaskStatusCancelled, true},
		{TaskStatusPaused, TaskStatusCompleted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	assert.True(t, TaskStatusCompleted.IsTerminal())
	assert.True(t, TaskStatusFailed.IsTerminal())
	assert.True(t, TaskStatusCancelled.IsTerminal())
	assert.False(t, TaskStatusPaused.IsTerminal())
	assert.False(t, TaskStatus("unknown").Valid())
}

func TestClampProgress(t *testing.T) {
	assert.Equal(t, 0.0, ClampProgress(-5))
	assert.Equal(t, 100.0, ClampProgress(140))
	assert.Equal(t, 37.5, ClampProgress(37.5))
}

func TestTaskProgress_CloneIsDeep(t *testing.T) {
	started := time.Now()
	task := &TaskProgress{
		ID:        "t1",
		Metadata:  JSONB{"k": "v"},
		Tags:      StringList{"a"},
		StartedAt: &started,
	}

	c := task.Clone()
	c.Metadata["k"] = "changed"
	c.Tags[0] = "b"
	*c.StartedAt = started.Add(time.Hour)

	assert.Equal(t, "v", task.Metadata["k"])
	assert.Equal(t, "a", task.Tags[0])
	assert.Equal(t, started, *task.StartedAt)
}

func TestTaskProgress_ToMap(t *testing.T) {
	task := &TaskProgress{ID: "t1", UserID: "u1", Status: TaskStatusRunning, Progress: 50}
	m := task.ToMap()
	assert.Equal(t, "t1", m["task_id"])
	assert.Equal(t, "running", m["status"])
	assert.Equal(t, 50.0, m["progress"])
	assert.NotNil(t, m["metadata"])
}

func TestJSONB_ValueScan(t *testing.T) {
	v, err := JSONB{"a": 1.0}.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, v)

	var j JSONB
	require.NoError(t, j.Scan([]byte(`{"b":"x"}`)))
	assert.Equal(t, "x", j["b"])
	assert.Error(t, j.Scan(42))

	var s StringList
	require.NoError(t, s.Scan(`["x","y"]`))
	assert.True(t, s.Contains("y"))
}

func TestNotificationPriority_Escalate(t *testing.T) {
	assert.Equal(t, NotificationPriorityNormal, NotificationPriorityLow.Escalate())
	assert.Equal(t, NotificationPriorityHigh, NotificationPriorityNormal.Escalate())
	assert.Equal(t, NotificationPriorityCritical, NotificationPriorityHigh.Escalate())
	assert.Equal(t, NotificationPriorityCritical, NotificationPriorityCritical.Escalate())
	assert.Greater(t, NotificationPriorityHigh.Rank(), NotificationPriorityNormal.Rank())
}

func TestEvent_MarkDispatched(t *testing.T) {
	ev := NewEvent(EventTaskCreated, nil, WithSource("test"), WithCorrelationID("t1"))
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "test", ev.Source)
	assert.NotNil(t, ev.Payload)
	ev.MarkDispatched()
	ev.MarkDispatched()
	assert.EqualValues(t, 2, ev.DeliveryAttempts())
}
