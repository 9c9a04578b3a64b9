package domain

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event types published by the progress and notification services.
const (
	EventTaskCreated         = "task.created"
	EventTaskProgressUpdated = "task.progress_updated"
	EventTaskStatusChanged   = "task.status_changed"
	EventTaskCompleted       = "task.completed"
	EventTaskFailed          = "task.failed"
	EventTaskDeleted         = "task.deleted"
	EventNotificationCreated = "notification.created"
	EventNotificationSent    = "notification.sent"
	EventNotificationLimited = "notification.rate_limited"
)

// Event is immutable after creation apart from the delivery counter.
type Event struct {
	ID            string
	Type          string
	Payload       map[string]interface{}
	Source        string
	CorrelationID string
	Metadata      map[string]string
	Timestamp     time.Time

	deliveryAttempts atomic.Int64
}

type EventOption func(*Event)

func WithSource(source string) EventOption {
	return func(e *Event) { e.Source = source }
}

func WithCorrelationID(id string) EventOption {
	return func(e *Event) { e.CorrelationID = id }
}

func WithMetadata(md map[string]string) EventOption {
	return func(e *Event) {
		for k, v := range md {
			e.Metadata[k] = v
		}
	}
}

func NewEvent(eventType string, payload map[string]interface{}, opts ...EventOption) *Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	e := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Payload:   payload,
		Metadata:  map[string]string{},
		Timestamp: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MarkDispatched records one handler dispatch and returns the new count.
func (e *Event) MarkDispatched() int64 {
	return e.deliveryAttempts.Add(1)
}

func (e *Event) DeliveryAttempts() int64 {
	return e.deliveryAttempts.Load()
}
