package services

import (
	"context"
	"sync"
	"time"

	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingBroadcaster captures messages instead of writing to sockets.
type recordingBroadcaster struct {
	mu      sync.Mutex
	toTask  []map[string]interface{}
	toUser  []map[string]interface{}
	userErr error
}

func (b *recordingBroadcaster) BroadcastToTask(_ context.Context, _ string, msg map[string]interface{}) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toTask = append(b.toTask, msg)
	return 1, nil
}

func (b *recordingBroadcaster) BroadcastToUser(_ context.Context, _ string, msg map[string]interface{}) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.userErr != nil {
		return 0, b.userErr
	}
	b.toUser = append(b.toUser, msg)
	return 1, nil
}

func (b *recordingBroadcaster) userMessages() []map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]interface{}(nil), b.toUser...)
}

// stubSender returns a fixed outcome and counts calls.
type stubSender struct {
	mu    sync.Mutex
	ok    bool
	err   error
	calls int
}

func (s *stubSender) Send(_ context.Context, _ *domain.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.ok, s.err
}

func (s *stubSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// eventRecorder collects every event published on a bus.
type eventRecorder struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (r *eventRecorder) Handle(_ context.Context, ev *domain.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func (r *eventRecorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *eventRecorder) Count(eventType string) int {
	n := 0
	for _, t := range r.Types() {
		if t == eventType {
			n++
		}
	}
	return n
}
