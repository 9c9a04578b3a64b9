package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
)

const (
	DefaultMaxHandlersPerType = 1000
	DefaultPublishTimeout     = 5 * time.Second
)

// EventHandler reacts to one event and reports whether it succeeded.
type EventHandler interface {
	Handle(ctx context.Context, event *domain.Event) bool
}

// HandlerFunc adapts a context-aware function to EventHandler.
type HandlerFunc func(ctx context.Context, event *domain.Event) bool

func (f HandlerFunc) Handle(ctx context.Context, event *domain.Event) bool {
	return f(ctx, event)
}

// FromAsync wraps a function that honours ctx cancellation itself.
func FromAsync(fn func(ctx context.Context, event *domain.Event) bool) EventHandler {
	return HandlerFunc(fn)
}

// FromBlocking wraps a function that ignores cancellation. The call runs on
// its own goroutine and is abandoned when ctx is done.
func FromBlocking(fn func(event *domain.Event) bool) EventHandler {
	return blockingHandler{fn: fn}
}

type blockingHandler struct {
	fn func(event *domain.Event) bool
}

func (h blockingHandler) Handle(ctx context.Context, event *domain.Event) bool {
	done := make(chan bool, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- false
			}
		}()
		done <- h.fn(event)
	}()
	select {
	case ok := <-done:
		return ok
	case <-ctx.Done():
		return false
	}
}

// SubscribeOptions selects what a handler receives. An empty EventTypes
// subscribes the handler to every event type.
type SubscribeOptions struct {
	Name       string
	EventTypes []string
	Filters    []EventFilter
}

type HandlerStats struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	EventTypes      []string   `json:"event_types,omitempty"`
	Global          bool       `json:"global"`
	EventsReceived  int64      `json:"events_received"`
	EventsProcessed int64      `json:"events_processed"`
	EventsFailed    int64      `json:"events_failed"`
	LastEventAt     *time.Time `json:"last_event_at,omitempty"`
}

type BusStats struct {
	TotalEventsPublished int64          `json:"total_events_published"`
	TotalEventsDelivered int64          `json:"total_events_delivered"`
	TotalEventsFailed    int64          `json:"total_events_failed"`
	HandlerCount         int            `json:"handler_count"`
	GlobalHandlers       int            `json:"global_handlers"`
	HandlersByType       map[string]int `json:"handlers_by_type"`
}

type registration struct {
	id      string
	name    string
	handler EventHandler
	filters []EventFilter
	global  bool
	types   map[string]struct{}

	mu        sync.Mutex
	received  int64
	processed int64
	failed    int64
	lastEvent *time.Time
}

func (r *registration) accepts(event *domain.Event) bool {
	for _, f := range r.filters {
		if !f.Match(event) {
			return false
		}
	}
	return true
}

func (r *registration) record(ok bool, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received++
	if ok {
		r.processed++
	} else {
		r.failed++
	}
	r.lastEvent = &at
}

func (r *registration) snapshot() HandlerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := HandlerStats{
		ID:              r.id,
		Name:            r.name,
		Global:          r.global,
		EventsReceived:  r.received,
		EventsProcessed: r.processed,
		EventsFailed:    r.failed,
	}
	for t := range r.types {
		stats.EventTypes = append(stats.EventTypes, t)
	}
	sort.Strings(stats.EventTypes)
	if r.lastEvent != nil {
		v := *r.lastEvent
		stats.LastEventAt = &v
	}
	return stats
}

// EventBus is an in-process publish/subscribe hub. Each publish fans out to
// every matching handler concurrently; a failing or slow handler only
// affects its own result.
type EventBus struct {
	mu             sync.RWMutex
	handlers       map[string]*registration
	byType         map[string]map[string]*registration
	global         map[string]*registration
	maxPerType     int
	defaultTimeout time.Duration
	logger         *logger.Logger

	published atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
}

type EventBusConfig struct {
	MaxHandlersPerType int
	PublishTimeout     time.Duration
	Logger             *logger.Logger
}

func NewEventBus(cfg EventBusConfig) *EventBus {
	if cfg.MaxHandlersPerType <= 0 {
		cfg.MaxHandlersPerType = DefaultMaxHandlersPerType
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &EventBus{
		handlers:       make(map[string]*registration),
		byType:         make(map[string]map[string]*registration),
		global:         make(map[string]*registration),
		maxPerType:     cfg.MaxHandlersPerType,
		defaultTimeout: cfg.PublishTimeout,
		logger:         cfg.Logger,
	}
}

// Subscribe registers handler and returns its id. It fails with
// ErrHandlerCapacity when any requested type is already full.
func (b *EventBus) Subscribe(handler EventHandler, opts SubscribeOptions) (string, error) {
	if handler == nil {
		return "", ErrHandlerInvalid
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(opts.EventTypes) == 0 {
		if len(b.global) >= b.maxPerType {
			return "", fmt.Errorf("%w: global handlers at limit %d", ErrHandlerCapacity, b.maxPerType)
		}
	}
	for _, t := range opts.EventTypes {
		if len(b.byType[t]) >= b.maxPerType {
			return "", fmt.Errorf("%w: event type %q at limit %d", ErrHandlerCapacity, t, b.maxPerType)
		}
	}

	reg := &registration{
		id:      uuid.New().String(),
		name:    opts.Name,
		handler: handler,
		filters: append([]EventFilter(nil), opts.Filters...),
		global:  len(opts.EventTypes) == 0,
		types:   make(map[string]struct{}),
	}
	if reg.name == "" {
		reg.name = reg.id
	}

	if reg.global {
		b.global[reg.id] = reg
	}
	for _, t := range opts.EventTypes {
		set, ok := b.byType[t]
		if !ok {
			set = make(map[string]*registration)
			b.byType[t] = set
		}
		set[reg.id] = reg
		reg.types[t] = struct{}{}
	}
	b.handlers[reg.id] = reg

	b.logger.Infow("event_handler_subscribed", "handler_id", reg.id, "name", reg.name, "event_types", opts.EventTypes)
	return reg.id, nil
}

// Unsubscribe removes a handler from the given types, or entirely when no
// types are given. It reports whether anything was removed.
func (b *EventBus) Unsubscribe(handlerID string, eventTypes ...string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, ok := b.handlers[handlerID]
	if !ok {
		return false
	}

	if len(eventTypes) == 0 {
		for t := range reg.types {
			b.detachType(t, handlerID)
		}
		delete(b.global, handlerID)
		delete(b.handlers, handlerID)
		b.logger.Infow("event_handler_unsubscribed", "handler_id", handlerID)
		return true
	}

	removed := false
	for _, t := range eventTypes {
		if _, ok := reg.types[t]; !ok {
			continue
		}
		b.detachType(t, handlerID)
		delete(reg.types, t)
		removed = true
	}
	if len(reg.types) == 0 && !reg.global {
		delete(b.handlers, handlerID)
	}
	return removed
}

func (b *EventBus) detachType(eventType, handlerID string) {
	set := b.byType[eventType]
	delete(set, handlerID)
	if len(set) == 0 {
		delete(b.byType, eventType)
	}
}

// Publish delivers event to every matching handler and waits for each up to
// timeout. The result maps handler id to success. A non-positive timeout
// uses the bus default.
func (b *EventBus) Publish(ctx context.Context, event *domain.Event, timeout time.Duration) map[string]bool {
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}
	b.published.Add(1)

	targets := b.matching(event)
	results := make(map[string]bool, len(targets))
	if len(targets) == 0 {
		return results
	}

	var (
		wg    sync.WaitGroup
		resMu sync.Mutex
	)
	for _, reg := range targets {
		event.MarkDispatched()
		wg.Add(1)
		go func(reg *registration) {
			defer wg.Done()
			ok := b.dispatch(ctx, reg, event, timeout)
			reg.record(ok, time.Now().UTC())
			if ok {
				b.delivered.Add(1)
			} else {
				b.failed.Add(1)
				b.logger.Warnw("event_handler_failed", "handler_id", reg.id, "name", reg.name, "event_type", event.Type, "event_id", event.ID)
			}
			resMu.Lock()
			results[reg.id] = ok
			resMu.Unlock()
		}(reg)
	}
	wg.Wait()
	return results
}

// PublishSync reports whether at least one handler succeeded.
func (b *EventBus) PublishSync(ctx context.Context, event *domain.Event, timeout time.Duration) bool {
	for _, ok := range b.Publish(ctx, event, timeout) {
		if ok {
			return true
		}
	}
	return false
}

func (b *EventBus) matching(event *domain.Event) []*registration {
	b.mu.RLock()
	candidates := make([]*registration, 0, len(b.byType[event.Type])+len(b.global))
	seen := make(map[string]struct{})
	for id, reg := range b.byType[event.Type] {
		seen[id] = struct{}{}
		candidates = append(candidates, reg)
	}
	for id, reg := range b.global {
		if _, dup := seen[id]; dup {
			continue
		}
		candidates = append(candidates, reg)
	}
	b.mu.RUnlock()

	out := candidates[:0]
	for _, reg := range candidates {
		if reg.accepts(event) {
			out = append(out, reg)
		}
	}
	return out
}

func (b *EventBus) dispatch(ctx context.Context, reg *registration, event *domain.Event, timeout time.Duration) bool {
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Errorw("event_handler_panic", "handler_id", reg.id, "event_type", event.Type, "panic", r)
				done <- false
			}
		}()
		done <- reg.handler.Handle(hctx, event)
	}()

	select {
	case ok := <-done:
		return ok
	case <-hctx.Done():
		return false
	}
}

func (b *EventBus) HandlerStats(handlerID string) (HandlerStats, bool) {
	b.mu.RLock()
	reg, ok := b.handlers[handlerID]
	b.mu.RUnlock()
	if !ok {
		return HandlerStats{}, false
	}
	return reg.snapshot(), true
}

func (b *EventBus) ListHandlers() []HandlerStats {
	b.mu.RLock()
	regs := make([]*registration, 0, len(b.handlers))
	for _, reg := range b.handlers {
		regs = append(regs, reg)
	}
	b.mu.RUnlock()

	out := make([]HandlerStats, 0, len(regs))
	for _, reg := range regs {
		out = append(out, reg.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (b *EventBus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	byType := make(map[string]int, len(b.byType))
	for t, set := range b.byType {
		byType[t] = len(set)
	}
	return BusStats{
		TotalEventsPublished: b.published.Load(),
		TotalEventsDelivered: b.delivered.Load(),
		TotalEventsFailed:    b.failed.Load(),
		HandlerCount:         len(b.handlers),
		GlobalHandlers:       len(b.global),
		HandlersByType:       byType,
	}
}

// Close drops every registration.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = make(map[string]*registration)
	b.byType = make(map[string]map[string]*registration)
	b.global = make(map[string]*registration)
}
