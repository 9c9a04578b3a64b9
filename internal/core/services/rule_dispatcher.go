package services

import (
	"context"
	"sync"
	"time"

	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/ports"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
)

// TaskEventTypes are the events the dispatcher evaluates rules against.
var TaskEventTypes = []string{
	domain.EventTaskCreated,
	domain.EventTaskProgressUpdated,
	domain.EventTaskStatusChanged,
	domain.EventTaskCompleted,
	domain.EventTaskFailed,
}

type RuleDispatcherConfig struct {
	Engine   *RuleEngine
	Notifier ports.NotificationService
	Logger   *logger.Logger
}

// RuleDispatcher is an event handler that evaluates rules for each task
// event and turns the resulting actions into notifications.
type RuleDispatcher struct {
	engine   *RuleEngine
	notifier ports.NotificationService
	logger   *logger.Logger

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

func NewRuleDispatcher(cfg RuleDispatcherConfig) *RuleDispatcher {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &RuleDispatcher{
		engine:   cfg.Engine,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		timers:   make(map[*time.Timer]struct{}),
	}
}

// Register subscribes the dispatcher to the task events on bus.
func (d *RuleDispatcher) Register(bus *EventBus) (string, error) {
	return bus.Subscribe(d, SubscribeOptions{Name: "rule_dispatcher", EventTypes: TaskEventTypes})
}

// RuleContext builds the map rules are evaluated against.
func RuleContext(event *domain.Event) map[string]interface{} {
	ctx := map[string]interface{}{
		"event_type": event.Type,
		"source":     event.Source,
		"payload":    event.Payload,
	}
	if task, ok := event.Payload["task"]; ok {
		ctx["task"] = task
	}
	if userID, ok := event.Payload["user_id"]; ok {
		ctx["user_id"] = userID
	} else if task, ok := event.Payload["task"].(map[string]interface{}); ok {
		ctx["user_id"] = task["user_id"]
	}
	return ctx
}

type dispatchPlan struct {
	sends    []ActionRecord
	channels []domain.Channel
	priority domain.NotificationPriority
	escalate int
	delay    time.Duration
}

func (d *RuleDispatcher) Handle(ctx context.Context, event *domain.Event) bool {
	ruleCtx := RuleContext(event)
	matches := d.engine.ResolveConflicts(d.engine.EvaluateRules(ruleCtx, RuleFilter{}))
	if len(matches) == 0 {
		return true
	}

	exec := d.engine.ExecuteActions(matches, ruleCtx)
	for _, s := range exec.Skipped {
		d.logger.Debugw("rule_actions_suppressed", "rule_id", s.RuleID, "reason", s.Reason, "event_id", event.ID)
	}
	for _, e := range exec.Errors {
		d.logger.Warnw("rule_action_failed", "rule_id", e.RuleID, "error", e.Err, "event_id", event.ID)
	}

	plan := buildPlan(exec.Executed)
	if len(plan.sends) == 0 {
		return len(exec.Errors) == 0
	}

	userID, _ := ruleCtx["user_id"].(string)
	if userID == "" {
		d.logger.Warnw("rule_send_without_user", "event_id", event.ID, "event_type", event.Type)
		return false
	}
	taskID, _ := event.Payload["task_id"].(string)

	inputs := make([]ports.CreateNotificationInput, 0, len(plan.sends))
	for _, rec := range plan.sends {
		inputs = append(inputs, plan.input(rec, userID, taskID, event))
	}

	if plan.delay > 0 {
		d.schedule(plan.delay, inputs)
		return len(exec.Errors) == 0
	}

	ok := len(exec.Errors) == 0
	for _, in := range inputs {
		if _, _, err := d.notifier.CreateNotification(ctx, in); err != nil {
			d.logger.Errorw("rule_notification_failed", "event_id", event.ID, "error", err)
			ok = false
		}
	}
	return ok
}

func buildPlan(records []ActionRecord) dispatchPlan {
	var plan dispatchPlan
	for _, rec := range records {
		switch a := rec.Action.(type) {
		case domain.SendAction:
			plan.sends = append(plan.sends, rec)
		case domain.RouteAction:
			plan.channels = dedupeChannels(append(plan.channels, a.Channels...))
		case domain.EscalateAction:
			if a.Priority == "" {
				plan.escalate++
			} else if a.Priority.Rank() > plan.priority.Rank() {
				plan.priority = a.Priority
			}
		case domain.DeferAction:
			if a.Delay > plan.delay {
				plan.delay = a.Delay
			}
		}
	}
	return plan
}

func (p dispatchPlan) input(rec ActionRecord, userID, taskID string, event *domain.Event) ports.CreateNotificationInput {
	send := rec.Action.(domain.SendAction)

	ntype := send.NotificationType
	if ntype == "" {
		ntype = domain.NotificationTypeInfo
	}
	priority := send.NotificationPriority
	if priority == "" {
		priority = domain.NotificationPriorityNormal
	}
	if p.priority.Rank() > priority.Rank() {
		priority = p.priority
	}
	for i := 0; i < p.escalate; i++ {
		priority = priority.Escalate()
	}

	channels := send.Channels
	if len(p.channels) > 0 {
		channels = p.channels
	}
	title := rec.Title
	if title == "" {
		title = rec.RuleName
	}

	return ports.CreateNotificationInput{
		UserID:    userID,
		Title:     title,
		Message:   rec.Message,
		Type:      ntype,
		Priority:  priority,
		Channels:  channels,
		TaskID:    taskID,
		ActionURL: send.ActionURL,
		Metadata: domain.JSONB{
			"rule_id":    rec.RuleID,
			"rule_name":  rec.RuleName,
			"event_id":   event.ID,
			"event_type": event.Type,
		},
	}
}

func (d *RuleDispatcher) schedule(delay time.Duration, inputs []ports.CreateNotificationInput) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, timer)
		d.mu.Unlock()
		for _, in := range inputs {
			if _, _, err := d.notifier.CreateNotification(context.Background(), in); err != nil {
				d.logger.Errorw("rule_deferred_notification_failed", "user_id", in.UserID, "error", err)
			}
		}
	})
	d.timers[timer] = struct{}{}
	d.logger.Debugw("rule_notifications_deferred", "count", len(inputs), "delay", delay.String())
}

// Pending reports how many deferred batches are waiting.
func (d *RuleDispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Close cancels deferred notifications that have not fired yet.
func (d *RuleDispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for t := range d.timers {
		t.Stop()
	}
	d.timers = make(map[*time.Timer]struct{})
}
