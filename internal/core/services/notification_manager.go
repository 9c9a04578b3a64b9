package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/ports"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
)

const (
	DefaultMaxRetries    = 3
	notificationSource   = "notification_manager"
	defaultRetryInterval = time.Minute
)

var _ ports.NotificationService = (*NotificationManager)(nil)

type NotificationManagerConfig struct {
	Repo        ports.NotificationRepository
	Broadcaster ports.Broadcaster
	Senders     map[domain.Channel]ports.ChannelSender
	Router      *SmartRouter
	RateLimiter *RateLimiter
	Bus         *EventBus
	MaxRetries  int
	Clock       Clock
	Logger      *logger.Logger
}

type ChannelStats struct {
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
}

type NotificationStats struct {
	Created     int64                   `json:"created"`
	Sent        int64                   `json:"sent"`
	Failed      int64                   `json:"failed"`
	RateLimited int64                   `json:"rate_limited"`
	Retried     int64                   `json:"retried"`
	ByChannel   map[string]ChannelStats `json:"by_channel"`
}

// NotificationManager creates notifications, routes them onto channels and
// delivers them. Per-channel failures are recorded, never returned.
type NotificationManager struct {
	repo        ports.NotificationRepository
	broadcaster ports.Broadcaster
	senders     map[domain.Channel]ports.ChannelSender
	router      *SmartRouter
	limiter     *RateLimiter
	bus         *EventBus
	maxRetries  int
	clock       Clock
	logger      *logger.Logger

	statsMu sync.Mutex
	stats   NotificationStats
}

func NewNotificationManager(cfg NotificationManagerConfig) *NotificationManager {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Router == nil {
		cfg.Router = NewSmartRouter(nil)
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = NewRateLimiter(nil, cfg.Clock)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	senders := make(map[domain.Channel]ports.ChannelSender, len(cfg.Senders))
	for ch, s := range cfg.Senders {
		senders[ch] = s
	}
	return &NotificationManager{
		repo:        cfg.Repo,
		broadcaster: cfg.Broadcaster,
		senders:     senders,
		router:      cfg.Router,
		limiter:     cfg.RateLimiter,
		bus:         cfg.Bus,
		maxRetries:  cfg.MaxRetries,
		clock:       cfg.Clock.orDefault(),
		logger:      cfg.Logger,
		stats:       NotificationStats{ByChannel: make(map[string]ChannelStats)},
	}
}

func (m *NotificationManager) validateInput(input *ports.CreateNotificationInput) error {
	if strings.TrimSpace(input.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrNotificationInvalidInput)
	}
	if strings.TrimSpace(input.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrNotificationInvalidInput)
	}
	if input.Type == "" {
		input.Type = domain.NotificationTypeInfo
	}
	if !input.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrNotificationInvalidInput, input.Type)
	}
	if input.Priority == "" {
		input.Priority = domain.NotificationPriorityNormal
	}
	if !input.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrNotificationInvalidInput, input.Priority)
	}
	for _, c := range input.Channels {
		if !c.Valid() {
			return fmt.Errorf("%w: unknown channel %q", ErrNotificationInvalidInput, c)
		}
	}
	return nil
}

// CreateNotification validates, stores, routes and sends a notification.
// A rate-limited notification is stored but not sent.
func (m *NotificationManager) CreateNotification(ctx context.Context, input ports.CreateNotificationInput) (*domain.Notification, *ports.SendResult, error) {
	if err := m.validateInput(&input); err != nil {
		return nil, nil, err
	}

	now := m.clock()
	n := &domain.Notification{
		ID:         uuid.New().String(),
		UserID:     input.UserID,
		Title:      input.Title,
		Message:    input.Message,
		Type:       input.Type,
		Priority:   input.Priority,
		TaskID:     input.TaskID,
		ActionURL:  input.ActionURL,
		Metadata:   input.Metadata.Clone(),
		MaxRetries: m.maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	channels := input.Channels
	if len(channels) == 0 {
		channels = []domain.Channel{domain.ChannelWebSocket}
	}
	n.SetChannels(channels)

	decision := m.router.Route(n)
	n.SetChannels(decision.Channels)
	n.Deliveries = make(domain.Deliveries, len(decision.Channels))
	for _, ch := range decision.Channels {
		n.Deliveries[ch] = &domain.NotificationDelivery{
			Channel:     ch,
			Status:      domain.DeliveryStatusPending,
			MaxAttempts: m.maxRetries,
		}
	}

	if err := m.repo.Save(ctx, n); err != nil {
		m.logger.Errorw("notification_create_failed", "user_id", n.UserID, "error", err)
		return nil, nil, fmt.Errorf("save notification: %w", err)
	}
	m.bumpStats(func(s *NotificationStats) { s.Created++ })
	m.logger.Infow("notification_created", "notification_id", n.ID, "user_id", n.UserID, "type", n.Type, "priority", n.Priority, "channels", []string(n.Channels), "route", decision.Rule)
	m.publish(ctx, domain.EventNotificationCreated, n, nil)

	if !m.limiter.Allow(n.UserID, n.Priority) {
		m.bumpStats(func(s *NotificationStats) { s.RateLimited++ })
		m.logger.Warnw("notification_rate_limited", "notification_id", n.ID, "user_id", n.UserID, "priority", n.Priority)
		m.publish(ctx, domain.EventNotificationLimited, n, nil)
		return n.Clone(), &ports.SendResult{Total: len(n.Channels), RateLimited: true}, nil
	}

	result := m.send(ctx, n, decision.Fallback)
	return n.Clone(), result, nil
}

// SendNotification delivers n on each of its channels and records the
// outcome on n.
func (m *NotificationManager) SendNotification(ctx context.Context, n *domain.Notification) *ports.SendResult {
	return m.send(ctx, n, nil)
}

func (m *NotificationManager) send(ctx context.Context, n *domain.Notification, fallback []domain.Channel) *ports.SendResult {
	result := &ports.SendResult{}
	if n.Deliveries == nil {
		n.Deliveries = make(domain.Deliveries)
	}

	for _, ch := range n.ChannelSet() {
		m.attempt(ctx, n, ch, result)
	}
	if result.Failed > 0 && len(fallback) > 0 {
		for _, ch := range fallback {
			if n.HasChannel(ch) {
				continue
			}
			n.Channels = append(n.Channels, string(ch))
			m.logger.Infow("notification_fallback_channel", "notification_id", n.ID, "channel", ch)
			m.attempt(ctx, n, ch, result)
		}
	}

	now := m.clock()
	if result.Successful > 0 && n.SentAt == nil {
		n.SentAt = &now
	}
	n.UpdatedAt = now
	if m.repo != nil {
		if err := m.repo.Save(ctx, n); err != nil {
			m.logger.Errorw("notification_save_failed", "notification_id", n.ID, "error", err)
		}
	}

	m.publish(ctx, domain.EventNotificationSent, n, map[string]interface{}{
		"successful": result.Successful,
		"failed":     result.Failed,
		"total":      result.Total,
	})
	return result
}

func (m *NotificationManager) attempt(ctx context.Context, n *domain.Notification, ch domain.Channel, result *ports.SendResult) {
	ok, err := m.deliver(ctx, n, ch)
	now := m.clock()

	d := n.Deliveries[ch]
	if d == nil {
		d = &domain.NotificationDelivery{Channel: ch, MaxAttempts: m.maxRetries}
		n.Deliveries[ch] = d
	}
	d.Attempts++
	d.LastAttemptAt = &now
	result.Total++
	if ok {
		d.Status = domain.DeliveryStatusSent
		d.Error = ""
		d.DeliveredAt = &now
		result.Successful++
	} else {
		d.Status = domain.DeliveryStatusFailed
		if err != nil {
			d.Error = err.Error()
		}
		result.Failed++
		m.logger.Warnw("notification_channel_failed", "notification_id", n.ID, "channel", ch, "error", err)
	}

	m.bumpStats(func(s *NotificationStats) {
		cs := s.ByChannel[string(ch)]
		if ok {
			s.Sent++
			cs.Sent++
		} else {
			s.Failed++
			cs.Failed++
		}
		s.ByChannel[string(ch)] = cs
	})
}

func (m *NotificationManager) deliver(ctx context.Context, n *domain.Notification, ch domain.Channel) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("channel %s panicked: %v", ch, r)
		}
	}()

	if ch == domain.ChannelWebSocket {
		if m.broadcaster == nil {
			return false, fmt.Errorf("no broadcaster configured")
		}
		if _, err := m.broadcaster.BroadcastToUser(ctx, n.UserID, notificationMessage(n)); err != nil {
			return false, err
		}
		return true, nil
	}

	sender, found := m.senders[ch]
	if !found {
		return false, fmt.Errorf("no sender configured for channel %s", ch)
	}
	return sender.Send(ctx, n)
}

func notificationMessage(n *domain.Notification) map[string]interface{} {
	return map[string]interface{}{
		"type": "notification",
		"data": map[string]interface{}{
			"id":         n.ID,
			"title":      n.Title,
			"message":    n.Message,
			"type":       string(n.Type),
			"priority":   string(n.Priority),
			"task_id":    n.TaskID,
			"action_url": n.ActionURL,
			"metadata":   n.Metadata,
			"created_at": n.CreatedAt,
		},
	}
}

func (m *NotificationManager) publish(ctx context.Context, eventType string, n *domain.Notification, extra map[string]interface{}) {
	if m.bus == nil {
		return
	}
	payload := map[string]interface{}{
		"notification_id": n.ID,
		"user_id":         n.UserID,
		"type":            string(n.Type),
		"priority":        string(n.Priority),
		"task_id":         n.TaskID,
	}
	for k, v := range extra {
		payload[k] = v
	}
	m.bus.Publish(ctx, domain.NewEvent(eventType, payload, domain.WithSource(notificationSource)), 0)
}

func (m *NotificationManager) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	n, err := m.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, ErrNotificationNotFound
	}
	return n, nil
}

func (m *NotificationManager) loadOwned(ctx context.Context, id, userID string) (*domain.Notification, error) {
	n, err := m.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != "" && n.UserID != userID {
		return nil, ErrNotificationNotFound
	}
	return n, nil
}

func (m *NotificationManager) GetUserNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrNotificationInvalidInput)
	}
	return m.repo.Query(ctx, ports.NotificationFilter{UserID: userID, UnreadOnly: unreadOnly, Limit: limit})
}

func (m *NotificationManager) UnreadCount(ctx context.Context, userID string) (int, error) {
	list, err := m.GetUserNotifications(ctx, userID, true, 0)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

func (m *NotificationManager) MarkAsRead(ctx context.Context, id, userID string) (*domain.Notification, error) {
	n, err := m.loadOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if n.IsRead {
		return n, nil
	}
	now := m.clock()
	n.IsRead = true
	n.ReadAt = &now
	n.UpdatedAt = now
	if err := m.repo.Save(ctx, n); err != nil {
		return nil, fmt.Errorf("save notification: %w", err)
	}
	return n, nil
}

func (m *NotificationManager) MarkAllAsRead(ctx context.Context, userID string) (int, error) {
	unread, err := m.GetUserNotifications(ctx, userID, true, 0)
	if err != nil {
		return 0, err
	}
	now := m.clock()
	marked := 0
	for i := range unread {
		n := &unread[i]
		n.IsRead = true
		n.ReadAt = &now
		n.UpdatedAt = now
		if err := m.repo.Save(ctx, n); err != nil {
			m.logger.Errorw("notification_mark_read_failed", "notification_id", n.ID, "error", err)
			continue
		}
		marked++
	}
	return marked, nil
}

func (m *NotificationManager) DeleteNotification(ctx context.Context, id, userID string) error {
	if _, err := m.loadOwned(ctx, id, userID); err != nil {
		return err
	}
	deleted, err := m.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotificationNotFound
	}
	return nil
}

// RetryFailedNotifications resends notifications younger than maxAge that
// have no successful delivery and retries left.
func (m *NotificationManager) RetryFailedNotifications(ctx context.Context, maxAge time.Duration) *ports.RetryResult {
	result := &ports.RetryResult{}
	cutoff := m.clock().Add(-maxAge)
	candidates, err := m.repo.Query(ctx, ports.NotificationFilter{CreatedAfter: &cutoff})
	if err != nil {
		m.logger.Errorw("notification_retry_scan_failed", "error", err)
		return result
	}

	for i := range candidates {
		n := &candidates[i]
		result.Scanned++
		if n.SuccessfulDeliveries() > 0 {
			continue
		}
		limit := n.MaxRetries
		if limit <= 0 {
			limit = m.maxRetries
		}
		if n.RetryCount >= limit {
			continue
		}
		if !m.limiter.Allow(n.UserID, n.Priority) {
			continue
		}
		n.RetryCount++
		result.Retried++
		m.bumpStats(func(s *NotificationStats) { s.Retried++ })

		sent := m.send(ctx, n, nil)
		if sent.Successful > 0 {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	if result.Retried > 0 {
		m.logger.Infow("notification_retry_completed", "scanned", result.Scanned, "retried", result.Retried, "succeeded", result.Succeeded, "failed", result.Failed)
	}
	return result
}

// StartRetryLoop runs RetryFailedNotifications every interval until ctx is
// cancelled.
func (m *NotificationManager) StartRetryLoop(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.RetryFailedNotifications(ctx, maxAge)
			}
		}
	}()
}

func (m *NotificationManager) BatchNotify(ctx context.Context, inputs []ports.CreateNotificationInput) *ports.BatchResult {
	result := ports.NewBatchResult()
	for i, input := range inputs {
		if _, _, err := m.CreateNotification(ctx, input); err != nil {
			result.Failed++
			result.Errors[strconv.Itoa(i)] = err.Error()
			continue
		}
		result.Successful++
	}
	return result
}

func (m *NotificationManager) SetUserPreferences(userID string, prefs map[domain.Channel]bool) {
	m.router.SetPreferences(userID, prefs)
}

func (m *NotificationManager) GetUserPreferences(userID string) map[domain.Channel]bool {
	return m.router.Preferences(userID)
}

func (m *NotificationManager) Stats() NotificationStats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	out := m.stats
	out.ByChannel = make(map[string]ChannelStats, len(m.stats.ByChannel))
	for k, v := range m.stats.ByChannel {
		out.ByChannel[k] = v
	}
	return out
}

func (m *NotificationManager) bumpStats(fn func(s *NotificationStats)) {
	m.statsMu.Lock()
	fn(&m.stats)
	m.statsMu.Unlock()
}
