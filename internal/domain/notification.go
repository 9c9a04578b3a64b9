package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type Channel string

const (
	ChannelWebSocket Channel = "websocket"
	ChannelEmail     Channel = "email"
	ChannelPush      Channel = "push"
	ChannelSlack     Channel = "slack"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelWebSocket, ChannelEmail, ChannelPush, ChannelSlack:
		return true
	}
	return false
}

type NotificationType string

const (
	NotificationTypeInfo         NotificationType = "info"
	NotificationTypeSuccess      NotificationType = "success"
	NotificationTypeWarning      NotificationType = "warning"
	NotificationTypeError        NotificationType = "error"
	NotificationTypeProgress     NotificationType = "progress"
	NotificationTypeAlert        NotificationType = "alert"
	NotificationTypeTaskComplete NotificationType = "task_complete"
	NotificationTypeSystem       NotificationType = "system"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationTypeInfo, NotificationTypeSuccess, NotificationTypeWarning,
		NotificationTypeError, NotificationTypeProgress, NotificationTypeAlert,
		NotificationTypeTaskComplete, NotificationTypeSystem:
		return true
	}
	return false
}

type NotificationPriority string

const (
	NotificationPriorityLow      NotificationPriority = "low"
	NotificationPriorityNormal   NotificationPriority = "normal"
	NotificationPriorityHigh     NotificationPriority = "high"
	NotificationPriorityCritical NotificationPriority = "critical"
)

var notificationPriorityRank = map[NotificationPriority]int{
	NotificationPriorityLow:      1,
	NotificationPriorityNormal:   2,
	NotificationPriorityHigh:     3,
	NotificationPriorityCritical: 4,
}

func (p NotificationPriority) Valid() bool {
	_, ok := notificationPriorityRank[p]
	return ok
}

// Rank orders priorities; unknown values rank 0.
func (p NotificationPriority) Rank() int {
	return notificationPriorityRank[p]
}

// Escalate returns the next priority up, saturating at critical.
func (p NotificationPriority) Escalate() NotificationPriority {
	switch p {
	case NotificationPriorityLow:
		return NotificationPriorityNormal
	case NotificationPriorityNormal:
		return NotificationPriorityHigh
	default:
		return NotificationPriorityCritical
	}
}

type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
)

type NotificationDelivery struct {
	Channel       Channel        `json:"channel"`
	Status        DeliveryStatus `json:"status"`
	Attempts      int            `json:"attempts"`
	MaxAttempts   int            `json:"max_attempts"`
	LastAttemptAt *time.Time     `json:"last_attempt_at,omitempty"`
	Error         string         `json:"error,omitempty"`
	DeliveredAt   *time.Time     `json:"delivered_at,omitempty"`
}

// Succeeded reports whether the channel accepted the notification.
func (d *NotificationDelivery) Succeeded() bool {
	return d.Status == DeliveryStatusSent || d.Status == DeliveryStatusDelivered
}

// Deliveries holds one delivery record per channel.
type Deliveries map[Channel]*NotificationDelivery

func (d Deliveries) Value() (driver.Value, error) {
	if d == nil {
		return marshalValue(map[string]interface{}{})
	}
	return marshalValue(map[Channel]*NotificationDelivery(d))
}

func (d *Deliveries) Scan(value interface{}) error {
	if value == nil {
		*d = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan Deliveries: invalid type")
	}
	return json.Unmarshal(bytes, d)
}

type Notification struct {
	ID     string `gorm:"primaryKey;size:64" json:"id"`
	UserID string `gorm:"size:64;not null;index" json:"user_id"`

	Title    string               `gorm:"size:255;not null" json:"title"`
	Message  string               `gorm:"type:text" json:"message"`
	Type     NotificationType     `gorm:"size:30;not null;index" json:"type"`
	Priority NotificationPriority `gorm:"size:20;not null;default:'normal'" json:"priority"`

	IsRead bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt *time.Time `json:"read_at,omitempty"`

	Channels   StringList `gorm:"type:jsonb" json:"channels"`
	TaskID     string     `gorm:"size:64;index" json:"task_id,omitempty"`
	ActionURL  string     `gorm:"size:1024" json:"action_url,omitempty"`
	Deliveries Deliveries `gorm:"type:jsonb" json:"deliveries"`

	RetryCount int   `gorm:"default:0" json:"retry_count"`
	MaxRetries int   `gorm:"default:3" json:"max_retries"`
	Metadata   JSONB `gorm:"type:jsonb" json:"metadata"`

	CreatedAt time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

func (Notification) TableName() string {
	return "notifications"
}

// ChannelSet returns the notification channels as typed values.
func (n *Notification) ChannelSet() []Channel {
	out := make([]Channel, 0, len(n.Channels))
	for _, c := range n.Channels {
		out = append(out, Channel(c))
	}
	return out
}

func (n *Notification) SetChannels(channels []Channel) {
	list := make(StringList, 0, len(channels))
	for _, c := range channels {
		list = append(list, string(c))
	}
	n.Channels = list
}

func (n *Notification) HasChannel(c Channel) bool {
	return n.Channels.Contains(string(c))
}

// SuccessfulDeliveries counts channels that accepted the notification.
func (n *Notification) SuccessfulDeliveries() int {
	count := 0
	for _, d := range n.Deliveries {
		if d != nil && d.Succeeded() {
			count++
		}
	}
	return count
}

func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	c := *n
	c.Metadata = n.Metadata.Clone()
	if n.Channels != nil {
		c.Channels = append(StringList(nil), n.Channels...)
	}
	if n.Deliveries != nil {
		c.Deliveries = make(Deliveries, len(n.Deliveries))
		for ch, d := range n.Deliveries {
			if d == nil {
				continue
			}
			dc := *d
			c.Deliveries[ch] = &dc
		}
	}
	if n.ReadAt != nil {
		v := *n.ReadAt
		c.ReadAt = &v
	}
	if n.SentAt != nil {
		v := *n.SentAt
		c.SentAt = &v
	}
	return &c
}
