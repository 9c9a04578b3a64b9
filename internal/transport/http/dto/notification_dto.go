package dto

import (
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/ports"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
)

type CreateNotificationRequest struct {
	UserID    string       `json:"user_id"`
	Title     string       `json:"title"`
	Message   string       `json:"message"`
	Type      string       `json:"type"`
	Priority  string       `json:"priority"`
	Channels  []string     `json:"channels,omitempty"`
	TaskID    string       `json:"task_id,omitempty"`
	ActionURL string       `json:"action_url,omitempty"`
	Metadata  domain.JSONB `json:"metadata,omitempty"`
}

func (r *CreateNotificationRequest) Validate() []string {
	var errors []string
	if r.UserID == "" {
		errors = append(errors, "user_id is required")
	}
	if r.Title == "" {
		errors = append(errors, "title is required")
	}
	if r.Type != "" && !domain.NotificationType(r.Type).Valid() {
		errors = append(errors, "type is not a known notification type")
	}
	if r.Priority != "" && !domain.NotificationPriority(r.Priority).Valid() {
		errors = append(errors, "priority must be one of: low, normal, high, critical")
	}
	for _, ch := range r.Channels {
		if !domain.Channel(ch).Valid() {
			errors = append(errors, "channel "+ch+" is not supported")
		}
	}
	return errors
}

func (r *CreateNotificationRequest) ToInput() ports.CreateNotificationInput {
	channels := make([]domain.Channel, 0, len(r.Channels))
	for _, ch := range r.Channels {
		channels = append(channels, domain.Channel(ch))
	}
	return ports.CreateNotificationInput{
		UserID:    r.UserID,
		Title:     r.Title,
		Message:   r.Message,
		Type:      domain.NotificationType(r.Type),
		Priority:  domain.NotificationPriority(r.Priority),
		Channels:  channels,
		TaskID:    r.TaskID,
		ActionURL: r.ActionURL,
		Metadata:  r.Metadata,
	}
}

type BatchNotificationRequest struct {
	Notifications []CreateNotificationRequest `json:"notifications"`
}

type CreateNotificationResponse struct {
	Notification *domain.Notification `json:"notification"`
	Delivery     *ports.SendResult    `json:"delivery"`
}

type NotificationListResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	Count         int                   `json:"count"`
}

// PreferencesRequest maps channel name to allowed.
type PreferencesRequest struct {
	Channels map[string]bool `json:"channels"`
}

func (r *PreferencesRequest) Validate() []string {
	var errors []string
	for ch := range r.Channels {
		if !domain.Channel(ch).Valid() {
			errors = append(errors, "channel "+ch+" is not supported")
		}
	}
	return errors
}

func (r *PreferencesRequest) ToMap() map[domain.Channel]bool {
	out := make(map[domain.Channel]bool, len(r.Channels))
	for ch, ok := range r.Channels {
		out[domain.Channel(ch)] = ok
	}
	return out
}

func PreferencesToResponse(prefs map[domain.Channel]bool) PreferencesRequest {
	out := PreferencesRequest{Channels: make(map[string]bool, len(prefs))}
	for ch, ok := range prefs {
		out.Channels[string(ch)] = ok
	}
	return out
}

type RetryRequest struct {
	MaxAgeHours float64 `json:"max_age_hours"`
}
