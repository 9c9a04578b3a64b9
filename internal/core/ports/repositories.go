package ports

import (
	"context"
	"time"

	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
)

// TaskFilter narrows TaskProgressRepository.Query. Zero values match all.
type TaskFilter struct {
	UserID          string
	Category        string
	Statuses        []domain.TaskStatus
	IDs             []string
	CompletedBefore *time.Time
	Limit           int
}

// Matches applies the filter to one task. Stores that cannot push the
// filter down to a query language use it directly.
func (f TaskFilter) Matches(t *domain.TaskProgress) bool {
	if f.UserID != "" && t.UserID != f.UserID {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, t.Status) {
		return false
	}
	if len(f.IDs) > 0 && !containsString(f.IDs, t.ID) {
		return false
	}
	if f.CompletedBefore != nil && (t.CompletedAt == nil || !t.CompletedAt.Before(*f.CompletedBefore)) {
		return false
	}
	return true
}

func containsStatus(list []domain.TaskStatus, s domain.TaskStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// NotificationFilter narrows NotificationRepository.Query. Zero values match all.
type NotificationFilter struct {
	UserID       string
	TaskID       string
	UnreadOnly   bool
	CreatedAfter *time.Time
	Limit        int
}

func (f NotificationFilter) Matches(n *domain.Notification) bool {
	if f.UserID != "" && n.UserID != f.UserID {
		return false
	}
	if f.TaskID != "" && n.TaskID != f.TaskID {
		return false
	}
	if f.UnreadOnly && n.IsRead {
		return false
	}
	if f.CreatedAfter != nil && n.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	return true
}

// TaskProgressRepository is the persistent task store. Load returns
// (nil, nil) when the record does not exist.
type TaskProgressRepository interface {
	Load(ctx context.Context, id string) (*domain.TaskProgress, error)
	Save(ctx context.Context, task *domain.TaskProgress) error
	Delete(ctx context.Context, id string) (bool, error)
	Query(ctx context.Context, filter TaskFilter) ([]domain.TaskProgress, error)
}

// NotificationRepository is the persistent notification store. Load returns
// (nil, nil) when the record does not exist.
type NotificationRepository interface {
	Load(ctx context.Context, id string) (*domain.Notification, error)
	Save(ctx context.Context, notification *domain.Notification) error
	Delete(ctx context.Context, id string) (bool, error)
	Query(ctx context.Context, filter NotificationFilter) ([]domain.Notification, error)
}

// Broadcaster pushes real-time messages to connected clients and reports how
// many connections received them.
type Broadcaster interface {
	BroadcastToTask(ctx context.Context, taskID string, message map[string]interface{}) (int, error)
	BroadcastToUser(ctx context.Context, userID string, message map[string]interface{}) (int, error)
}

// ChannelSender delivers a notification over one non-websocket channel.
type ChannelSender interface {
	Send(ctx context.Context, notification *domain.Notification) (bool, error)
}

// PreferenceRepository persists per-user channel preferences. Replace swaps
// the full set for one user.
type PreferenceRepository interface {
	ListAll(ctx context.Context) ([]domain.ChannelPreference, error)
	Replace(ctx context.Context, userID string, prefs []domain.ChannelPreference) error
}
