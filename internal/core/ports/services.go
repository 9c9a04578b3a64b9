package ports

import (
	"context"
	"time"

	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
)

type ProgressService interface {
	CreateTask(ctx context.Context, input CreateTaskInput) (*domain.TaskProgress, error)
	GetTask(ctx context.Context, id string) (*domain.TaskProgress, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]domain.TaskProgress, error)
	UpdateProgress(ctx context.Context, id string, input UpdateProgressInput) (*domain.TaskProgress, error)
	UpdateStatus(ctx context.Context, id string, input UpdateStatusInput) (*domain.TaskProgress, error)
	DeleteTask(ctx context.Context, id string) error
	AggregateProgress(ctx context.Context, ids []string) (*AggregateResult, error)
	BatchUpdateProgress(ctx context.Context, updates map[string]UpdateProgressInput) *BatchResult
}

type CreateTaskInput struct {
	TaskID     string
	UserID     string
	Category   string
	Name       string
	TotalSteps int
	Weight     float64
	Metadata   domain.JSONB
	Tags       []string
}

type UpdateProgressInput struct {
	Progress    float64
	CurrentStep string
	Metadata    domain.JSONB
}

type UpdateStatusInput struct {
	Status       domain.TaskStatus
	ErrorMessage string
	ErrorDetails domain.JSONB
	Result       domain.JSONB
}

// AggregateResult summarises an ad hoc list of tasks.
type AggregateResult struct {
	TaskCount       int                       `json:"task_count"`
	AverageProgress float64                   `json:"average_progress"`
	StatusCounts    map[domain.TaskStatus]int `json:"status_counts"`
	Missing         []string                  `json:"missing,omitempty"`
}

// BatchResult is returned by bulk operations that must not fail as a whole.
type BatchResult struct {
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
	Errors     map[string]string `json:"errors,omitempty"`
}

func NewBatchResult() *BatchResult {
	return &BatchResult{Errors: make(map[string]string)}
}

type NotificationService interface {
	CreateNotification(ctx context.Context, input CreateNotificationInput) (*domain.Notification, *SendResult, error)
	SendNotification(ctx context.Context, notification *domain.Notification) *SendResult
	GetNotification(ctx context.Context, id string) (*domain.Notification, error)
	GetUserNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkAsRead(ctx context.Context, id, userID string) (*domain.Notification, error)
	MarkAllAsRead(ctx context.Context, userID string) (int, error)
	DeleteNotification(ctx context.Context, id, userID string) error
	RetryFailedNotifications(ctx context.Context, maxAge time.Duration) *RetryResult
	BatchNotify(ctx context.Context, inputs []CreateNotificationInput) *BatchResult
	SetUserPreferences(userID string, prefs map[domain.Channel]bool)
	GetUserPreferences(userID string) map[domain.Channel]bool
}

type CreateNotificationInput struct {
	UserID    string
	Title     string
	Message   string
	Type      domain.NotificationType
	Priority  domain.NotificationPriority
	Channels  []domain.Channel
	TaskID    string
	ActionURL string
	Metadata  domain.JSONB
}

// SendResult counts per-channel outcomes of one send.
type SendResult struct {
	Successful  int  `json:"successful"`
	Failed      int  `json:"failed"`
	Total       int  `json:"total"`
	RateLimited bool `json:"rate_limited"`
}

type RetryResult struct {
	Scanned   int `json:"scanned"`
	Retried   int `json:"retried"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}
