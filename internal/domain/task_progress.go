package domain

import "time"

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusPaused, TaskStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// A task may be cancelled or failed before it starts and while paused, so
// work that never ran can still be closed out. Completion requires running.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending: {TaskStatusRunning, TaskStatusCancelled, TaskStatusFailed},
	TaskStatusRunning: {TaskStatusCompleted, TaskStatusFailed, TaskStatusPaused, TaskStatusCancelled},
	TaskStatusPaused:  {TaskStatusRunning, TaskStatusCancelled, TaskStatusFailed},
}

// CanTransition reports whether a task may move from one status to another.
// Staying in the same status is always allowed.
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

const (
	MinProgress = 0.0
	MaxProgress = 100.0
)

// ClampProgress bounds p to [MinProgress, MaxProgress].
func ClampProgress(p float64) float64 {
	if p < MinProgress {
		return MinProgress
	}
	if p > MaxProgress {
		return MaxProgress
	}
	return p
}

type TaskProgress struct {
	ID     string `gorm:"primaryKey;size:64" json:"task_id"`
	UserID string `gorm:"size:64;not null;index" json:"user_id"`

	Category    string     `gorm:"size:100;not null;index" json:"category"`
	Name        string     `gorm:"size:255;not null" json:"name"`
	Progress    float64    `gorm:"not null;default:0" json:"progress"`
	Status      TaskStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`
	CurrentStep string     `gorm:"size:255" json:"current_step"`
	TotalSteps  int        `gorm:"default:0" json:"total_steps"`
	Weight      float64    `gorm:"not null;default:1" json:"weight"`
	Metadata    JSONB      `gorm:"type:jsonb" json:"metadata"`
	Tags        StringList `gorm:"type:jsonb" json:"tags"`
	RetryCount  int        `gorm:"default:0" json:"retry_count"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Result       JSONB  `gorm:"type:jsonb" json:"result,omitempty"`
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`
	ErrorDetails JSONB  `gorm:"type:jsonb" json:"error_details,omitempty"`
}

func (TaskProgress) TableName() string {
	return "task_progress"
}

// Clone returns a copy that shares no maps, slices or time pointers with t.
func (t *TaskProgress) Clone() *TaskProgress {
	if t == nil {
		return nil
	}
	c := *t
	c.Metadata = t.Metadata.Clone()
	c.Result = t.Result.Clone()
	c.ErrorDetails = t.ErrorDetails.Clone()
	if t.Tags != nil {
		c.Tags = append(StringList(nil), t.Tags...)
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

// ToMap flattens the task into the shape used by rule contexts and
// real-time messages.
func (t *TaskProgress) ToMap() map[string]interface{} {
	metadata := map[string]interface{}(t.Metadata.Clone())
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	m := map[string]interface{}{
		"task_id":       t.ID,
		"user_id":       t.UserID,
		"category":      t.Category,
		"name":          t.Name,
		"progress":      t.Progress,
		"status":        string(t.Status),
		"current_step":  t.CurrentStep,
		"total_steps":   t.TotalSteps,
		"weight":        t.Weight,
		"retry_count":   t.RetryCount,
		"tags":          []string(t.Tags),
		"metadata":      metadata,
		"created_at":    t.CreatedAt,
		"updated_at":    t.UpdatedAt,
		"error_message": t.ErrorMessage,
	}
	if t.StartedAt != nil {
		m["started_at"] = *t.StartedAt
	}
	if t.CompletedAt != nil {
		m["completed_at"] = *t.CompletedAt
	}
	if t.Result != nil {
		m["result"] = map[string]interface{}(t.Result.Clone())
	}
	if t.ErrorDetails != nil {
		m["error_details"] = map[string]interface{}(t.ErrorDetails.Clone())
	}
	return m
}
