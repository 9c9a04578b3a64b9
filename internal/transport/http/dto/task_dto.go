package dto

import (
	"math"

	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/ports"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
)

type CreateTaskRequest struct {
	TaskID     string       `json:"task_id"`
	UserID     string       `json:"user_id"`
	Category   string       `json:"category"`
	Name       string       `json:"name"`
	TotalSteps int          `json:"total_steps"`
	Weight     float64      `json:"weight"`
	Metadata   domain.JSONB `json:"metadata,omitempty"`
	Tags       []string     `json:"tags,omitempty"`
}

func (r *CreateTaskRequest) Validate() []string {
	var errors []string
	if r.UserID == "" {
		errors = append(errors, "user_id is required")
	}
	if r.Name == "" {
		errors = append(errors, "name is required")
	}
	if r.TotalSteps < 0 {
		errors = append(errors, "total_steps must not be negative")
	}
	if r.Weight < 0 {
		errors = append(errors, "weight must not be negative")
	}
	return errors
}

func (r *CreateTaskRequest) ToInput() ports.CreateTaskInput {
	return ports.CreateTaskInput{
		TaskID:     r.TaskID,
		UserID:     r.UserID,
		Category:   r.Category,
		Name:       r.Name,
		TotalSteps: r.TotalSteps,
		Weight:     r.Weight,
		Metadata:   r.Metadata,
		Tags:       r.Tags,
	}
}

type UpdateProgressRequest struct {
	Progress    *float64     `json:"progress"`
	CurrentStep string       `json:"current_step,omitempty"`
	Metadata    domain.JSONB `json:"metadata,omitempty"`
}

func (r *UpdateProgressRequest) Validate() []string {
	var errors []string
	if r.Progress == nil {
		errors = append(errors, "progress is required")
	} else if math.IsNaN(*r.Progress) || *r.Progress < domain.MinProgress || *r.Progress > domain.MaxProgress {
		errors = append(errors, "progress must be between 0 and 100")
	}
	return errors
}

func (r *UpdateProgressRequest) ToInput() ports.UpdateProgressInput {
	in := ports.UpdateProgressInput{CurrentStep: r.CurrentStep, Metadata: r.Metadata}
	if r.Progress != nil {
		in.Progress = *r.Progress
	}
	return in
}

type UpdateStatusRequest struct {
	Status       string       `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
	ErrorDetails domain.JSONB `json:"error_details,omitempty"`
	Result       domain.JSONB `json:"result,omitempty"`
}

func (r *UpdateStatusRequest) Validate() []string {
	var errors []string
	if r.Status == "" {
		errors = append(errors, "status is required")
	} else if !domain.TaskStatus(r.Status).Valid() {
		errors = append(errors, "status must be one of: pending, running, completed, failed, paused, cancelled")
	}
	return errors
}

func (r *UpdateStatusRequest) ToInput() ports.UpdateStatusInput {
	return ports.UpdateStatusInput{
		Status:       domain.TaskStatus(r.Status),
		ErrorMessage: r.ErrorMessage,
		ErrorDetails: r.ErrorDetails,
		Result:       r.Result,
	}
}

type AggregateRequest struct {
	TaskIDs []string `json:"task_ids"`
}

type BatchProgressRequest struct {
	Updates map[string]UpdateProgressRequest `json:"updates"`
}

func (r *BatchProgressRequest) ToInput() map[string]ports.UpdateProgressInput {
	out := make(map[string]ports.UpdateProgressInput, len(r.Updates))
	for id, u := range r.Updates {
		u := u
		if u.Progress == nil {
			// rejected by the service as out of range
			nan := math.NaN()
			u.Progress = &nan
		}
		out[id] = u.ToInput()
	}
	return out
}

type TaskListResponse struct {
	Tasks []domain.TaskProgress `json:"tasks"`
	Count int                   `json:"count"`
}
