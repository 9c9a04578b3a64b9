package dto

import (
	"time"

	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/services"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
)

type RuleRequest struct {
	ID          string                 `json:"id,omitempty"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Type        string                 `json:"type,omitempty"`
	Priority    string                 `json:"priority,omitempty"`
	Enabled     *bool                  `json:"enabled,omitempty"`
	Conditions  []domain.RuleCondition `json:"conditions"`
	Actions     []domain.ActionSpec    `json:"actions"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Group       string                 `json:"group,omitempty"`
}

func (r *RuleRequest) actions() ([]domain.RuleAction, []string) {
	var errors []string
	out := make([]domain.RuleAction, 0, len(r.Actions))
	for _, spec := range r.Actions {
		a, err := spec.ToAction()
		if err != nil {
			errors = append(errors, err.Error())
			continue
		}
		out = append(out, a)
	}
	return out, errors
}

func (r *RuleRequest) ToInput() (services.RuleInput, []string) {
	var errors []string
	if r.Name == "" {
		errors = append(errors, "name is required")
	}
	priority, err := domain.ParseRulePriority(r.Priority)
	if err != nil {
		errors = append(errors, err.Error())
	}
	actions, actionErrs := r.actions()
	errors = append(errors, actionErrs...)

	return services.RuleInput{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Type:        domain.RuleType(r.Type),
		Priority:    priority,
		Enabled:     r.Enabled,
		Conditions:  r.Conditions,
		Actions:     actions,
		Metadata:    r.Metadata,
		Group:       r.Group,
	}, errors
}

// ToUpdate converts a full rule body into an update. Empty strings leave
// the field unchanged.
func (r *RuleRequest) ToUpdate() (services.RuleUpdate, []string) {
	var (
		update services.RuleUpdate
		errors []string
	)
	if r.Name != "" {
		update.Name = &r.Name
	}
	if r.Description != "" {
		update.Description = &r.Description
	}
	if r.Type != "" {
		t := domain.RuleType(r.Type)
		update.Type = &t
	}
	if r.Priority != "" {
		p, err := domain.ParseRulePriority(r.Priority)
		if err != nil {
			errors = append(errors, err.Error())
		} else {
			update.Priority = &p
		}
	}
	update.Enabled = r.Enabled
	if r.Conditions != nil {
		update.Conditions = r.Conditions
	}
	if r.Actions != nil {
		actions, actionErrs := r.actions()
		errors = append(errors, actionErrs...)
		update.Actions = actions
	}
	update.Metadata = r.Metadata
	if r.Group != "" {
		update.Group = &r.Group
	}
	return update, errors
}

type RuleResponse struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	Description     string                 `json:"description,omitempty"`
	Type            string                 `json:"type"`
	Priority        string                 `json:"priority"`
	Enabled         bool                   `json:"enabled"`
	Group           string                 `json:"group"`
	Conditions      []domain.RuleCondition `json:"conditions"`
	Actions         []domain.ActionSpec    `json:"actions"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	EvaluationCount int64                  `json:"evaluation_count"`
	MatchCount      int64                  `json:"match_count"`
	LastMatchedAt   *time.Time             `json:"last_matched_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

func RuleToResponse(r *domain.NotificationRule) RuleResponse {
	actions := make([]domain.ActionSpec, 0, len(r.Actions))
	for _, a := range r.Actions {
		actions = append(actions, domain.SpecFromAction(a))
	}
	return RuleResponse{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		Type:            string(r.Type),
		Priority:        r.Priority.String(),
		Enabled:         r.Enabled,
		Group:           r.Group,
		Conditions:      r.Conditions,
		Actions:         actions,
		Metadata:        r.Metadata,
		EvaluationCount: r.EvaluationCount,
		MatchCount:      r.MatchCount,
		LastMatchedAt:   r.LastMatchedAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func RulesToResponse(rules []*domain.NotificationRule) []RuleResponse {
	out := make([]RuleResponse, 0, len(rules))
	for _, r := range rules {
		out = append(out, RuleToResponse(r))
	}
	return out
}

type EvaluateRequest struct {
	Context map[string]interface{} `json:"context"`
	Type    string                 `json:"type,omitempty"`
	Group   string                 `json:"group,omitempty"`
	Limit   int                    `json:"limit,omitempty"`
	Resolve bool                   `json:"resolve_conflicts,omitempty"`
}

type ActionRecordResponse struct {
	RuleID   string            `json:"rule_id"`
	RuleName string            `json:"rule_name"`
	Action   domain.ActionSpec `json:"action"`
	Title    string            `json:"title,omitempty"`
	Message  string            `json:"message,omitempty"`
}

type EvaluateResponse struct {
	Matches  []RuleResponse         `json:"matches"`
	Executed []ActionRecordResponse `json:"executed"`
	Skipped  []map[string]string    `json:"skipped"`
	Errors   []map[string]string    `json:"errors"`
}

func EvaluationToResponse(matches []services.RuleMatch, exec services.ExecutionResult) EvaluateResponse {
	resp := EvaluateResponse{
		Matches:  make([]RuleResponse, 0, len(matches)),
		Executed: make([]ActionRecordResponse, 0, len(exec.Executed)),
		Skipped:  make([]map[string]string, 0, len(exec.Skipped)),
		Errors:   make([]map[string]string, 0, len(exec.Errors)),
	}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, RuleToResponse(m.Rule))
	}
	for _, rec := range exec.Executed {
		resp.Executed = append(resp.Executed, ActionRecordResponse{
			RuleID:   rec.RuleID,
			RuleName: rec.RuleName,
			Action:   domain.SpecFromAction(rec.Action),
			Title:    rec.Title,
			Message:  rec.Message,
		})
	}
	for _, s := range exec.Skipped {
		resp.Skipped = append(resp.Skipped, map[string]string{"rule_id": s.RuleID, "reason": s.Reason})
	}
	for _, e := range exec.Errors {
		resp.Errors = append(resp.Errors, map[string]string{"rule_id": e.RuleID, "error": e.Err.Error()})
	}
	return resp
}
