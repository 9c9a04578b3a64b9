package services

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
)

const DefaultRuleGroup = "default"

type RuleInput struct {
	ID          string
	Name        string
	Description string
	Type        domain.RuleType
	Priority    domain.RulePriority
	Enabled     *bool
	Conditions  []domain.RuleCondition
	Actions     []domain.RuleAction
	Metadata    map[string]interface{}
	Group       string
}

// RuleUpdate carries the fields to change. Nil fields are left alone.
type RuleUpdate struct {
	Name        *string
	Description *string
	Type        *domain.RuleType
	Priority    *domain.RulePriority
	Enabled     *bool
	Conditions  []domain.RuleCondition
	Actions     []domain.RuleAction
	Metadata    map[string]interface{}
	Group       *string
}

type RuleFilter struct {
	Type  domain.RuleType
	Group string
	Limit int
}

type RuleMatch struct {
	Rule      *domain.NotificationRule
	MatchedAt time.Time
}

// ActionRecord describes one action the engine decided to take.
type ActionRecord struct {
	RuleID   string
	RuleName string
	Action   domain.RuleAction
	// Title and Message are the rendered templates of a send action.
	Title   string
	Message string
}

type SkipRecord struct {
	RuleID string
	Reason string
}

type ActionError struct {
	RuleID string
	Err    error
}

type ExecutionResult struct {
	Executed []ActionRecord
	Skipped  []SkipRecord
	Errors   []ActionError
}

type RuleEngineStats struct {
	TotalRules       int            `json:"total_rules"`
	EnabledRules     int            `json:"enabled_rules"`
	TotalEvaluations int64          `json:"total_evaluations"`
	TotalMatches     int64          `json:"total_matches"`
	RulesByType      map[string]int `json:"rules_by_type"`
	RulesByGroup     map[string]int `json:"rules_by_group"`
}

// RuleEngine owns the rule table. Rules are evaluated against snapshots
// taken under the lock; counters are written back afterwards.
type RuleEngine struct {
	mu     sync.RWMutex
	rules  map[string]*domain.NotificationRule
	clock  Clock
	logger *logger.Logger
}

type RuleEngineConfig struct {
	Clock  Clock
	Logger *logger.Logger
}

func NewRuleEngine(cfg RuleEngineConfig) *RuleEngine {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &RuleEngine{
		rules:  make(map[string]*domain.NotificationRule),
		clock:  cfg.Clock.orDefault(),
		logger: cfg.Logger,
	}
}

func (e *RuleEngine) AddRule(input RuleInput) (string, error) {
	rule, err := e.buildRule(input)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[rule.ID]; exists {
		return "", fmt.Errorf("%w: rule %s already exists", ErrRuleInvalid, rule.ID)
	}
	e.rules[rule.ID] = rule
	e.logger.Infow("rule_added", "rule_id", rule.ID, "name", rule.Name, "group", rule.Group, "priority", rule.Priority.String())
	return rule.ID, nil
}

func (e *RuleEngine) buildRule(input RuleInput) (*domain.NotificationRule, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: rule name is required", ErrRuleInvalid)
	}
	ruleType := input.Type
	if ruleType == "" {
		ruleType = domain.RuleTypeCondition
	}
	if !ruleType.Valid() {
		return nil, fmt.Errorf("%w: unknown rule type %q", ErrRuleInvalid, ruleType)
	}
	priority := input.Priority
	if priority == 0 {
		priority = domain.RulePriorityNormal
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: unknown rule priority %d", ErrRuleInvalid, priority)
	}
	conditions, err := compileConditions(input.Conditions)
	if err != nil {
		return nil, err
	}
	if err := validateActions(input.Actions); err != nil {
		return nil, err
	}

	id := input.ID
	if id == "" {
		id = uuid.New().String()
	}
	group := input.Group
	if group == "" {
		group = DefaultRuleGroup
	}
	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}

	now := e.clock()
	return &domain.NotificationRule{
		ID:          id,
		Name:        name,
		Description: input.Description,
		Type:        ruleType,
		Priority:    priority,
		Enabled:     enabled,
		Conditions:  conditions,
		Actions:     append([]domain.RuleAction(nil), input.Actions...),
		Metadata:    input.Metadata,
		Group:       group,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func compileConditions(in []domain.RuleCondition) ([]domain.RuleCondition, error) {
	out := make([]domain.RuleCondition, len(in))
	copy(out, in)
	for i := range out {
		if err := out[i].Compile(); err != nil {
			return nil, fmt.Errorf("%w: condition %d: %v", ErrRuleInvalid, i, err)
		}
	}
	return out, nil
}

func validateActions(actions []domain.RuleAction) error {
	for i, a := range actions {
		if a == nil {
			return fmt.Errorf("%w: action %d is nil", ErrRuleInvalid, i)
		}
	}
	return nil
}

func (e *RuleEngine) RemoveRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[id]; !ok {
		return false
	}
	delete(e.rules, id)
	e.logger.Infow("rule_removed", "rule_id", id)
	return true
}

// RemoveGroup drops every rule in group and returns how many were removed.
func (e *RuleEngine) RemoveGroup(group string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for id, r := range e.rules {
		if r.Group == group {
			delete(e.rules, id)
			removed++
		}
	}
	if removed > 0 {
		e.logger.Infow("rule_group_removed", "group", group, "count", removed)
	}
	return removed
}

// UpdateRule applies update to rule id. It returns false for an unknown id
// and an error when the update would leave the rule invalid, in which case
// the rule is not modified.
func (e *RuleEngine) UpdateRule(id string, update RuleUpdate) (bool, error) {
	var (
		conditions []domain.RuleCondition
		err        error
	)
	if update.Conditions != nil {
		if conditions, err = compileConditions(update.Conditions); err != nil {
			return false, err
		}
	}
	if update.Actions != nil {
		if err := validateActions(update.Actions); err != nil {
			return false, err
		}
	}
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return false, fmt.Errorf("%w: rule name is required", ErrRuleInvalid)
	}
	if update.Type != nil && !update.Type.Valid() {
		return false, fmt.Errorf("%w: unknown rule type %q", ErrRuleInvalid, *update.Type)
	}
	if update.Priority != nil && !update.Priority.Valid() {
		return false, fmt.Errorf("%w: unknown rule priority %d", ErrRuleInvalid, *update.Priority)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	rule, ok := e.rules[id]
	if !ok {
		return false, nil
	}
	if update.Name != nil {
		rule.Name = strings.TrimSpace(*update.Name)
	}
	if update.Description != nil {
		rule.Description = *update.Description
	}
	if update.Type != nil {
		rule.Type = *update.Type
	}
	if update.Priority != nil {
		rule.Priority = *update.Priority
	}
	if update.Enabled != nil {
		rule.Enabled = *update.Enabled
	}
	if update.Conditions != nil {
		rule.Conditions = conditions
	}
	if update.Actions != nil {
		rule.Actions = append([]domain.RuleAction(nil), update.Actions...)
	}
	if update.Metadata != nil {
		rule.Metadata = update.Metadata
	}
	if update.Group != nil && *update.Group != "" {
		rule.Group = *update.Group
	}
	rule.UpdatedAt = e.clock()
	e.logger.Infow("rule_updated", "rule_id", id)
	return true, nil
}

func (e *RuleEngine) GetRule(id string) (*domain.NotificationRule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rule, ok := e.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return rule.Clone(), nil
}

// ListRules returns copies of all rules matching filter, highest priority
// first. Disabled rules are included.
func (e *RuleEngine) ListRules(filter RuleFilter) []*domain.NotificationRule {
	e.mu.RLock()
	out := make([]*domain.NotificationRule, 0, len(e.rules))
	for _, r := range e.rules {
		if filter.Type != "" && r.Type != filter.Type {
			continue
		}
		if filter.Group != "" && r.Group != filter.Group {
			continue
		}
		out = append(out, r.Clone())
	}
	e.mu.RUnlock()

	sortByPriority(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func sortByPriority(rules []*domain.NotificationRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
}

// EvaluateRules evaluates enabled rules against ctx in priority order and
// returns the matches. A rule that panics counts as a non-match.
func (e *RuleEngine) EvaluateRules(ctx map[string]interface{}, filter RuleFilter) []RuleMatch {
	e.mu.RLock()
	candidates := make([]*domain.NotificationRule, 0, len(e.rules))
	for _, r := range e.rules {
		if !r.Enabled {
			continue
		}
		if filter.Type != "" && r.Type != filter.Type {
			continue
		}
		if filter.Group != "" && r.Group != filter.Group {
			continue
		}
		candidates = append(candidates, r.Clone())
	}
	e.mu.RUnlock()

	sortByPriority(candidates)

	type outcome struct {
		id      string
		matched bool
	}
	outcomes := make([]outcome, 0, len(candidates))
	matches := make([]RuleMatch, 0)
	now := e.clock()
	for _, rule := range candidates {
		if filter.Limit > 0 && len(matches) >= filter.Limit {
			break
		}
		matched := e.evaluateOne(rule, ctx)
		outcomes = append(outcomes, outcome{id: rule.ID, matched: matched})
		if matched {
			rule.MatchCount++
			rule.LastMatchedAt = &now
			matches = append(matches, RuleMatch{Rule: rule, MatchedAt: now})
		}
		rule.EvaluationCount++
	}

	e.mu.Lock()
	for _, o := range outcomes {
		live, ok := e.rules[o.id]
		if !ok {
			continue
		}
		live.EvaluationCount++
		if o.matched {
			live.MatchCount++
			at := now
			live.LastMatchedAt = &at
		}
	}
	e.mu.Unlock()

	return matches
}

func (e *RuleEngine) evaluateOne(rule *domain.NotificationRule, ctx map[string]interface{}) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorw("rule_evaluate_panic", "rule_id", rule.ID, "panic", r)
			matched = false
		}
	}()
	ok, err := rule.Evaluate(ctx)
	if err != nil {
		e.logger.Warnw("rule_evaluate_error", "rule_id", rule.ID, "name", rule.Name, "error", err)
	}
	return ok
}

// ResolveConflicts keeps, in priority then creation order, each rule whose
// condition fields were not already claimed by a kept rule.
func (e *RuleEngine) ResolveConflicts(matches []RuleMatch) []RuleMatch {
	sorted := append([]RuleMatch(nil), matches...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Rule, sorted[j].Rule
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	claimed := make(map[string]struct{})
	kept := make([]RuleMatch, 0, len(sorted))
	for _, m := range sorted {
		paths := m.Rule.FieldPaths()
		conflict := false
		for _, p := range paths {
			if _, ok := claimed[p]; ok {
				conflict = true
				break
			}
		}
		if conflict {
			e.logger.Debugw("rule_conflict_dropped", "rule_id", m.Rule.ID, "name", m.Rule.Name)
			continue
		}
		for _, p := range paths {
			claimed[p] = struct{}{}
		}
		kept = append(kept, m)
	}
	return kept
}

// ExecuteActions turns the actions of each match into records. A suppress
// action stops the remaining actions of its rule.
func (e *RuleEngine) ExecuteActions(matches []RuleMatch, ctx map[string]interface{}) ExecutionResult {
	var result ExecutionResult
	for _, m := range matches {
		rule := m.Rule
	actions:
		for _, action := range rule.Actions {
			switch a := action.(type) {
			case domain.SuppressAction:
				reason := a.Reason
				if reason == "" {
					reason = "suppressed by rule " + rule.Name
				}
				result.Skipped = append(result.Skipped, SkipRecord{RuleID: rule.ID, Reason: reason})
				break actions
			case domain.SendAction:
				title, err := renderTemplate(a.Title, ctx)
				if err != nil {
					result.Errors = append(result.Errors, ActionError{RuleID: rule.ID, Err: err})
					continue
				}
				message, err := renderTemplate(a.Message, ctx)
				if err != nil {
					result.Errors = append(result.Errors, ActionError{RuleID: rule.ID, Err: err})
					continue
				}
				result.Executed = append(result.Executed, ActionRecord{
					RuleID: rule.ID, RuleName: rule.Name, Action: a, Title: title, Message: message,
				})
			case domain.RouteAction, domain.DeferAction, domain.EscalateAction:
				result.Executed = append(result.Executed, ActionRecord{RuleID: rule.ID, RuleName: rule.Name, Action: a})
			default:
				result.Errors = append(result.Errors, ActionError{
					RuleID: rule.ID,
					Err:    fmt.Errorf("unsupported action kind %q", action.Kind()),
				})
			}
		}
	}
	return result
}

func (e *RuleEngine) Stats() RuleEngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	stats := RuleEngineStats{
		TotalRules:   len(e.rules),
		RulesByType:  make(map[string]int),
		RulesByGroup: make(map[string]int),
	}
	for _, r := range e.rules {
		if r.Enabled {
			stats.EnabledRules++
		}
		stats.TotalEvaluations += r.EvaluationCount
		stats.TotalMatches += r.MatchCount
		stats.RulesByType[string(r.Type)]++
		stats.RulesByGroup[r.Group]++
	}
	return stats
}
