package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type ConditionOperator string

const (
	OpEquals       ConditionOperator = "equals"
	OpNotEquals    ConditionOperator = "not_equals"
	OpContains     ConditionOperator = "contains"
	OpNotContains  ConditionOperator = "not_contains"
	OpGreaterThan  ConditionOperator = "greater_than"
	OpLessThan     ConditionOperator = "less_than"
	OpGreaterEqual ConditionOperator = "greater_equal"
	OpLessEqual    ConditionOperator = "less_equal"
	OpIn           ConditionOperator = "in"
	OpNotIn        ConditionOperator = "not_in"
	OpRegex        ConditionOperator = "regex"
	OpExists       ConditionOperator = "exists"
	OpNotExists    ConditionOperator = "not_exists"
)

func (o ConditionOperator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpContains, OpNotContains, OpGreaterThan,
		OpLessThan, OpGreaterEqual, OpLessEqual, OpIn, OpNotIn, OpRegex,
		OpExists, OpNotExists:
		return true
	}
	return false
}

// LogicalOperator joins a condition to the one before it.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "and"
	LogicalOr  LogicalOperator = "or"
)

type RuleType string

const (
	RuleTypeCondition    RuleType = "condition"
	RuleTypeThreshold    RuleType = "threshold"
	RuleTypePattern      RuleType = "pattern"
	RuleTypeTimeBased    RuleType = "time_based"
	RuleTypeUserBehavior RuleType = "user_behavior"
)

func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeCondition, RuleTypeThreshold, RuleTypePattern,
		RuleTypeTimeBased, RuleTypeUserBehavior:
		return true
	}
	return false
}

type RulePriority int

const (
	RulePriorityLowest RulePriority = iota + 1
	RulePriorityLow
	RulePriorityNormal
	RulePriorityHigh
	RulePriorityCritical
)

var rulePriorityNames = map[RulePriority]string{
	RulePriorityLowest:   "lowest",
	RulePriorityLow:      "low",
	RulePriorityNormal:   "normal",
	RulePriorityHigh:     "high",
	RulePriorityCritical: "critical",
}

func (p RulePriority) Valid() bool {
	_, ok := rulePriorityNames[p]
	return ok
}

func (p RulePriority) String() string {
	if name, ok := rulePriorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

func ParseRulePriority(s string) (RulePriority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return RulePriorityNormal, nil
	}
	for p, name := range rulePriorityNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown rule priority %q", s)
}

// RuleCondition compares the value at Field (dot path into the context)
// against Value.
type RuleCondition struct {
	Field    string            `json:"field" yaml:"field"`
	Operator ConditionOperator `json:"operator" yaml:"operator"`
	Value    interface{}       `json:"value,omitempty" yaml:"value"`
	Logical  LogicalOperator   `json:"logical,omitempty" yaml:"logical"`

	compiled *regexp.Regexp
}

// Compile validates the condition and pre-compiles regex patterns.
func (c *RuleCondition) Compile() error {
	if strings.TrimSpace(c.Field) == "" {
		return fmt.Errorf("condition field is required")
	}
	if !c.Operator.Valid() {
		return fmt.Errorf("unknown operator %q", c.Operator)
	}
	switch c.Logical {
	case "":
		c.Logical = LogicalAnd
	case LogicalAnd, LogicalOr:
	default:
		return fmt.Errorf("unknown logical operator %q", c.Logical)
	}
	if c.Operator == OpRegex {
		pattern, ok := c.Value.(string)
		if !ok {
			return fmt.Errorf("regex pattern must be a string")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid regex: %w", err)
		}
		c.compiled = re
	}
	return nil
}

// Evaluate applies the operator to the resolved field. Unknown operators
// evaluate false and return an error so the caller can log them.
func (c *RuleCondition) Evaluate(ctx map[string]interface{}) (bool, error) {
	value, exists := LookupField(ctx, c.Field)

	switch c.Operator {
	case OpExists:
		return exists && value != nil, nil
	case OpNotExists:
		return !exists || value == nil, nil
	case OpEquals:
		return exists && valuesEqual(value, c.Value), nil
	case OpNotEquals:
		return !exists || !valuesEqual(value, c.Value), nil
	case OpContains:
		return exists && containsValue(value, c.Value), nil
	case OpNotContains:
		return !exists || !containsValue(value, c.Value), nil
	case OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual:
		if !exists || value == nil {
			return false, nil
		}
		return compareNumeric(value, c.Value, c.Operator), nil
	case OpIn:
		return exists && inList(value, c.Value), nil
	case OpNotIn:
		return !exists || !inList(value, c.Value), nil
	case OpRegex:
		if !exists || value == nil {
			return false, nil
		}
		re := c.compiled
		if re == nil {
			pattern, ok := c.Value.(string)
			if !ok {
				return false, fmt.Errorf("regex pattern must be a string")
			}
			var err error
			if re, err = regexp.Compile(pattern); err != nil {
				return false, fmt.Errorf("invalid regex: %w", err)
			}
		}
		return re.MatchString(fmt.Sprintf("%v", value)), nil
	default:
		return false, fmt.Errorf("unknown operator: %s", c.Operator)
	}
}

// LookupField resolves a dot path through nested maps. A missing segment
// yields (nil, false).
func LookupField(ctx map[string]interface{}, path string) (interface{}, bool) {
	if ctx == nil || path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	current := ctx
	for i, part := range parts {
		val, ok := current[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return val, true
		}
		switch next := val.(type) {
		case map[string]interface{}:
			current = next
		case JSONB:
			current = next
		case map[string]string:
			current = make(map[string]interface{}, len(next))
			for k, v := range next {
				current[k] = v
			}
		default:
			return nil, false
		}
	}
	return nil, false
}

func valuesEqual(a, b interface{}) bool {
	if af, aok := toFloat64(a); aok {
		if bf, bok := toFloat64(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func containsValue(haystack, needle interface{}) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprintf("%v", needle))
	case []interface{}:
		for _, item := range h {
			if valuesEqual(item, needle) {
				return true
			}
		}
		return false
	case []string:
		n := fmt.Sprintf("%v", needle)
		for _, item := range h {
			if item == n {
				return true
			}
		}
		return false
	case StringList:
		return h.Contains(fmt.Sprintf("%v", needle))
	case map[string]interface{}:
		_, ok := h[fmt.Sprintf("%v", needle)]
		return ok
	case nil:
		return false
	default:
		return strings.Contains(fmt.Sprintf("%v", h), fmt.Sprintf("%v", needle))
	}
}

func compareNumeric(a, b interface{}, op ConditionOperator) bool {
	af, ok := toFloat64(a)
	if !ok {
		return false
	}
	bf, ok := toFloat64(b)
	if !ok {
		return false
	}
	switch op {
	case OpGreaterThan:
		return af > bf
	case OpLessThan:
		return af < bf
	case OpGreaterEqual:
		return af >= bf
	case OpLessEqual:
		return af <= bf
	}
	return false
}

func inList(value, list interface{}) bool {
	switch l := list.(type) {
	case []interface{}:
		for _, item := range l {
			if valuesEqual(value, item) {
				return true
			}
		}
	case []string:
		v := fmt.Sprintf("%v", value)
		for _, item := range l {
			if v == item {
				return true
			}
		}
	case string:
		v := strings.TrimSpace(fmt.Sprintf("%v", value))
		for _, item := range strings.Split(l, ",") {
			if v == strings.TrimSpace(item) {
				return true
			}
		}
	}
	return false
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

type ActionKind string

const (
	ActionSend     ActionKind = "send"
	ActionSuppress ActionKind = "suppress"
	ActionDefer    ActionKind = "defer"
	ActionRoute    ActionKind = "route"
	ActionEscalate ActionKind = "escalate"
)

// RuleAction is one of SendAction, SuppressAction, DeferAction, RouteAction
// or EscalateAction.
type RuleAction interface {
	Kind() ActionKind
	Params() map[string]interface{}
}

type SendAction struct {
	Title                string
	Message              string
	NotificationType     NotificationType
	NotificationPriority NotificationPriority
	Channels             []Channel
	ActionURL            string
}

func (SendAction) Kind() ActionKind { return ActionSend }

func (a SendAction) Params() map[string]interface{} {
	return map[string]interface{}{
		"title":                 a.Title,
		"message":               a.Message,
		"notification_type":     string(a.NotificationType),
		"notification_priority": string(a.NotificationPriority),
		"channels":              channelStrings(a.Channels),
		"action_url":            a.ActionURL,
	}
}

type SuppressAction struct {
	Reason string
}

func (SuppressAction) Kind() ActionKind { return ActionSuppress }

func (a SuppressAction) Params() map[string]interface{} {
	return map[string]interface{}{"reason": a.Reason}
}

type DeferAction struct {
	Delay time.Duration
}

func (DeferAction) Kind() ActionKind { return ActionDefer }

func (a DeferAction) Params() map[string]interface{} {
	return map[string]interface{}{"delay": a.Delay.String()}
}

type RouteAction struct {
	Channels []Channel
}

func (RouteAction) Kind() ActionKind { return ActionRoute }

func (a RouteAction) Params() map[string]interface{} {
	return map[string]interface{}{"channels": channelStrings(a.Channels)}
}

// EscalateAction raises the notification priority to Priority, or one step
// when Priority is empty.
type EscalateAction struct {
	Priority NotificationPriority
}

func (EscalateAction) Kind() ActionKind { return ActionEscalate }

func (a EscalateAction) Params() map[string]interface{} {
	return map[string]interface{}{"priority": string(a.Priority)}
}

func channelStrings(channels []Channel) []string {
	out := make([]string, 0, len(channels))
	for _, c := range channels {
		out = append(out, string(c))
	}
	return out
}

// ActionSpec is the serialized form of a RuleAction.
type ActionSpec struct {
	Kind                 ActionKind           `json:"kind" yaml:"kind"`
	Title                string               `json:"title,omitempty" yaml:"title"`
	Message              string               `json:"message,omitempty" yaml:"message"`
	NotificationType     NotificationType     `json:"notification_type,omitempty" yaml:"notification_type"`
	NotificationPriority NotificationPriority `json:"notification_priority,omitempty" yaml:"notification_priority"`
	Channels             []Channel            `json:"channels,omitempty" yaml:"channels"`
	ActionURL            string               `json:"action_url,omitempty" yaml:"action_url"`
	Reason               string               `json:"reason,omitempty" yaml:"reason"`
	Delay                string               `json:"delay,omitempty" yaml:"delay"`
	Priority             NotificationPriority `json:"priority,omitempty" yaml:"priority"`
}

func (s ActionSpec) ToAction() (RuleAction, error) {
	for _, c := range s.Channels {
		if !c.Valid() {
			return nil, fmt.Errorf("unknown channel %q", c)
		}
	}
	switch s.Kind {
	case ActionSend:
		if s.NotificationType != "" && !s.NotificationType.Valid() {
			return nil, fmt.Errorf("unknown notification type %q", s.NotificationType)
		}
		if s.NotificationPriority != "" && !s.NotificationPriority.Valid() {
			return nil, fmt.Errorf("unknown notification priority %q", s.NotificationPriority)
		}
		return SendAction{
			Title:                s.Title,
			Message:              s.Message,
			NotificationType:     s.NotificationType,
			NotificationPriority: s.NotificationPriority,
			Channels:             s.Channels,
			ActionURL:            s.ActionURL,
		}, nil
	case ActionSuppress:
		return SuppressAction{Reason: s.Reason}, nil
	case ActionDefer:
		d, err := time.ParseDuration(s.Delay)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("defer action needs a positive delay, got %q", s.Delay)
		}
		return DeferAction{Delay: d}, nil
	case ActionRoute:
		if len(s.Channels) == 0 {
			return nil, fmt.Errorf("route action needs at least one channel")
		}
		return RouteAction{Channels: s.Channels}, nil
	case ActionEscalate:
		if s.Priority != "" && !s.Priority.Valid() {
			return nil, fmt.Errorf("unknown escalation priority %q", s.Priority)
		}
		return EscalateAction{Priority: s.Priority}, nil
	default:
		return nil, fmt.Errorf("unknown action kind %q", s.Kind)
	}
}

func SpecFromAction(a RuleAction) ActionSpec {
	switch v := a.(type) {
	case SendAction:
		return ActionSpec{
			Kind:                 ActionSend,
			Title:                v.Title,
			Message:              v.Message,
			NotificationType:     v.NotificationType,
			NotificationPriority: v.NotificationPriority,
			Channels:             v.Channels,
			ActionURL:            v.ActionURL,
		}
	case SuppressAction:
		return ActionSpec{Kind: ActionSuppress, Reason: v.Reason}
	case DeferAction:
		return ActionSpec{Kind: ActionDefer, Delay: v.Delay.String()}
	case RouteAction:
		return ActionSpec{Kind: ActionRoute, Channels: v.Channels}
	case EscalateAction:
		return ActionSpec{Kind: ActionEscalate, Priority: v.Priority}
	}
	return ActionSpec{Kind: a.Kind()}
}

type NotificationRule struct {
	ID          string
	Name        string
	Description string
	Type        RuleType
	Priority    RulePriority
	Enabled     bool
	Conditions  []RuleCondition
	Actions     []RuleAction
	Metadata    map[string]interface{}
	Group       string

	EvaluationCount int64
	MatchCount      int64
	LastMatchedAt   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Evaluate walks the conditions in order. A condition joined with OR extends
// the current group; a condition joined with AND closes the current group and
// opens a new one. The rule matches when every group holds at least one true
// condition.
func (r *NotificationRule) Evaluate(ctx map[string]interface{}) (bool, error) {
	if !r.Enabled {
		return false, nil
	}
	if len(r.Conditions) == 0 {
		return true, nil
	}

	var groups [][]bool
	var current []bool
	var firstErr error
	for i := range r.Conditions {
		cond := &r.Conditions[i]
		result, err := cond.Evaluate(ctx)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if cond.Logical == LogicalOr {
			current = append(current, result)
			continue
		}
		if len(current) > 0 {
			groups = append(groups, current)
		}
		current = []bool{result}
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}

	for _, group := range groups {
		if !anyTrue(group) {
			return false, firstErr
		}
	}
	return true, firstErr
}

func anyTrue(values []bool) bool {
	for _, v := range values {
		if v {
			return true
		}
	}
	return false
}

// FieldPaths lists the distinct condition fields in declaration order.
func (r *NotificationRule) FieldPaths() []string {
	seen := make(map[string]struct{}, len(r.Conditions))
	out := make([]string, 0, len(r.Conditions))
	for _, c := range r.Conditions {
		if _, ok := seen[c.Field]; ok {
			continue
		}
		seen[c.Field] = struct{}{}
		out = append(out, c.Field)
	}
	return out
}

func (r *NotificationRule) Clone() *NotificationRule {
	if r == nil {
		return nil
	}
	c := *r
	c.Conditions = append([]RuleCondition(nil), r.Conditions...)
	c.Actions = append([]RuleAction(nil), r.Actions...)
	if r.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	if r.LastMatchedAt != nil {
		v := *r.LastMatchedAt
		c.LastMatchedAt = &v
	}
	return &c
}
