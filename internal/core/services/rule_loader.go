package services

import (
	"fmt"
	"os"
	"strings"

	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
	"gopkg.in/yaml.v3"
)

// FileRuleGroup is the group rules loaded from a rules file belong to.
const FileRuleGroup = "file"

type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	ID          string                 `yaml:"id"`
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Type        string                 `yaml:"type"`
	Priority    string                 `yaml:"priority"`
	Enabled     *bool                  `yaml:"enabled"`
	Conditions  []domain.RuleCondition `yaml:"conditions"`
	Actions     []domain.ActionSpec    `yaml:"actions"`
	Metadata    map[string]interface{} `yaml:"metadata"`
}

// ParseRules decodes a YAML rules document into engine inputs.
func ParseRules(data []byte) ([]RuleInput, error) {
	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse rules: %v", ErrRuleInvalid, err)
	}

	inputs := make([]RuleInput, 0, len(doc.Rules))
	for i, spec := range doc.Rules {
		priority, err := domain.ParseRulePriority(spec.Priority)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d: %v", ErrRuleInvalid, i, err)
		}
		actions := make([]domain.RuleAction, 0, len(spec.Actions))
		for j, as := range spec.Actions {
			action, err := as.ToAction()
			if err != nil {
				return nil, fmt.Errorf("%w: rule %d action %d: %v", ErrRuleInvalid, i, j, err)
			}
			actions = append(actions, action)
		}
		inputs = append(inputs, RuleInput{
			ID:          spec.ID,
			Name:        spec.Name,
			Description: spec.Description,
			Type:        domain.RuleType(strings.ToLower(spec.Type)),
			Priority:    priority,
			Enabled:     spec.Enabled,
			Conditions:  spec.Conditions,
			Actions:     actions,
			Metadata:    spec.Metadata,
			Group:       FileRuleGroup,
		})
	}
	return inputs, nil
}

func LoadRuleFile(path string) ([]RuleInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// ReplaceGroup swaps every rule in group for inputs. Nothing changes when
// any input is invalid.
func (e *RuleEngine) ReplaceGroup(group string, inputs []RuleInput) (int, error) {
	rules := make([]*domain.NotificationRule, 0, len(inputs))
	seen := make(map[string]struct{}, len(inputs))
	for i, in := range inputs {
		in.Group = group
		rule, err := e.buildRule(in)
		if err != nil {
			return 0, fmt.Errorf("rule %d: %w", i, err)
		}
		if _, dup := seen[rule.ID]; dup {
			return 0, fmt.Errorf("%w: duplicate rule id %s", ErrRuleInvalid, rule.ID)
		}
		seen[rule.ID] = struct{}{}
		rules = append(rules, rule)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range rules {
		if existing, ok := e.rules[r.ID]; ok && existing.Group != group {
			return 0, fmt.Errorf("%w: rule id %s already used by group %s", ErrRuleInvalid, r.ID, existing.Group)
		}
	}
	for id, r := range e.rules {
		if r.Group == group {
			delete(e.rules, id)
		}
	}
	for _, r := range rules {
		e.rules[r.ID] = r
	}
	e.logger.Infow("rule_group_replaced", "group", group, "count", len(rules))
	return len(rules), nil
}
