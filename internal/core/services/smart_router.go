package services

import (
	"sync"

	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
)

// RoutingRule maps notifications matching Match onto a channel set.
// When RequireAll is set the preferred channels are mandatory and the
// fallback is only used if one of them fails.
type RoutingRule struct {
	Name       string
	Match      func(n *domain.Notification) bool
	Preferred  []domain.Channel
	Fallback   []domain.Channel
	RequireAll bool
}

func DefaultRoutingRules() []RoutingRule {
	return []RoutingRule{
		{
			Name: "critical",
			Match: func(n *domain.Notification) bool {
				return n.Priority == domain.NotificationPriorityCritical
			},
			Preferred:  []domain.Channel{domain.ChannelWebSocket, domain.ChannelPush},
			Fallback:   []domain.Channel{domain.ChannelEmail},
			RequireAll: true,
		},
		{
			Name: "task_complete",
			Match: func(n *domain.Notification) bool {
				return n.Type == domain.NotificationTypeTaskComplete
			},
			Preferred: []domain.Channel{domain.ChannelWebSocket},
			Fallback:  []domain.Channel{domain.ChannelEmail},
		},
		{
			Name: "error",
			Match: func(n *domain.Notification) bool {
				return n.Type == domain.NotificationTypeError
			},
			Preferred: []domain.Channel{domain.ChannelWebSocket, domain.ChannelEmail, domain.ChannelSlack},
			Fallback:  []domain.Channel{domain.ChannelPush},
		},
	}
}

// ChannelPreferences is a per-user allow/deny map. Channels not listed are
// allowed.
type ChannelPreferences map[domain.Channel]bool

func (p ChannelPreferences) allows(c domain.Channel) bool {
	allowed, ok := p[c]
	return !ok || allowed
}

type RouteDecision struct {
	Channels []domain.Channel
	// Fallback is tried when a mandatory channel fails.
	Fallback []domain.Channel
	Rule     string
}

type SmartRouter struct {
	mu    sync.RWMutex
	rules []RoutingRule
	prefs map[string]ChannelPreferences
}

// NewSmartRouter uses DefaultRoutingRules when rules is nil.
func NewSmartRouter(rules []RoutingRule) *SmartRouter {
	if rules == nil {
		rules = DefaultRoutingRules()
	}
	return &SmartRouter{
		rules: rules,
		prefs: make(map[string]ChannelPreferences),
	}
}

func (r *SmartRouter) SetPreferences(userID string, prefs ChannelPreferences) {
	cp := make(ChannelPreferences, len(prefs))
	for c, v := range prefs {
		cp[c] = v
	}
	r.mu.Lock()
	r.prefs[userID] = cp
	r.mu.Unlock()
}

func (r *SmartRouter) Preferences(userID string) ChannelPreferences {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := make(ChannelPreferences, len(r.prefs[userID]))
	for c, v := range r.prefs[userID] {
		cp[c] = v
	}
	return cp
}

// Route computes the final channel set. User preferences filter the
// requested channels first; the first matching rule then replaces the set.
// Mandatory channels of a RequireAll rule cannot be denied.
func (r *SmartRouter) Route(n *domain.Notification) RouteDecision {
	r.mu.RLock()
	prefs := r.prefs[n.UserID]
	rules := r.rules
	r.mu.RUnlock()

	requested := n.ChannelSet()
	if len(requested) == 0 {
		requested = []domain.Channel{domain.ChannelWebSocket}
	}
	allowed := filterChannels(requested, prefs)

	for _, rule := range rules {
		if rule.Match == nil || !rule.Match(n) {
			continue
		}
		if rule.RequireAll {
			return RouteDecision{
				Channels: dedupeChannels(rule.Preferred),
				Fallback: filterChannels(rule.Fallback, prefs),
				Rule:     rule.Name,
			}
		}
		merged := append(append([]domain.Channel(nil), rule.Preferred...), rule.Fallback...)
		channels := filterChannels(merged, prefs)
		if len(channels) == 0 {
			channels = []domain.Channel{domain.ChannelWebSocket}
		}
		return RouteDecision{Channels: channels, Rule: rule.Name}
	}

	if len(allowed) == 0 {
		allowed = []domain.Channel{domain.ChannelWebSocket}
	}
	return RouteDecision{Channels: allowed}
}

func filterChannels(channels []domain.Channel, prefs ChannelPreferences) []domain.Channel {
	out := make([]domain.Channel, 0, len(channels))
	for _, c := range dedupeChannels(channels) {
		if prefs.allows(c) {
			out = append(out, c)
		}
	}
	return out
}

func dedupeChannels(channels []domain.Channel) []domain.Channel {
	seen := make(map[domain.Channel]struct{}, len(channels))
	out := make([]domain.Channel, 0, len(channels))
	for _, c := range channels {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
