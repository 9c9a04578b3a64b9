package services

import "github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"

// EventFilter decides whether a handler sees an event.
type EventFilter interface {
	Match(event *domain.Event) bool
}

type FilterFunc func(event *domain.Event) bool

func (f FilterFunc) Match(event *domain.Event) bool {
	return f(event)
}

func TypeFilter(types ...string) EventFilter {
	set := toSet(types)
	return FilterFunc(func(e *domain.Event) bool {
		_, ok := set[e.Type]
		return ok
	})
}

func SourceFilter(sources ...string) EventFilter {
	set := toSet(sources)
	return FilterFunc(func(e *domain.Event) bool {
		_, ok := set[e.Source]
		return ok
	})
}

func CorrelationFilter(correlationID string) EventFilter {
	return FilterFunc(func(e *domain.Event) bool {
		return e.CorrelationID == correlationID
	})
}

// MetadataFilter passes events whose metadata contains every given pair.
func MetadataFilter(want map[string]string) EventFilter {
	return FilterFunc(func(e *domain.Event) bool {
		for k, v := range want {
			if got, ok := e.Metadata[k]; !ok || got != v {
				return false
			}
		}
		return true
	})
}

func AllOf(filters ...EventFilter) EventFilter {
	return FilterFunc(func(e *domain.Event) bool {
		for _, f := range filters {
			if !f.Match(e) {
				return false
			}
		}
		return true
	})
}

func AnyOf(filters ...EventFilter) EventFilter {
	return FilterFunc(func(e *domain.Event) bool {
		for _, f := range filters {
			if f.Match(e) {
				return true
			}
		}
		return false
	})
}

func Not(filter EventFilter) EventFilter {
	return FilterFunc(func(e *domain.Event) bool {
		return !filter.Match(e)
	})
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
