package services

import (
	"sort"
	"sync"

	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
)

type CategoryStats struct {
	Category                string  `json:"category"`
	TaskCount               int     `json:"task_count"`
	AverageProgress         float64 `json:"average_progress"`
	WeightedAverageProgress float64 `json:"weighted_average_progress"`
	TotalWeight             float64 `json:"total_weight"`
	CompletedCount          int     `json:"completed_count"`
	RunningCount            int     `json:"running_count"`
	FailedCount             int     `json:"failed_count"`
}

type aggregateMember struct {
	category string
	progress float64
	status   domain.TaskStatus
	weight   float64
}

// ProgressAggregator keeps per-category progress averages and status
// counts. Stats for a category are rebuilt from its members on every
// mutation so the averages stay exact.
type ProgressAggregator struct {
	mu         sync.RWMutex
	members    map[string]aggregateMember
	categories map[string]map[string]struct{}
	stats      map[string]CategoryStats
}

func NewProgressAggregator() *ProgressAggregator {
	return &ProgressAggregator{
		members:    make(map[string]aggregateMember),
		categories: make(map[string]map[string]struct{}),
		stats:      make(map[string]CategoryStats),
	}
}

// AddOrUpdate records the latest state of a task. A non-positive weight
// counts as 1.
func (a *ProgressAggregator) AddOrUpdate(taskID, category string, progress float64, status domain.TaskStatus, weight float64) {
	if weight <= 0 {
		weight = 1.0
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if prev, ok := a.members[taskID]; ok && prev.category != category {
		a.detach(taskID, prev.category)
	}

	a.members[taskID] = aggregateMember{
		category: category,
		progress: domain.ClampProgress(progress),
		status:   status,
		weight:   weight,
	}
	set, ok := a.categories[category]
	if !ok {
		set = make(map[string]struct{})
		a.categories[category] = set
	}
	set[taskID] = struct{}{}
	a.recompute(category)
}

func (a *ProgressAggregator) Remove(taskID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	member, ok := a.members[taskID]
	if !ok {
		return false
	}
	delete(a.members, taskID)
	a.detach(taskID, member.category)
	return true
}

func (a *ProgressAggregator) Snapshot(category string) (CategoryStats, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats, ok := a.stats[category]
	return stats, ok
}

func (a *ProgressAggregator) SnapshotAll() map[string]CategoryStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]CategoryStats, len(a.stats))
	for k, v := range a.stats {
		out[k] = v
	}
	return out
}

func (a *ProgressAggregator) Categories() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]string, 0, len(a.stats))
	for k := range a.stats {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (a *ProgressAggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.members = make(map[string]aggregateMember)
	a.categories = make(map[string]map[string]struct{})
	a.stats = make(map[string]CategoryStats)
}

func (a *ProgressAggregator) detach(taskID, category string) {
	set := a.categories[category]
	delete(set, taskID)
	if len(set) == 0 {
		delete(a.categories, category)
		delete(a.stats, category)
		return
	}
	a.recompute(category)
}

func (a *ProgressAggregator) recompute(category string) {
	stats := CategoryStats{Category: category}
	var sum, weighted float64
	for id := range a.categories[category] {
		m := a.members[id]
		stats.TaskCount++
		sum += m.progress
		weighted += m.progress * m.weight
		stats.TotalWeight += m.weight
		switch m.status {
		case domain.TaskStatusCompleted:
			stats.CompletedCount++
		case domain.TaskStatusRunning:
			stats.RunningCount++
		case domain.TaskStatusFailed:
			stats.FailedCount++
		}
	}
	if stats.TaskCount > 0 {
		stats.AverageProgress = sum / float64(stats.TaskCount)
	}
	if stats.TotalWeight > 0 {
		stats.WeightedAverageProgress = weighted / stats.TotalWeight
	}
	a.stats[category] = stats
}
