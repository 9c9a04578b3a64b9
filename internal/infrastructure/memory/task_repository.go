package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/ports"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
)

// TaskRepository stores tasks in memory (dev/test use).
type TaskRepository struct {
	mu    sync.RWMutex
	tasks map[string]*domain.TaskProgress
}

func NewTaskRepository() *TaskRepository {
	return &TaskRepository{tasks: make(map[string]*domain.TaskProgress)}
}

var _ ports.TaskProgressRepository = (*TaskRepository)(nil)

func (r *TaskRepository) Load(_ context.Context, id string) (*domain.TaskProgress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

func (r *TaskRepository) Save(_ context.Context, task *domain.TaskProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID] = task.Clone()
	return nil
}

func (r *TaskRepository) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return false, nil
	}
	delete(r.tasks, id)
	return true, nil
}

func (r *TaskRepository) Query(_ context.Context, filter ports.TaskFilter) ([]domain.TaskProgress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.TaskProgress, 0)
	for _, t := range r.tasks {
		if !filter.Matches(t) {
			continue
		}
		result = append(result, *t.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *TaskRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
