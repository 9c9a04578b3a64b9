package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/ports"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTaskCategory = "general"
	DefaultCacheMaxSize = 1000
	DefaultCacheTTL     = 5 * time.Minute
	progressSource      = "progress_manager"
	maxTaskIDLength     = 64
	messageTaskCreated  = "task_created"
	messageProgress     = "progress_update"
	messageStatus       = "status_update"
	messageTaskDeleted  = "task_deleted"
)

var _ ports.ProgressService = (*ProgressManager)(nil)

type ProgressManagerConfig struct {
	Repo         ports.TaskProgressRepository
	Broadcaster  ports.Broadcaster
	Bus          *EventBus
	CacheMaxSize int
	CacheTTL     time.Duration
	EnableLocks  bool
	Clock        Clock
	Logger       *logger.Logger
}

// ProgressManager owns the task lifecycle. The cache and the category
// aggregator are internal to it; every mutation flows through both and is
// then broadcast and published.
type ProgressManager struct {
	repo        ports.TaskProgressRepository
	broadcaster ports.Broadcaster
	bus         *EventBus
	cache       *Cache[*domain.TaskProgress]
	aggregator  *ProgressAggregator
	clock       Clock
	logger      *logger.Logger

	loads singleflight.Group
	locks *keyLocker

	// fillMu orders cache writes from commits against read-through fills.
	// writes counts commits and removals; a fill whose load started before
	// the latest write is discarded.
	fillMu sync.Mutex
	writes uint64
}

func NewProgressManager(cfg ProgressManagerConfig) *ProgressManager {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.CacheMaxSize <= 0 {
		cfg.CacheMaxSize = DefaultCacheMaxSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	clock := cfg.Clock.orDefault()
	return &ProgressManager{
		repo:        cfg.Repo,
		broadcaster: cfg.Broadcaster,
		bus:         cfg.Bus,
		cache:       NewCache[*domain.TaskProgress](cfg.CacheMaxSize, cfg.CacheTTL, clock),
		aggregator:  NewProgressAggregator(),
		clock:       clock,
		logger:      cfg.Logger,
		locks:       newKeyLocker(cfg.EnableLocks),
	}
}

func taskLockKey(id string) string {
	return "task:" + id
}

func (m *ProgressManager) validateCreate(input *ports.CreateTaskInput) error {
	input.TaskID = strings.TrimSpace(input.TaskID)
	if len(input.TaskID) > maxTaskIDLength {
		return fmt.Errorf("%w: task_id longer than %d characters", ErrTaskInvalidInput, maxTaskIDLength)
	}
	if strings.TrimSpace(input.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrTaskInvalidInput)
	}
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrTaskInvalidInput)
	}
	if input.TotalSteps < 0 {
		return fmt.Errorf("%w: total_steps must not be negative", ErrTaskInvalidInput)
	}
	if input.Weight < 0 || math.IsNaN(input.Weight) {
		return fmt.Errorf("%w: weight must not be negative", ErrTaskInvalidInput)
	}
	if input.Weight == 0 {
		input.Weight = 1
	}
	if strings.TrimSpace(input.Category) == "" {
		input.Category = DefaultTaskCategory
	}
	return nil
}

func (m *ProgressManager) CreateTask(ctx context.Context, input ports.CreateTaskInput) (*domain.TaskProgress, error) {
	if err := m.validateCreate(&input); err != nil {
		return nil, err
	}
	if input.TaskID == "" {
		input.TaskID = uuid.New().String()
	}

	unlock := m.locks.lock(taskLockKey(input.TaskID))
	existing, err := m.loadLocked(ctx, input.TaskID)
	if err != nil {
		unlock()
		return nil, err
	}
	if existing != nil {
		unlock()
		m.logger.Warnw("task already exists", "task_id", input.TaskID)
		return nil, ErrTaskAlreadyExists
	}

	now := m.clock()
	task := &domain.TaskProgress{
		ID:         input.TaskID,
		UserID:     input.UserID,
		Category:   input.Category,
		Name:       input.Name,
		Status:     domain.TaskStatusPending,
		TotalSteps: input.TotalSteps,
		Weight:     input.Weight,
		Metadata:   input.Metadata.Clone(),
		Tags:       domain.StringList(input.Tags),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if task.Metadata == nil {
		task.Metadata = domain.JSONB{}
	}

	if err := m.repo.Save(ctx, task); err != nil {
		unlock()
		m.logger.Errorw("failed to save task", "task_id", task.ID, "error", err)
		return nil, fmt.Errorf("save task: %w", err)
	}
	m.commit(task)
	unlock()

	m.logger.Infow("task created", "task_id", task.ID, "user_id", task.UserID, "category", task.Category)
	m.notify(ctx, task, messageTaskCreated, domain.EventTaskCreated, "")
	return task.Clone(), nil
}

// GetTask reads through the cache. Concurrent misses for one id share a
// single store load.
func (m *ProgressManager) GetTask(ctx context.Context, id string) (*domain.TaskProgress, error) {
	task, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// load returns a private copy of the task or nil when it does not exist.
// It is the unlocked read path; concurrent misses share one store load.
func (m *ProgressManager) load(ctx context.Context, id string) (*domain.TaskProgress, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: task_id is required", ErrTaskInvalidInput)
	}
	if cached, ok := m.cache.Get(id); ok {
		return cached.Clone(), nil
	}

	v, err, _ := m.loads.Do(id, func() (interface{}, error) {
		gen := m.writeGeneration()
		task, err := m.repo.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if task != nil {
			m.fill(task, gen)
		}
		return task, nil
	})
	if err != nil {
		m.logger.Errorw("failed to load task", "task_id", id, "error", err)
		return nil, fmt.Errorf("load task: %w", err)
	}
	task, _ := v.(*domain.TaskProgress)
	if task == nil {
		return nil, nil
	}
	return task.Clone(), nil
}

// loadLocked is the read path for callers holding the task's key lock. It
// bypasses the shared flight so it never adopts a load that began before
// the caller's predecessor committed.
func (m *ProgressManager) loadLocked(ctx context.Context, id string) (*domain.TaskProgress, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: task_id is required", ErrTaskInvalidInput)
	}
	if cached, ok := m.cache.Get(id); ok {
		return cached.Clone(), nil
	}
	gen := m.writeGeneration()
	task, err := m.repo.Load(ctx, id)
	if err != nil {
		m.logger.Errorw("failed to load task", "task_id", id, "error", err)
		return nil, fmt.Errorf("load task: %w", err)
	}
	if task == nil {
		return nil, nil
	}
	m.fill(task, gen)
	return task.Clone(), nil
}

func (m *ProgressManager) writeGeneration() uint64 {
	m.fillMu.Lock()
	defer m.fillMu.Unlock()
	return m.writes
}

// fill caches a store read unless a commit or removal happened after the
// read began.
func (m *ProgressManager) fill(task *domain.TaskProgress, gen uint64) {
	m.fillMu.Lock()
	defer m.fillMu.Unlock()
	if m.writes != gen {
		return
	}
	m.cache.Set(task.ID, task.Clone())
}

func (m *ProgressManager) evict(id string) {
	m.fillMu.Lock()
	m.writes++
	m.cache.Remove(id)
	m.fillMu.Unlock()
	m.aggregator.Remove(id)
}

func (m *ProgressManager) ListTasks(ctx context.Context, filter ports.TaskFilter) ([]domain.TaskProgress, error) {
	for _, s := range filter.Statuses {
		if !s.Valid() {
			return nil, ErrTaskInvalidStatus
		}
	}
	return m.repo.Query(ctx, filter)
}

// mutate applies fn to a copy of the task under its key lock and persists
// the result. The cache and aggregator only see successfully saved state.
func (m *ProgressManager) mutate(ctx context.Context, id string, fn func(task *domain.TaskProgress) (bool, error)) (*domain.TaskProgress, domain.TaskStatus, bool, error) {
	unlock := m.locks.lock(taskLockKey(id))
	defer unlock()

	task, err := m.loadLocked(ctx, id)
	if err != nil {
		return nil, "", false, err
	}
	if task == nil {
		return nil, "", false, ErrTaskNotFound
	}
	previous := task.Status

	changed, err := fn(task)
	if err != nil {
		return nil, previous, false, err
	}
	if !changed {
		return task, previous, false, nil
	}

	task.UpdatedAt = m.clock()
	if err := m.repo.Save(ctx, task); err != nil {
		m.logger.Errorw("failed to save task", "task_id", id, "error", err)
		return nil, previous, false, fmt.Errorf("save task: %w", err)
	}
	m.commit(task)
	return task, previous, true, nil
}

func (m *ProgressManager) commit(task *domain.TaskProgress) {
	m.fillMu.Lock()
	m.writes++
	m.cache.Set(task.ID, task.Clone())
	m.fillMu.Unlock()
	m.aggregator.AddOrUpdate(task.ID, task.Category, task.Progress, task.Status, task.Weight)
}

// UpdateProgress rejects values outside [0, 100]. A pending task moves to
// running on its first progress report.
func (m *ProgressManager) UpdateProgress(ctx context.Context, id string, input ports.UpdateProgressInput) (*domain.TaskProgress, error) {
	p := input.Progress
	if math.IsNaN(p) || p < domain.MinProgress || p > domain.MaxProgress {
		return nil, ErrTaskInvalidProgress
	}

	task, previous, changed, err := m.mutate(ctx, id, func(task *domain.TaskProgress) (bool, error) {
		if task.Status.IsTerminal() {
			return false, ErrTaskTerminal
		}
		task.Progress = domain.ClampProgress(p)
		if input.CurrentStep != "" {
			task.CurrentStep = input.CurrentStep
		}
		if len(input.Metadata) > 0 {
			if task.Metadata == nil {
				task.Metadata = domain.JSONB{}
			}
			for k, v := range input.Metadata {
				task.Metadata[k] = v
			}
		}
		if task.Status == domain.TaskStatusPending {
			task.Status = domain.TaskStatusRunning
			if task.StartedAt == nil {
				now := m.clock()
				task.StartedAt = &now
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		m.logger.Debugw("task progress updated", "task_id", id, "progress", task.Progress)
		m.notify(ctx, task, messageProgress, domain.EventTaskProgressUpdated, previous)
		if previous != task.Status {
			m.notify(ctx, task, messageStatus, domain.EventTaskStatusChanged, previous)
		}
	}
	return task.Clone(), nil
}

// UpdateStatus moves the task through its lifecycle. Repeating the current
// status is a no-op.
func (m *ProgressManager) UpdateStatus(ctx context.Context, id string, input ports.UpdateStatusInput) (*domain.TaskProgress, error) {
	if !input.Status.Valid() {
		return nil, ErrTaskInvalidStatus
	}

	task, previous, changed, err := m.mutate(ctx, id, func(task *domain.TaskProgress) (bool, error) {
		if task.Status == input.Status {
			return false, nil
		}
		if !domain.CanTransition(task.Status, input.Status) {
			return false, fmt.Errorf("%w: %s -> %s", ErrTaskInvalidTransition, task.Status, input.Status)
		}

		now := m.clock()
		task.Status = input.Status
		switch input.Status {
		case domain.TaskStatusRunning:
			if task.StartedAt == nil {
				task.StartedAt = &now
			}
		case domain.TaskStatusCompleted:
			task.Progress = domain.MaxProgress
			if input.Result != nil {
				task.Result = input.Result.Clone()
			}
		case domain.TaskStatusFailed:
			task.ErrorMessage = input.ErrorMessage
			task.ErrorDetails = input.ErrorDetails.Clone()
		}
		if input.Status.IsTerminal() && task.CompletedAt == nil {
			task.CompletedAt = &now
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return task.Clone(), nil
	}

	m.logger.Infow("task status changed", "task_id", id, "from", previous, "to", task.Status)
	m.notify(ctx, task, messageStatus, domain.EventTaskStatusChanged, previous)
	switch task.Status {
	case domain.TaskStatusCompleted:
		m.publish(ctx, domain.EventTaskCompleted, task, previous)
	case domain.TaskStatusFailed:
		m.publish(ctx, domain.EventTaskFailed, task, previous)
	}
	return task.Clone(), nil
}

func (m *ProgressManager) DeleteTask(ctx context.Context, id string) error {
	unlock := m.locks.lock(taskLockKey(id))
	task, err := m.loadLocked(ctx, id)
	if err != nil {
		unlock()
		return err
	}
	if task == nil {
		unlock()
		return ErrTaskNotFound
	}
	if _, err := m.repo.Delete(ctx, id); err != nil {
		unlock()
		m.logger.Errorw("failed to delete task", "task_id", id, "error", err)
		return fmt.Errorf("delete task: %w", err)
	}
	m.evict(id)
	unlock()

	m.logger.Infow("task deleted", "task_id", id)
	m.notify(ctx, task, messageTaskDeleted, domain.EventTaskDeleted, task.Status)
	return nil
}

// AggregateProgress averages an arbitrary set of tasks. Unknown ids are
// reported in Missing rather than failing the call.
func (m *ProgressManager) AggregateProgress(ctx context.Context, ids []string) (*ports.AggregateResult, error) {
	result := &ports.AggregateResult{StatusCounts: make(map[domain.TaskStatus]int)}
	seen := make(map[string]struct{}, len(ids))
	total := 0.0
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		task, err := m.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if task == nil {
			result.Missing = append(result.Missing, id)
			continue
		}
		result.TaskCount++
		total += task.Progress
		result.StatusCounts[task.Status]++
	}
	if result.TaskCount > 0 {
		result.AverageProgress = total / float64(result.TaskCount)
	}
	return result, nil
}

func (m *ProgressManager) BatchUpdateProgress(ctx context.Context, updates map[string]ports.UpdateProgressInput) *ports.BatchResult {
	result := ports.NewBatchResult()
	ids := make([]string, 0, len(updates))
	for id := range updates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if _, err := m.UpdateProgress(ctx, id, updates[id]); err != nil {
			result.Failed++
			result.Errors[id] = err.Error()
			continue
		}
		result.Successful++
	}
	return result
}

func (m *ProgressManager) CategoryStats(category string) (CategoryStats, bool) {
	return m.aggregator.Snapshot(category)
}

func (m *ProgressManager) AllCategoryStats() map[string]CategoryStats {
	return m.aggregator.SnapshotAll()
}

func (m *ProgressManager) CacheStats() CacheStats {
	return m.cache.Stats()
}

// Restore rebuilds the aggregator from the store, for use at startup.
func (m *ProgressManager) Restore(ctx context.Context) (int, error) {
	tasks, err := m.repo.Query(ctx, ports.TaskFilter{})
	if err != nil {
		return 0, fmt.Errorf("restore tasks: %w", err)
	}
	m.aggregator.Clear()
	for i := range tasks {
		t := &tasks[i]
		m.aggregator.AddOrUpdate(t.ID, t.Category, t.Progress, t.Status, t.Weight)
	}
	m.logger.Infow("tasks restored", "count", len(tasks))
	return len(tasks), nil
}

// CleanupCompleted deletes finished tasks whose completion is older than
// olderThan.
func (m *ProgressManager) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := m.clock().Add(-olderThan)
	tasks, err := m.repo.Query(ctx, ports.TaskFilter{
		Statuses:        []domain.TaskStatus{domain.TaskStatusCompleted, domain.TaskStatusFailed, domain.TaskStatusCancelled},
		CompletedBefore: &cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("query finished tasks: %w", err)
	}

	removed := 0
	for i := range tasks {
		id := tasks[i].ID
		unlock := m.locks.lock(taskLockKey(id))
		deleted, err := m.repo.Delete(ctx, id)
		if err == nil {
			m.evict(id)
		}
		unlock()
		if err != nil {
			m.logger.Warnw("failed to clean up task", "task_id", id, "error", err)
			continue
		}
		if deleted {
			removed++
		}
	}
	if removed > 0 {
		m.logger.Infow("finished tasks cleaned up", "count", removed)
	}
	return removed, nil
}

// StartCleanupLoop runs CleanupCompleted every interval until ctx is done.
func (m *ProgressManager) StartCleanupLoop(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 || retention <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.CleanupCompleted(ctx, retention); err != nil {
					m.logger.Warnw("task cleanup failed", "error", err)
				}
			}
		}
	}()
}

func (m *ProgressManager) notify(ctx context.Context, task *domain.TaskProgress, messageType, eventType string, previous domain.TaskStatus) {
	m.broadcast(ctx, task, messageType)
	m.publish(ctx, eventType, task, previous)
}

func (m *ProgressManager) broadcast(ctx context.Context, task *domain.TaskProgress, messageType string) {
	if m.broadcaster == nil {
		return
	}
	msg := map[string]interface{}{
		"type":      messageType,
		"task_id":   task.ID,
		"data":      task.ToMap(),
		"timestamp": m.clock().UTC().Format(time.RFC3339Nano),
	}
	if _, err := m.broadcaster.BroadcastToTask(ctx, task.ID, msg); err != nil {
		m.logger.Warnw("task broadcast failed", "task_id", task.ID, "error", err)
	}
	if _, err := m.broadcaster.BroadcastToUser(ctx, task.UserID, msg); err != nil {
		m.logger.Warnw("user broadcast failed", "user_id", task.UserID, "error", err)
	}
}

func (m *ProgressManager) publish(ctx context.Context, eventType string, task *domain.TaskProgress, previous domain.TaskStatus) {
	if m.bus == nil {
		return
	}
	payload := map[string]interface{}{
		"task_id":  task.ID,
		"user_id":  task.UserID,
		"task":     task.ToMap(),
		"progress": task.Progress,
		"status":   string(task.Status),
	}
	if previous != "" {
		payload["previous_status"] = string(previous)
	}
	m.bus.Publish(ctx, domain.NewEvent(eventType, payload,
		domain.WithSource(progressSource),
		domain.WithCorrelationID(task.ID),
		domain.WithMetadata(map[string]string{"category": task.Category, "user_id": task.UserID}),
	), 0)
}
