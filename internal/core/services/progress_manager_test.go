package services

import (
	"context"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/ports"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/memory"
)

// countingRepo counts store loads so cache hits can be observed.
type countingRepo struct {
	*memory.TaskRepository
	loads atomic.Int64
}

func (r *countingRepo) Load(ctx context.Context, id string) (*domain.TaskProgress, error) {
	r.loads.Add(1)
	return r.TaskRepository.Load(ctx, id)
}

type progressFixture struct {
	manager     *ProgressManager
	repo        *countingRepo
	broadcaster *recordingBroadcaster
	events      *eventRecorder
	clock       *fakeClock
}

func newProgressFixture(t *testing.T) *progressFixture {
	t.Helper()
	f := &progressFixture{
		repo:        &countingRepo{TaskRepository: memory.NewTaskRepository()},
		broadcaster: &recordingBroadcaster{},
		events:      &eventRecorder{},
		clock:       newFakeClock(),
	}
	bus := NewEventBus(EventBusConfig{})
	_, err := bus.Subscribe(f.events, SubscribeOptions{Name: "recorder"})
	require.NoError(t, err)

	f.manager = NewProgressManager(ProgressManagerConfig{
		Repo:        f.repo,
		Broadcaster: f.broadcaster,
		Bus:         bus,
		EnableLocks: true,
		Clock:       f.clock.Now,
	})
	return f
}

func (f *progressFixture) create(t *testing.T, id, category string) *domain.TaskProgress {
	t.Helper()
	task, err := f.manager.CreateTask(context.Background(), ports.CreateTaskInput{
		TaskID:   id,
		UserID:   "u1",
		Category: category,
		Name:     "task " + id,
	})
	require.NoError(t, err)
	return task
}

func TestProgressManager_BuildLifecycle(t *testing.T) {
	f := newProgressFixture(t)
	ctx := context.Background()

	task := f.create(t, "build-1", "build")
	assert.Equal(t, domain.TaskStatusPending, task.Status)
	assert.Equal(t, 1.0, task.Weight)

	task, err := f.manager.UpdateProgress(ctx, "build-1", ports.UpdateProgressInput{
		Progress:    40,
		CurrentStep: "compiling",
		Metadata:    domain.JSONB{"worker": "w1"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRunning, task.Status)
	assert.Equal(t, 40.0, task.Progress)
	assert.Equal(t, "compiling", task.CurrentStep)
	assert.Equal(t, "w1", task.Metadata["worker"])
	require.NotNil(t, task.StartedAt)

	f.clock.Advance(time.Minute)
	task, err = f.manager.UpdateStatus(ctx, "build-1", ports.UpdateStatusInput{
		Status: domain.TaskStatusCompleted,
		Result: domain.JSONB{"artifact": "app.tar"},
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, task.Progress)
	assert.Equal(t, "app.tar", task.Result["artifact"])
	require.NotNil(t, task.CompletedAt)
	assert.Equal(t, f.clock.Now(), *task.CompletedAt)

	stats, ok := f.manager.CategoryStats("build")
	require.True(t, ok)
	assert.Equal(t, 1, stats.TaskCount)
	assert.Equal(t, 1, stats.CompletedCount)
	assert.Equal(t, 100.0, stats.AverageProgress)

	assert.Equal(t, []string{
		domain.EventTaskCreated,
		domain.EventTaskProgressUpdated,
		domain.EventTaskStatusChanged,
		domain.EventTaskStatusChanged,
		domain.EventTaskCompleted,
	}, f.events.Types())

	msgs := f.broadcaster.userMessages()
	require.Len(t, msgs, 4)
	assert.Equal(t, messageTaskCreated, msgs[0]["type"])
	assert.Equal(t, messageProgress, msgs[1]["type"])
	assert.Equal(t, messageStatus, msgs[3]["type"])
	assert.Equal(t, "build-1", msgs[3]["task_id"])
}

func TestProgressManager_CreateDefaults(t *testing.T) {
	f := newProgressFixture(t)
	ctx := context.Background()

	task, err := f.manager.CreateTask(ctx, ports.CreateTaskInput{UserID: "u1", Name: "anon"})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, DefaultTaskCategory, task.Category)
	assert.NotNil(t, task.Metadata)

	_, err = f.manager.CreateTask(ctx, ports.CreateTaskInput{TaskID: task.ID, UserID: "u1", Name: "again"})
	assert.ErrorIs(t, err, ErrTaskAlreadyExists)

	for name, input := range map[string]ports.CreateTaskInput{
		"missing user":    {Name: "x"},
		"missing name":    {UserID: "u1"},
		"negative steps":  {UserID: "u1", Name: "x", TotalSteps: -1},
		"negative weight": {UserID: "u1", Name: "x", Weight: -2},
	} {
		_, err := f.manager.CreateTask(ctx, input)
		assert.ErrorIs(t, err, ErrTaskInvalidInput, name)
		assert.ErrorIs(t, err, ErrValidation, name)
	}
}

func TestProgressManager_ProgressBounds(t *testing.T) {
	tests := []struct {
		name     string
		progress float64
		wantErr  bool
	}{
		{"zero", 0, false},
		{"middle", 55.5, false},
		{"hundred", 100, false},
		{"negative", -1, true},
		{"over", 101, true},
		{"nan", math.NaN(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newProgressFixture(t)
			f.create(t, "t1", "")

			task, err := f.manager.UpdateProgress(context.Background(), "t1", ports.UpdateProgressInput{Progress: tt.progress})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrTaskInvalidProgress)
				stored, err := f.manager.GetTask(context.Background(), "t1")
				require.NoError(t, err)
				assert.Equal(t, 0.0, stored.Progress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.progress, task.Progress)
		})
	}
}

func TestProgressManager_TerminalTasks(t *testing.T) {
	f := newProgressFixture(t)
	ctx := context.Background()
	f.create(t, "t1", "")

	_, err := f.manager.UpdateStatus(ctx, "t1", ports.UpdateStatusInput{
		Status:       domain.TaskStatusFailed,
		ErrorMessage: "disk full",
		ErrorDetails: domain.JSONB{"device": "sda"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.events.Count(domain.EventTaskFailed))

	task, err := f.manager.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "disk full", task.ErrorMessage)
	assert.Equal(t, "sda", task.ErrorDetails["device"])
	completedAt := *task.CompletedAt

	_, err = f.manager.UpdateProgress(ctx, "t1", ports.UpdateProgressInput{Progress: 10})
	assert.ErrorIs(t, err, ErrTaskTerminal)

	_, err = f.manager.UpdateStatus(ctx, "t1", ports.UpdateStatusInput{Status: domain.TaskStatusRunning})
	assert.ErrorIs(t, err, ErrTaskInvalidTransition)

	f.clock.Advance(time.Hour)
	task, err = f.manager.UpdateStatus(ctx, "t1", ports.UpdateStatusInput{Status: domain.TaskStatusFailed})
	require.NoError(t, err)
	assert.Equal(t, completedAt, *task.CompletedAt)
	assert.Equal(t, 1, f.events.Count(domain.EventTaskFailed))
}

func TestProgressManager_InvalidStatusAndMissingTask(t *testing.T) {
	f := newProgressFixture(t)
	ctx := context.Background()
	f.create(t, "t1", "")

	_, err := f.manager.UpdateStatus(ctx, "t1", ports.UpdateStatusInput{Status: "exploded"})
	assert.ErrorIs(t, err, ErrTaskInvalidStatus)

	_, err = f.manager.UpdateStatus(ctx, "t1", ports.UpdateStatusInput{Status: domain.TaskStatusCompleted})
	assert.ErrorIs(t, err, ErrTaskInvalidTransition)

	_, err = f.manager.GetTask(ctx, "nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.manager.UpdateProgress(ctx, "nope", ports.UpdateProgressInput{Progress: 1})
	assert.ErrorIs(t, err, ErrTaskNotFound)

	assert.ErrorIs(t, f.manager.DeleteTask(ctx, "nope"), ErrTaskNotFound)
}

func TestProgressManager_DeleteTask(t *testing.T) {
	f := newProgressFixture(t)
	ctx := context.Background()
	f.create(t, "t1", "deploy")

	require.NoError(t, f.manager.DeleteTask(ctx, "t1"))

	_, err := f.manager.GetTask(ctx, "t1")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, ok := f.manager.CategoryStats("deploy")
	assert.False(t, ok)
	assert.Equal(t, 1, f.events.Count(domain.EventTaskDeleted))
}

func TestProgressManager_AggregateProgress(t *testing.T) {
	f := newProgressFixture(t)
	ctx := context.Background()
	f.create(t, "a", "")
	f.create(t, "b", "")

	_, err := f.manager.UpdateProgress(ctx, "a", ports.UpdateProgressInput{Progress: 20})
	require.NoError(t, err)
	_, err = f.manager.UpdateProgress(ctx, "b", ports.UpdateProgressInput{Progress: 60})
	require.NoError(t, err)

	result, err := f.manager.AggregateProgress(ctx, []string{"a", "b", "a", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.TaskCount)
	assert.InDelta(t, 40.0, result.AverageProgress, 1e-9)
	assert.Equal(t, 2, result.StatusCounts[domain.TaskStatusRunning])
	assert.Equal(t, []string{"ghost"}, result.Missing)

	empty, err := f.manager.AggregateProgress(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TaskCount)
	assert.Equal(t, 0.0, empty.AverageProgress)
}

func TestProgressManager_BatchUpdateProgress(t *testing.T) {
	f := newProgressFixture(t)
	f.create(t, "a", "")
	f.create(t, "b", "")

	result := f.manager.BatchUpdateProgress(context.Background(), map[string]ports.UpdateProgressInput{
		"a":     {Progress: 30},
		"b":     {Progress: 150},
		"ghost": {Progress: 10},
	})
	assert.Equal(t, 1, result.Successful)
	assert.Equal(t, 2, result.Failed)
	assert.Contains(t, result.Errors, "b")
	assert.Contains(t, result.Errors, "ghost")

	task, err := f.manager.GetTask(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 30.0, task.Progress)
}

func TestProgressManager_CleanupCompleted(t *testing.T) {
	f := newProgressFixture(t)
	ctx := context.Background()
	f.create(t, "old", "")
	f.create(t, "fresh", "")
	f.create(t, "running", "")

	_, err := f.manager.UpdateStatus(ctx, "old", ports.UpdateStatusInput{Status: domain.TaskStatusCancelled})
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)
	_, err = f.manager.UpdateStatus(ctx, "fresh", ports.UpdateStatusInput{Status: domain.TaskStatusCancelled})
	require.NoError(t, err)
	_, err = f.manager.UpdateProgress(ctx, "running", ports.UpdateProgressInput{Progress: 5})
	require.NoError(t, err)

	removed, err := f.manager.CleanupCompleted(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, f.repo.Len())

	_, err = f.manager.GetTask(ctx, "old")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestProgressManager_Restore(t *testing.T) {
	repo := memory.NewTaskRepository()
	ctx := context.Background()
	for _, task := range []*domain.TaskProgress{
		{ID: "a", UserID: "u1", Category: "build", Status: domain.TaskStatusRunning, Progress: 50, Weight: 1},
		{ID: "b", UserID: "u1", Category: "build", Status: domain.TaskStatusCompleted, Progress: 100, Weight: 3},
	} {
		require.NoError(t, repo.Save(ctx, task))
	}

	manager := NewProgressManager(ProgressManagerConfig{Repo: repo})
	n, err := manager.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, ok := manager.CategoryStats("build")
	require.True(t, ok)
	assert.Equal(t, 2, stats.TaskCount)
	assert.InDelta(t, 75.0, stats.AverageProgress, 1e-9)
	assert.InDelta(t, 87.5, stats.WeightedAverageProgress, 1e-9)
	assert.Equal(t, 1, stats.CompletedCount)
	assert.Len(t, manager.AllCategoryStats(), 1)
}

func TestProgressManager_ReadsThroughCache(t *testing.T) {
	repo := &countingRepo{TaskRepository: memory.NewTaskRepository()}
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, &domain.TaskProgress{ID: "t1", UserID: "u1", Category: "c", Status: domain.TaskStatusPending}))

	manager := NewProgressManager(ProgressManagerConfig{Repo: repo})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.GetTask(ctx, "t1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	loads := repo.loads.Load()
	assert.GreaterOrEqual(t, loads, int64(1))
	assert.Less(t, loads, int64(20))

	_, err := manager.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, loads, repo.loads.Load())
	assert.Positive(t, manager.CacheStats().Hits)
}

func TestProgressManager_ReturnsCopies(t *testing.T) {
	f := newProgressFixture(t)
	task := f.create(t, "t1", "")
	task.Metadata["leak"] = true
	task.Progress = 99

	stored, err := f.manager.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.NotContains(t, stored.Metadata, "leak")
	assert.Equal(t, 0.0, stored.Progress)
}

func TestProgressManager_ConcurrentUpdatesSerialise(t *testing.T) {
	f := newProgressFixture(t)
	f.create(t, "t1", "")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(step int) {
			defer wg.Done()
			_, err := f.manager.UpdateProgress(ctx, "t1", ports.UpdateProgressInput{
				Progress: float64(step),
				Metadata: domain.JSONB{"k" + strconv.Itoa(step): step},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	task, err := f.manager.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, task.Metadata, 50)
	assert.Equal(t, 50, f.events.Count(domain.EventTaskProgressUpdated))
	assert.Equal(t, 1, f.events.Count(domain.EventTaskStatusChanged))
}

// gatedRepo can hold the next Save before it writes, or the next Load after
// it has read, so interleavings with the cache can be forced.
type gatedRepo struct {
	*memory.TaskRepository
	mu                    sync.Mutex
	saveGate, saveEntered chan struct{}
	loadGate, loadEntered chan struct{}
}

func (r *gatedRepo) holdNextSave() (entered, release chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveEntered, r.saveGate = make(chan struct{}), make(chan struct{})
	return r.saveEntered, r.saveGate
}

func (r *gatedRepo) holdNextLoad() (entered, release chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadEntered, r.loadGate = make(chan struct{}), make(chan struct{})
	return r.loadEntered, r.loadGate
}

func (r *gatedRepo) Save(ctx context.Context, task *domain.TaskProgress) error {
	r.mu.Lock()
	entered, gate := r.saveEntered, r.saveGate
	r.saveEntered, r.saveGate = nil, nil
	r.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}
	return r.TaskRepository.Save(ctx, task)
}

func (r *gatedRepo) Load(ctx context.Context, id string) (*domain.TaskProgress, error) {
	task, err := r.TaskRepository.Load(ctx, id)
	r.mu.Lock()
	entered, gate := r.loadEntered, r.loadGate
	r.loadEntered, r.loadGate = nil, nil
	r.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}
	return task, err
}

func TestProgressManager_StaleReadDoesNotOverwriteCommit(t *testing.T) {
	ctx := context.Background()
	repo := &gatedRepo{TaskRepository: memory.NewTaskRepository()}
	clock := newFakeClock()
	manager := NewProgressManager(ProgressManagerConfig{
		Repo:        repo,
		EnableLocks: true,
		CacheTTL:    time.Minute,
		Clock:       clock.Now,
	})
	_, err := manager.CreateTask(ctx, ports.CreateTaskInput{TaskID: "t1", UserID: "u1", Name: "build"})
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	saveEntered, releaseSave := repo.holdNextSave()
	updated := make(chan error, 1)
	go func() {
		_, err := manager.UpdateProgress(ctx, "t1", ports.UpdateProgressInput{Progress: 50})
		updated <- err
	}()
	<-saveEntered
	clock.Advance(2 * time.Minute)

	loadEntered, releaseLoad := repo.holdNextLoad()
	read := make(chan *domain.TaskProgress, 1)
	go func() {
		task, _ := manager.GetTask(ctx, "t1")
		read <- task
	}()
	<-loadEntered

	close(releaseSave)
	require.NoError(t, <-updated)
	close(releaseLoad)
	stale := <-read
	require.NotNil(t, stale)
	assert.Equal(t, 0.0, stale.Progress)

	current, err := manager.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 50.0, current.Progress)
	assert.Equal(t, domain.TaskStatusRunning, current.Status)

	_, err = manager.UpdateStatus(ctx, "t1", ports.UpdateStatusInput{Status: domain.TaskStatusCancelled})
	require.NoError(t, err)
	stored, err := repo.TaskRepository.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, stored.Status)
	assert.Equal(t, 50.0, stored.Progress)
	assert.NotNil(t, stored.StartedAt)
}
