package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/ports"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
)

func TestTaskRepository_StoresCopies(t *testing.T) {
	repo := NewTaskRepository()
	ctx := context.Background()

	task := &domain.TaskProgress{ID: "t1", UserID: "u1", Metadata: domain.JSONB{"a": 1}}
	require.NoError(t, repo.Save(ctx, task))
	task.Metadata["a"] = 2

	loaded, err := repo.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Metadata["a"])

	loaded.Metadata["a"] = 3
	again, _ := repo.Load(ctx, "t1")
	assert.Equal(t, 1, again.Metadata["a"])

	missing, err := repo.Load(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTaskRepository_QueryOrderAndLimit(t *testing.T) {
	repo := NewTaskRepository()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Save(ctx, &domain.TaskProgress{
			ID: id, UserID: "u1", Category: "build", Status: domain.TaskStatusRunning,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := repo.Query(ctx, ports.TaskFilter{Category: "build"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)

	limited, err := repo.Query(ctx, ports.TaskFilter{Limit: 2, IDs: []string{"a", "b", "c"}})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := repo.Query(ctx, ports.TaskFilter{Statuses: []domain.TaskStatus{domain.TaskStatusFailed}})
	require.NoError(t, err)
	assert.Empty(t, none)

	deleted, err := repo.Delete(ctx, "a")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, _ = repo.Delete(ctx, "a")
	assert.False(t, deleted)
	assert.Equal(t, 2, repo.Len())
}

func TestNotificationRepository_Query(t *testing.T) {
	repo := NewNotificationRepository()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, n := range []*domain.Notification{
		{ID: "n1", UserID: "u1", TaskID: "t1"},
		{ID: "n2", UserID: "u1", IsRead: true},
		{ID: "n3", UserID: "u2"},
	} {
		n.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Save(ctx, n))
	}

	unread, err := repo.Query(ctx, ports.NotificationFilter{UserID: "u1", UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "n1", unread[0].ID)

	after := base.Add(30 * time.Second)
	recent, err := repo.Query(ctx, ports.NotificationFilter{CreatedAfter: &after, Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "n3", recent[0].ID)

	byTask, err := repo.Query(ctx, ports.NotificationFilter{TaskID: "t1"})
	require.NoError(t, err)
	assert.Len(t, byTask, 1)

	deleted, err := repo.Delete(ctx, "n3")
	require.NoError(t, err)
	assert.True(t, deleted)
	gone, err := repo.Load(ctx, "n3")
	require.NoError(t, err)
	assert.Nil(t, gone)
}
