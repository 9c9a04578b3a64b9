package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/ports"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
)

// TaskRepository keeps each task as a JSON string under <prefix>task:<id>
// and tracks ids in the <prefix>tasks set.
type TaskRepository struct {
	client redis.UniversalClient
	prefix string
	log    *logger.Logger
}

func NewTaskRepository(client redis.UniversalClient, prefix string, log *logger.Logger) *TaskRepository {
	return &TaskRepository{client: client, prefix: prefix, log: log}
}

var _ ports.TaskProgressRepository = (*TaskRepository)(nil)

func (r *TaskRepository) taskKey(id string) string {
	return r.prefix + "task:" + id
}

func (r *TaskRepository) indexKey() string {
	return r.prefix + "tasks"
}

func (r *TaskRepository) Load(ctx context.Context, id string) (*domain.TaskProgress, error) {
	raw, err := r.client.Get(ctx, r.taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorw("task_redis_get_failed", "id", id, "error", err)
		return nil, err
	}
	var task domain.TaskProgress
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepository) Save(ctx context.Context, task *domain.TaskProgress) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.taskKey(task.ID), raw, 0)
		pipe.SAdd(ctx, r.indexKey(), task.ID)
		return nil
	})
	if err != nil {
		r.log.Errorw("task_redis_save_failed", "id", task.ID, "error", err)
		return err
	}
	return nil
}

func (r *TaskRepository) Delete(ctx context.Context, id string) (bool, error) {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.taskKey(id))
		pipe.SRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		r.log.Errorw("task_redis_delete_failed", "id", id, "error", err)
		return false, err
	}
	return del.Val() > 0, nil
}

func (r *TaskRepository) Query(ctx context.Context, filter ports.TaskFilter) ([]domain.TaskProgress, error) {
	ids := filter.IDs
	if len(ids) == 0 {
		var err error
		if ids, err = r.client.SMembers(ctx, r.indexKey()).Result(); err != nil {
			r.log.Errorw("task_redis_list_failed", "error", err)
			return nil, err
		}
	}
	if len(ids) == 0 {
		return []domain.TaskProgress{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.taskKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		r.log.Errorw("task_redis_list_failed", "error", err)
		return nil, err
	}

	result := make([]domain.TaskProgress, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var task domain.TaskProgress
		if err := json.Unmarshal([]byte(s), &task); err != nil {
			r.log.Warnw("task_redis_decode_failed", "id", ids[i], "error", err)
			continue
		}
		if filter.Matches(&task) {
			result = append(result, task)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}
