package db

import (
	"context"
	"errors"

	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/ports"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
	"gorm.io/gorm"
)

type taskProgressRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskProgressRepository(db *gorm.DB, log *logger.Logger) ports.TaskProgressRepository {
	return &taskProgressRepository{db: db, log: log}
}

func (r *taskProgressRepository) Load(ctx context.Context, id string) (*domain.TaskProgress, error) {
	var task domain.TaskProgress
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorw("task_repo_get_failed", "id", id, "error", err)
		return nil, err
	}
	return &task, nil
}

func (r *taskProgressRepository) Save(ctx context.Context, task *domain.TaskProgress) error {
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		r.log.Errorw("task_repo_save_failed", "id", task.ID, "error", err)
		return err
	}
	r.log.Debugw("task_repo_save_ok", "id", task.ID, "status", task.Status, "progress", task.Progress)
	return nil
}

func (r *taskProgressRepository) Delete(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.TaskProgress{})
	if res.Error != nil {
		r.log.Errorw("task_repo_delete_failed", "id", id, "error", res.Error)
		return false, res.Error
	}
	r.log.Infow("task_repo_delete_ok", "id", id, "rows", res.RowsAffected)
	return res.RowsAffected > 0, nil
}

func (r *taskProgressRepository) Query(ctx context.Context, filter ports.TaskFilter) ([]domain.TaskProgress, error) {
	q := r.db.WithContext(ctx).Model(&domain.TaskProgress{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if len(filter.IDs) > 0 {
		q = q.Where("id IN ?", filter.IDs)
	}
	if filter.CompletedBefore != nil {
		q = q.Where("completed_at IS NOT NULL AND completed_at < ?", *filter.CompletedBefore)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var tasks []domain.TaskProgress
	if err := q.Order("created_at desc").Find(&tasks).Error; err != nil {
		r.log.Errorw("task_repo_list_failed", "error", err)
		return nil, err
	}
	r.log.Debugw("task_repo_list_ok", "count", len(tasks))
	return tasks, nil
}
