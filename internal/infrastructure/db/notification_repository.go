package db

import (
	"context"
	"errors"

	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/ports"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
	"gorm.io/gorm"
)

type notificationRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNotificationRepository(db *gorm.DB, log *logger.Logger) ports.NotificationRepository {
	return &notificationRepository{db: db, log: log}
}

func (r *notificationRepository) Load(ctx context.Context, id string) (*domain.Notification, error) {
	var n domain.Notification
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorw("notification_repo_get_failed", "id", id, "error", err)
		return nil, err
	}
	return &n, nil
}

func (r *notificationRepository) Save(ctx context.Context, n *domain.Notification) error {
	if err := r.db.WithContext(ctx).Save(n).Error; err != nil {
		r.log.Errorw("notification_repo_save_failed", "id", n.ID, "user_id", n.UserID, "error", err)
		return err
	}
	r.log.Debugw("notification_repo_save_ok", "id", n.ID)
	return nil
}

func (r *notificationRepository) Delete(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Notification{})
	if res.Error != nil {
		r.log.Errorw("notification_repo_delete_failed", "id", id, "error", res.Error)
		return false, res.Error
	}
	r.log.Infow("notification_repo_delete_ok", "id", id, "rows", res.RowsAffected)
	return res.RowsAffected > 0, nil
}

func (r *notificationRepository) Query(ctx context.Context, filter ports.NotificationFilter) ([]domain.Notification, error) {
	q := r.db.WithContext(ctx).Model(&domain.Notification{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.TaskID != "" {
		q = q.Where("task_id = ?", filter.TaskID)
	}
	if filter.UnreadOnly {
		q = q.Where("is_read = ?", false)
	}
	if filter.CreatedAfter != nil {
		q = q.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var list []domain.Notification
	if err := q.Order("created_at desc").Find(&list).Error; err != nil {
		r.log.Errorw("notification_repo_list_failed", "error", err)
		return nil, err
	}
	r.log.Debugw("notification_repo_list_ok", "count", len(list))
	return list, nil
}
