package db

import (
	"context"

	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/ports"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
	"gorm.io/gorm"
)

type preferenceRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPreferenceRepository(db *gorm.DB, log *logger.Logger) ports.PreferenceRepository {
	return &preferenceRepository{db: db, log: log}
}

func (r *preferenceRepository) ListAll(ctx context.Context) ([]domain.ChannelPreference, error) {
	var prefs []domain.ChannelPreference
	if err := r.db.WithContext(ctx).Order("user_id, channel").Find(&prefs).Error; err != nil {
		r.log.Errorw("preference_repo_list_failed", "error", err)
		return nil, err
	}
	r.log.Debugw("preference_repo_list_ok", "count", len(prefs))
	return prefs, nil
}

func (r *preferenceRepository) Replace(ctx context.Context, userID string, prefs []domain.ChannelPreference) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&domain.ChannelPreference{}).Error; err != nil {
			return err
		}
		if len(prefs) == 0 {
			return nil
		}
		return tx.Create(&prefs).Error
	})
	if err != nil {
		r.log.Errorw("preference_repo_replace_failed", "user_id", userID, "error", err)
		return err
	}
	r.log.Infow("preference_repo_replace_ok", "user_id", userID, "count", len(prefs))
	return nil
}
