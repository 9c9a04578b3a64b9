package db

import (
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.TaskProgress{},
		&domain.Notification{},
		&domain.ChannelPreference{},
	); err != nil {
		return err
	}

	return createCustomIndexes(db)
}

func createCustomIndexes(db *gorm.DB) error {
	// Unread lookups per user
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_notifications_user_unread
		ON notifications (user_id, is_read, created_at)
	`).Error; err != nil {
		return err
	}

	// Cleanup of finished tasks
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_task_progress_status_completed
		ON task_progress (status, completed_at)
	`).Error; err != nil {
		return err
	}

	return nil
}
