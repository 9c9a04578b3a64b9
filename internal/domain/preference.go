package domain

import "time"

// ChannelPreference is one persisted allow/deny switch for a user's channel.
type ChannelPreference struct {
	UserID    string    `gorm:"primaryKey;size:64" json:"user_id"`
	Channel   Channel   `gorm:"primaryKey;size:20" json:"channel"`
	Enabled   bool      `gorm:"not null" json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ChannelPreference) TableName() string {
	return "channel_preferences"
}
