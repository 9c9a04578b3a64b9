package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/ports"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
)

// PreferenceTarget receives the live preference map used for routing.
type PreferenceTarget interface {
	SetUserPreferences(userID string, prefs map[domain.Channel]bool)
	GetUserPreferences(userID string) map[domain.Channel]bool
}

type PreferenceServiceConfig struct {
	Repo        ports.PreferenceRepository
	Target      PreferenceTarget
	EnableLocks bool
	Clock       Clock
	Logger      *logger.Logger
}

// PreferenceService persists user channel preferences and keeps the
// notification router in step with the store.
type PreferenceService struct {
	repo   ports.PreferenceRepository
	target PreferenceTarget
	clock  Clock
	logger *logger.Logger

	locks *keyLocker
}

func NewPreferenceService(cfg PreferenceServiceConfig) *PreferenceService {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &PreferenceService{
		repo:        cfg.Repo,
		target:      cfg.Target,
		clock:       cfg.Clock.orDefault(),
		logger:      cfg.Logger,
		locks:       newKeyLocker(cfg.EnableLocks),
	}
}

// Update replaces every preference of userID. The router only changes once
// the store accepted the new set.
func (s *PreferenceService) Update(ctx context.Context, userID string, prefs map[domain.Channel]bool) (map[domain.Channel]bool, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrNotificationInvalidInput)
	}
	for ch := range prefs {
		if !ch.Valid() {
			return nil, fmt.Errorf("%w: unknown channel %s", ErrNotificationInvalidInput, ch)
		}
	}

	unlock := s.locks.lock("preferences:" + userID)
	defer unlock()

	now := s.clock()
	rows := make([]domain.ChannelPreference, 0, len(prefs))
	for ch, enabled := range prefs {
		rows = append(rows, domain.ChannelPreference{UserID: userID, Channel: ch, Enabled: enabled, UpdatedAt: now})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Channel < rows[j].Channel })

	if s.repo != nil {
		if err := s.repo.Replace(ctx, userID, rows); err != nil {
			s.logger.Errorw("failed to save preferences", "user_id", userID, "error", err)
			return nil, fmt.Errorf("save preferences: %w", err)
		}
	}
	s.target.SetUserPreferences(userID, prefs)
	s.logger.Infow("preferences updated", "user_id", userID, "channels", len(rows))
	return s.target.GetUserPreferences(userID), nil
}

func (s *PreferenceService) Get(userID string) map[domain.Channel]bool {
	return s.target.GetUserPreferences(userID)
}

// Restore pushes every stored preference into the router, for use at
// startup.
func (s *PreferenceService) Restore(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	rows, err := s.repo.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore preferences: %w", err)
	}
	byUser := make(map[string]map[domain.Channel]bool)
	for _, row := range rows {
		if byUser[row.UserID] == nil {
			byUser[row.UserID] = make(map[domain.Channel]bool)
		}
		byUser[row.UserID][row.Channel] = row.Enabled
	}
	for userID, prefs := range byUser {
		s.target.SetUserPreferences(userID, prefs)
	}
	s.logger.Infow("preferences restored", "users", len(byUser))
	return len(byUser), nil
}
