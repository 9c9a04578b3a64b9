package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/ports"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
)

type PreferenceRepository struct {
	mu     sync.RWMutex
	byUser map[string][]domain.ChannelPreference
}

func NewPreferenceRepository() *PreferenceRepository {
	return &PreferenceRepository{byUser: make(map[string][]domain.ChannelPreference)}
}

var _ ports.PreferenceRepository = (*PreferenceRepository)(nil)

func (r *PreferenceRepository) ListAll(_ context.Context) ([]domain.ChannelPreference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ChannelPreference, 0)
	for _, prefs := range r.byUser {
		out = append(out, prefs...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Channel < out[j].Channel
	})
	return out, nil
}

func (r *PreferenceRepository) Replace(_ context.Context, userID string, prefs []domain.ChannelPreference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(prefs) == 0 {
		delete(r.byUser, userID)
		return nil
	}
	r.byUser[userID] = append([]domain.ChannelPreference(nil), prefs...)
	return nil
}
