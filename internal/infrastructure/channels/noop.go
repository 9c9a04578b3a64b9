package channels

import (
	"context"

	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/ports"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
)

// NoopSender stands in for a channel that has no real integration yet. It
// logs the notification and reports success without doing any I/O.
type NoopSender struct {
	channel domain.Channel
	log     *logger.Logger
}

func NewNoopSender(channel domain.Channel, log *logger.Logger) *NoopSender {
	if log == nil {
		log = logger.NewNop()
	}
	return &NoopSender{channel: channel, log: log}
}

func (s *NoopSender) Send(_ context.Context, n *domain.Notification) (bool, error) {
	s.log.Infow("channel_send_noop",
		"channel", s.channel,
		"notification_id", n.ID,
		"user_id", n.UserID,
		"title", n.Title,
	)
	return true, nil
}

// DefaultSenders returns no-op senders for email, push and slack.
func DefaultSenders(log *logger.Logger) map[domain.Channel]ports.ChannelSender {
	return map[domain.Channel]ports.ChannelSender{
		domain.ChannelEmail: NewNoopSender(domain.ChannelEmail, log.Named("email")),
		domain.ChannelPush:  NewNoopSender(domain.ChannelPush, log.Named("push")),
		domain.ChannelSlack: NewNoopSender(domain.ChannelSlack, log.Named("slack")),
	}
}
