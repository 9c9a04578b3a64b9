package channels

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
)

func TestDefaultSenders(t *testing.T) {
	senders := DefaultSenders(logger.NewNop())
	require.Len(t, senders, 3)

	for _, ch := range []domain.Channel{domain.ChannelEmail, domain.ChannelPush, domain.ChannelSlack} {
		sender, ok := senders[ch]
		require.True(t, ok, ch)
		sent, err := sender.Send(context.Background(), &domain.Notification{ID: "n1", UserID: "u1", Title: "hi"})
		require.NoError(t, err)
		assert.True(t, sent)
	}
	assert.NotContains(t, senders, domain.ChannelWebSocket)
}
