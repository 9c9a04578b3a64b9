package services

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
)

const sampleRules = `
rules:
  - id: build-failed
    name: Build failed
    priority: high
    conditions:
      - field: task.status
        operator: equals
        value: failed
      - field: task.category
        operator: equals
        value: build
        logical: and
    actions:
      - kind: send
        title: "{{.task.name}} failed"
        notification_type: error
        notification_priority: high
        channels: [websocket, email]
      - kind: defer
        delay: 30s
  - id: nightly-quiet
    name: Quiet nightly
    priority: low
    enabled: false
    actions:
      - kind: suppress
        reason: nightly
`

func TestParseRules(t *testing.T) {
	inputs, err := ParseRules([]byte(sampleRules))
	require.NoError(t, err)
	require.Len(t, inputs, 2)

	first := inputs[0]
	assert.Equal(t, "build-failed", first.ID)
	assert.Equal(t, domain.RulePriorityHigh, first.Priority)
	assert.Equal(t, FileRuleGroup, first.Group)
	require.Len(t, first.Conditions, 2)
	require.Len(t, first.Actions, 2)

	send, ok := first.Actions[0].(domain.SendAction)
	require.True(t, ok)
	assert.Equal(t, []domain.Channel{domain.ChannelWebSocket, domain.ChannelEmail}, send.Channels)
	assert.Equal(t, domain.NotificationTypeError, send.NotificationType)

	deferAction, ok := first.Actions[1].(domain.DeferAction)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, deferAction.Delay)

	require.NotNil(t, inputs[1].Enabled)
	assert.False(t, *inputs[1].Enabled)
}

func TestParseRules_Errors(t *testing.T) {
	_, err := ParseRules([]byte("rules: ["))
	assert.ErrorIs(t, err, ErrRuleInvalid)

	_, err = ParseRules([]byte("rules:\n  - name: x\n    priority: urgent\n"))
	assert.ErrorIs(t, err, ErrRuleInvalid)

	_, err = ParseRules([]byte("rules:\n  - name: x\n    actions:\n      - kind: route\n"))
	assert.ErrorIs(t, err, ErrRuleInvalid)
}

func TestRuleEngine_ReplaceGroup(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.AddRule(RuleInput{ID: "manual", Name: "manual"})
	require.NoError(t, err)

	inputs, err := ParseRules([]byte(sampleRules))
	require.NoError(t, err)
	n, err := engine.ReplaceGroup(FileRuleGroup, inputs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, engine.ListRules(RuleFilter{}), 3)

	n, err = engine.ReplaceGroup(FileRuleGroup, inputs[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, engine.ListRules(RuleFilter{Group: FileRuleGroup}), 1)

	_, err = engine.ReplaceGroup(FileRuleGroup, []RuleInput{{ID: "manual", Name: "steal"}})
	assert.ErrorIs(t, err, ErrRuleInvalid)

	_, err = engine.ReplaceGroup(FileRuleGroup, []RuleInput{{ID: "x", Name: "a"}, {ID: "x", Name: "b"}})
	assert.ErrorIs(t, err, ErrRuleInvalid)
	assert.Len(t, engine.ListRules(RuleFilter{Group: FileRuleGroup}), 1, "failed replace leaves the group untouched")
}

func TestRuleWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0o644))

	engine, _ := newTestEngine(t)
	w := NewRuleWatcher(path, engine, nil)
	n, err := w.Reload()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, os.WriteFile(path, []byte("rules: []\n"), 0o644))
	n, err = w.Reload()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, engine.ListRules(RuleFilter{Group: FileRuleGroup}))
	assert.NoError(t, w.Close())
}
