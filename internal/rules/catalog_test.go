package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyengine/internal/model"
	"notifyengine/internal/repository/memory"
)

func validRule(id string, trigger model.TriggerType, delay int) model.NotificationRule {
	return model.NotificationRule{
		ID:           id,
		TriggerType:  trigger,
		DelayMinutes: delay,
		Enabled:      true,
		Template:     model.Template{Title: "t", Body: "b"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *model.NotificationRule)
		wantErr bool
	}{
		{name: "valid", mutate: func(*model.NotificationRule) {}},
		{name: "missing id", mutate: func(r *model.NotificationRule) { r.ID = "" }, wantErr: true},
		{name: "unknown trigger", mutate: func(r *model.NotificationRule) { r.TriggerType = "boom" }, wantErr: true},
		{name: "negative delay", mutate: func(r *model.NotificationRule) { r.DelayMinutes = -1 }, wantErr: true},
		{name: "bad priority", mutate: func(r *model.NotificationRule) { r.Priority = "critical" }, wantErr: true},
		{name: "empty title", mutate: func(r *model.NotificationRule) { r.Template.Title = " " }, wantErr: true},
		{name: "empty body", mutate: func(r *model.NotificationRule) { r.Template.Body = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Normalize(validRule("r1", model.TriggerCustom, 0))
			tt.mutate(&r)
			err := Validate(r)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRule)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultRulesAreValid(t *testing.T) {
	c, err := NewStaticCatalog(DefaultRules())
	require.NoError(t, err)

	rs, err := c.RulesForTrigger(context.Background(), model.TriggerSessionComplete)
	require.NoError(t, err)
	require.Len(t, rs, 3)
	assert.Equal(t, []int{0, 120, 1440}, []int{rs[0].DelayMinutes, rs[1].DelayMinutes, rs[2].DelayMinutes})
}

func TestStaticCatalog_RulesForTriggerSkipsDisabledAndSorts(t *testing.T) {
	ctx := context.Background()
	disabled := validRule("z-off", model.TriggerCustom, 0)
	disabled.Enabled = false
	c, err := NewStaticCatalog([]model.NotificationRule{
		validRule("b", model.TriggerCustom, 10),
		validRule("a", model.TriggerCustom, 10),
		validRule("c", model.TriggerCustom, 0),
		disabled,
		validRule("other", model.TriggerAnalysisReady, 0),
	})
	require.NoError(t, err)

	rs, err := c.RulesForTrigger(ctx, model.TriggerCustom)
	require.NoError(t, err)
	var ids []string
	for _, r := range rs {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)

	_, err = c.SetEnabled(ctx, "z-off", true)
	require.NoError(t, err)
	rs, err = c.RulesForTrigger(ctx, model.TriggerCustom)
	require.NoError(t, err)
	assert.Len(t, rs, 4)
}

func TestStaticCatalog_RejectsDuplicates(t *testing.T) {
	_, err := NewStaticCatalog([]model.NotificationRule{
		validRule("dup", model.TriggerCustom, 0),
		validRule("dup", model.TriggerUserInactive, 0),
	})
	assert.ErrorIs(t, err, ErrRuleExists)
}

func TestStaticCatalog_Mutations(t *testing.T) {
	ctx := context.Background()
	c, err := NewStaticCatalog(nil)
	require.NoError(t, err)

	created, err := c.CreateRule(ctx, validRule("r1", model.TriggerCustom, 5))
	require.NoError(t, err)
	assert.Equal(t, model.PriorityMedium, created.Priority)

	_, err = c.CreateRule(ctx, validRule("r1", model.TriggerCustom, 5))
	assert.ErrorIs(t, err, ErrRuleExists)

	upd := validRule("r1", model.TriggerCustom, 30)
	got, err := c.UpdateRule(ctx, upd)
	require.NoError(t, err)
	assert.Equal(t, 30, got.DelayMinutes)
	assert.Equal(t, created.CreatedAt, got.CreatedAt)

	_, err = c.UpdateRule(ctx, validRule("missing", model.TriggerCustom, 0))
	assert.ErrorIs(t, err, ErrRuleNotFound)

	_, err = c.CreateRule(ctx, validRule("bad", model.TriggerCustom, -5))
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestLoadRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := `
rules:
  - id: welcome
    trigger_type: custom
    delay_minutes: 15
    enabled: true
    priority: high
    template:
      title: "Hi {{userName}}"
      body: "Welcome to {{system.appName}}"
      action_url: /start
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	rs, err := LoadRulesFile(path)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "welcome", rs[0].ID)
	assert.Equal(t, model.PriorityHigh, rs[0].Priority)
	assert.Equal(t, "/start", rs[0].Template.ActionURL)
	assert.Equal(t, 15, rs[0].DelayMinutes)
}

func TestStoreCatalog(t *testing.T) {
	ctx := context.Background()
	c := NewStoreCatalog(memory.NewRuleStore())

	n, err := c.Seed(ctx, DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, len(DefaultRules()), n)

	n, err = c.Seed(ctx, DefaultRules())
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = c.SetEnabled(ctx, "session-reflection", false)
	require.NoError(t, err)

	rs, err := c.RulesForTrigger(ctx, model.TriggerSessionComplete)
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, "session-feedback", rs[0].ID)

	_, err = c.GetRule(ctx, "nope")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}
