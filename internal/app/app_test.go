package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyengine/internal/config"
	"notifyengine/internal/model"
	"notifyengine/internal/repository/memory"
	"notifyengine/internal/rules"
	"notifyengine/internal/trigger"
)

func memoryConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Storage.Driver = DriverMemory
	cfg.Dedup.Driver = DriverMemory
	cfg.Push.Driver = DriverLog
	cfg.ApplyDefaults()
	return cfg
}

func TestBuildMemoryEndToEnd(t *testing.T) {
	ctx := context.Background()
	c, err := Build(ctx, memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	assert.Empty(t, c.ReadinessChecks())

	users, ok := c.Users.(*memory.UserDirectory)
	require.True(t, ok)
	users.Put(model.Recipient{ID: "u1", DisplayName: "Sara", DeviceToken: "tok-1"})

	created, err := c.Adapter.Observe(ctx, trigger.Event{
		Trigger:   model.TriggerSessionComplete,
		UserID:    "u1",
		ContextID: "sess-1",
		Variables: map[string]string{"sessionId": "sess-1", "therapistName": "Dr. Rahimi"},
	})
	require.NoError(t, err)
	assert.Len(t, created, 3)

	transport, err := c.Transport()
	require.NoError(t, err)
	claimed, err := c.Dispatcher(transport).RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)

	history, err := c.History.ListByUser(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Sara, tell us how your session with Dr. Rahimi went.", history[0].Body)
}

func TestBuildStoreCatalogSeeds(t *testing.T) {
	cfg := memoryConfig()
	cfg.Rules.Source = RulesStore
	cfg.Rules.Seed = true

	c, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	all, err := c.Catalog.AllRules(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, len(rules.DefaultRules()))
}

func TestBuildRejectsUnknownDrivers(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"storage", func(c *config.Config) { c.Storage.Driver = "cassandra" }},
		{"dedup", func(c *config.Config) { c.Dedup.Driver = "memcached" }},
		{"rules", func(c *config.Config) { c.Rules.Source = "remote" }},
		{"rules file", func(c *config.Config) { c.Rules.File = "does/not/exist.yaml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig()
			tt.mutate(cfg)
			_, err := Build(context.Background(), cfg, zap.NewNop())
			assert.Error(t, err)
		})
	}
}

func TestTransportRequiresEndpoint(t *testing.T) {
	c, err := Build(context.Background(), memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	c.Config.Push.Driver = DriverHTTP
	_, err = c.Transport()
	assert.Error(t, err)

	c.Config.Push.Driver = "carrier-pigeon"
	_, err = c.Transport()
	assert.Error(t, err)
}

func TestHousekeeping(t *testing.T) {
	c, err := Build(context.Background(), memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	h, err := c.Housekeeping(func(context.Context) (int, error) { return 0, nil })
	require.NoError(t, err)
	assert.Len(t, h.cron.Entries(), 2)

	h.run("sweep", func(ctx context.Context) (int, error) {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return 3, nil
	})

	assert.Error(t, h.Add("broken", "every tuesday-ish", func(context.Context) (int, error) { return 0, nil }))

	c.Config.Inactivity.Enabled = true
	h, err = c.Housekeeping(func(context.Context) (int, error) { return 0, nil })
	require.NoError(t, err)
	assert.Len(t, h.cron.Entries(), 3)
}
