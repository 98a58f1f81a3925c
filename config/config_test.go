package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ReadsEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "staging")
	t.Setenv("STORE_DIR", "/var/lib/klypt")
	t.Setenv("STORE_NAME", "hub")
	t.Setenv("GATEWAY_BASE_URL", "https://sync.example.com")
	t.Setenv("GATEWAY_DEVICE_ID", "device-42")
	t.Setenv("SCHEDULER_SYNC_INTERVAL", "90s")
	t.Setenv("REDIS_DISABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvStaging, cfg.App.Environment)
	assert.Equal(t, "/var/lib/klypt", cfg.Store.Dir)
	assert.Equal(t, "hub", cfg.Store.Name)
	assert.Equal(t, "https://sync.example.com", cfg.Gateway.BaseURL)
	assert.Equal(t, "device-42", cfg.Gateway.DeviceID)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.SyncInterval)
	assert.True(t, cfg.Redis.Disabled)
	assert.True(t, cfg.SyncEnabled())
	require.NotNil(t, cfg.Features)
}

func TestLoad_RequiresGatewayInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("GATEWAY_BASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GATEWAY_BASE_URL is required in production")
}

func TestValidate_RejectsBadCompactionTime(t *testing.T) {
	cfg := &Config{
		App:   AppConfig{Environment: EnvDevelopment},
		Store: StoreConfig{Dir: "data"},
		Scheduler: SchedulerConfig{
			SyncInterval:     time.Minute,
			CompactionHour:   24,
			CompactionMinute: 61,
		},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCHEDULER_COMPACTION_HOUR must be 0-23")
	assert.Contains(t, err.Error(), "SCHEDULER_COMPACTION_MINUTE must be 0-59")
}

func TestFeatureFlags_EnvOverride(t *testing.T) {
	t.Setenv("FEATURE_SYNC_PUSH", "false")
	t.Setenv("FEATURE_EXPERIMENTAL_DELTA_SYNC", "true")

	ff := LoadFeatureFlags()

	assert.False(t, ff.IsEnabled(FeatureSyncPush, nil))
	assert.True(t, ff.IsEnabled(FeatureExperimentalDeltaSync, nil))
}

func TestFeatureFlags_RolloutIsConsistentPerDevice(t *testing.T) {
	ff := LoadFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureStoreCompaction, 50))

	ctx := &FeatureContext{DeviceID: "device-42"}
	first := ff.IsEnabled(FeatureStoreCompaction, ctx)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, ff.IsEnabled(FeatureStoreCompaction, ctx))
	}

	// The edges of the rollout range are deterministic for everyone.
	require.NoError(t, ff.SetRolloutPercent(FeatureStoreCompaction, 0))
	assert.False(t, ff.IsEnabled(FeatureStoreCompaction, ctx))
	require.NoError(t, ff.SetRolloutPercent(FeatureStoreCompaction, 100))
	assert.True(t, ff.IsEnabled(FeatureStoreCompaction, ctx))
}

func TestFeatureFlags_DeviceOverrideWins(t *testing.T) {
	ff := LoadFeatureFlags()
	ctx := &FeatureContext{DeviceID: "device-42"}

	ff.SetDeviceOverride("device-42", FeatureSyncPush, false)
	assert.False(t, ff.IsEnabled(FeatureSyncPush, ctx))

	ff.ClearDeviceOverrides("device-42")
	assert.True(t, ff.IsEnabled(FeatureSyncPush, ctx))
}

func TestFeatureFlags_AdminSeesEverything(t *testing.T) {
	ff := LoadFeatureFlags()

	assert.False(t, ff.IsEnabled(FeatureExperimentalMultiGateway, nil))
	assert.True(t, ff.IsEnabled(FeatureExperimentalMultiGateway, &FeatureContext{IsAdmin: true}))
}
