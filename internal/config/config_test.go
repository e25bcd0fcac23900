package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "localhost:8081", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10, cfg.Analyzer.MaxLogEvents)
	assert.Equal(t, 20, cfg.Analyzer.MaxLogGroups)
	assert.Equal(t, 3, cfg.Analyzer.MaxEventsPerLogGroup)
	assert.Equal(t, 400, cfg.Analyzer.MaxLogMessageLength)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("AWS_STACK_NAME", "IDP-PATTERN2")
	t.Setenv("TRACKING_TABLE_NAME", "idp-tracking")
	t.Setenv("EVENT_BUS_NAME", "idp-events")
	t.Setenv("MAX_LOG_EVENTS", "25")
	t.Setenv("MAX_STEPFUNCTION_ERROR_LENGTH", "100")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "IDP-PATTERN2", cfg.StackName)
	assert.Equal(t, "idp-tracking", cfg.TrackingTable)
	assert.Equal(t, "idp-events", cfg.EventBusName)
	assert.Equal(t, 25, cfg.Analyzer.MaxLogEvents)
	assert.Equal(t, 100, cfg.Analyzer.MaxErrorLength)
}

func TestTrackingTableFallbackName(t *testing.T) {
	t.Setenv("TRACKING_TABLE", "legacy-tracking")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "legacy-tracking", cfg.TrackingTable)

	// the newer variable wins when both are set
	t.Setenv("TRACKING_TABLE_NAME", "idp-tracking")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "idp-tracking", cfg.TrackingTable)
}

func TestValidateProductionRequiresStack(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AWS_STACK_NAME")

	t.Setenv("AWS_STACK_NAME", "IDP-PATTERN2")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestValidateRejectsNonPositiveLimits(t *testing.T) {
	t.Setenv("MAX_LOG_EVENTS", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analyzer limits")
}

func TestGetEnvIntIgnoresGarbage(t *testing.T) {
	t.Setenv("MAX_LOG_GROUPS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Analyzer.MaxLogGroups)
}
