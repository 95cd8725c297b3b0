package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATAVERSE_BASE_URL", "https://contoso.crm11.dynamics.com/")
	t.Setenv("DATAVERSE_TENANT_ID", "tenant-1")
	t.Setenv("DATAVERSE_CLIENT_ID", "client-1")
	t.Setenv("DATAVERSE_CLIENT_SECRET", "secret-1")
}

func TestLoadFromEnvironment(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("1.2.3")
	require.NoError(t, err)

	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "3460", cfg.Port)
	// Trailing slash trimmed.
	assert.Equal(t, "https://contoso.crm11.dynamics.com", cfg.Dataverse.BaseURL)
	assert.Equal(t, "v9.2", cfg.Dataverse.APIVersion)
	assert.False(t, cfg.Dataverse.AllowWrites)

	assert.Equal(t, "Boiler Repair", cfg.Scheduling.JobName)
	assert.Equal(t, 30*time.Minute, cfg.Scheduling.LeadTime())
	assert.Equal(t, 30*time.Minute, cfg.Scheduling.Granularity())
	assert.Equal(t, 8, cfg.Scheduling.BusinessOpenHour)
	assert.Equal(t, 18, cfg.Scheduling.BusinessCloseHour)
	assert.Equal(t, "Europe/London", cfg.Scheduling.Timezone)
	assert.Equal(t, 25*time.Second, cfg.Scheduling.RequirementPollTimeout())
	assert.Equal(t, time.Second, cfg.Scheduling.RequirementPollInterval())
	assert.Equal(t, 3*time.Minute, cfg.Scheduling.AvailabilityCacheTTL())
}

func TestLoadRequiresDataverseSettings(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATAVERSE_CLIENT_SECRET", "")

	_, err := Load("dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATAVERSE_CLIENT_SECRET")
}

func TestLoadRejectsInvalidBusinessHours(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SCHEDULING_BUSINESS_OPEN_HOUR", "18")
	t.Setenv("SCHEDULING_BUSINESS_CLOSE_HOUR", "8")

	_, err := Load("dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "business hours")
}

func TestLoadRejectsGranularityNotDividing60(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SCHEDULING_GRANULARITY_MINUTES", "45")

	_, err := Load("dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "granularity_minutes")
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATAVERSE_ALLOW_WRITES", "true")
	t.Setenv("SCHEDULING_PINNED_RESOURCE_ID", "resource-1")
	t.Setenv("SCHEDULING_LEAD_TIME_MINUTES", "60")

	cfg, err := Load("dev")
	require.NoError(t, err)
	assert.True(t, cfg.Dataverse.AllowWrites)
	assert.Equal(t, "resource-1", cfg.Scheduling.PinnedResourceID)
	assert.Equal(t, time.Hour, cfg.Scheduling.LeadTime())
}
