package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for fieldline-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (the Dataverse client secret, the MCP bearer token) must only come
// from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3460"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// MCPBearerToken, when set, gates the /mcp endpoint behind a static
	// bearer token check. Empty disables the check (local development).
	MCPBearerToken string `yaml:"-" env:"MCP_BEARER_TOKEN"` // Secret - not in YAML

	Dataverse  DataverseConfig  `yaml:"dataverse"`
	Scheduling SchedulingConfig `yaml:"scheduling"`
}

// DataverseConfig holds the connection settings for the target Dataverse org.
type DataverseConfig struct {
	// BaseURL is the org URL, e.g. https://contoso.crm11.dynamics.com.
	// Trailing slashes are trimmed at load time.
	BaseURL      string `yaml:"base_url" env:"DATAVERSE_BASE_URL"`
	TenantID     string `yaml:"tenant_id" env:"DATAVERSE_TENANT_ID"`
	ClientID     string `yaml:"client_id" env:"DATAVERSE_CLIENT_ID"`
	ClientSecret string `yaml:"-" env:"DATAVERSE_CLIENT_SECRET"` // Secret - not in YAML
	APIVersion   string `yaml:"api_version" env:"DATAVERSE_API_VERSION" env-default:"v9.2"`

	// AllowWrites gates every write path. When false, write tools return a
	// structured "blocked" result without issuing any network call.
	AllowWrites bool `yaml:"allow_writes" env:"DATAVERSE_ALLOW_WRITES" env-default:"false"`
}

// SchedulingConfig holds the customer-facing scheduling policy and the
// demo/tuning knobs for a single org.
type SchedulingConfig struct {
	// PinnedResourceID, when set, scopes every availability search and
	// booking to a single bookable resource.
	PinnedResourceID string `yaml:"pinned_resource_id" env:"SCHEDULING_PINNED_RESOURCE_ID" env-default:""`

	// JobName is stamped on cases, requirements and bookings created by this
	// server. It is also how the requirement poll recognises its own
	// leftovers from prior partial runs.
	JobName      string `yaml:"job_name" env:"SCHEDULING_JOB_NAME" env-default:"Boiler Repair"`
	ResourceName string `yaml:"resource_name" env:"SCHEDULING_RESOURCE_NAME" env-default:"Field Engineer"`

	LeadTimeMinutes    int    `yaml:"lead_time_minutes" env:"SCHEDULING_LEAD_TIME_MINUTES" env-default:"30"`
	GranularityMinutes int    `yaml:"granularity_minutes" env:"SCHEDULING_GRANULARITY_MINUTES" env-default:"30"`
	BusinessOpenHour   int    `yaml:"business_open_hour" env:"SCHEDULING_BUSINESS_OPEN_HOUR" env-default:"8"`
	BusinessCloseHour  int    `yaml:"business_close_hour" env:"SCHEDULING_BUSINESS_CLOSE_HOUR" env-default:"18"`
	Timezone           string `yaml:"timezone" env:"SCHEDULING_TIMEZONE" env-default:"Europe/London"`

	AvailabilityCacheTTLSeconds int `yaml:"availability_cache_ttl_seconds" env:"SCHEDULING_AVAILABILITY_CACHE_TTL_SECONDS" env-default:"180"`

	RequirementPollTimeoutSeconds  int `yaml:"requirement_poll_timeout_seconds" env:"SCHEDULING_REQUIREMENT_POLL_TIMEOUT_SECONDS" env-default:"25"`
	RequirementPollIntervalSeconds int `yaml:"requirement_poll_interval_seconds" env:"SCHEDULING_REQUIREMENT_POLL_INTERVAL_SECONDS" env-default:"1"`

	IdempotencyFile string `yaml:"idempotency_file" env:"SCHEDULING_IDEMPOTENCY_FILE" env-default:"state/idempotency.json"`

	// Work-location fields written onto requirements. WorkLocationCode and
	// TimeWindowTimezoneCode are org option-set values.
	WorkLocationCode       int     `yaml:"work_location_code" env:"SCHEDULING_WORK_LOCATION_CODE" env-default:"690970000"`
	TimeWindowTimezoneCode int     `yaml:"time_window_timezone_code" env:"SCHEDULING_TIME_WINDOW_TIMEZONE_CODE" env-default:"85"`
	Latitude               float64 `yaml:"latitude" env:"SCHEDULING_LATITUDE" env-default:"52.41882"`
	Longitude              float64 `yaml:"longitude" env:"SCHEDULING_LONGITUDE" env-default:"-1.78605"`
}

// LeadTime returns the minimum lead time as a duration.
func (c *SchedulingConfig) LeadTime() time.Duration {
	return time.Duration(c.LeadTimeMinutes) * time.Minute
}

// Granularity returns the slot start alignment as a duration.
func (c *SchedulingConfig) Granularity() time.Duration {
	return time.Duration(c.GranularityMinutes) * time.Minute
}

// AvailabilityCacheTTL returns the availability cache TTL as a duration.
func (c *SchedulingConfig) AvailabilityCacheTTL() time.Duration {
	return time.Duration(c.AvailabilityCacheTTLSeconds) * time.Second
}

// RequirementPollTimeout returns the requirement poll deadline as a duration.
func (c *SchedulingConfig) RequirementPollTimeout() time.Duration {
	return time.Duration(c.RequirementPollTimeoutSeconds) * time.Second
}

// RequirementPollInterval returns the requirement poll interval as a duration.
func (c *SchedulingConfig) RequirementPollInterval() time.Duration {
	return time.Duration(c.RequirementPollIntervalSeconds) * time.Second
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config. Missing required Dataverse settings are fatal here -
// the server must not start half-configured.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.Dataverse.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Dataverse.BaseURL), "/")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	required := map[string]string{
		"DATAVERSE_BASE_URL":      c.Dataverse.BaseURL,
		"DATAVERSE_TENANT_ID":     c.Dataverse.TenantID,
		"DATAVERSE_CLIENT_ID":     c.Dataverse.ClientID,
		"DATAVERSE_CLIENT_SECRET": c.Dataverse.ClientSecret,
	}
	for name, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("missing required configuration: %s", name)
		}
	}

	if c.Scheduling.BusinessOpenHour < 0 || c.Scheduling.BusinessCloseHour > 24 ||
		c.Scheduling.BusinessOpenHour >= c.Scheduling.BusinessCloseHour {
		return fmt.Errorf("invalid business hours: open=%d close=%d",
			c.Scheduling.BusinessOpenHour, c.Scheduling.BusinessCloseHour)
	}
	if c.Scheduling.GranularityMinutes <= 0 || 60%c.Scheduling.GranularityMinutes != 0 {
		return fmt.Errorf("granularity_minutes must divide 60, got %d", c.Scheduling.GranularityMinutes)
	}

	return nil
}
