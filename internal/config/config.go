package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Application Application `yaml:"application"`
	Wheelhouse  Wheelhouse  `yaml:"wheelhouse"`
	Storage     Storage     `yaml:"storage"`
	Health      Health      `yaml:"health"`
	Schedule    Schedule    `yaml:"schedule"`
	Monitoring  Monitoring  `yaml:"monitoring"`
	State       State       `yaml:"state"`
}

type Application struct {
	Name     string `yaml:"name"`
	Version  string `yaml:"version"`
	LogLevel string `yaml:"log_level"`
}

type Wheelhouse struct {
	BaseURL         string          `yaml:"base_url"`
	APIKey          string          `yaml:"api_key"`
	UserAPIKey      string          `yaml:"user_api_key"`
	Timeout         time.Duration   `yaml:"timeout"`
	PageSize        int             `yaml:"page_size"`
	PageInterval    time.Duration   `yaml:"page_interval"`
	MaxRetries      int             `yaml:"max_retries"`
	RetryDelay      time.Duration   `yaml:"retry_delay"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Mock            bool            `yaml:"mock"`
	MockFixturePath string          `yaml:"mock_fixture_path"`
}

// RateLimitConfig bounds the retries issued after an HTTP 429.
type RateLimitConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	MinDelay    time.Duration `yaml:"min_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type Storage struct {
	BasePath     string `yaml:"base_path"`
	SourceTag    string `yaml:"source_tag"`
	Compression  string `yaml:"compression"`
	RowGroupSize int64  `yaml:"row_group_size"`
}

type Health struct {
	OutputPath             string `yaml:"output_path"`
	StaleAfterDays         int    `yaml:"stale_after_days"`
	MissingRecentThreshold int    `yaml:"missing_recent_threshold"`
	RecentWindowDays       int    `yaml:"recent_window_days"`
	GapReportLimit         int    `yaml:"gap_report_limit"`
	SampleSize             int    `yaml:"sample_size"`
	TopN                   int    `yaml:"top_n"`
}

type Schedule struct {
	Timezone string `yaml:"timezone"`
}

type Monitoring struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

type MetricsConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Namespace    string `yaml:"namespace"`
	TextfilePath string `yaml:"textfile_path"`
}

type State struct {
	Path string `yaml:"path"`
}

// Validate checks the settings that cannot be expressed in the JSON schema.
func (c *Config) Validate() error {
	if c.Wheelhouse.Mock {
		return nil
	}
	if c.Wheelhouse.APIKey == "" {
		return fmt.Errorf("%w: WHEELHOUSE_API_KEY is required", ErrMissingCredentials)
	}
	if c.Wheelhouse.UserAPIKey == "" {
		return fmt.Errorf("%w: WHEELHOUSE_USER_API_KEY is required", ErrMissingCredentials)
	}
	return nil
}

// MissingCredentials lists the env variables that still need a value.
func (c *Config) MissingCredentials() []string {
	var missing []string
	if c.Wheelhouse.APIKey == "" {
		missing = append(missing, "WHEELHOUSE_API_KEY")
	}
	if c.Wheelhouse.UserAPIKey == "" {
		missing = append(missing, "WHEELHOUSE_USER_API_KEY")
	}
	return missing
}

// Location returns the configured schedule timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c.Schedule.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DataPath joins parts onto the storage base path.
func (c *Config) DataPath(parts ...string) string {
	return filepath.Join(append([]string{c.Storage.BasePath}, parts...)...)
}

// HealthReportPath is the default health report location.
func (c *Config) HealthReportPath() string {
	if c.Health.OutputPath != "" {
		return c.Health.OutputPath
	}
	return c.DataPath("health.json")
}

// Headers returns the headers sent with every Wheelhouse request.
func (c *Config) Headers() map[string]string {
	return map[string]string{
		"Authorization":  "Bearer " + c.Wheelhouse.APIKey,
		"X-User-API-Key": c.Wheelhouse.UserAPIKey,
		"Content-Type":   "application/json",
		"Accept":         "application/json",
	}
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
