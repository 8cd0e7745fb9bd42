package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
)

// CurrentVersion of the config file.
const CurrentVersion = 1

// Config represents the entire application configuration.
type Config struct {
	// Version of the config file.
	Version  int            `koanf:"version"`
	Bot      BotConfig      `koanf:"bot"`
	Debug    Debug          `koanf:"debug"`
	AntiSpam AntiSpamConfig `koanf:"antispam"`
}

// BotConfig contains Discord connection and command surface configuration.
type BotConfig struct {
	// Discord bot token for authentication.
	Token string `koanf:"token" validate:"required"`
	// Prefix for operator commands.
	Prefix string `koanf:"prefix"`
	// Role IDs allowed to use operator commands.
	CommandRoles []uint64 `koanf:"command_roles"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Maximum log sessions to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
}

// AntiSpamConfig contains the spam detection engine configuration.
// Only Enabled and TrustedDomains are mutable at runtime; everything
// else is read once at startup.
type AntiSpamConfig struct {
	// Whether detection is active at startup.
	Enabled bool `koanf:"enabled"`
	// Classification window in milliseconds.
	TimeWindowMs int `koanf:"time_window_ms"`
	// Secondary tighter window for rapid-posting detection in milliseconds.
	RapidWindowMs int `koanf:"rapid_window_ms"`
	// Image threshold. Accepted for compatibility; no detection rule
	// currently consults it.
	ImageThreshold int `koanf:"image_threshold"`
	// Links across the window before the link-burst rule fires.
	LinkThreshold int `koanf:"link_threshold"`
	// User IDs never classified.
	ExemptUsers []uint64 `koanf:"exempt_users"`
	// Role IDs whose holders are never classified.
	ExemptRoles []uint64 `koanf:"exempt_roles"`
	// Domains whose links are never considered suspicious. Configuring
	// any entry switches unknown domains to suspicious-by-default.
	TrustedDomains []string `koanf:"trusted_domains"`
	// Role applied to quarantined members.
	SuspensionRoleID uint64 `koanf:"suspension_role_id"`
	// Roles never stripped during quarantine.
	PreserveRoles []uint64 `koanf:"preserve_roles"`
	// Timeout applied to quarantined members in milliseconds.
	TimeoutDurationMs int `koanf:"timeout_duration_ms"`
	// Retention horizon for per-user message history in milliseconds.
	HistoryMaxAgeMs int `koanf:"history_max_age_ms"`
	// Interval between history sweeps in milliseconds.
	SweepIntervalMs int `koanf:"sweep_interval_ms"`
	// Channel for incident audit embeds.
	LogChannelID uint64 `koanf:"log_channel_id"`
	// Channel for server-facing alerts.
	AlertChannelID uint64 `koanf:"alert_channel_id"`
	// Channel for the public quarantine notice.
	NotificationChannelID uint64 `koanf:"notification_channel_id"`
	// Channel for DM delivery failure reports.
	DMFailLogChannelID uint64 `koanf:"dm_fail_log_channel_id"`
}

// TimeWindow returns the classification window, defaulting to 30 seconds.
func (c *AntiSpamConfig) TimeWindow() time.Duration {
	return msOrDefault(c.TimeWindowMs, 30*time.Second)
}

// RapidWindow returns the rapid-posting window, defaulting to 10 seconds.
func (c *AntiSpamConfig) RapidWindow() time.Duration {
	return msOrDefault(c.RapidWindowMs, 10*time.Second)
}

// TimeoutDuration returns the quarantine timeout, defaulting to 24 hours.
func (c *AntiSpamConfig) TimeoutDuration() time.Duration {
	return msOrDefault(c.TimeoutDurationMs, 24*time.Hour)
}

// HistoryMaxAge returns the history retention horizon, defaulting to 1 hour.
func (c *AntiSpamConfig) HistoryMaxAge() time.Duration {
	return msOrDefault(c.HistoryMaxAgeMs, time.Hour)
}

// SweepInterval returns the history sweep interval, defaulting to 5 minutes.
func (c *AntiSpamConfig) SweepInterval() time.Duration {
	return msOrDefault(c.SweepIntervalMs, 5*time.Minute)
}

// LinkThresholdValue returns the link-burst threshold, defaulting to 3.
func (c *AntiSpamConfig) LinkThresholdValue() int {
	if c.LinkThreshold <= 0 {
		return 3
	}

	return c.LinkThreshold
}

// ImageThresholdValue returns the configured image threshold, defaulting to 2.
func (c *AntiSpamConfig) ImageThresholdValue() int {
	if c.ImageThreshold <= 0 {
		return 2
	}

	return c.ImageThreshold
}

func msOrDefault(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}

	return time.Duration(ms) * time.Millisecond
}

// LoadConfig loads the configuration from the first config.toml found in
// the search paths. Returns the config along with the used config directory.
func LoadConfig() (*Config, string, error) {
	k := koanf.New(".")

	// Get user's home directory
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	// List search paths
	configPaths := []string{
		".sentinel",
		homeDir + "/.sentinel/config",
		"/etc/sentinel/config",
		"/app/config",
		"config",
		".",
	}

	var usedConfigPath string

	for _, path := range configPaths {
		configPath := path + "/config.toml"
		if err := k.Load(file.Provider(configPath), toml.Parser()); err == nil {
			usedConfigPath = path
			break
		}
	}

	if usedConfigPath == "" {
		return nil, "", fmt.Errorf("%w: config.toml", ErrConfigFileNotFound)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Version == 0 {
		return nil, "", fmt.Errorf("%w: config.toml", ErrConfigVersionMissing)
	}

	if config.Version != CurrentVersion {
		return nil, "", fmt.Errorf("%w: config.toml (got: %d, expected: %d)",
			ErrConfigVersionMismatch, config.Version, CurrentVersion)
	}

	if err := validator.New().Struct(&config); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}

	return &config, usedConfigPath, nil
}
