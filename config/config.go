package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional permission controller configuration file.
type Config struct {
	// Strict turns malformed role definitions into errors instead of skipping them
	Strict              bool                `yaml:"strict"`
	RolesFile           string              `yaml:"roles_file,omitempty"`
	DataDir             string              `yaml:"data_dir,omitempty"`
	LocationAccessCheck LocationAccessCheck `yaml:"location_access_check"`
	OneTimePermissions  OneTimePermissions  `yaml:"one_time_permissions"`
	// DefaultHolders replaces the default holders declared by the role definitions
	DefaultHolders map[string][]string `yaml:"default_holders,omitempty"`
	Device         Device              `yaml:"device"`
}

type LocationAccessCheck struct {
	Enabled                bool          `yaml:"enabled"`
	PeriodicInterval       time.Duration `yaml:"periodic_interval"`
	Flex                   time.Duration `yaml:"flex"`
	InBetweenNotifications time.Duration `yaml:"in_between_notifications"`
	DelayAfterBoot         time.Duration `yaml:"delay_after_boot"`
}

type OneTimePermissions struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Device describes the capabilities of the device roles depend on.
type Device struct {
	VoiceCapable bool `yaml:"voice_capable"`
	SmsCapable   bool `yaml:"sms_capable"`
	LowRam       bool `yaml:"low_ram"`
	// ExtraLocationController is preferred when picking the package to notify about
	ExtraLocationController string   `yaml:"extra_location_controller,omitempty"`
	LocationProviders       []string `yaml:"location_providers,omitempty"`
	DefaultDialer           string   `yaml:"default_dialer,omitempty"`
	DefaultSms              string   `yaml:"default_sms,omitempty"`
}

// Default returns the platform defaults.
func Default() *Config {
	return &Config{
		LocationAccessCheck: LocationAccessCheck{
			Enabled:                true,
			PeriodicInterval:       24 * time.Hour,
			Flex:                   time.Hour,
			InBetweenNotifications: 3 * 24 * time.Hour,
			DelayAfterBoot:         24 * time.Hour,
		},
		OneTimePermissions: OneTimePermissions{Timeout: time.Minute},
		Device: Device{
			VoiceCapable: true,
			SmsCapable:   true,
		},
	}
}

// LoadOptional reads the configuration file if present, missing values keep their
// defaults.
func LoadOptional(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.OneTimePermissions.Timeout <= 0 {
		return errors.New("one_time_permissions.timeout must be positive")
	}
	if c.LocationAccessCheck.PeriodicInterval <= 0 {
		return errors.New("location_access_check.periodic_interval must be positive")
	}
	if c.LocationAccessCheck.Flex < 0 || c.LocationAccessCheck.InBetweenNotifications < 0 || c.LocationAccessCheck.DelayAfterBoot < 0 {
		return errors.New("location_access_check durations must not be negative")
	}
	return nil
}

// DefaultHoldersFor returns the configured default holders of a role, ok is false
// when the configuration does not override them
func (c *Config) DefaultHoldersFor(roleName string) ([]string, bool) {
	holders, ok := c.DefaultHolders[roleName]
	return holders, ok
}
