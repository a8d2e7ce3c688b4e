package goSession

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goSession/daytime"
)

// Config holds every tunable of a Controller. Obtain defaults from
// DefaultConfig, adjust, and pass to Builder.WithConfig.
type Config struct {
	Profile  ProfileConfig
	Schedule ScheduleConfig
	Defaults DefaultsConfig
	Account  AccountConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
PROFILE CONFIG
====================================
*/

// ProfileConfig configures the Redis profile store built by
// Builder.WithRedis.
type ProfileConfig struct {
	RedisPrefix string
}

/*
====================================
SCHEDULE CONFIG
====================================
*/

// ScheduleConfig decides what "today" means for default time propagation.
type ScheduleConfig struct {
	// Location is the user's time zone. Nil means time.Local.
	Location *time.Location
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

/*
====================================
DEFAULTS CONFIG
====================================
*/

// DefaultsConfig holds the fallback wake and sleep times used when the
// preference store has none.
type DefaultsConfig struct {
	WakeTime  TimeOfDay
	SleepTime TimeOfDay
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig configures account deletion.
type AccountConfig struct {
	// DeleteIdentityFirst deletes the identity before the profile document.
	// Off by default: the profile document is deleted first and a failed
	// identity deletion leaves a live identity whose profile is re-created.
	DeleteIdentityFirst bool
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

// AuditConfig configures the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig enables in-process counters and the propagation latency
// histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the configuration used by New.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Profile: ProfileConfig{
			RedisPrefix: "gs",
		},
		Defaults: DefaultsConfig{
			WakeTime:  daytime.Of(7, 0),
			SleepTime: daytime.Of(23, 0),
		},
		Account: AccountConfig{
			DeleteIdentityFirst: false,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Profile.RedisPrefix) == "" {
		return errors.New("Profile RedisPrefix must not be empty")
	}
	if strings.ContainsAny(c.Profile.RedisPrefix, "{} ") {
		return errors.New("Profile RedisPrefix must not contain braces or spaces")
	}
	if !c.Defaults.WakeTime.Valid() {
		return errors.New("Defaults WakeTime is not a valid time of day")
	}
	if !c.Defaults.SleepTime.Valid() {
		return errors.New("Defaults SleepTime is not a valid time of day")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}
	return nil
}

func (c *Config) location() *time.Location {
	if c.Schedule.Location == nil {
		return time.Local
	}
	return c.Schedule.Location
}

func (c *Config) now() time.Time {
	if c.Schedule.Now == nil {
		return time.Now()
	}
	return c.Schedule.Now()
}
