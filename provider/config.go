package provider

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goSession/password"
	"github.com/MrEthical07/goSession/token"
)

// Throttle is a fixed-window attempt budget. A zero Max disables it.
type Throttle struct {
	Max    int
	Window time.Duration
}

// Config configures a Provider.
type Config struct {
	RedisPrefix string

	Password password.Config
	// Session signs the identity tokens handed to the client. It must be
	// able to issue.
	Session token.Config
	// Federated maps a FederatedCredential.Provider name to the verify-only
	// configuration of that issuer.
	Federated map[string]token.Config

	CodeDigits      int
	CodeTTL         time.Duration
	MaxCodeAttempts int

	// RecentLoginWindow bounds how long after a sign-in or
	// reauthentication UpdatePassword and DeleteCurrentIdentity are
	// allowed.
	RecentLoginWindow time.Duration

	SignInThrottle Throttle
	EmailThrottle  Throttle

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns a configuration with the given session token
// settings and conservative defaults for everything else.
func DefaultConfig(session token.Config) Config {
	return Config{
		RedisPrefix:       "gsp",
		Password:          password.DefaultConfig(),
		Session:           session,
		CodeDigits:        6,
		CodeTTL:           15 * time.Minute,
		MaxCodeAttempts:   5,
		RecentLoginWindow: 5 * time.Minute,
		SignInThrottle:    Throttle{Max: 10, Window: 15 * time.Minute},
		EmailThrottle:     Throttle{Max: 5, Window: time.Hour},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RedisPrefix) == "" {
		return errors.New("provider RedisPrefix must not be empty")
	}
	if c.Session.TTL <= 0 {
		return errors.New("provider Session TTL must be > 0")
	}
	if c.CodeDigits < 6 || c.CodeDigits > 10 {
		return errors.New("provider CodeDigits must be within [6, 10]")
	}
	if c.CodeTTL <= 0 {
		return errors.New("provider CodeTTL must be > 0")
	}
	if c.MaxCodeAttempts <= 0 {
		return errors.New("provider MaxCodeAttempts must be > 0")
	}
	if c.RecentLoginWindow <= 0 {
		return errors.New("provider RecentLoginWindow must be > 0")
	}
	for name := range c.Federated {
		if strings.TrimSpace(name) == "" {
			return errors.New("provider Federated issuer name must not be empty")
		}
	}
	return nil
}

func (c *Config) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}
