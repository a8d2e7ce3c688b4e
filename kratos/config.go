package kratos

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Config describes how to reach Kratos.
type Config struct {
	PublicURL string
	AdminURL  string
	// Timeout bounds each HTTP round trip when HTTPClient is nil.
	Timeout time.Duration
	// PrivilegedWindow is how long after authentication identity deletion
	// is allowed. Keep it equal to selfservice.flows.settings.privileged_session_max_age.
	PrivilegedWindow time.Duration
	HTTPClient       *http.Client
	Now              func() time.Time
}

// DefaultConfig returns a config for Kratos listening on its default ports.
func DefaultConfig() Config {
	return Config{
		PublicURL:        "http://127.0.0.1:4433",
		AdminURL:         "http://127.0.0.1:4434",
		Timeout:          10 * time.Second,
		PrivilegedWindow: 15 * time.Minute,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if !isValidURL(c.PublicURL) {
		return fmt.Errorf("invalid kratos public url %q", c.PublicURL)
	}
	if !isValidURL(c.AdminURL) {
		return fmt.Errorf("invalid kratos admin url %q", c.AdminURL)
	}
	if c.HTTPClient == nil && c.Timeout <= 0 {
		return errors.New("kratos timeout must be > 0")
	}
	if c.PrivilegedWindow <= 0 {
		return errors.New("kratos privileged window must be > 0")
	}
	return nil
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.Timeout}
}

func isValidURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}
