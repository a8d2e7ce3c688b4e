package goSession

import (
	"context"
	"io"
	"log/slog"

	"github.com/MrEthical07/goSession/profile"
	"github.com/redis/go-redis/v9"
)

// Builder assembles a Controller. A Builder can build once.
type Builder struct {
	config Config

	gateway CredentialGateway
	store   ProfileStore
	redis   redis.UniversalClient
	prefs   PreferenceStore

	logger    *slog.Logger
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithGateway sets the credential gateway. Required.
func (b *Builder) WithGateway(gw CredentialGateway) *Builder {
	b.gateway = gw
	return b
}

// WithProfileStore sets the profile document store.
func (b *Builder) WithProfileStore(store ProfileStore) *Builder {
	b.store = store
	return b
}

// WithRedis builds a profile.Store on client when no profile store is set.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPreferenceStore sets where default wake and sleep times persist.
// Without one, defaults live only in memory.
func (b *Builder) WithPreferenceStore(prefs PreferenceStore) *Builder {
	b.prefs = prefs
	return b
}

// WithLogger sets the structured logger. The default discards.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets the audit sink and enables audit dispatch.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// WithMetricsEnabled toggles in-process metrics.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the propagation latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, loads persisted default times and
// starts the controller's event loop. Call Controller.Start to subscribe to
// identity changes.
func (b *Builder) Build() (*Controller, error) {
	if b.built {
		return nil, errBuilderUsed
	}
	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.gateway == nil {
		return nil, errGatewayRequired
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	store := b.store
	if store == nil {
		if b.redis == nil {
			return nil, errProfileStoreRequired
		}
		store = profile.NewStore(b.redis, cfg.Profile.RedisPrefix, profile.WithLogger(logger))
	}

	wake, sleep := cfg.Defaults.WakeTime, cfg.Defaults.SleepTime
	if b.prefs != nil {
		w, s, ok, err := b.prefs.LoadDefaultTimes(context.Background())
		switch {
		case err != nil:
			logger.Warn("load default times failed, using fallback",
				slog.String("wake", wake.String()),
				slog.String("sleep", sleep.String()),
				slog.Any("error", err),
			)
		case ok:
			wake, sleep = w, s
		}
	}

	c := newController(cfg, b.gateway, store, b.prefs, logger, b.auditSink, Session{
		DefaultWakeTime:  wake,
		DefaultSleepTime: sleep,
	})
	b.built = true
	return c, nil
}
