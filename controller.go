package goSession

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Controller is the single authority for who is signed in and what their
// profile is. Session state is owned by one event-loop goroutine; every
// mutation runs there, and readers see immutable snapshots.
type Controller struct {
	cfg     Config
	gateway CredentialGateway
	store   ProfileStore
	prefs   PreferenceStore
	logger  *slog.Logger
	audit   *auditDispatcher
	metrics *Metrics
	reauth  *ReauthFlow

	ops    chan func()
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closing   bool
	wg        sync.WaitGroup
	closeOnce sync.Once

	started     atomic.Bool
	propagating atomic.Bool
	creates     singleflight.Group
	current     atomic.Pointer[Session]

	// Owned by the event loop.
	state         Session
	profileUID    string
	profileGen    uint64
	profileCancel context.CancelFunc
	suspendedUID  string
	watchers      map[chan Session]struct{}
}

func newController(
	cfg Config,
	gateway CredentialGateway,
	store ProfileStore,
	prefs PreferenceStore,
	logger *slog.Logger,
	sink AuditSink,
	initial Session,
) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:      cfg,
		gateway:  gateway,
		store:    store,
		prefs:    prefs,
		logger:   logger,
		audit:    newAuditDispatcher(cfg.Audit, sink, logger),
		metrics:  NewMetrics(cfg.Metrics),
		ops:      make(chan func()),
		ctx:      ctx,
		cancel:   cancel,
		state:    initial,
		watchers: make(map[chan Session]struct{}),
	}
	c.reauth = &ReauthFlow{c: c}
	snap := initial
	c.current.Store(&snap)
	c.spawn(c.run)
	return c
}

func (c *Controller) run() {
	for {
		select {
		case op := <-c.ops:
			op()
		case <-c.ctx.Done():
			c.teardown()
			return
		}
	}
}

// exec runs fn on the event loop and waits for it to finish. It must not be
// called from the loop itself.
func (c *Controller) exec(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}
	select {
	case c.ops <- op:
	case <-c.ctx.Done():
		return ErrControllerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// spawn starts fn on a tracked goroutine unless the controller is closing.
func (c *Controller) spawn(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
	return true
}

func (c *Controller) alive() error {
	if c.ctx.Err() != nil {
		return ErrControllerClosed
	}
	return nil
}

func (c *Controller) teardown() {
	c.detachProfile()
	for ch := range c.watchers {
		delete(c.watchers, ch)
		close(ch)
	}
}

// publish stores the current state as the latest snapshot and hands it to
// every watcher, replacing any snapshot the watcher has not read yet.
func (c *Controller) publish() {
	snap := c.state
	snap.Identity = snap.Identity.clone()
	snap.Profile = snap.Profile.clone()
	c.current.Store(&snap)

	for ch := range c.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Snapshot returns the latest published session. The pointed-to Identity and
// Profile must be treated as read-only.
func (c *Controller) Snapshot() Session {
	return *c.current.Load()
}

// Watch streams session snapshots, starting with the current one. A slow
// reader skips intermediate snapshots and always receives the latest. The
// channel closes when ctx is done or the controller closes.
func (c *Controller) Watch(ctx context.Context) <-chan Session {
	ch := make(chan Session, 1)
	err := c.exec(ctx, func() {
		c.watchers[ch] = struct{}{}
		ch <- *c.current.Load()
	})
	if err != nil {
		close(ch)
		return ch
	}
	c.spawn(func() {
		select {
		case <-ctx.Done():
		case <-c.ctx.Done():
			return
		}
		_ = c.exec(context.Background(), func() {
			if _, ok := c.watchers[ch]; ok {
				delete(c.watchers, ch)
				close(ch)
			}
		})
	})
	return ch
}

// ClearError drops the last classified error, typically on new user input.
func (c *Controller) ClearError(ctx context.Context) error {
	return c.exec(ctx, func() {
		if c.state.LastError == nil {
			return
		}
		c.state.LastError = nil
		c.publish()
	})
}

// Reauth returns the controller's reauthentication flow.
func (c *Controller) Reauth() *ReauthFlow {
	return c.reauth
}

// MetricsSnapshot returns a point-in-time copy of the controller metrics.
func (c *Controller) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// AuditDropped returns the number of audit events dropped under
// backpressure.
func (c *Controller) AuditDropped() uint64 {
	return c.audit.Dropped()
}

// AuditDroppedByEvent returns the dropped audit event counts keyed by event
// type.
func (c *Controller) AuditDroppedByEvent() map[string]uint64 {
	return c.audit.DroppedByEvent()
}

// Close releases the identity and profile subscriptions, closes every Watch
// channel and stops the event loop. Later operations return
// ErrControllerClosed. Close is idempotent.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()

		c.cancel()
		c.wg.Wait()
		c.audit.Close()
		c.logger.Debug("session controller closed")
	})
	return nil
}

// fail classifies err, records it as the session's last error and returns
// the classification.
func (c *Controller) fail(ctx context.Context, op string, err error) *ClassifiedError {
	ce := Classify(err)
	_ = c.exec(context.WithoutCancel(ctx), func() {
		c.state.LastError = ce
		c.publish()
	})
	c.logger.Warn("session operation failed",
		slog.String("op", op),
		slog.String("kind", ce.Kind.String()),
		slog.Any("error", err),
	)
	c.emitAudit(ctx, op, "", false, ce)
	return ce
}
