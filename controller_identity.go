package goSession

import (
	"context"
	"log/slog"
)

// Start opens the controller's single auth-state subscription. Each event
// replaces the identity; a new identity gets its profile created if absent
// and a live profile subscription, and a signed-out event clears both. A
// second call returns ErrAlreadyStarted.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.alive(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	subCtx, cancel := context.WithCancel(c.ctx)
	events, err := c.gateway.SubscribeAuthState(subCtx)
	if err != nil {
		cancel()
		c.started.Store(false)
		return c.fail(ctx, opSubscribe, err)
	}
	if !c.spawn(func() { c.pumpIdentity(subCtx, cancel, events) }) {
		cancel()
		return ErrControllerClosed
	}
	c.logger.Debug("identity subscription started")
	return nil
}

// pumpIdentity forwards auth-state events to the loop in provider order.
func (c *Controller) pumpIdentity(ctx context.Context, cancel context.CancelFunc, events <-chan *Identity) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-events:
			if !ok {
				c.logger.Debug("identity subscription ended")
				return
			}
			var (
				gen    uint64
				verify bool
			)
			if err := c.exec(ctx, func() { gen, verify = c.applyIdentity(id) }); err != nil {
				return
			}
			if verify {
				id := id.clone()
				c.spawn(func() { c.verifyAndAttach(gen, id) })
			}
		}
	}
}

// applyIdentity makes id the current identity. It returns the profile
// generation to verify when id needs its profile created and attached.
// Runs on the loop.
func (c *Controller) applyIdentity(id *Identity) (uint64, bool) {
	if id == nil || id.UID == "" {
		c.reauth.identityChanged("")
		c.detachProfile()
		c.suspendedUID = ""
		if c.state.Identity == nil && c.state.Profile == nil {
			return 0, false
		}
		c.state.Identity = nil
		c.state.Profile = nil
		c.publish()
		return 0, false
	}

	c.reauth.identityChanged(id.UID)
	prev := c.state.Identity
	c.state.Identity = id.clone()
	sameUser := prev != nil && prev.UID == id.UID
	if sameUser && (c.profileUID == id.UID || c.suspendedUID == id.UID) {
		c.publish()
		return 0, false
	}

	c.detachProfile()
	if !sameUser {
		c.state.Profile = nil
		c.suspendedUID = ""
	}
	c.profileUID = id.UID
	c.publish()
	return c.profileGen, true
}

// detachProfile closes the live profile subscription and invalidates every
// in-flight result of older generations. Runs on the loop.
func (c *Controller) detachProfile() {
	if c.profileCancel != nil {
		c.profileCancel()
		c.profileCancel = nil
	}
	c.profileUID = ""
	c.profileGen++
}

// reclaim re-verifies and reattaches the profile of uid if it is still the
// signed-in identity.
func (c *Controller) reclaim(uid string) {
	var (
		gen    uint64
		verify bool
		id     *Identity
	)
	err := c.exec(c.ctx, func() {
		if c.suspendedUID == uid {
			c.suspendedUID = ""
		}
		if c.state.Identity == nil || c.state.Identity.UID != uid {
			return
		}
		id = c.state.Identity.clone()
		c.profileUID = ""
		gen, verify = c.applyIdentity(id)
	})
	if err == nil && verify {
		c.verifyAndAttach(gen, id)
	}
}

// verifyAndAttach makes sure the profile document exists, then hands the
// result to the loop, which attaches a subscription unless gen is stale.
func (c *Controller) verifyAndAttach(gen uint64, id *Identity) {
	err := c.createOrVerifyProfile(id)
	_ = c.exec(c.ctx, func() { c.finishVerify(gen, id.UID, err) })
}

// createOrVerifyProfile creates the profile document with defaults unless it
// exists. Concurrent calls for one identity share a single store round trip,
// and the store write itself is conditional.
func (c *Controller) createOrVerifyProfile(id *Identity) error {
	_, err, _ := c.creates.Do(id.UID, func() (any, error) {
		snap, err := c.store.GetDocument(c.ctx, id.UID)
		if err != nil {
			return nil, err
		}
		if snap.Exists {
			return nil, nil
		}
		created, err := c.store.CreateDocumentIfAbsent(c.ctx, id.UID, defaultProfileFields(id.Email))
		if err != nil {
			return nil, &ProfileWriteError{UID: id.UID, Op: "create", Err: err}
		}
		if created {
			c.metrics.Inc(MetricProfileCreated)
			c.logger.Info("profile created", slog.String("uid", id.UID))
			c.emitAudit(c.ctx, opProfileCreate, id.UID, true, nil)
		}
		return nil, nil
	})
	return err
}

// finishVerify runs on the loop.
func (c *Controller) finishVerify(gen uint64, uid string, err error) {
	if gen != c.profileGen || c.profileUID != uid {
		c.metrics.Inc(MetricStaleProfileDropped)
		c.logger.Debug("dropping stale profile verification", slog.String("uid", uid))
		return
	}
	if err != nil {
		c.profileUID = ""
		c.recordError(opProfileVerify, uid, err)
		return
	}

	if c.profileCancel != nil {
		c.profileCancel()
	}
	subCtx, cancel := context.WithCancel(c.ctx)
	c.profileCancel = cancel
	if !c.spawn(func() { c.pumpProfile(subCtx, gen, uid) }) {
		cancel()
		c.profileCancel = nil
	}
}

// pumpProfile forwards profile snapshots of generation gen to the loop.
func (c *Controller) pumpProfile(ctx context.Context, gen uint64, uid string) {
	snaps, err := c.store.SubscribeDocument(ctx, uid)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		_ = c.exec(ctx, func() {
			if gen != c.profileGen {
				return
			}
			c.profileUID = ""
			c.profileCancel = nil
			c.recordError(opProfileSubscribe, uid, err)
		})
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if err := c.exec(ctx, func() { c.handleProfileSnapshot(gen, uid, snap) }); err != nil {
				return
			}
		}
	}
}

// handleProfileSnapshot applies one document snapshot. Runs on the loop.
func (c *Controller) handleProfileSnapshot(gen uint64, uid string, snap DocumentSnapshot) {
	if gen != c.profileGen || c.state.Identity == nil || c.state.Identity.UID != uid {
		c.metrics.Inc(MetricStaleProfileDropped)
		return
	}
	c.metrics.Inc(MetricProfileSnapshot)

	switch {
	case snap.Err != nil:
		c.recordError(opProfileSubscribe, uid, snap.Err)
	case !snap.Exists:
		c.metrics.Inc(MetricProfileMissing)
		c.state.Profile = nil
		c.recordError(opProfileSubscribe, uid, errProfileMissing)
	default:
		p, err := decodeProfile(uid, snap.Fields)
		if err != nil {
			c.metrics.Inc(MetricProfileDecodeFailure)
			c.recordError(opProfileDecode, uid, err)
			return
		}
		c.state.Profile = p
		c.publish()
	}
}

// recordError sets LastError from the loop and publishes.
func (c *Controller) recordError(op, uid string, err error) {
	ce := Classify(err)
	c.state.LastError = ce
	c.publish()
	c.logger.Warn("session background operation failed",
		slog.String("op", op),
		slog.String("uid", uid),
		slog.String("kind", ce.Kind.String()),
		slog.Any("error", err),
	)
	c.emitAudit(c.ctx, op, uid, false, ce)
}
