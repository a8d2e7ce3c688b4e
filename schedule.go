package goSession

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/goSession/daytime"
)

// PropagationResult reports one default-time propagation. Date is the first
// date rewritten (today when the call was made).
type PropagationResult struct {
	Date    string
	Updated int
	Err     error
}

// SetDefaultTimes sets the default wake and sleep times. The in-memory and
// persisted defaults change before it returns; then every schedule of the
// signed-in identity dated today or later is rewritten in one atomic batch
// and the result is delivered on the returned channel. Schedules dated before
// today are never touched.
//
// While an earlier propagation is still running the call is dropped with
// ErrPropagationInFlight and nothing changes.
func (c *Controller) SetDefaultTimes(ctx context.Context, wake, sleep TimeOfDay) (<-chan PropagationResult, error) {
	if !wake.Valid() || !sleep.Valid() {
		return nil, ErrInvalidTimeOfDay
	}
	if err := c.alive(); err != nil {
		return nil, err
	}
	if !c.propagating.CompareAndSwap(false, true) {
		c.metrics.Inc(MetricPropagationDropped)
		return nil, ErrPropagationInFlight
	}
	release := func() { c.propagating.Store(false) }

	if c.prefs != nil {
		if err := c.prefs.SaveDefaultTimes(ctx, wake, sleep); err != nil {
			release()
			return nil, c.fail(ctx, opSaveDefaults, &ProfileWriteError{Op: "save default times", Err: err})
		}
	}

	today := daytime.DateOf(c.cfg.now(), c.cfg.location())
	var id *Identity
	err := c.exec(context.WithoutCancel(ctx), func() {
		c.state.DefaultWakeTime = wake
		c.state.DefaultSleepTime = sleep
		id = c.state.Identity.clone()
		c.publish()
	})
	if err != nil {
		release()
		return nil, err
	}

	out := make(chan PropagationResult, 1)
	if id == nil {
		release()
		out <- PropagationResult{Date: today}
		close(out)
		return out, nil
	}

	started := c.spawn(func() {
		res := c.propagate(id.UID, today, wake, sleep)
		release()
		out <- res
		close(out)
	})
	if !started {
		release()
		return nil, ErrControllerClosed
	}
	return out, nil
}

func (c *Controller) propagate(uid, today string, wake, sleep TimeOfDay) PropagationResult {
	start := time.Now()
	n, err := c.store.BatchUpdateSchedules(c.ctx, uid, today, wake, sleep)
	c.metrics.Observe(MetricPropagationLatency, time.Since(start))
	if err != nil {
		c.metrics.Inc(MetricPropagationFailure)
		ce := c.fail(c.ctx, opPropagateDefaults, &ProfileWriteError{UID: uid, Op: "propagate default times", Err: err})
		return PropagationResult{Date: today, Err: ce}
	}

	c.metrics.Inc(MetricPropagationSuccess)
	c.metrics.Add(MetricSchedulesUpdated, uint64(n))
	c.logger.Info("default times propagated",
		slog.String("uid", uid),
		slog.String("from", today),
		slog.Int("updated", n),
	)

	if err := c.markDefaultsInitialized(c.ctx, uid); err != nil && !errors.Is(err, ErrDocumentNotFound) {
		ce := c.fail(c.ctx, opPropagateDefaults, &ProfileWriteError{UID: uid, Op: "mark defaults initialized", Err: err})
		return PropagationResult{Date: today, Updated: n, Err: ce}
	}
	c.emitAudit(c.ctx, opPropagateDefaults, uid, true, nil)
	return PropagationResult{Date: today, Updated: n}
}
