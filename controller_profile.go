package goSession

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goSession/profile"
)

// UpdateDisplayName changes the signed-in user's display name. The mirrored
// profile updates when the store delivers the change.
func (c *Controller) UpdateDisplayName(ctx context.Context, name string) error {
	if err := c.alive(); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyDisplayName
	}
	uid := c.currentUID()
	if uid == "" {
		return ErrNotSignedIn
	}
	err := c.store.UpdateDocument(ctx, uid, DocumentFields{profile.FieldDisplayName: name})
	if err != nil {
		return c.fail(ctx, opProfileUpdate, &ProfileWriteError{UID: uid, Op: "update display name", Err: err})
	}
	c.emitAudit(ctx, opProfileUpdate, uid, true, nil)
	return nil
}

// RecordActivity adds one timed activity session of length d worth points
// to the signed-in user's counters, atomically.
func (c *Controller) RecordActivity(ctx context.Context, d time.Duration, points int64) error {
	if err := c.alive(); err != nil {
		return err
	}
	if d < 0 || points < 0 {
		return ErrInvalidActivity
	}
	uid := c.currentUID()
	if uid == "" {
		return ErrNotSignedIn
	}
	err := c.store.IncrementFields(ctx, uid, map[string]int64{
		profile.FieldActivitySeconds:  int64(d / time.Second),
		profile.FieldActivitySessions: 1,
		profile.FieldTotalPoints:      points,
	})
	if err != nil {
		return c.fail(ctx, opProfileUpdate, &ProfileWriteError{UID: uid, Op: "record activity", Err: err})
	}
	c.metrics.Add(MetricActivityPoints, uint64(points))
	return nil
}

func (c *Controller) markDefaultsInitialized(ctx context.Context, uid string) error {
	return c.store.UpdateDocument(ctx, uid, DocumentFields{
		profile.FieldDefaultsInitialized: strconv.FormatBool(true),
	})
}
