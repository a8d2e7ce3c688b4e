package goSession

import (
	"context"
	"log/slog"
)

func (c *Controller) changePassword(ctx context.Context, newPassword string) error {
	uid := c.currentUID()
	if uid == "" {
		return ErrNotSignedIn
	}
	if err := c.gateway.UpdatePassword(ctx, newPassword); err != nil {
		return c.fail(ctx, opPasswordChange, err)
	}
	c.metrics.Inc(MetricPasswordChanged)
	c.logger.Info("password changed", slog.String("uid", uid))
	c.emitAudit(ctx, opPasswordChange, uid, true, nil)
	return nil
}

// deleteAccount removes the profile document and the identity. The profile
// subscription is closed first so the deletion is not reported as a missing
// profile. If identity deletion fails the identity stays signed in and its
// profile is verified again, so a retry starts from a consistent state.
func (c *Controller) deleteAccount(ctx context.Context) error {
	var id *Identity
	err := c.exec(context.WithoutCancel(ctx), func() {
		if c.state.Identity == nil {
			return
		}
		id = c.state.Identity.clone()
		c.detachProfile()
		c.suspendedUID = id.UID
	})
	if err != nil {
		return err
	}
	if id == nil {
		return ErrNotSignedIn
	}

	if c.cfg.Account.DeleteIdentityFirst {
		if err := c.gateway.DeleteCurrentIdentity(ctx); err != nil {
			return c.abortDelete(ctx, id.UID, err)
		}
		c.deleteProfileBestEffort(ctx, id.UID)
	} else {
		c.deleteProfileBestEffort(ctx, id.UID)
		if err := c.gateway.DeleteCurrentIdentity(ctx); err != nil {
			return c.abortDelete(ctx, id.UID, err)
		}
	}

	if err := c.exec(context.WithoutCancel(ctx), func() { c.applyIdentity(nil) }); err != nil {
		return err
	}
	c.metrics.Inc(MetricAccountDeleted)
	c.logger.Info("account deleted", slog.String("uid", id.UID))
	c.emitAudit(ctx, opAccountDelete, id.UID, true, nil)
	return nil
}

func (c *Controller) deleteProfileBestEffort(ctx context.Context, uid string) {
	if err := c.store.DeleteDocument(ctx, uid); err != nil {
		c.logger.Warn("profile delete failed, continuing with identity delete",
			slog.String("uid", uid),
			slog.Any("error", err),
		)
	}
}

func (c *Controller) abortDelete(ctx context.Context, uid string, err error) error {
	c.metrics.Inc(MetricAccountDeleteFailure)
	ce := c.fail(ctx, opAccountDelete, err)
	c.reclaim(uid)
	return ce
}
