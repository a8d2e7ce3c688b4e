package goSession

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// Operation names used in logs and audit events.
const (
	opSubscribe         = "subscribe_auth_state"
	opSignIn            = "sign_in"
	opCreateAccount     = "create_account"
	opSignInFederated   = "sign_in_federated"
	opSignOut           = "sign_out"
	opPasswordReset     = "password_reset_request"
	opVerificationEmail = "verification_email"
	opProfileCreate     = "profile_create"
	opProfileVerify     = "profile_verify"
	opProfileSubscribe  = "profile_subscribe"
	opProfileDecode     = "profile_decode"
	opProfileUpdate     = "profile_update"
	opReauthenticate    = "reauthenticate"
	opPasswordChange    = "password_change"
	opAccountDelete     = "account_delete"
	opSaveDefaults      = "save_default_times"
	opPropagateDefaults = "propagate_default_times"
)

var errNoIdentity = errors.New("credential gateway returned no identity")

// SignIn signs in with email and password. On failure the classified error
// is stored as LastError and returned. On success the identity is set, the
// profile document is created if absent and a profile subscription is
// attached.
func (c *Controller) SignIn(ctx context.Context, email, password string) error {
	if err := c.alive(); err != nil {
		return err
	}
	id, err := c.gateway.SignIn(ctx, strings.TrimSpace(email), password)
	if err != nil {
		c.metrics.Inc(MetricSignInFailure)
		return c.fail(ctx, opSignIn, err)
	}
	if err := c.adopt(ctx, opSignIn, id); err != nil {
		return err
	}
	c.metrics.Inc(MetricSignInSuccess)
	return nil
}

// CreateAccount registers a new email/password account and signs it in. The
// returned error is the completion signal callers use to gate post-signup
// work.
func (c *Controller) CreateAccount(ctx context.Context, email, password string) error {
	if err := c.alive(); err != nil {
		return err
	}
	id, err := c.gateway.CreateUser(ctx, strings.TrimSpace(email), password)
	if err != nil {
		c.metrics.Inc(MetricAccountCreateFailure)
		return c.fail(ctx, opCreateAccount, err)
	}
	if err := c.adopt(ctx, opCreateAccount, id); err != nil {
		return err
	}
	c.metrics.Inc(MetricAccountCreated)
	return nil
}

// SignInWithCredential signs in with a federated ID token.
func (c *Controller) SignInWithCredential(ctx context.Context, cred FederatedCredential) error {
	if err := c.alive(); err != nil {
		return err
	}
	id, err := c.gateway.SignInWithCredential(ctx, cred)
	if err != nil {
		c.metrics.Inc(MetricSignInFailure)
		return c.fail(ctx, opSignInFederated, err)
	}
	if err := c.adopt(ctx, opSignInFederated, id); err != nil {
		return err
	}
	c.metrics.Inc(MetricFederatedSignIn)
	return nil
}

// adopt installs id as the current identity and verifies its profile. A
// profile failure is reported through LastError only; the sign-in itself
// succeeded.
func (c *Controller) adopt(ctx context.Context, op string, id *Identity) error {
	if id == nil || id.UID == "" {
		return c.fail(ctx, op, errNoIdentity)
	}
	var (
		gen    uint64
		verify bool
	)
	if err := c.exec(context.WithoutCancel(ctx), func() { gen, verify = c.applyIdentity(id) }); err != nil {
		return err
	}
	if verify {
		c.verifyAndAttach(gen, id.clone())
	}
	c.logger.Info("signed in", slog.String("op", op), slog.String("uid", id.UID), slog.String("provider", id.Provider))
	c.emitAudit(ctx, op, id.UID, true, nil)
	return nil
}

// SignOut signs out at the gateway. On success identity and profile are
// cleared before SignOut returns. On failure LastError is set and the
// identity is kept.
func (c *Controller) SignOut(ctx context.Context) error {
	if err := c.alive(); err != nil {
		return err
	}
	uid := c.currentUID()
	if err := c.gateway.SignOut(ctx); err != nil {
		return c.fail(ctx, opSignOut, err)
	}
	if err := c.exec(context.WithoutCancel(ctx), func() { c.applyIdentity(nil) }); err != nil {
		return err
	}
	c.metrics.Inc(MetricSignOut)
	c.logger.Info("signed out", slog.String("uid", uid))
	c.emitAudit(ctx, opSignOut, uid, true, nil)
	return nil
}

// ResetPassword asks the gateway to send a password reset message.
func (c *Controller) ResetPassword(ctx context.Context, email string) error {
	if err := c.alive(); err != nil {
		return err
	}
	if err := c.gateway.SendPasswordReset(ctx, strings.TrimSpace(email)); err != nil {
		return c.fail(ctx, opPasswordReset, err)
	}
	c.metrics.Inc(MetricPasswordResetRequest)
	c.emitAudit(ctx, opPasswordReset, "", true, nil)
	return nil
}

// SendVerificationEmail asks the gateway to send an email verification
// message to the signed-in identity.
func (c *Controller) SendVerificationEmail(ctx context.Context) error {
	if err := c.alive(); err != nil {
		return err
	}
	uid := c.currentUID()
	if uid == "" {
		return ErrNotSignedIn
	}
	if err := c.gateway.SendEmailVerification(ctx); err != nil {
		return c.fail(ctx, opVerificationEmail, err)
	}
	c.metrics.Inc(MetricVerificationEmailSent)
	c.emitAudit(ctx, opVerificationEmail, uid, true, nil)
	return nil
}

func (c *Controller) currentUID() string {
	if id := c.Snapshot().Identity; id != nil {
		return id.UID
	}
	return ""
}
