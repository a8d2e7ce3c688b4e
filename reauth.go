package goSession

import (
	"context"
	"log/slog"
	"sync"
)

// ReauthState is the resting state of a ReauthFlow.
type ReauthState int

const (
	ReauthIdle ReauthState = iota
	ReauthAwaitingCredential
)

func (s ReauthState) String() string {
	if s == ReauthAwaitingCredential {
		return "awaiting_credential"
	}
	return "idle"
}

// ReauthOutcome is the result of one Submit or Cancel.
type ReauthOutcome int

const (
	// ReauthNone means nothing was pending.
	ReauthNone ReauthOutcome = iota
	// ReauthConfirmed means the credential was accepted and the intent ran.
	ReauthConfirmed
	// ReauthCancelled means the intent was discarded without running.
	ReauthCancelled
	// ReauthFailed means the credential was rejected or could not be
	// checked. The flow keeps awaiting a credential.
	ReauthFailed
)

func (o ReauthOutcome) String() string {
	switch o {
	case ReauthConfirmed:
		return "confirmed"
	case ReauthCancelled:
		return "cancelled"
	case ReauthFailed:
		return "failed"
	default:
		return "none"
	}
}

// Intent is the sensitive mutation a ReauthFlow performs once confirmed.
type Intent interface {
	intentName() string
}

// IntentChangePassword replaces the signed-in identity's password.
type IntentChangePassword struct {
	NewPassword string
}

func (IntentChangePassword) intentName() string { return opPasswordChange }

// IntentDeleteAccount deletes the profile document and the identity.
type IntentDeleteAccount struct{}

func (IntentDeleteAccount) intentName() string { return opAccountDelete }

// ReauthFlow gates a sensitive mutation behind a fresh check of the current
// password: idle → awaitingCredential → confirmed | cancelled | failed.
// The submitted password is only passed to the gateway and never stored.
// A pending intent belongs to the identity that began it and is discarded
// when that identity signs out or is replaced.
type ReauthFlow struct {
	c *Controller

	mu         sync.Mutex
	state      ReauthState
	intent     Intent
	uid        string
	attempting bool
	epoch      uint64
}

// State returns the current state.
func (f *ReauthFlow) State() ReauthState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Begin stores intent and waits for the current password. It requires a
// signed-in identity and an idle flow.
func (f *ReauthFlow) Begin(intent Intent) error {
	if err := f.c.alive(); err != nil {
		return err
	}
	switch v := intent.(type) {
	case IntentChangePassword:
		if v.NewPassword == "" {
			return ErrInvalidIntent
		}
	case IntentDeleteAccount:
	default:
		return ErrInvalidIntent
	}
	uid := f.c.currentUID()
	if uid == "" {
		return ErrNotSignedIn
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != ReauthIdle {
		return ErrReauthNotIdle
	}
	f.state = ReauthAwaitingCredential
	f.intent = intent
	f.uid = uid
	f.epoch++
	return nil
}

// Submit checks currentPassword with the gateway. On acceptance the flow
// returns to idle and the pending intent runs exactly once; its error, if
// any, is returned with ReauthConfirmed. On rejection the classified error is
// stored as LastError and returned with ReauthFailed, and the flow keeps
// awaiting a credential. If Cancel wins the race with an in-flight check the
// outcome is ReauthCancelled and the intent never runs. The same holds when
// the identity that called Begin is no longer the signed-in one.
func (f *ReauthFlow) Submit(ctx context.Context, currentPassword string) (ReauthOutcome, error) {
	if err := f.c.alive(); err != nil {
		return ReauthNone, err
	}

	f.mu.Lock()
	if f.state != ReauthAwaitingCredential {
		f.mu.Unlock()
		return ReauthNone, ErrReauthNotAwaiting
	}
	if f.attempting {
		f.mu.Unlock()
		return ReauthNone, ErrReauthInProgress
	}
	if f.uid != f.c.currentUID() {
		f.discard()
		f.mu.Unlock()
		return ReauthCancelled, nil
	}
	f.attempting = true
	epoch := f.epoch
	f.mu.Unlock()

	err := f.c.gateway.Reauthenticate(ctx, currentPassword)

	f.mu.Lock()
	f.attempting = false
	if f.epoch != epoch || f.state != ReauthAwaitingCredential {
		f.mu.Unlock()
		return ReauthCancelled, nil
	}
	if err != nil {
		f.mu.Unlock()
		f.c.metrics.Inc(MetricReauthFailed)
		return ReauthFailed, f.c.fail(ctx, opReauthenticate, err)
	}
	intent := f.intent
	f.state = ReauthIdle
	f.intent = nil
	f.uid = ""
	f.epoch++
	f.mu.Unlock()

	f.c.metrics.Inc(MetricReauthConfirmed)
	f.c.emitAudit(ctx, opReauthenticate, "", true, nil)
	return ReauthConfirmed, f.c.runIntent(ctx, intent)
}

// Cancel discards the pending intent and returns the flow to idle.
func (f *ReauthFlow) Cancel() ReauthOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != ReauthAwaitingCredential {
		return ReauthNone
	}
	f.discard()
	return ReauthCancelled
}

// identityChanged drops a pending intent that belongs to an identity other
// than uid. An empty uid means nobody is signed in. Runs on the loop.
func (f *ReauthFlow) identityChanged(uid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != ReauthAwaitingCredential || f.uid == uid {
		return
	}
	f.c.logger.Info("pending reauthentication discarded",
		slog.String("uid", f.uid),
		slog.String("intent", f.intent.intentName()),
	)
	f.discard()
}

// discard returns the flow to idle without running the intent. The caller
// holds f.mu.
func (f *ReauthFlow) discard() {
	f.state = ReauthIdle
	f.intent = nil
	f.uid = ""
	f.epoch++
	f.c.metrics.Inc(MetricReauthCancelled)
}

func (c *Controller) runIntent(ctx context.Context, intent Intent) error {
	switch v := intent.(type) {
	case IntentChangePassword:
		return c.changePassword(ctx, v.NewPassword)
	case IntentDeleteAccount:
		return c.deleteAccount(ctx)
	default:
		return ErrInvalidIntent
	}
}
