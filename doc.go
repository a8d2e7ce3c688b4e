// Package goSession keeps a signed-in user's identity and profile in sync with
// an external identity provider and a remote profile document store.
//
// A [Controller] is the single owner of the process-wide [Session]: who is
// signed in, their mirrored [UserProfile], the last classified error and the
// default wake/sleep times. All state changes run on one event-loop goroutine;
// readers observe immutable snapshots through [Controller.Snapshot] and
// [Controller.Watch].
//
// # Architecture
//
//	CredentialGateway ──auth-state──▶ Controller event loop ──▶ Session snapshots
//	                                       │          ▲
//	                                       ▼          │
//	                                  ProfileStore ───┘ (document subscription)
//
// Sensitive mutations (password change, account deletion) go through the
// controller's [ReauthFlow]. [Controller.SetDefaultTimes] persists new default
// times locally and rewrites every schedule dated today or later.
//
// # Implementations
//
//   - provider: embedded identity provider on Redis (Argon2id, signed tokens)
//   - kratos: Ory Kratos native flows
//   - profile: Redis document store with Lua conditional writes
//   - prefs: SQLite preference store
//
// # Usage
//
//	ctrl, err := goSession.New().
//		WithGateway(gw).
//		WithProfileStore(profile.NewStore(rdb, "app")).
//		WithPreferenceStore(prefStore).
//		Build()
//	if err != nil { ... }
//	defer ctrl.Close()
//	if err := ctrl.Start(ctx); err != nil { ... }
//	for s := range ctrl.Watch(ctx) { render(s) }
package goSession
