package goSession

import (
	"context"
	"time"

	"github.com/MrEthical07/goSession/daytime"
	"github.com/MrEthical07/goSession/profile"
)

// TimeOfDay is a wall-clock time with minute precision.
type TimeOfDay = daytime.TimeOfDay

// DaySchedule is the planned wake and sleep time for one date.
type DaySchedule = profile.DaySchedule

// DocumentFields is a flat profile document.
type DocumentFields = profile.Fields

// DocumentSnapshot is one read of a profile document.
type DocumentSnapshot = profile.Snapshot

// ProviderPassword is the Identity.Provider value for email/password accounts.
const ProviderPassword = "password"

// Identity is the signed-in principal as reported by the credential gateway.
type Identity struct {
	UID           string
	Email         string
	EmailVerified bool
	Provider      string
	// Token is the opaque provider session token. It is never logged.
	Token string
}

func (i *Identity) clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	return &out
}

// FederatedCredential is an ID token obtained from a federated sign-in
// provider.
type FederatedCredential struct {
	Provider string
	IDToken  string
	Nonce    string
}

// UserProfile is the decoded profile document.
type UserProfile struct {
	Email               string
	DisplayName         string
	CreatedAt           time.Time
	TotalPoints         int64
	ActivitySeconds     int64
	ActivitySessions    int64
	DefaultsInitialized bool
}

func (p *UserProfile) clone() *UserProfile {
	if p == nil {
		return nil
	}
	out := *p
	return &out
}

// Session is an immutable snapshot of the controller state.
type Session struct {
	Identity         *Identity
	Profile          *UserProfile
	LastError        *ClassifiedError
	DefaultWakeTime  TimeOfDay
	DefaultSleepTime TimeOfDay
}

// SignedIn reports whether an identity is present.
func (s Session) SignedIn() bool {
	return s.Identity != nil
}

// CredentialGateway is the external identity provider. Failures should be
// reported as *ProviderError so Classify can map them.
type CredentialGateway interface {
	SignIn(ctx context.Context, email, password string) (*Identity, error)
	CreateUser(ctx context.Context, email, password string) (*Identity, error)
	SignInWithCredential(ctx context.Context, cred FederatedCredential) (*Identity, error)
	SignOut(ctx context.Context) error
	SendPasswordReset(ctx context.Context, email string) error
	SendEmailVerification(ctx context.Context) error
	Reauthenticate(ctx context.Context, currentPassword string) error
	UpdatePassword(ctx context.Context, newPassword string) error
	DeleteCurrentIdentity(ctx context.Context) error
	// SubscribeAuthState streams the current identity (nil when signed out)
	// followed by every change, in provider order, until ctx is done.
	SubscribeAuthState(ctx context.Context) (<-chan *Identity, error)
}

// ProfileStore is the remote document store holding profile documents and
// day schedules. profile.Store implements it.
type ProfileStore interface {
	GetDocument(ctx context.Context, uid string) (DocumentSnapshot, error)
	SetDocument(ctx context.Context, uid string, fields DocumentFields) error
	CreateDocumentIfAbsent(ctx context.Context, uid string, fields DocumentFields) (bool, error)
	UpdateDocument(ctx context.Context, uid string, fields DocumentFields) error
	IncrementFields(ctx context.Context, uid string, deltas map[string]int64) error
	DeleteDocument(ctx context.Context, uid string) error
	SubscribeDocument(ctx context.Context, uid string) (<-chan DocumentSnapshot, error)
	BatchUpdateSchedules(ctx context.Context, uid, fromDate string, wake, sleep TimeOfDay) (int, error)
}

// PreferenceStore persists the default wake and sleep times on the device.
// prefs.Store implements it.
type PreferenceStore interface {
	LoadDefaultTimes(ctx context.Context) (wake, sleep TimeOfDay, ok bool, err error)
	SaveDefaultTimes(ctx context.Context, wake, sleep TimeOfDay) error
}
