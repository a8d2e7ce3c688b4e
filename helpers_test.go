package goSession

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/internal/authstate"
	"github.com/MrEthical07/goSession/profile"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func newTestProfileStore(t *testing.T) *profile.Store {
	t.Helper()
	_, rdb := newTestRedis(t)
	return profile.NewStore(rdb, "test")
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func newTestController(t *testing.T, gw CredentialGateway, store ProfileStore, cfg Config, prefs PreferenceStore) *Controller {
	t.Helper()
	b := New().WithConfig(cfg).WithGateway(gw).WithProfileStore(store)
	if prefs != nil {
		b = b.WithPreferenceStore(prefs)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForProfile(t *testing.T, c *Controller, cond func(*UserProfile) bool) UserProfile {
	t.Helper()
	var got UserProfile
	waitFor(t, "profile", func() bool {
		p := c.Snapshot().Profile
		if p == nil || !cond(p) {
			return false
		}
		got = *p
		return true
	})
	return got
}

func anyProfile(*UserProfile) bool { return true }

// fakeGateway is an in-memory credential gateway.
type fakeGateway struct {
	mu       sync.Mutex
	accounts map[string]string
	uids     map[string]string
	current  *Identity
	hub      *authstate.Hub[*Identity]

	signInErr error
	signOutErr error
	resetErr   error
	verifyErr  error
	reauthErr  error
	updateErr  error
	deleteErr  error

	reauthGate  chan struct{}
	reauthEnter chan struct{}

	reauthCalls  int
	updateCalls  int
	deleteCalls  int
	lastPassword string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		accounts: make(map[string]string),
		uids:     make(map[string]string),
		hub:      authstate.NewHub[*Identity](nil),
	}
}

func (g *fakeGateway) addAccount(email, password string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	uid := "uid-" + strings.SplitN(email, "@", 2)[0]
	g.accounts[email] = password
	g.uids[email] = uid
	return uid
}

func (g *fakeGateway) signInLocked(email string) *Identity {
	id := &Identity{UID: g.uids[email], Email: email, Provider: ProviderPassword, Token: "tok-" + g.uids[email]}
	g.current = id
	g.hub.Publish(id.clone())
	return id.clone()
}

func (g *fakeGateway) SignIn(_ context.Context, email, password string) (*Identity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.signInErr != nil {
		return nil, g.signInErr
	}
	want, ok := g.accounts[email]
	if !ok {
		return nil, NewProviderError(CodeUserNotFound, "There is no user record corresponding to this identifier.")
	}
	if want != password {
		return nil, NewProviderError(CodeWrongPassword, "The password is invalid.")
	}
	return g.signInLocked(email), nil
}

func (g *fakeGateway) CreateUser(_ context.Context, email, password string) (*Identity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !strings.Contains(email, "@") {
		return nil, NewProviderError(CodeInvalidEmail, "The email address is badly formatted.")
	}
	if _, ok := g.accounts[email]; ok {
		return nil, NewProviderError(CodeEmailAlreadyInUse, "The email address is already in use.")
	}
	if len(password) < 6 {
		return nil, NewProviderError(CodeWeakPassword, "Password should be at least 6 characters.")
	}
	g.accounts[email] = password
	g.uids[email] = "uid-" + strings.SplitN(email, "@", 2)[0]
	return g.signInLocked(email), nil
}

func (g *fakeGateway) SignInWithCredential(_ context.Context, cred FederatedCredential) (*Identity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cred.IDToken == "" {
		return nil, NewProviderError(CodeInvalidCredential, "The supplied credential is malformed.")
	}
	id := &Identity{UID: "fed-" + cred.IDToken, Email: cred.IDToken + "@federated.test", EmailVerified: true, Provider: cred.Provider}
	g.current = id
	g.hub.Publish(id.clone())
	return id.clone(), nil
}

func (g *fakeGateway) SignOut(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.signOutErr != nil {
		return g.signOutErr
	}
	g.current = nil
	g.hub.Publish(nil)
	return nil
}

func (g *fakeGateway) SendPasswordReset(context.Context, string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resetErr
}

func (g *fakeGateway) SendEmailVerification(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verifyErr
}

func (g *fakeGateway) Reauthenticate(ctx context.Context, currentPassword string) error {
	g.mu.Lock()
	g.reauthCalls++
	gate, enter := g.reauthGate, g.reauthEnter
	g.mu.Unlock()

	if enter != nil {
		enter <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reauthErr != nil {
		return g.reauthErr
	}
	if g.current == nil {
		return NewProviderError(CodeUserNotFound, "no current user")
	}
	if g.accounts[g.current.Email] != currentPassword {
		return NewProviderError(CodeWrongPassword, "The password is invalid.")
	}
	return nil
}

func (g *fakeGateway) UpdatePassword(_ context.Context, newPassword string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updateCalls++
	if g.updateErr != nil {
		return g.updateErr
	}
	g.lastPassword = newPassword
	if g.current != nil {
		g.accounts[g.current.Email] = newPassword
	}
	return nil
}

func (g *fakeGateway) DeleteCurrentIdentity(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleteCalls++
	if g.deleteErr != nil {
		return g.deleteErr
	}
	if g.current != nil {
		delete(g.accounts, g.current.Email)
		delete(g.uids, g.current.Email)
	}
	g.current = nil
	g.hub.Publish(nil)
	return nil
}

func (g *fakeGateway) SubscribeAuthState(ctx context.Context) (<-chan *Identity, error) {
	return g.hub.Subscribe(ctx), nil
}

func (g *fakeGateway) setErr(dst *error, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	*dst = err
}

// trackingStore wraps a ProfileStore, counts live document subscriptions and
// lets tests block reads and schedule batches.
type trackingStore struct {
	ProfileStore

	mu       sync.Mutex
	subs     []context.Context
	maxLive  int
	getGates map[string]chan struct{}
	getEnter chan string

	batchGate chan struct{}
	batchErr  error
	deleteErr error
}

func newTrackingStore(inner ProfileStore) *trackingStore {
	return &trackingStore{ProfileStore: inner, getGates: make(map[string]chan struct{})}
}

func (s *trackingStore) liveSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := 0
	for _, ctx := range s.subs {
		if ctx.Err() == nil {
			live++
		}
	}
	return live
}

func (s *trackingStore) SubscribeDocument(ctx context.Context, uid string) (<-chan DocumentSnapshot, error) {
	s.mu.Lock()
	live := 1
	for _, c := range s.subs {
		if c.Err() == nil {
			live++
		}
	}
	if live > s.maxLive {
		s.maxLive = live
	}
	s.subs = append(s.subs, ctx)
	s.mu.Unlock()
	return s.ProfileStore.SubscribeDocument(ctx, uid)
}

func (s *trackingStore) blockGet(uid string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	s.getGates[uid] = gate
	return gate
}

func (s *trackingStore) GetDocument(ctx context.Context, uid string) (DocumentSnapshot, error) {
	s.mu.Lock()
	gate := s.getGates[uid]
	enter := s.getEnter
	s.mu.Unlock()
	if gate != nil {
		if enter != nil {
			enter <- uid
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return DocumentSnapshot{}, ctx.Err()
		}
	}
	return s.ProfileStore.GetDocument(ctx, uid)
}

func (s *trackingStore) BatchUpdateSchedules(ctx context.Context, uid, fromDate string, wake, sleep TimeOfDay) (int, error) {
	s.mu.Lock()
	gate, err := s.batchGate, s.batchErr
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err != nil {
		return 0, err
	}
	return s.ProfileStore.BatchUpdateSchedules(ctx, uid, fromDate, wake, sleep)
}

func (s *trackingStore) DeleteDocument(ctx context.Context, uid string) error {
	s.mu.Lock()
	err := s.deleteErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.ProfileStore.DeleteDocument(ctx, uid)
}

// netErr is a transport failure as seen by gateways.
type netErr struct{}

func (netErr) Error() string   { return "dial tcp 10.0.0.1:443: i/o timeout" }
func (netErr) Timeout() bool   { return true }
func (netErr) Temporary() bool { return true }
