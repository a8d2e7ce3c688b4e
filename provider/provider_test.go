package provider

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/password"
	"github.com/MrEthical07/goSession/token"
	"github.com/alicebob/miniredis/v2"
	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

const testIssuer = "https://accounts.example"

type captureMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func newCaptureMailer() *captureMailer {
	return &captureMailer{codes: make(map[string]string)}
}

func (m *captureMailer) SendPasswordReset(_ context.Context, email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes["reset:"+email] = code
	return nil
}

func (m *captureMailer) SendEmailVerification(_ context.Context, email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes["verify:"+email] = code
	return nil
}

func (m *captureMailer) code(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[key]
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	mr        *miniredis.Miniredis
	rdb       *redis.Client
	p         *Provider
	mailer    *captureMailer
	clock     *clock
	issuerKey ed25519.PrivateKey
}

func testProviderConfig(t *testing.T, fedPub ed25519.PublicKey, clk *clock) Config {
	t.Helper()
	cfg := DefaultConfig(token.Config{
		TTL:           time.Hour,
		SigningMethod: token.MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "gosession-test",
	})
	cfg.RedisPrefix = "t"
	cfg.Password = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
		MinLength:   6,
	}
	cfg.Federated = map[string]token.Config{
		"example.com": {PublicKey: fedPub, Issuer: testIssuer, Audience: "habit-app"},
	}
	cfg.SignInThrottle = Throttle{Max: 3, Window: time.Minute}
	cfg.Now = clk.Now
	return cfg
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	clk := &clock{now: time.Now()}
	mailer := newCaptureMailer()
	p, err := New(rdb, testProviderConfig(t, pub, clk), WithMailer(mailer))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(p.Close)
	return &fixture{mr: mr, rdb: rdb, p: p, mailer: mailer, clock: clk, issuerKey: priv}
}

func (f *fixture) idToken(t *testing.T, subject, email string, verified bool, nonce string) string {
	t.Helper()
	claims := token.Claims{
		Email:         email,
		EmailVerified: verified,
		Nonce:         nonce,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    testIssuer,
			Audience:  gjwt.ClaimStrings{"habit-app"},
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	raw, err := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims).SignedString(f.issuerKey)
	if err != nil {
		t.Fatalf("sign id token: %v", err)
	}
	return raw
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var perr *goSession.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected provider error %q, got %v", code, err)
	}
	if perr.Code != code {
		t.Fatalf("expected code %q, got %q (%v)", code, perr.Code, err)
	}
}

func TestCreateUserAndSignIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.p.CreateUser(ctx, " Ana@Example.com ", "hunter22")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if id.Email != "ana@example.com" || id.UID == "" || id.Provider != goSession.ProviderPassword || id.Token == "" {
		t.Fatalf("unexpected identity %+v", id)
	}
	if cur := f.p.Current(); cur == nil || cur.UID != id.UID {
		t.Fatalf("expected current identity, got %+v", cur)
	}

	_, err = f.p.CreateUser(ctx, "ana@example.com", "hunter22")
	requireCode(t, err, goSession.CodeEmailAlreadyInUse)
	_, err = f.p.CreateUser(ctx, "not-an-email", "hunter22")
	requireCode(t, err, goSession.CodeInvalidEmail)
	_, err = f.p.CreateUser(ctx, "bo@example.com", "123")
	requireCode(t, err, goSession.CodeWeakPassword)

	if err := f.p.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	if f.p.Current() != nil {
		t.Fatal("expected no current identity after sign-out")
	}

	again, err := f.p.SignIn(ctx, "ana@example.com", "hunter22")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if again.UID != id.UID {
		t.Fatalf("expected uid %q, got %q", id.UID, again.UID)
	}
	_, err = f.p.SignIn(ctx, "ghost@example.com", "hunter22")
	requireCode(t, err, goSession.CodeUserNotFound)
}

func TestWrongPasswordIsThrottled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.p.CreateUser(ctx, "ana@example.com", "hunter22"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		_, err := f.p.SignIn(ctx, "ana@example.com", "wrong-pass")
		requireCode(t, err, goSession.CodeWrongPassword)
		if ce := goSession.Classify(err); ce.Kind != goSession.KindWrongCredentials {
			t.Fatalf("expected wrong credentials, got %v", ce.Kind)
		}
	}
	_, err := f.p.SignIn(ctx, "ana@example.com", "hunter22")
	requireCode(t, err, goSession.CodeTooManyRequests)

	f.mr.FastForward(2 * time.Minute)
	if _, err := f.p.SignIn(ctx, "ana@example.com", "hunter22"); err != nil {
		t.Fatalf("SignIn after window failed: %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.p.CreateUser(ctx, "ana@example.com", "hunter22"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	requireCode(t, f.p.SendPasswordReset(ctx, "ghost@example.com"), goSession.CodeUserNotFound)
	if err := f.p.SendPasswordReset(ctx, "ana@example.com"); err != nil {
		t.Fatalf("SendPasswordReset failed: %v", err)
	}
	code := f.mailer.code("reset:ana@example.com")
	if len(code) != 6 {
		t.Fatalf("expected 6 digit code, got %q", code)
	}

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	requireCode(t, f.p.ConfirmPasswordReset(ctx, "ana@example.com", wrong, "brand-new"), CodeInvalidActionCode)
	if err := f.p.ConfirmPasswordReset(ctx, "ana@example.com", code, "brand-new"); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}
	requireCode(t, f.p.ConfirmPasswordReset(ctx, "ana@example.com", code, "another-one"), CodeExpiredActionCode)

	_, err := f.p.SignIn(ctx, "ana@example.com", "hunter22")
	requireCode(t, err, goSession.CodeWrongPassword)
	if _, err := f.p.SignIn(ctx, "ana@example.com", "brand-new"); err != nil {
		t.Fatalf("SignIn with new password failed: %v", err)
	}
}

func TestEmailVerificationFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	requireCode(t, f.p.SendEmailVerification(ctx), CodeNoCurrentUser)
	if _, err := f.p.CreateUser(ctx, "ana@example.com", "hunter22"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := f.p.SendEmailVerification(ctx); err != nil {
		t.Fatalf("SendEmailVerification failed: %v", err)
	}
	code := f.mailer.code("verify:ana@example.com")

	id, err := f.p.ConfirmEmailVerification(ctx, code)
	if err != nil {
		t.Fatalf("ConfirmEmailVerification failed: %v", err)
	}
	if !id.EmailVerified {
		t.Fatal("expected verified identity")
	}
	if err := f.p.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	id, err = f.p.SignIn(ctx, "ana@example.com", "hunter22")
	if err != nil || !id.EmailVerified {
		t.Fatalf("verification must persist, got %+v %v", id, err)
	}
}

func TestSensitiveOperationsNeedRecentLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.p.CreateUser(ctx, "ana@example.com", "hunter22"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := f.p.UpdatePassword(ctx, "fresh-pass"); err != nil {
		t.Fatalf("UpdatePassword right after sign-in failed: %v", err)
	}

	f.clock.Advance(10 * time.Minute)
	requireCode(t, f.p.UpdatePassword(ctx, "other-pass"), goSession.CodeRequiresRecentLogin)
	requireCode(t, f.p.DeleteCurrentIdentity(ctx), goSession.CodeRequiresRecentLogin)

	requireCode(t, f.p.Reauthenticate(ctx, "hunter22"), goSession.CodeWrongPassword)
	if err := f.p.Reauthenticate(ctx, "fresh-pass"); err != nil {
		t.Fatalf("Reauthenticate failed: %v", err)
	}
	requireCode(t, f.p.UpdatePassword(ctx, "123"), goSession.CodeWeakPassword)
	if err := f.p.UpdatePassword(ctx, "other-pass"); err != nil {
		t.Fatalf("UpdatePassword after reauth failed: %v", err)
	}
}

func TestDeleteCurrentIdentity(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := f.p.SubscribeAuthState(ctx)
	if err != nil {
		t.Fatalf("SubscribeAuthState failed: %v", err)
	}
	if first := <-events; first != nil {
		t.Fatalf("expected signed-out initial state, got %+v", first)
	}

	id, err := f.p.CreateUser(ctx, "ana@example.com", "hunter22")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if got := <-events; got == nil || got.UID != id.UID {
		t.Fatalf("expected sign-in event, got %+v", got)
	}

	if err := f.p.DeleteCurrentIdentity(ctx); err != nil {
		t.Fatalf("DeleteCurrentIdentity failed: %v", err)
	}
	if got := <-events; got != nil {
		t.Fatalf("expected signed-out event, got %+v", got)
	}
	if f.mr.Exists("t:account:"+id.UID) || f.mr.Exists("t:email:ana@example.com") {
		t.Fatal("expected account keys removed")
	}
	_, err = f.p.SignIn(ctx, "ana@example.com", "hunter22")
	requireCode(t, err, goSession.CodeUserNotFound)
	if _, err := f.p.CreateUser(ctx, "ana@example.com", "hunter22"); err != nil {
		t.Fatalf("email must be reusable after deletion: %v", err)
	}
}

func TestSignInWithCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.p.SignInWithCredential(ctx, goSession.FederatedCredential{Provider: "nowhere.test", IDToken: "x"})
	requireCode(t, err, CodeUnsupportedProvider)
	_, err = f.p.SignInWithCredential(ctx, goSession.FederatedCredential{Provider: "example.com", IDToken: "garbage"})
	requireCode(t, err, goSession.CodeInvalidCredential)

	raw := f.idToken(t, "sub-1", "grace@example.com", true, "n-1")
	_, err = f.p.SignInWithCredential(ctx, goSession.FederatedCredential{Provider: "example.com", IDToken: raw, Nonce: "n-2"})
	requireCode(t, err, goSession.CodeInvalidCredential)

	first, err := f.p.SignInWithCredential(ctx, goSession.FederatedCredential{Provider: "example.com", IDToken: raw, Nonce: "n-1"})
	if err != nil {
		t.Fatalf("SignInWithCredential failed: %v", err)
	}
	if first.Provider != "example.com" || !first.EmailVerified || first.Email != "grace@example.com" {
		t.Fatalf("unexpected identity %+v", first)
	}
	second, err := f.p.SignInWithCredential(ctx, goSession.FederatedCredential{Provider: "example.com", IDToken: raw})
	if err != nil || second.UID != first.UID {
		t.Fatalf("expected the linked account, got %+v %v", second, err)
	}
	requireCode(t, f.p.Reauthenticate(ctx, "anything"), goSession.CodeInvalidCredential)
}

func TestSignInWithCredentialLinksVerifiedEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pw, err := f.p.CreateUser(ctx, "ana@example.com", "hunter22")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	unverified := f.idToken(t, "sub-a", "ana@example.com", false, "")
	_, err = f.p.SignInWithCredential(ctx, goSession.FederatedCredential{Provider: "example.com", IDToken: unverified})
	requireCode(t, err, goSession.CodeEmailAlreadyInUse)

	verified := f.idToken(t, "sub-a", "ana@example.com", true, "")
	id, err := f.p.SignInWithCredential(ctx, goSession.FederatedCredential{Provider: "example.com", IDToken: verified})
	if err != nil {
		t.Fatalf("SignInWithCredential failed: %v", err)
	}
	if id.UID != pw.UID {
		t.Fatalf("expected link to %q, got %q", pw.UID, id.UID)
	}
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.p.CreateUser(ctx, "ana@example.com", "hunter22")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := f.p.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}

	restored, err := f.p.Restore(ctx, id.Token)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if restored.UID != id.UID {
		t.Fatalf("expected uid %q, got %q", id.UID, restored.UID)
	}
	requireCode(t, f.p.UpdatePassword(ctx, "new-pass-1"), goSession.CodeRequiresRecentLogin)

	_, err = f.p.Restore(ctx, id.Token+"x")
	requireCode(t, err, goSession.CodeInvalidCredential)
}

func TestRedisFailureIsNetworkError(t *testing.T) {
	f := newFixture(t)
	f.mr.SetError("LOADING server is loading")

	_, err := f.p.CreateUser(context.Background(), "ana@example.com", "hunter22")
	requireCode(t, err, goSession.CodeNetworkRequestFailed)
	if ce := goSession.Classify(err); ce.Kind != goSession.KindNetworkUnreachable {
		t.Fatalf("expected network unreachable, got %v", ce.Kind)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig(token.Config{TTL: time.Hour, SigningMethod: token.MethodHS256, PrivateKey: []byte("k")})
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := cfg
	bad.CodeDigits = 4
	if bad.Validate() == nil {
		t.Fatal("expected CodeDigits error")
	}
	bad = cfg
	bad.Session.TTL = 0
	if bad.Validate() == nil {
		t.Fatal("expected Session TTL error")
	}
	if _, err := New(nil, cfg); err == nil {
		t.Fatal("expected nil redis error")
	}
}
