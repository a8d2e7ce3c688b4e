package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"sync"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/internal"
	"github.com/MrEthical07/goSession/internal/authstate"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/internal/stores"
	"github.com/MrEthical07/goSession/password"
	"github.com/MrEthical07/goSession/token"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Option customizes a Provider.
type Option func(*Provider)

// WithMailer sets where one-time codes are delivered.
func WithMailer(m Mailer) Option {
	return func(p *Provider) {
		if m != nil {
			p.mailer = m
		}
	}
}

// WithLogger sets the structured logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// Provider is a credential gateway backed by Redis.
type Provider struct {
	cfg        Config
	rdb        redis.UniversalClient
	hasher     *password.Hasher
	tokens     *token.Manager
	federated  map[string]*token.Manager
	challenges *stores.ChallengeStore
	signIns    *rate.Limiter
	emails     *rate.Limiter
	mailer     Mailer
	logger     *slog.Logger
	hub        *authstate.Hub[*goSession.Identity]

	mu      sync.Mutex
	current *goSession.Identity
	authAt  time.Time
}

var _ goSession.CredentialGateway = (*Provider)(nil)

// New validates cfg and returns a Provider with no signed-in identity.
func New(rdb redis.UniversalClient, cfg Config, opts ...Option) (*Provider, error) {
	if rdb == nil {
		return nil, errors.New("provider requires a redis client")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}
	tokens, err := token.NewManager(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("session tokens: %w", err)
	}
	if !tokens.CanIssue() {
		return nil, errors.New("session token config cannot issue tokens")
	}
	federated := make(map[string]*token.Manager, len(cfg.Federated))
	for name, fc := range cfg.Federated {
		m, err := token.NewManager(fc)
		if err != nil {
			return nil, fmt.Errorf("federated issuer %s: %w", name, err)
		}
		federated[name] = m
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := &Provider{
		cfg:        cfg,
		rdb:        rdb,
		hasher:     hasher,
		tokens:     tokens,
		federated:  federated,
		challenges: stores.NewChallengeStore(rdb, cfg.RedisPrefix),
		signIns:    rate.New(rdb, cfg.RedisPrefix, "signin", rate.Config(cfg.SignInThrottle)),
		emails:     rate.New(rdb, cfg.RedisPrefix, "email", rate.Config(cfg.EmailThrottle)),
		logger:     logger,
		hub:        authstate.NewHub[*goSession.Identity](nil),
	}
	p.mailer = LogMailer{Logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Close ends every auth-state subscription.
func (p *Provider) Close() {
	p.hub.Close()
}

// Current returns the signed-in identity or nil.
func (p *Provider) Current() *goSession.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneIdentity(p.current)
}

// SubscribeAuthState streams the current identity, then every change.
func (p *Provider) SubscribeAuthState(ctx context.Context) (<-chan *goSession.Identity, error) {
	return p.hub.Subscribe(ctx), nil
}

// CreateUser registers an email and password account and signs it in.
func (p *Provider) CreateUser(ctx context.Context, email, plaintext string) (*goSession.Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	hash, err := p.hasher.Hash(plaintext)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) {
			return nil, errWeakPassword
		}
		return nil, providerError(goSession.CodeInternal, err.Error())
	}

	a := &account{
		UID:          uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Provider:     goSession.ProviderPassword,
		CreatedAt:    p.cfg.now().Unix(),
	}
	ok, err := p.insertAccount(ctx, a)
	if err != nil {
		return nil, unavailable(err)
	}
	if !ok {
		return nil, errEmailInUse
	}
	p.logger.Info("account created", slog.String("uid", a.UID))
	return p.establish(a)
}

// SignIn checks email and password and makes the account current.
func (p *Provider) SignIn(ctx context.Context, email, plaintext string) (*goSession.Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := p.signIns.Check(ctx, email); err != nil {
		return nil, mapLimiterError(err)
	}

	a, err := p.accountByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if a.PasswordHash == "" {
		return nil, errWrongPassword
	}
	ok, err := p.hasher.Verify(plaintext, a.PasswordHash)
	if err != nil {
		return nil, providerError(goSession.CodeInternal, "stored credential is unreadable")
	}
	if !ok {
		if err := p.signIns.Hit(ctx, email); err != nil {
			return nil, mapLimiterError(err)
		}
		return nil, errWrongPassword
	}
	if err := p.signIns.Reset(ctx, email); err != nil {
		p.logger.Warn("sign-in throttle reset failed", slog.Any("error", err))
	}
	p.rehashIfNeeded(ctx, a, plaintext)
	return p.establish(a)
}

// SignInWithCredential verifies a federated ID token and signs in the
// account linked to its subject. An unknown subject is linked to the
// account with the same verified email, or gets a new account.
func (p *Provider) SignInWithCredential(ctx context.Context, cred goSession.FederatedCredential) (*goSession.Identity, error) {
	verifier, ok := p.federated[cred.Provider]
	if !ok {
		return nil, errNoSuchProvider
	}
	claims, err := verifier.Parse(cred.IDToken)
	if err != nil {
		return nil, errBadCredential
	}
	if cred.Nonce != "" && claims.Nonce != cred.Nonce {
		return nil, errBadCredential
	}

	uid, err := p.lookupUID(ctx, p.federatedKey(cred.Provider, claims.Subject))
	switch {
	case err == nil:
		a, err := p.loadAccount(ctx, uid)
		if err != nil {
			return nil, p.mapAccountError(err)
		}
		return p.establish(a)
	case !errors.Is(err, errAccountNotFound):
		return nil, unavailable(err)
	}

	email, err := normalizeEmail(claims.Email)
	if err != nil {
		return nil, errBadCredential
	}
	a, err := p.accountByEmail(ctx, email)
	switch {
	case err == nil:
		if !claims.EmailVerified {
			return nil, errEmailInUse
		}
	case errors.Is(err, errUserNotFound):
		a = &account{
			UID:           uuid.NewString(),
			Email:         email,
			EmailVerified: claims.EmailVerified,
			Provider:      cred.Provider,
			CreatedAt:     p.cfg.now().Unix(),
		}
		created, err := p.insertAccount(ctx, a)
		if err != nil {
			return nil, unavailable(err)
		}
		if !created {
			return nil, errEmailInUse
		}
	default:
		return nil, err
	}

	if err := p.linkFederated(ctx, a.UID, cred.Provider, claims.Subject); err != nil {
		return nil, unavailable(err)
	}
	p.logger.Info("federated identity linked",
		slog.String("uid", a.UID),
		slog.String("provider", cred.Provider),
	)
	return p.establish(a)
}

// Restore signs in from a token previously returned in Identity.Token.
func (p *Provider) Restore(ctx context.Context, raw string) (*goSession.Identity, error) {
	claims, err := p.tokens.Parse(raw)
	if err != nil {
		return nil, errBadCredential
	}
	a, err := p.loadAccount(ctx, claims.Subject)
	if err != nil {
		return nil, p.mapAccountError(err)
	}
	if a.Disabled {
		return nil, errUserDisabled
	}

	id := identityOf(a, raw)
	p.mu.Lock()
	p.current = id
	p.authAt = time.Time{}
	p.mu.Unlock()
	p.hub.Publish(cloneIdentity(id))
	return cloneIdentity(id), nil
}

// SignOut clears the current identity.
func (p *Provider) SignOut(context.Context) error {
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return nil
	}
	p.current = nil
	p.authAt = time.Time{}
	p.mu.Unlock()
	p.hub.Publish(nil)
	return nil
}

// SendPasswordReset mails a reset code to the account with email.
func (p *Provider) SendPasswordReset(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if err := p.emails.Hit(ctx, "reset:"+email); err != nil {
		return mapLimiterError(err)
	}
	a, err := p.accountByEmail(ctx, email)
	if err != nil {
		return err
	}
	code, err := p.saveChallenge(ctx, stores.PurposePasswordReset, a.UID)
	if err != nil {
		return err
	}
	if err := p.mailer.SendPasswordReset(ctx, a.Email, code); err != nil {
		return unavailable(err)
	}
	return nil
}

// ConfirmPasswordReset sets a new password using a code sent by
// SendPasswordReset.
func (p *Provider) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	a, err := p.accountByEmail(ctx, email)
	if err != nil {
		return err
	}
	hash, err := p.hasher.Hash(newPassword)
	if err != nil {
		return errWeakPassword
	}
	if _, err := p.challenges.Consume(ctx, stores.PurposePasswordReset, a.UID, internal.HashCode(code), p.cfg.MaxCodeAttempts); err != nil {
		return mapChallengeError(err)
	}
	if err := p.rdb.HSet(ctx, p.accountKey(a.UID), fieldPasswordHash, hash).Err(); err != nil {
		return unavailable(err)
	}
	if err := p.signIns.Reset(ctx, email); err != nil {
		p.logger.Warn("sign-in throttle reset failed", slog.Any("error", err))
	}
	p.logger.Info("password reset", slog.String("uid", a.UID))
	return nil
}

// SendEmailVerification mails a verification code to the current identity.
func (p *Provider) SendEmailVerification(ctx context.Context) error {
	cur := p.Current()
	if cur == nil {
		return errNoCurrentUser
	}
	if err := p.emails.Hit(ctx, "verify:"+cur.UID); err != nil {
		return mapLimiterError(err)
	}
	code, err := p.saveChallenge(ctx, stores.PurposeEmailVerification, cur.UID)
	if err != nil {
		return err
	}
	if err := p.mailer.SendEmailVerification(ctx, cur.Email, code); err != nil {
		return unavailable(err)
	}
	return nil
}

// ConfirmEmailVerification marks the current identity's email verified
// using a code sent by SendEmailVerification.
func (p *Provider) ConfirmEmailVerification(ctx context.Context, code string) (*goSession.Identity, error) {
	cur := p.Current()
	if cur == nil {
		return nil, errNoCurrentUser
	}
	if _, err := p.challenges.Consume(ctx, stores.PurposeEmailVerification, cur.UID, internal.HashCode(code), p.cfg.MaxCodeAttempts); err != nil {
		return nil, mapChallengeError(err)
	}
	if err := p.rdb.HSet(ctx, p.accountKey(cur.UID), fieldEmailVerified, strconv.FormatBool(true)).Err(); err != nil {
		return nil, unavailable(err)
	}
	a, err := p.loadAccount(ctx, cur.UID)
	if err != nil {
		return nil, p.mapAccountError(err)
	}
	return p.establish(a)
}

// Reauthenticate checks currentPassword against the signed-in account.
func (p *Provider) Reauthenticate(ctx context.Context, currentPassword string) error {
	cur := p.Current()
	if cur == nil {
		return errNoCurrentUser
	}
	if err := p.signIns.Check(ctx, cur.Email); err != nil {
		return mapLimiterError(err)
	}
	a, err := p.loadAccount(ctx, cur.UID)
	if err != nil {
		return p.mapAccountError(err)
	}
	if a.PasswordHash == "" {
		return errBadCredential
	}
	ok, err := p.hasher.Verify(currentPassword, a.PasswordHash)
	if err != nil {
		return providerError(goSession.CodeInternal, "stored credential is unreadable")
	}
	if !ok {
		if err := p.signIns.Hit(ctx, cur.Email); err != nil {
			return mapLimiterError(err)
		}
		return errWrongPassword
	}

	p.mu.Lock()
	if p.current != nil && p.current.UID == cur.UID {
		p.authAt = p.cfg.now()
	}
	p.mu.Unlock()
	return nil
}

// UpdatePassword replaces the signed-in account's password. It requires a
// recent sign-in.
func (p *Provider) UpdatePassword(ctx context.Context, newPassword string) error {
	cur, err := p.recentIdentity()
	if err != nil {
		return err
	}
	hash, err := p.hasher.Hash(newPassword)
	if err != nil {
		return errWeakPassword
	}
	n, err := p.rdb.Exists(ctx, p.accountKey(cur.UID)).Result()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return errUserNotFound
	}
	if err := p.rdb.HSet(ctx, p.accountKey(cur.UID), fieldPasswordHash, hash).Err(); err != nil {
		return unavailable(err)
	}
	p.logger.Info("password updated", slog.String("uid", cur.UID))
	return nil
}

// DeleteCurrentIdentity removes the signed-in account. It requires a recent
// sign-in.
func (p *Provider) DeleteCurrentIdentity(ctx context.Context) error {
	cur, err := p.recentIdentity()
	if err != nil {
		return err
	}
	a, err := p.loadAccount(ctx, cur.UID)
	if err != nil {
		return p.mapAccountError(err)
	}
	if err := p.removeAccount(ctx, a); err != nil {
		return unavailable(err)
	}
	p.logger.Info("account deleted", slog.String("uid", a.UID))

	p.mu.Lock()
	if p.current != nil && p.current.UID == a.UID {
		p.current = nil
		p.authAt = time.Time{}
	}
	p.mu.Unlock()
	p.hub.Publish(nil)
	return nil
}

// establish issues a session token for a, makes it the current identity
// and publishes it.
func (p *Provider) establish(a *account) (*goSession.Identity, error) {
	if a.Disabled {
		return nil, errUserDisabled
	}
	raw, err := p.tokens.Issue(a.UID, a.Email, a.EmailVerified)
	if err != nil {
		return nil, providerError(goSession.CodeInternal, "could not issue session token")
	}
	id := identityOf(a, raw)

	p.mu.Lock()
	p.current = id
	p.authAt = p.cfg.now()
	p.mu.Unlock()
	p.hub.Publish(cloneIdentity(id))
	return cloneIdentity(id), nil
}

func (p *Provider) recentIdentity() (*goSession.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, errNoCurrentUser
	}
	if p.authAt.IsZero() || p.cfg.now().Sub(p.authAt) > p.cfg.RecentLoginWindow {
		return nil, errRecentLogin
	}
	return cloneIdentity(p.current), nil
}

func (p *Provider) accountByEmail(ctx context.Context, email string) (*account, error) {
	uid, err := p.lookupUID(ctx, p.emailKey(email))
	if err != nil {
		return nil, p.mapAccountError(err)
	}
	a, err := p.loadAccount(ctx, uid)
	if err != nil {
		return nil, p.mapAccountError(err)
	}
	return a, nil
}

func (p *Provider) mapAccountError(err error) error {
	if errors.Is(err, errAccountNotFound) {
		return errUserNotFound
	}
	return unavailable(err)
}

func (p *Provider) saveChallenge(ctx context.Context, purpose stores.Purpose, uid string) (string, error) {
	code, err := internal.NewOTP(p.cfg.CodeDigits)
	if err != nil {
		return "", providerError(goSession.CodeInternal, "could not generate code")
	}
	record := &stores.ChallengeRecord{
		UserID:    uid,
		CodeHash:  internal.HashCode(code),
		ExpiresAt: p.cfg.now().Add(p.cfg.CodeTTL).Unix(),
	}
	if err := p.challenges.Save(ctx, purpose, uid, record, p.cfg.CodeTTL); err != nil {
		return "", unavailable(err)
	}
	return code, nil
}

func (p *Provider) rehashIfNeeded(ctx context.Context, a *account, plaintext string) {
	stale, err := p.hasher.NeedsRehash(a.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := p.hasher.Hash(plaintext)
	if err != nil {
		return
	}
	if err := p.rdb.HSet(ctx, p.accountKey(a.UID), fieldPasswordHash, hash).Err(); err != nil {
		p.logger.Warn("password rehash failed", slog.String("uid", a.UID), slog.Any("error", err))
	}
}

func identityOf(a *account, raw string) *goSession.Identity {
	return &goSession.Identity{
		UID:           a.UID,
		Email:         a.Email,
		EmailVerified: a.EmailVerified,
		Provider:      a.Provider,
		Token:         raw,
	}
}

func cloneIdentity(id *goSession.Identity) *goSession.Identity {
	if id == nil {
		return nil
	}
	out := *id
	return &out
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", errInvalidEmail
	}
	return email, nil
}
