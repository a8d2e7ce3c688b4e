package kratos

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/internal/authstate"
	kratosclient "github.com/ory/kratos-client-go"
)

const (
	methodPassword = "password"
	methodOIDC     = "oidc"
	methodCode     = "code"
)

// Option customizes a Gateway.
type Option func(*Gateway)

// WithLogger sets the structured logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// Gateway is a credential gateway backed by Ory Kratos.
type Gateway struct {
	cfg    Config
	public *kratosclient.APIClient
	admin  *kratosclient.APIClient
	logger *slog.Logger
	hub    *authstate.Hub[*goSession.Identity]

	mu      sync.Mutex
	current *goSession.Identity
}

var _ goSession.CredentialGateway = (*Gateway)(nil)

// New validates cfg and returns a signed-out Gateway.
func New(cfg Config, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Gateway{
		cfg:    cfg,
		public: newAPIClient(cfg.PublicURL, cfg),
		admin:  newAPIClient(cfg.AdminURL, cfg),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		hub:    authstate.NewHub[*goSession.Identity](nil),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func newAPIClient(serverURL string, cfg Config) *kratosclient.APIClient {
	conf := kratosclient.NewConfiguration()
	conf.Servers = []kratosclient.ServerConfiguration{{URL: serverURL}}
	conf.HTTPClient = cfg.httpClient()
	if conf.DefaultHeader == nil {
		conf.DefaultHeader = make(map[string]string)
	}
	conf.DefaultHeader["Accept"] = "application/json"
	return kratosclient.NewAPIClient(conf)
}

// Close ends every auth-state subscription.
func (g *Gateway) Close() {
	g.hub.Close()
}

// Current returns the signed-in identity or nil.
func (g *Gateway) Current() *goSession.Identity {
	g.mu.Lock()
	defer g.mu.Unlock()
	return cloneIdentity(g.current)
}

// SubscribeAuthState streams the current identity, then every change.
func (g *Gateway) SubscribeAuthState(ctx context.Context) (<-chan *goSession.Identity, error) {
	return g.hub.Subscribe(ctx), nil
}

// Ping checks that both Kratos APIs answer.
func (g *Gateway) Ping(ctx context.Context) error {
	for _, api := range []*kratosclient.APIClient{g.public, g.admin} {
		if _, resp, err := api.MetadataAPI.GetVersion(ctx).Execute(); err != nil {
			return mapError(err, resp)
		}
	}
	return nil
}

// Restore resumes a session from a stored session token.
func (g *Gateway) Restore(ctx context.Context, sessionToken string) (*goSession.Identity, error) {
	sess, resp, err := g.public.FrontendAPI.ToSession(ctx).XSessionToken(sessionToken).Execute()
	if err != nil {
		return nil, mapError(err, resp)
	}
	if !sess.GetActive() {
		return nil, errNoCurrentUser
	}
	return g.establish(sess, sessionToken, "")
}

// SignIn completes a native password login flow and makes its session current.
func (g *Gateway) SignIn(ctx context.Context, email, password string) (*goSession.Identity, error) {
	flow, resp, err := g.public.FrontendAPI.CreateNativeLoginFlow(ctx).Execute()
	if err != nil {
		return nil, mapError(err, resp)
	}
	body := kratosclient.UpdateLoginFlowWithPasswordMethodAsUpdateLoginFlowBody(&kratosclient.UpdateLoginFlowWithPasswordMethod{
		Method:     methodPassword,
		Identifier: normalizeEmail(email),
		Password:   password,
	})
	res, resp, err := g.public.FrontendAPI.UpdateLoginFlow(ctx).Flow(flow.Id).UpdateLoginFlowBody(body).Execute()
	if err != nil {
		return nil, mapError(err, resp)
	}
	sess := res.GetSession()
	return g.establish(&sess, res.GetSessionToken(), goSession.ProviderPassword)
}

// CreateUser registers a password identity and signs it in.
func (g *Gateway) CreateUser(ctx context.Context, email, password string) (*goSession.Identity, error) {
	flow, resp, err := g.public.FrontendAPI.CreateNativeRegistrationFlow(ctx).Execute()
	if err != nil {
		return nil, mapError(err, resp)
	}
	body := kratosclient.UpdateRegistrationFlowWithPasswordMethodAsUpdateRegistrationFlowBody(&kratosclient.UpdateRegistrationFlowWithPasswordMethod{
		Method:   methodPassword,
		Password: password,
		Traits:   map[string]interface{}{"email": normalizeEmail(email)},
	})
	res, resp, err := g.public.FrontendAPI.UpdateRegistrationFlow(ctx).Flow(flow.Id).UpdateRegistrationFlowBody(body).Execute()
	if err != nil {
		return nil, mapError(err, resp)
	}
	// Without the session hook on registration Kratos returns no session.
	if res.Session == nil || res.GetSessionToken() == "" {
		return g.SignIn(ctx, email, password)
	}
	return g.establish(res.Session, res.GetSessionToken(), goSession.ProviderPassword)
}

// SignInWithCredential submits a federated ID token to the oidc login method.
func (g *Gateway) SignInWithCredential(ctx context.Context, cred goSession.FederatedCredential) (*goSession.Identity, error) {
	flow, resp, err := g.public.FrontendAPI.CreateNativeLoginFlow(ctx).Execute()
	if err != nil {
		return nil, mapError(err, resp)
	}
	method := &kratosclient.UpdateLoginFlowWithOidcMethod{
		Method:   methodOIDC,
		Provider: cred.Provider,
		IdToken:  &cred.IDToken,
	}
	if cred.Nonce != "" {
		method.IdTokenNonce = &cred.Nonce
	}
	body := kratosclient.UpdateLoginFlowWithOidcMethodAsUpdateLoginFlowBody(method)
	res, resp, err := g.public.FrontendAPI.UpdateLoginFlow(ctx).Flow(flow.Id).UpdateLoginFlowBody(body).Execute()
	if err != nil {
		return nil, mapError(err, resp)
	}
	sess := res.GetSession()
	return g.establish(&sess, res.GetSessionToken(), cred.Provider)
}

// SignOut revokes the current session token and clears the current identity.
func (g *Gateway) SignOut(ctx context.Context) error {
	cur := g.Current()
	if cur == nil {
		return nil
	}
	resp, err := g.public.FrontendAPI.PerformNativeLogout(ctx).
		PerformNativeLogoutBody(*kratosclient.NewPerformNativeLogoutBody(cur.Token)).
		Execute()
	// An already revoked session is as good as a logout.
	if err != nil && (resp == nil || resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden) {
		return mapError(err, resp)
	}
	g.setCurrent(nil)
	g.logger.Info("signed out", slog.String("uid", cur.UID))
	return nil
}

// SendPasswordReset starts a recovery flow that mails a code to email.
func (g *Gateway) SendPasswordReset(ctx context.Context, email string) error {
	flow, resp, err := g.public.FrontendAPI.CreateNativeRecoveryFlow(ctx).Execute()
	if err != nil {
		return mapError(err, resp)
	}
	addr := normalizeEmail(email)
	body := kratosclient.UpdateRecoveryFlowWithCodeMethodAsUpdateRecoveryFlowBody(&kratosclient.UpdateRecoveryFlowWithCodeMethod{
		Method: methodCode,
		Email:  &addr,
	})
	if _, resp, err := g.public.FrontendAPI.UpdateRecoveryFlow(ctx).Flow(flow.Id).UpdateRecoveryFlowBody(body).Execute(); err != nil {
		return mapError(err, resp)
	}
	return nil
}

// SendEmailVerification starts a verification flow for the current identity's email.
func (g *Gateway) SendEmailVerification(ctx context.Context) error {
	cur := g.Current()
	if cur == nil {
		return errNoCurrentUser
	}
	flow, resp, err := g.public.FrontendAPI.CreateNativeVerificationFlow(ctx).Execute()
	if err != nil {
		return mapError(err, resp)
	}
	addr := cur.Email
	body := kratosclient.UpdateVerificationFlowWithCodeMethodAsUpdateVerificationFlowBody(&kratosclient.UpdateVerificationFlowWithCodeMethod{
		Method: methodCode,
		Email:  &addr,
	})
	if _, resp, err := g.public.FrontendAPI.UpdateVerificationFlow(ctx).Flow(flow.Id).UpdateVerificationFlowBody(body).Execute(); err != nil {
		return mapError(err, resp)
	}
	return nil
}

// Reauthenticate runs a refresh login for the current session, which resets
// its authenticated_at and so reopens the privileged window.
func (g *Gateway) Reauthenticate(ctx context.Context, currentPassword string) error {
	cur := g.Current()
	if cur == nil {
		return errNoCurrentUser
	}
	flow, resp, err := g.public.FrontendAPI.CreateNativeLoginFlow(ctx).
		Refresh(true).
		XSessionToken(cur.Token).
		Execute()
	if err != nil {
		return mapError(err, resp)
	}
	body := kratosclient.UpdateLoginFlowWithPasswordMethodAsUpdateLoginFlowBody(&kratosclient.UpdateLoginFlowWithPasswordMethod{
		Method:     methodPassword,
		Identifier: cur.Email,
		Password:   currentPassword,
	})
	res, resp, err := g.public.FrontendAPI.UpdateLoginFlow(ctx).
		Flow(flow.Id).
		XSessionToken(cur.Token).
		UpdateLoginFlowBody(body).
		Execute()
	if err != nil {
		return mapError(err, resp)
	}
	if tok := res.GetSessionToken(); tok != "" && tok != cur.Token {
		sess := res.GetSession()
		_, err := g.establish(&sess, tok, cur.Provider)
		return err
	}
	return nil
}

// UpdatePassword submits a settings flow that replaces the current password.
func (g *Gateway) UpdatePassword(ctx context.Context, newPassword string) error {
	cur := g.Current()
	if cur == nil {
		return errNoCurrentUser
	}
	flow, resp, err := g.public.FrontendAPI.CreateNativeSettingsFlow(ctx).XSessionToken(cur.Token).Execute()
	if err != nil {
		return mapError(err, resp)
	}
	body := kratosclient.UpdateSettingsFlowWithPasswordMethodAsUpdateSettingsFlowBody(&kratosclient.UpdateSettingsFlowWithPasswordMethod{
		Method:   methodPassword,
		Password: newPassword,
	})
	_, resp, err = g.public.FrontendAPI.UpdateSettingsFlow(ctx).
		Flow(flow.Id).
		XSessionToken(cur.Token).
		UpdateSettingsFlowBody(body).
		Execute()
	if err != nil {
		return mapError(err, resp)
	}
	g.logger.Info("password updated", slog.String("uid", cur.UID))
	return nil
}

// DeleteCurrentIdentity removes the signed-in identity through the admin
// API. The session must have authenticated within the privileged window.
func (g *Gateway) DeleteCurrentIdentity(ctx context.Context) error {
	cur := g.Current()
	if cur == nil {
		return errNoCurrentUser
	}
	sess, resp, err := g.public.FrontendAPI.ToSession(ctx).XSessionToken(cur.Token).Execute()
	if err != nil {
		return mapError(err, resp)
	}
	if !sess.GetActive() {
		return errNoCurrentUser
	}
	if g.cfg.now().Sub(sess.GetAuthenticatedAt()) > g.cfg.PrivilegedWindow {
		return errRecentLogin
	}
	if resp, err := g.admin.IdentityAPI.DeleteIdentity(ctx, cur.UID).Execute(); err != nil {
		return mapError(err, resp)
	}
	g.setCurrent(nil)
	g.logger.Info("identity deleted", slog.String("uid", cur.UID))
	return nil
}

func (g *Gateway) establish(sess *kratosclient.Session, sessionToken, provider string) (*goSession.Identity, error) {
	if sess == nil || sess.Identity == nil || sess.Identity.Id == "" {
		return nil, goSession.NewProviderError(goSession.CodeInternal, "Kratos returned a session without an identity.")
	}
	if sessionToken == "" {
		return nil, goSession.NewProviderError(goSession.CodeInternal, "Kratos returned no session token.")
	}
	if provider == "" {
		provider = providerOf(sess)
	}
	id := identityOf(sess.Identity, sessionToken, provider)
	g.setCurrent(id)
	g.logger.Info("signed in", slog.String("uid", id.UID), slog.String("provider", provider))
	return cloneIdentity(id), nil
}

func (g *Gateway) setCurrent(id *goSession.Identity) {
	g.mu.Lock()
	g.current = id
	g.mu.Unlock()
	g.hub.Publish(cloneIdentity(id))
}

func identityOf(ident *kratosclient.Identity, sessionToken, provider string) *goSession.Identity {
	email := ""
	if traits, ok := ident.Traits.(map[string]interface{}); ok {
		if v, ok := traits["email"].(string); ok {
			email = normalizeEmail(v)
		}
	}
	verified := false
	for _, addr := range ident.VerifiableAddresses {
		if strings.EqualFold(addr.Value, email) && addr.Verified {
			verified = true
			break
		}
	}
	return &goSession.Identity{
		UID:           ident.Id,
		Email:         email,
		EmailVerified: verified,
		Provider:      provider,
		Token:         sessionToken,
	}
}

// providerOf names the first-factor method that created sess.
func providerOf(sess *kratosclient.Session) string {
	for _, m := range sess.AuthenticationMethods {
		if m.GetMethod() == methodOIDC {
			return methodOIDC
		}
	}
	return goSession.ProviderPassword
}

func cloneIdentity(id *goSession.Identity) *goSession.Identity {
	if id == nil {
		return nil
	}
	out := *id
	return &out
}

func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
