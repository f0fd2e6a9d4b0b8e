package oauth2client

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// TokenManager acquires, stores, and renews named OAuth2 tokens against one
// identity provider. Tokens live in the caller's Session under prefixed keys;
// a process may hold one application token next to many user tokens, each
// renewed only when it is actually used. There is no background refresh.
//
// Renewal of a single slot is deduplicated within the process. The session
// itself is not locked: two processes sharing one session store can still
// race and issue duplicate refreshes.
type TokenManager struct {
	creds      Credentials
	registry   *TokenRegistry
	executor   *GrantExecutor
	negotiator *ScopeNegotiator
	discovery  DiscoveryDocument
	provider   *oidc.Provider
	inflight   singleflight.Group
	verifier   *accessTokenVerifier

	// configuration
	httpClient      *http.Client
	requestTimeout  time.Duration
	expiryLeeway    time.Duration
	issuer          string
	staticDiscovery *DiscoveryDocument
	fallback        DiscoveryDocument
	lenientScopes   bool
	prefix          string
	userAgent       string
	now             func() time.Time
	logger          *zap.Logger
	tracer          trace.Tracer
}

// NewTokenManager creates a token manager over session.
//
// Construction fetches the provider discovery document (falling back to
// static endpoints on failure) and prunes already-expired or unreadable slots
// from session, so the registry and the session agree before the first call.
//
// Parameters:
//   - ctx: Context for the discovery fetch and the initial session scan
//   - session: Key-value store holding the token slots
//   - creds: Client credentials and redirect URLs
//   - opts: Optional configuration (WithLogger, WithIssuer, WithClock, ...)
func NewTokenManager(ctx context.Context, session Session, creds Credentials, opts ...Option) (*TokenManager, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if session == nil {
		return nil, &ConfigurationError{Field: "session"}
	}
	if creds.ClientID == "" {
		return nil, &ConfigurationError{Field: "client ID"}
	}

	tm := &TokenManager{
		creds:      creds,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		issuer:     DefaultIssuer,
		fallback:   DefaultDiscoveryDocument(),
		prefix:     DefaultNamePrefix,
		userAgent:  DefaultUserAgent,
		now:        time.Now,
		logger:     zap.NewNop(),
		tracer:     defaultTracer(),
	}

	for _, opt := range opts {
		opt(tm)
	}

	client := NewDiscoveryClient(tm.httpClient, tm.fallback, tm.logger, tm.tracer)
	if tm.staticDiscovery != nil {
		tm.discovery = tm.staticDiscovery.clone()
		tm.provider = client.staticProvider(ctx, tm.discovery)
	} else {
		tm.discovery, tm.provider = client.Resolve(ctx, tm.issuer)
	}

	tm.negotiator = NewScopeNegotiator(tm.discovery.SupportedScopes, tm.lenientScopes)
	tm.executor = &GrantExecutor{
		tokenURL:   tm.discovery.TokenURL,
		creds:      creds,
		negotiator: tm.negotiator,
		httpClient: tm.httpClient,
		userAgent:  tm.userAgent,
		timeout:    tm.requestTimeout,
		now:        tm.now,
		tracer:     tm.tracer,
		logger:     tm.logger,
	}

	tm.verifier = newAccessTokenVerifier(tm.discovery, tm)

	tm.registry = NewTokenRegistry(session, tm.prefix)
	pruned, err := tm.registry.Reconcile(ctx, tm.now())
	if err != nil {
		return nil, err
	}
	if len(pruned) > 0 {
		tm.logger.Info("oauth2client: pruned stale tokens from session", zap.Strings("names", pruned))
	}

	return tm, nil
}

// Discovery returns a copy of the provider metadata in use.
func (tm *TokenManager) Discovery() DiscoveryDocument {
	return tm.discovery.clone()
}

// Negotiator returns the scope negotiator built from the supported scopes.
func (tm *TokenManager) Negotiator() *ScopeNegotiator {
	return tm.negotiator
}

// TokenNames lists the registered slot names (with prefix) in order.
func (tm *TokenManager) TokenNames() []string {
	return tm.registry.Names()
}

// RequestClientCredentialsToken obtains an application token and stores it
// under name (DefaultClientCredentials when empty).
func (tm *TokenManager) RequestClientCredentialsToken(ctx context.Context, scopes []string, name string) (*TokenRecord, error) {
	ctx = orBackground(ctx)
	rec, err := tm.executor.ClientCredentials(ctx, scopes)
	return tm.store(ctx, tm.slot(name, DefaultClientCredentials), rec, err)
}

// ExchangeAuthorizationCode exchanges an authorization code as a confidential
// client and stores the user token under name (DefaultAuthorizationCode when empty).
func (tm *TokenManager) ExchangeAuthorizationCode(ctx context.Context, code string, scopes []string, name string) (*TokenRecord, error) {
	ctx = orBackground(ctx)
	rec, err := tm.executor.AuthorizationCode(ctx, code, scopes)
	return tm.store(ctx, tm.slot(name, DefaultAuthorizationCode), rec, err)
}

// ExchangePublicPKCE exchanges a code and PKCE verifier without the client
// secret and stores the token under name (DefaultPublicPKCE when empty).
func (tm *TokenManager) ExchangePublicPKCE(ctx context.Context, code, verifier string, scopes []string, name string) (*TokenRecord, error) {
	ctx = orBackground(ctx)
	rec, err := tm.executor.PublicPKCE(ctx, code, verifier, scopes)
	return tm.store(ctx, tm.slot(name, DefaultPublicPKCE), rec, err)
}

// ExchangeConfidentialPKCE exchanges a code and PKCE verifier with the client
// secret and stores the token under name (DefaultAuthorizationCode when empty).
func (tm *TokenManager) ExchangeConfidentialPKCE(ctx context.Context, code, verifier string, scopes []string, name string) (*TokenRecord, error) {
	ctx = orBackground(ctx)
	rec, err := tm.executor.ConfidentialPKCE(ctx, code, verifier, scopes)
	return tm.store(ctx, tm.slot(name, DefaultAuthorizationCode), rec, err)
}

// Refresh exchanges the slot's refresh token now, regardless of expiry.
// A non-empty scopes narrows the new token. The stored record is replaced
// only when the exchange succeeds.
func (tm *TokenManager) Refresh(ctx context.Context, name string, scopes []string) (*TokenRecord, error) {
	ctx = orBackground(ctx)
	k := tm.registry.key(name)

	rec, ok, err := tm.registry.Load(ctx, k)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound(k)
	}

	next, err := tm.executor.Refresh(ctx, rec, scopes)
	return tm.store(ctx, k, next, err)
}

// AccessToken returns a usable access token for the named slot.
//
// A valid token is returned without any network call. An expired token is
// refreshed when the slot has a refresh token and reacquired through the
// client credentials grant otherwise; authorization code slots without a
// refresh token fail with ErrReauthorizationRequired. Errors from the renewal
// are returned as is and the previous record is kept.
func (tm *TokenManager) AccessToken(ctx context.Context, name string) (string, error) {
	ctx = orBackground(ctx)
	return tm.accessToken(ctx, tm.registry.key(name))
}

func (tm *TokenManager) accessToken(ctx context.Context, k slotKey) (string, error) {
	rec, ok, err := tm.registry.Load(ctx, k)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", notFound(k)
	}

	if tm.remaining(rec) > 0 {
		return rec.AccessToken, nil
	}

	rec, err = tm.renew(ctx, k)
	if err != nil {
		return "", err
	}

	return rec.AccessToken, nil
}

// renew replaces an expired slot. Concurrent callers for the same slot share
// one exchange, detached from any single caller's cancellation. A caller
// whose context ends stops waiting without failing the others.
func (tm *TokenManager) renew(ctx context.Context, k slotKey) (*TokenRecord, error) {
	shared := context.WithoutCancel(ctx)
	ch := tm.inflight.DoChan(string(k), func() (any, error) {
		ctx := shared
		rec, ok, err := tm.registry.Load(ctx, k)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, notFound(k)
		}

		// Another caller may have renewed the slot while we waited.
		if tm.remaining(rec) > 0 {
			return rec, nil
		}

		var next *TokenRecord
		switch {
		case rec.RefreshToken != "":
			next, err = tm.executor.Refresh(ctx, rec, nil)
		case rec.GrantType == GrantClientCredentials:
			next, err = tm.executor.ClientCredentials(ctx, rec.Scopes)
		default:
			return nil, &StateError{Name: string(k), Err: ErrReauthorizationRequired}
		}
		if err != nil {
			log := tm.logger.Debug
			if isProviderFailure(err) {
				log = tm.logger.Warn
			}
			log("oauth2client: token renewal failed",
				zap.String("name", string(k)),
				zap.String("grant_type", string(rec.GrantType)),
				zap.Error(err),
			)
			return nil, err
		}

		return tm.store(ctx, k, next, nil)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*TokenRecord), nil
	}
}

// TokenByKind returns the access token of the first registered slot acquired
// with kind. A second slot of the same kind is only reachable by name.
func (tm *TokenManager) TokenByKind(ctx context.Context, kind GrantType) (string, error) {
	ctx = orBackground(ctx)

	k, err := tm.findKind(ctx, kind)
	if err != nil {
		return "", err
	}

	return tm.accessToken(ctx, k)
}

func (tm *TokenManager) findKind(ctx context.Context, kind GrantType) (slotKey, error) {
	for _, k := range tm.registry.keys() {
		rec, ok, err := tm.registry.Load(ctx, k)
		if err != nil {
			return "", err
		}
		if ok && rec.GrantType == kind {
			return k, nil
		}
	}

	return "", &StateError{Name: string(kind), Err: ErrTokenNotFound}
}

// AccessTokenFor resolves ref as a slot name first and as a grant kind
// second ("client_credentials", "authorization_code", or the aliases
// "2legged" and "3legged"), then returns that slot's access token.
func (tm *TokenManager) AccessTokenFor(ctx context.Context, ref string) (string, error) {
	ctx = orBackground(ctx)

	k, err := tm.resolve(ctx, ref)
	if err != nil {
		return "", err
	}

	return tm.accessToken(ctx, k)
}

func (tm *TokenManager) resolve(ctx context.Context, ref string) (slotKey, error) {
	k := tm.registry.key(ref)
	if tm.registry.has(k) {
		return k, nil
	}

	if kind, ok := ParseGrantType(ref); ok {
		return tm.findKind(ctx, kind)
	}

	return "", notFound(k)
}

// IsAuthorized reports whether name holds an unexpired token.
func (tm *TokenManager) IsAuthorized(ctx context.Context, name string) bool {
	return !tm.IsExpired(ctx, name)
}

// IsExpired reports whether name is expired. Unknown slots are expired.
func (tm *TokenManager) IsExpired(ctx context.Context, name string) bool {
	return tm.ExpiresIn(ctx, name) <= 0
}

// ExpiresIn returns the time left before name expires. Unknown slots,
// unreadable slots, and slots without an expiry report zero.
func (tm *TokenManager) ExpiresIn(ctx context.Context, name string) time.Duration {
	ctx = orBackground(ctx)
	k := tm.registry.key(name)

	rec, ok, err := tm.registry.Load(ctx, k)
	if err != nil {
		tm.logger.Debug("oauth2client: treating unreadable token as expired", zap.String("name", string(k)), zap.Error(err))
		return 0
	}
	if !ok || rec.ExpiresAt == 0 {
		return 0
	}

	if remaining := tm.remaining(rec); remaining > 0 {
		return remaining
	}
	return 0
}

// Record returns a copy of the stored record for name.
func (tm *TokenManager) Record(ctx context.Context, name string) (*TokenRecord, error) {
	ctx = orBackground(ctx)
	k := tm.registry.key(name)

	rec, ok, err := tm.registry.Load(ctx, k)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound(k)
	}

	return rec.clone(), nil
}

// Clear removes name from the session without contacting the provider.
// Clearing an unknown slot is not an error.
func (tm *TokenManager) Clear(ctx context.Context, name string) error {
	return tm.registry.Remove(orBackground(ctx), tm.registry.key(name))
}

// ClearAll removes every managed slot from the session.
func (tm *TokenManager) ClearAll(ctx context.Context) error {
	ctx = orBackground(ctx)
	for _, k := range tm.registry.keys() {
		if err := tm.registry.Remove(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// store writes rec under k when the exchange succeeded. A failed exchange
// leaves the slot untouched.
func (tm *TokenManager) store(ctx context.Context, k slotKey, rec *TokenRecord, err error) (*TokenRecord, error) {
	if err != nil {
		return nil, err
	}

	if err := tm.registry.Put(ctx, k, rec); err != nil {
		return nil, err
	}

	tm.logger.Info("oauth2client: obtained new access token",
		zap.String("name", string(k)),
		zap.String("grant_type", string(rec.GrantType)),
		zap.Time("expires_at", rec.Expiry()),
	)

	return rec.clone(), nil
}

func (tm *TokenManager) slot(name, fallback string) slotKey {
	if strings.TrimSpace(name) == "" {
		name = fallback
	}
	return tm.registry.key(name)
}

func (tm *TokenManager) remaining(rec *TokenRecord) time.Duration {
	return rec.Expiry().Sub(tm.now()) - tm.expiryLeeway
}

// ParseGrantType maps a grant kind name or its 2legged/3legged alias.
func ParseGrantType(value string) (GrantType, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(GrantClientCredentials), "2legged", "2-legged":
		return GrantClientCredentials, true
	case string(GrantAuthorizationCode), "3legged", "3-legged":
		return GrantAuthorizationCode, true
	default:
		return "", false
	}
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
