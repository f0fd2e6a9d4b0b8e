package oauth2client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// AuthorizationOption customizes an authorization URL.
type AuthorizationOption func(*authorizationParams)

type authorizationParams struct {
	state    string
	verifier string
	extra    []oauth2.AuthCodeOption
}

// WithState sets the state parameter echoed back on the callback.
func WithState(state string) AuthorizationOption {
	return func(p *authorizationParams) {
		p.state = state
	}
}

// WithPKCEChallenge adds an S256 code_challenge derived from verifier.
func WithPKCEChallenge(verifier string) AuthorizationOption {
	return func(p *authorizationParams) {
		p.verifier = verifier
	}
}

// WithNonce sets the OpenID Connect nonce parameter.
func WithNonce(nonce string) AuthorizationOption {
	return WithExtraParam("nonce", nonce)
}

// WithExtraParam adds an arbitrary query parameter.
func WithExtraParam(key, value string) AuthorizationOption {
	return func(p *authorizationParams) {
		p.extra = append(p.extra, oauth2.SetAuthURLParam(key, value))
	}
}

// AuthorizationRequest bundles what a caller must keep between redirecting the
// user and handling the callback.
type AuthorizationRequest struct {
	URL          string
	State        string
	CodeVerifier string // empty unless PKCE was requested
}

// AuthorizationURL builds the URL a user is redirected to for a 3-legged
// authorization. Scopes are negotiated first, so an unusable scope list fails
// without building anything.
func (tm *TokenManager) AuthorizationURL(scopes []string, opts ...AuthorizationOption) (string, error) {
	if tm.discovery.AuthorizeURL == "" {
		return "", &ConfigurationError{Field: "authorize URL"}
	}
	if tm.creds.RedirectURL == "" {
		return "", &ConfigurationError{Field: "redirect URL"}
	}

	negotiated, dropped, err := tm.negotiator.Negotiate(scopes)
	if err != nil {
		return "", err
	}
	if len(dropped) > 0 {
		tm.logger.Warn("oauth2client: dropped unsupported scopes from authorization request",
			zap.Strings("dropped", dropped),
			zap.Strings("scopes", negotiated),
		)
	}

	params := &authorizationParams{}
	for _, opt := range opts {
		opt(params)
	}

	authOpts := append([]oauth2.AuthCodeOption(nil), params.extra...)
	if params.verifier != "" {
		authOpts = append(authOpts, oauth2.S256ChallengeOption(params.verifier))
	}

	return tm.oauth2Config(negotiated).AuthCodeURL(params.state, authOpts...), nil
}

// NewAuthorizationRequest builds an authorization URL with a random state and,
// when pkce is true, a fresh code verifier.
func (tm *TokenManager) NewAuthorizationRequest(scopes []string, pkce bool) (*AuthorizationRequest, error) {
	req := &AuthorizationRequest{State: uuid.NewString()}
	opts := []AuthorizationOption{WithState(req.State)}
	if pkce {
		req.CodeVerifier = oauth2.GenerateVerifier()
		opts = append(opts, WithPKCEChallenge(req.CodeVerifier))
	}

	authURL, err := tm.AuthorizationURL(scopes, opts...)
	if err != nil {
		return nil, err
	}
	req.URL = authURL

	return req, nil
}

// LogoutURL returns the provider logout endpoint. When a post-logout redirect
// is configured it is passed as post_logout_redirect_uri. Local slots are not
// cleared; call Clear after redirecting the user.
func (tm *TokenManager) LogoutURL() (string, error) {
	if tm.discovery.LogoutURL == "" {
		return "", &ConfigurationError{Field: "logout URL"}
	}
	if tm.creds.PostLogoutRedirectURL == "" {
		return tm.discovery.LogoutURL, nil
	}

	u, err := url.Parse(tm.discovery.LogoutURL)
	if err != nil {
		return "", &ConfigurationError{Field: "logout URL", Reason: err.Error()}
	}
	q := u.Query()
	q.Set("post_logout_redirect_uri", tm.creds.PostLogoutRedirectURL)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// UserInfo returns the profile claims of the named slot's token holder.
// The token is renewed first when it has expired.
func (tm *TokenManager) UserInfo(ctx context.Context, name string) (map[string]any, error) {
	ctx = orBackground(ctx)

	accessToken, err := tm.AccessToken(ctx, name)
	if err != nil {
		return nil, err
	}

	ctx, cancel := tm.withTimeout(ctx)
	defer cancel()

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	info, err := tm.provider.UserInfo(oidc.ClientContext(ctx, tm.httpClient), ts)
	if err != nil {
		return nil, fmt.Errorf("oauth2client: userinfo: %w", err)
	}

	var claims map[string]any
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("oauth2client: userinfo claims: %w", err)
	}

	return claims, nil
}

func (tm *TokenManager) oauth2Config(scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     tm.creds.ClientID,
		ClientSecret: tm.creds.ClientSecret,
		RedirectURL:  tm.creds.RedirectURL,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   tm.discovery.AuthorizeURL,
			TokenURL:  tm.discovery.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}
