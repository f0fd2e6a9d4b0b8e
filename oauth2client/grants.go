package oauth2client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultUserAgent is sent with every provider request.
const DefaultUserAgent = "go-grantx/1.0"

// maxResponseBody caps how much of a provider response is read.
const maxResponseBody = 1 << 20

// Credentials identify the client application to the provider.
type Credentials struct {
	ClientID     string
	ClientSecret string
	// RedirectURL is the registered callback for authorization code flows.
	RedirectURL string
	// PostLogoutRedirectURL is appended to the logout URL when set.
	PostLogoutRedirectURL string
}

// GrantExecutor performs token endpoint exchanges. Each exchange is a single
// form-encoded POST; nothing is retried.
type GrantExecutor struct {
	tokenURL   string
	creds      Credentials
	negotiator *ScopeNegotiator
	httpClient *http.Client
	userAgent  string
	timeout    time.Duration
	now        func() time.Time
	tracer     trace.Tracer
	logger     *zap.Logger
}

// exchange describes one token request before it is sent.
type exchange struct {
	grant      GrantType // stored slot kind
	wire       GrantType // grant_type sent to the provider
	clientType ClientType
	form       url.Values
	scopes     []string
	previous   *TokenRecord
}

// ClientCredentials requests an application token.
func (e *GrantExecutor) ClientCredentials(ctx context.Context, scopes []string) (*TokenRecord, error) {
	if err := e.requireSecret(); err != nil {
		return nil, err
	}

	negotiated, err := e.negotiate(scopes)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", string(GrantClientCredentials))
	form.Set("scope", strings.Join(negotiated, " "))
	form.Set("client_id", e.creds.ClientID)
	form.Set("client_secret", e.creds.ClientSecret)

	return e.do(ctx, exchange{
		grant:      GrantClientCredentials,
		wire:       GrantClientCredentials,
		clientType: ClientConfidential,
		form:       form,
		scopes:     negotiated,
	})
}

// AuthorizationCode exchanges an authorization code as a confidential client.
func (e *GrantExecutor) AuthorizationCode(ctx context.Context, code string, scopes []string) (*TokenRecord, error) {
	if err := e.requireSecret(); err != nil {
		return nil, err
	}
	if code == "" {
		return nil, &ConfigurationError{Field: "authorization code"}
	}
	if e.creds.RedirectURL == "" {
		return nil, &ConfigurationError{Field: "redirect URL"}
	}

	negotiated, err := e.negotiate(scopes)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", string(GrantAuthorizationCode))
	form.Set("code", code)
	form.Set("redirect_uri", e.creds.RedirectURL)
	form.Set("client_id", e.creds.ClientID)
	form.Set("client_secret", e.creds.ClientSecret)

	return e.do(ctx, exchange{
		grant:      GrantAuthorizationCode,
		wire:       GrantAuthorizationCode,
		clientType: ClientConfidential,
		form:       form,
		scopes:     negotiated,
	})
}

// PublicPKCE exchanges an authorization code with a PKCE verifier without
// sending the client secret.
func (e *GrantExecutor) PublicPKCE(ctx context.Context, code, verifier string, scopes []string) (*TokenRecord, error) {
	return e.pkce(ctx, code, verifier, scopes, ClientPublic)
}

// ConfidentialPKCE exchanges an authorization code with a PKCE verifier and
// the client secret.
func (e *GrantExecutor) ConfidentialPKCE(ctx context.Context, code, verifier string, scopes []string) (*TokenRecord, error) {
	if err := e.requireSecret(); err != nil {
		return nil, err
	}
	return e.pkce(ctx, code, verifier, scopes, ClientConfidential)
}

func (e *GrantExecutor) pkce(ctx context.Context, code, verifier string, scopes []string, clientType ClientType) (*TokenRecord, error) {
	if e.creds.ClientID == "" {
		return nil, &ConfigurationError{Field: "client ID"}
	}
	if code == "" {
		return nil, &ConfigurationError{Field: "authorization code"}
	}
	if verifier == "" {
		return nil, &ConfigurationError{Field: "code verifier"}
	}

	negotiated, err := e.negotiate(scopes)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", string(GrantAuthorizationCode))
	form.Set("code", code)
	form.Set("code_verifier", verifier)
	form.Set("client_id", e.creds.ClientID)
	if e.creds.RedirectURL != "" {
		form.Set("redirect_uri", e.creds.RedirectURL)
	}
	if clientType == ClientConfidential {
		form.Set("client_secret", e.creds.ClientSecret)
	}

	return e.do(ctx, exchange{
		grant:      GrantAuthorizationCode,
		wire:       GrantAuthorizationCode,
		clientType: clientType,
		form:       form,
		scopes:     negotiated,
	})
}

// Refresh exchanges previous's refresh token. A non-empty scopes narrows the
// new token to that subset; otherwise the previous scopes carry over.
func (e *GrantExecutor) Refresh(ctx context.Context, previous *TokenRecord, scopes []string) (*TokenRecord, error) {
	if previous == nil || previous.RefreshToken == "" {
		return nil, &ConfigurationError{Field: "refresh token"}
	}
	if e.creds.ClientID == "" {
		return nil, &ConfigurationError{Field: "client ID"}
	}

	clientType := previous.ClientType
	if clientType == "" {
		clientType = ClientConfidential
	}
	if clientType == ClientConfidential {
		if err := e.requireSecret(); err != nil {
			return nil, err
		}
	}

	form := url.Values{}
	form.Set("grant_type", string(GrantRefresh))
	form.Set("refresh_token", previous.RefreshToken)
	form.Set("client_id", e.creds.ClientID)
	if clientType == ClientConfidential {
		form.Set("client_secret", e.creds.ClientSecret)
	}

	granted := append([]string(nil), previous.Scopes...)
	if len(scopes) > 0 {
		negotiated, err := e.negotiate(scopes)
		if err != nil {
			return nil, err
		}
		form.Set("scope", strings.Join(negotiated, " "))
		granted = negotiated
	}
	if len(granted) == 0 {
		return nil, &ScopeError{Empty: true}
	}

	grant := previous.GrantType
	if grant == "" || grant == GrantRefresh {
		grant = GrantAuthorizationCode
	}

	return e.do(ctx, exchange{
		grant:      grant,
		wire:       GrantRefresh,
		clientType: clientType,
		form:       form,
		scopes:     granted,
		previous:   previous,
	})
}

func (e *GrantExecutor) requireSecret() error {
	if e.creds.ClientID == "" {
		return &ConfigurationError{Field: "client ID"}
	}
	if e.creds.ClientSecret == "" {
		return &ConfigurationError{Field: "client secret"}
	}
	return nil
}

func (e *GrantExecutor) negotiate(scopes []string) ([]string, error) {
	negotiated, dropped, err := e.negotiator.Negotiate(scopes)
	if err != nil {
		return nil, err
	}
	if len(dropped) > 0 {
		e.logger.Warn("oauth2client: dropped unsupported scopes from token request",
			zap.Strings("dropped", dropped),
			zap.Strings("scopes", negotiated),
		)
	}
	return negotiated, nil
}

func (e *GrantExecutor) do(ctx context.Context, ex exchange) (*TokenRecord, error) {
	if e.tokenURL == "" {
		return nil, &ConfigurationError{Field: "token URL"}
	}

	ctx, span := e.tracer.Start(ctx, "oauth2client.exchange", trace.WithAttributes(
		attribute.String("oauth2.grant_type", string(ex.wire)),
		attribute.String("oauth2.client_type", string(ex.clientType)),
	))
	defer span.End()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	op := "token exchange (" + string(ex.wire) + ")"
	status, body, err := postForm(ctx, e.httpClient, e.tokenURL, ex.form, e.userAgent, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return nil, &NetworkError{Op: op, URL: e.tokenURL, Err: err}
	}

	if status < 200 || status > 299 {
		perr := newProtocolError(op, status, body)
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Code)
		return nil, perr
	}

	acquired := e.now()

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ProtocolError{Op: op, StatusCode: status, Body: string(body), Description: err.Error()}
	}
	if resp.AccessToken == "" {
		return nil, &ProtocolError{Op: op, StatusCode: status, Body: string(body), Description: "response has no access_token"}
	}
	if resp.ExpiresIn <= 0 {
		return nil, &ProtocolError{Op: op, StatusCode: status, Body: string(body), Description: "response has no expires_in"}
	}

	refreshToken := resp.RefreshToken
	if refreshToken == "" && ex.previous != nil {
		// Providers that do not rotate refresh tokens omit them on refresh.
		refreshToken = ex.previous.RefreshToken
	}

	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return &TokenRecord{
		AccessToken:  resp.AccessToken,
		RefreshToken: refreshToken,
		TokenType:    tokenType,
		IDToken:      resp.IDToken,
		ExpiresIn:    int64(resp.ExpiresIn),
		ExpiresAt:    acquired.Unix() + int64(resp.ExpiresIn),
		Scopes:       append([]string(nil), ex.scopes...),
		GrantType:    ex.grant,
		ClientType:   ex.clientType,
	}, nil
}

// basicAuth carries client credentials for HTTP Basic authentication.
type basicAuth struct {
	username string
	password string
}

// postForm sends a form-encoded POST and returns the status and (capped) body.
func postForm(ctx context.Context, client *http.Client, endpoint string, form url.Values, userAgent string, auth *basicAuth) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if auth != nil {
		req.SetBasicAuth(auth.username, auth.password)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}

	return resp.StatusCode, body, nil
}

func newProtocolError(op string, status int, body []byte) *ProtocolError {
	perr := &ProtocolError{Op: op, StatusCode: status, Body: string(body)}

	var oauthErr struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &oauthErr); err == nil {
		perr.Code = oauthErr.Error
		perr.Description = oauthErr.Description
	}

	return perr
}

// isProviderFailure reports whether err came from the provider round trip
// rather than from local validation.
func isProviderFailure(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrProtocol)
}
