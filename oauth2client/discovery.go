package oauth2client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultIssuer is the identity provider used when no issuer is configured.
const DefaultIssuer = "https://developer.api.autodesk.com"

// DiscoveryDocument holds the provider metadata the manager needs.
// It is created once at manager construction and never mutated.
type DiscoveryDocument struct {
	Issuer          string
	AuthorizeURL    string
	TokenURL        string
	IntrospectURL   string
	RevokeURL       string
	UserInfoURL     string
	JWKSURL         string
	LogoutURL       string
	SupportedScopes []string
}

func (d DiscoveryDocument) clone() DiscoveryDocument {
	d.SupportedScopes = append([]string(nil), d.SupportedScopes...)
	return d
}

// DefaultDiscoveryDocument returns the static metadata substituted when the
// discovery fetch fails.
func DefaultDiscoveryDocument() DiscoveryDocument {
	const base = "https://developer.api.autodesk.com/authentication/v2"
	return DiscoveryDocument{
		Issuer:        DefaultIssuer,
		AuthorizeURL:  base + "/authorize",
		TokenURL:      base + "/token",
		IntrospectURL: base + "/introspect",
		RevokeURL:     base + "/revoke",
		UserInfoURL:   "https://api.userprofile.autodesk.com/userinfo",
		JWKSURL:       base + "/keys",
		LogoutURL:     base + "/logout",
		SupportedScopes: []string{
			"user-profile:read",
			"user:read",
			"user:write",
			"viewables:read",
			"data:read",
			"data:write",
			"data:create",
			"data:search",
			"bucket:create",
			"bucket:read",
			"bucket:update",
			"bucket:delete",
			"code:all",
			"account:read",
			"account:write",
			"openid",
		},
	}
}

// discoveryClaims lists the metadata fields go-oidc does not expose directly.
// Both the RFC 8414/7009 names and the shorter vendor names are accepted.
type discoveryClaims struct {
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	IntrospectionEndpoint string   `json:"introspection_endpoint"`
	IntrospectEndpoint    string   `json:"introspect_endpoint"`
	RevocationEndpoint    string   `json:"revocation_endpoint"`
	RevokeEndpoint        string   `json:"revoke_endpoint"`
	UserInfoEndpoint      string   `json:"userinfo_endpoint"`
	JWKSURI               string   `json:"jwks_uri"`
	EndSessionEndpoint    string   `json:"end_session_endpoint"`
	ScopesSupported       []string `json:"scopes_supported"`
}

// DiscoveryClient performs the one-shot provider metadata fetch.
type DiscoveryClient struct {
	httpClient *http.Client
	fallback   DiscoveryDocument
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewDiscoveryClient creates a discovery client. fallback supplies values for
// fields the provider omits and the full document when the fetch fails.
func NewDiscoveryClient(httpClient *http.Client, fallback DiscoveryDocument, logger *zap.Logger, tracer trace.Tracer) *DiscoveryClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = defaultTracer()
	}
	return &DiscoveryClient{
		httpClient: httpClient,
		fallback:   fallback.clone(),
		logger:     logger,
		tracer:     tracer,
	}
}

// Discover fetches issuer's openid-configuration document.
func (c *DiscoveryClient) Discover(ctx context.Context, issuer string) (DiscoveryDocument, *oidc.Provider, error) {
	ctx, span := c.tracer.Start(ctx, "oauth2client.discovery", trace.WithAttributes(attribute.String("oauth2.issuer", issuer)))
	defer span.End()

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, c.httpClient), issuer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery failed")
		return DiscoveryDocument{}, nil, &NetworkError{Op: "discovery", URL: issuer, Err: err}
	}

	var claims discoveryClaims
	if err := provider.Claims(&claims); err != nil {
		return DiscoveryDocument{}, nil, fmt.Errorf("oauth2client: invalid discovery document: %w", err)
	}

	doc := DiscoveryDocument{
		Issuer:          issuer,
		AuthorizeURL:    firstNonEmpty(claims.AuthorizationEndpoint, c.fallback.AuthorizeURL),
		TokenURL:        firstNonEmpty(claims.TokenEndpoint, c.fallback.TokenURL),
		IntrospectURL:   firstNonEmpty(claims.IntrospectionEndpoint, claims.IntrospectEndpoint, c.fallback.IntrospectURL),
		RevokeURL:       firstNonEmpty(claims.RevocationEndpoint, claims.RevokeEndpoint, c.fallback.RevokeURL),
		UserInfoURL:     firstNonEmpty(claims.UserInfoEndpoint, c.fallback.UserInfoURL),
		JWKSURL:         firstNonEmpty(claims.JWKSURI, c.fallback.JWKSURL),
		LogoutURL:       firstNonEmpty(claims.EndSessionEndpoint, c.fallback.LogoutURL),
		SupportedScopes: claims.ScopesSupported,
	}
	if len(doc.SupportedScopes) == 0 {
		doc.SupportedScopes = append([]string(nil), c.fallback.SupportedScopes...)
	}

	return doc, provider, nil
}

// Resolve runs Discover and substitutes the fallback document on any failure.
// Discovery failure is never fatal.
func (c *DiscoveryClient) Resolve(ctx context.Context, issuer string) (DiscoveryDocument, *oidc.Provider) {
	doc, provider, err := c.Discover(ctx, issuer)
	if err == nil {
		return doc, provider
	}

	c.logger.Warn("oauth2client: discovery failed, using static endpoints",
		zap.String("issuer", issuer),
		zap.Error(err),
	)

	doc = c.fallback.clone()
	return doc, c.staticProvider(ctx, doc)
}

func (c *DiscoveryClient) staticProvider(ctx context.Context, doc DiscoveryDocument) *oidc.Provider {
	cfg := &oidc.ProviderConfig{
		IssuerURL:   doc.Issuer,
		AuthURL:     doc.AuthorizeURL,
		TokenURL:    doc.TokenURL,
		UserInfoURL: doc.UserInfoURL,
		JWKSURL:     doc.JWKSURL,
	}
	return cfg.NewProvider(oidc.ClientContext(ctx, c.httpClient))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}

	return ""
}
