// Package oauth2client manages named OAuth2 tokens for applications that talk
// to one identity provider with several grants at once.
//
// A TokenManager keeps every token in a caller-owned Session under a prefixed
// slot name ("accapi_2legged", "accapi_3legged", or any name you choose), so an
// application token and many user tokens can live side by side. Tokens are
// renewed lazily: an expired slot is refreshed (or, for client credentials,
// reacquired) the next time it is read, and concurrent readers share one
// exchange.
//
// # Features
//
//   - Client credentials, authorization code, and PKCE (public and confidential) grants
//   - Refresh with optional scope narrowing; refresh tokens carry over when not rotated
//   - Scope negotiation against the provider's scopes_supported (strict or lenient)
//   - OpenID discovery with a static fallback document
//   - Revocation (RFC 7009) and introspection (RFC 7662)
//   - Authorization and logout URL builders, userinfo, and local JWT verification
//   - Scope and role requirements checked before a call (Require, see package authz)
//   - gRPC interceptors and an oauth2.TokenSource adapter
//   - Structured logging with zap and optional OpenTelemetry spans
//
// # Quick Start
//
//	session := sessionstore.NewMemory()
//	tm, err := oauth2client.NewTokenManager(ctx, session, oauth2client.Credentials{
//	    ClientID:     "client-id",
//	    ClientSecret: "client-secret",
//	    RedirectURL:  "https://app.example.com/callback",
//	}, oauth2client.WithLoggingEnabled())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if _, err := tm.RequestClientCredentialsToken(ctx, []string{"data:read"}, ""); err != nil {
//	    log.Fatal(err)
//	}
//
//	conn, err := grpc.NewClient(
//	    "server:9090",
//	    grpc.WithUnaryInterceptor(tm.UnaryClientInterceptor(oauth2client.DefaultClientCredentials)),
//	)
//
// # Errors
//
// Failures match one of the sentinel errors with errors.Is: ErrConfiguration
// and scope errors are raised before any request is sent; ErrNetwork and
// ErrProtocol come from the provider round trip; ErrTokenNotFound and
// ErrReauthorizationRequired describe the slot. A failed exchange never
// modifies the stored slot.
//
// # Notes
//
//   - Renewal is deduplicated per process only. Two processes sharing one
//     session store may both refresh the same slot.
//   - Token values are never logged.
package oauth2client
