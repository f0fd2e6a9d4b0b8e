package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// TokenProvider hands out access tokens for a slot reference. A reference is
// a slot name or a grant kind alias such as "2legged" or "authorization_code".
// *oauth2client.TokenManager satisfies it.
type TokenProvider interface {
	AccessTokenFor(ctx context.Context, ref string) (string, error)
}

type tokenRefKey struct{}

// WithTokenRef makes requests carrying ctx use ref instead of the transport's
// default reference. One client can then call APIs on behalf of the
// application and of a signed-in user.
func WithTokenRef(ctx context.Context, ref string) context.Context {
	return context.WithValue(ctx, tokenRefKey{}, ref)
}

// TokenRefFromContext returns the reference set by WithTokenRef.
func TokenRefFromContext(ctx context.Context) (string, bool) {
	ref, ok := ctx.Value(tokenRefKey{}).(string)
	return ref, ok && ref != ""
}

// OAuth2Transport is an http.RoundTripper that adds "Authorization: Bearer"
// headers from a TokenProvider. Expired tokens are renewed by the provider
// before the request is sent.
type OAuth2Transport struct {
	// Base is the underlying transport. If nil, http.DefaultTransport is used.
	Base http.RoundTripper

	// Tokens supplies access tokens.
	Tokens TokenProvider

	// Ref selects the token slot unless the request context carries one.
	Ref string
}

// RoundTrip implements http.RoundTripper. The token lookup uses the request
// context, so cancellation and deadlines apply to renewals too.
func (t *OAuth2Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Tokens == nil {
		return nil, errors.New("httpclient: token provider is nil")
	}

	ref := t.Ref
	if override, ok := TokenRefFromContext(req.Context()); ok {
		ref = override
	}

	token, err := t.Tokens.AccessTokenFor(req.Context(), ref)
	if err != nil {
		return nil, fmt.Errorf("httpclient: failed to get token for %q: %w", ref, err)
	}

	// RoundTrippers must not modify the caller's request.
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(out)
}

// NewOAuth2Transport wraps base (http.DefaultTransport when nil) so every
// request carries a token for ref.
func NewOAuth2Transport(tokens TokenProvider, ref string, base http.RoundTripper) *OAuth2Transport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &OAuth2Transport{
		Base:   base,
		Tokens: tokens,
		Ref:    ref,
	}
}
