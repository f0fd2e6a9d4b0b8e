package oauth2client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// AccessTokenClaims holds the claims of a verified JWT access token.
type AccessTokenClaims struct {
	Subject  string    // sub, empty for application tokens without a user
	Issuer   string    // iss
	Audience []string  // aud
	Expiry   time.Time // exp
	IssuedAt time.Time // iat, zero when absent
	Scopes   []string  // scope or scp
	ClientID string    // client_id
}

// accessTokenVerifier validates access tokens against the provider JWKS.
// The key set is fetched on first use and refreshed in the background.
type accessTokenVerifier struct {
	jwksURL string
	issuer  string
	options keyfunc.Options

	mu   sync.Mutex
	jwks *keyfunc.JWKS
}

func newAccessTokenVerifier(doc DiscoveryDocument, tm *TokenManager) *accessTokenVerifier {
	logger := tm.logger
	return &accessTokenVerifier{
		jwksURL: doc.JWKSURL,
		issuer:  doc.Issuer,
		options: keyfunc.Options{
			Client: tm.httpClient,
			RefreshErrorHandler: func(err error) {
				logger.Warn("oauth2client: JWKS refresh error", zap.Error(err))
			},
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  5 * time.Minute,
			RefreshTimeout:    10 * time.Second,
			RefreshUnknownKID: true,
		},
	}
}

// keys returns the key set, fetching it on first use. A failed fetch is not
// cached so the next call retries.
func (v *accessTokenVerifier) keys() (*keyfunc.JWKS, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.jwks != nil {
		return v.jwks, nil
	}
	if v.jwksURL == "" {
		return nil, &ConfigurationError{Field: "JWKS URL"}
	}

	jwks, err := keyfunc.Get(v.jwksURL, v.options)
	if err != nil {
		return nil, &NetworkError{Op: "jwks", URL: v.jwksURL, Err: err}
	}
	v.jwks = jwks

	return jwks, nil
}

func (v *accessTokenVerifier) verify(tokenString string) (*AccessTokenClaims, error) {
	jwks, err := v.keys()
	if err != nil {
		return nil, err
	}

	token, err := jwt.Parse(tokenString, jwks.Keyfunc, jwt.WithValidMethods([]string{
		jwt.SigningMethodRS256.Name,
		jwt.SigningMethodRS384.Name,
		jwt.SigningMethodRS512.Name,
		jwt.SigningMethodES256.Name,
		jwt.SigningMethodES384.Name,
		jwt.SigningMethodES512.Name,
	}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
	}

	iss, _ := claims.GetIssuer()
	if v.issuer != "" && iss != v.issuer {
		return nil, fmt.Errorf("%w: issuer %q, expected %q", ErrInvalidToken, iss, v.issuer)
	}

	aud, err := claims.GetAudience()
	if err != nil {
		return nil, fmt.Errorf("%w: audience: %w", ErrInvalidToken, err)
	}
	sub, _ := claims.GetSubject()
	exp, _ := claims.GetExpirationTime()

	result := &AccessTokenClaims{
		Subject:  sub,
		Issuer:   iss,
		Audience: aud,
		Expiry:   exp.Time,
		Scopes:   extractScopes(claims),
		ClientID: claimString(claims, "client_id"),
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		result.IssuedAt = iat.Time
	}

	return result, nil
}

func (v *accessTokenVerifier) close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.jwks != nil {
		v.jwks.EndBackground()
		v.jwks = nil
	}
}

// VerifyAccessToken checks the signature, expiry, and issuer of the named
// slot's access token against the provider JWKS and returns its claims.
// Opaque (non-JWT) tokens fail with ErrInvalidToken; use Introspect for those.
// The slot is not renewed or modified.
func (tm *TokenManager) VerifyAccessToken(ctx context.Context, name string) (*AccessTokenClaims, error) {
	ctx = orBackground(ctx)

	rec, err := tm.Record(ctx, name)
	if err != nil {
		return nil, err
	}

	return tm.verifier.verify(rec.AccessToken)
}

// PeekClaims decodes the named slot's access token without verifying its
// signature. Use it for display only; authorization decisions need
// VerifyAccessToken.
func (tm *TokenManager) PeekClaims(ctx context.Context, name string) (map[string]any, error) {
	rec, err := tm.Record(orBackground(ctx), name)
	if err != nil {
		return nil, err
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rec.AccessToken, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	return claims, nil
}

// Close stops the background JWKS refresh started by VerifyAccessToken.
// The manager stays usable; a later verification fetches the keys again.
func (tm *TokenManager) Close() {
	tm.verifier.close()
}

// extractScopes reads "scope" or "scp" as a space-separated string or an array.
// An empty claim falls through to the next name.
func extractScopes(claims jwt.MapClaims) []string {
	for _, name := range []string{"scope", "scp"} {
		var scopes []string
		switch value := claims[name].(type) {
		case string:
			scopes = strings.Fields(value)
		case []any:
			for _, s := range value {
				if str, ok := s.(string); ok && str != "" {
					scopes = append(scopes, str)
				}
			}
		}
		if len(scopes) > 0 {
			return scopes
		}
	}
	return []string{}
}
