package oauth2client

import (
	"context"

	"github.com/AmmannChristian/go-grantx/authz"
	"github.com/golang-jwt/jwt/v5"
)

// Require checks that the named slot's token grants what req lists. Scopes
// recorded at issuance always count, so opaque tokens are checked against
// them alone; JWT access tokens also contribute their scope and role claims.
// The slot is not renewed. A shortfall returns an error matching
// authz.ErrInsufficientGrant.
func (tm *TokenManager) Require(ctx context.Context, name string, req authz.Requirement) error {
	rec, err := tm.Record(orBackground(ctx), name)
	if err != nil {
		return err
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rec.AccessToken, claims); err != nil {
		claims = nil
	}

	return req.Check(claims, rec.Scopes...)
}
