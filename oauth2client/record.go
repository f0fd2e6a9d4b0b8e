package oauth2client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GrantType identifies the OAuth2 mechanism a token was obtained with.
type GrantType string

const (
	// GrantClientCredentials is the application ("2-legged") grant.
	GrantClientCredentials GrantType = "client_credentials"
	// GrantAuthorizationCode is the user ("3-legged") grant, with or without PKCE.
	GrantAuthorizationCode GrantType = "authorization_code"
	// GrantRefresh is the refresh-token exchange. It is never stored as a slot
	// kind: a refreshed slot keeps the grant it was originally acquired with.
	GrantRefresh GrantType = "refresh_token"
)

// ClientType records how the client authenticated when the slot was acquired.
// Refresh and revocation reuse it to pick the right authentication method.
type ClientType string

const (
	ClientConfidential ClientType = "confidential"
	ClientPublic       ClientType = "public"
)

// TokenTypeHint selects which token of a slot revocation targets.
type TokenTypeHint string

const (
	HintAccessToken  TokenTypeHint = "access_token"
	HintRefreshToken TokenTypeHint = "refresh_token"
)

// Default slot names used when callers pass an empty name.
const (
	DefaultNamePrefix        = "accapi_"
	DefaultClientCredentials = "2legged"
	DefaultAuthorizationCode = "3legged"
	DefaultPublicPKCE        = "3legged_public"
)

// TokenRecord is the persisted state of one named token slot.
//
// ExpiresAt is fixed when the exchange succeeds and is never recomputed;
// it is the only input to validity checks.
type TokenRecord struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	TokenType    string     `json:"token_type"`
	IDToken      string     `json:"id_token,omitempty"`
	ExpiresIn    int64      `json:"expires_in"`
	ExpiresAt    int64      `json:"expires_at"`
	Scopes       []string   `json:"scopes"`
	GrantType    GrantType  `json:"grant_type"`
	ClientType   ClientType `json:"client_type,omitempty"`
}

// Expiry returns ExpiresAt as a time.Time.
func (r *TokenRecord) Expiry() time.Time {
	return time.Unix(r.ExpiresAt, 0)
}

func (r *TokenRecord) clone() *TokenRecord {
	c := *r
	c.Scopes = append([]string(nil), r.Scopes...)
	return &c
}

func decodeRecord(raw []byte) (*TokenRecord, error) {
	var rec TokenRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("oauth2client: invalid token record: %w", err)
	}
	return &rec, nil
}

// Session is the caller-supplied key-value store holding token slots.
// It may be shared with unrelated data; only prefixed keys are touched.
// Implementations are expected to be owned by a single caller (for example,
// scoped to one user session) rather than shared across tenants.
type Session interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// slotKey is a prefixed session key owned by the manager. Values of this type
// are only produced by TokenRegistry.key, so caller data sharing the session
// cannot be mistaken for a slot.
type slotKey string

// expiresIn accepts both numeric and string encodings of the token
// response's expires_in field.
type expiresIn int64

func (e *expiresIn) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*e = 0
		return nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*e = expiresIn(n)
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid expires_in %q", raw)
	}
	*e = expiresIn(f)
	return nil
}

// tokenResponse is the wire shape of a successful token endpoint response.
type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	IDToken      string    `json:"id_token"`
	ExpiresIn    expiresIn `json:"expires_in"`
	Scope        string    `json:"scope"`
}
