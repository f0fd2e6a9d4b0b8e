package testutil

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

// DefaultScopes is the scopes_supported list served by MockProvider.
var DefaultScopes = []string{"openid", "data:read", "data:write", "account:read"}

// RecordedRequest is a provider request captured by MockProvider.
type RecordedRequest struct {
	Path   string
	Form   url.Values
	Header http.Header
}

// TokenFunc produces the token endpoint response for one request.
// Returning a nil body falls back to the default token response.
type TokenFunc func(form url.Values) (status int, body any)

// MockProvider is an in-process OAuth2/OIDC identity provider. It serves
// discovery, token, revoke, introspect, userinfo, and JWKS endpoints and
// records every request. Access tokens are RS256 JWTs signed with Key.
type MockProvider struct {
	Server *httptest.Server
	URL    string
	Key    *rsa.PrivateKey

	mu        sync.Mutex
	requests  []RecordedRequest
	issued    int
	expiresIn int
	scopes    []string
	rotate    bool
	tokenFunc TokenFunc
	revoke    int
	intro     map[string]any
	userInfo  map[string]any
	offline   bool
	codes     map[string]string
}

// NewMockProvider starts a provider on IPv4 loopback. It is closed on test cleanup.
func NewMockProvider(tb testing.TB) *MockProvider {
	tb.Helper()

	p := &MockProvider{
		Key:       GenerateTestKey(tb),
		expiresIn: 3600,
		scopes:    append([]string(nil), DefaultScopes...),
		rotate:    true,
		revoke:    http.StatusOK,
		userInfo:  map[string]any{"sub": "user-1", "email": "user@example.com", "name": "Test User"},
	}
	jwks := JWKSJSON(tb, &p.Key.PublicKey)

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) { p.handleToken(tb, w, r) })
	mux.HandleFunc("/revoke", p.handleRevoke)
	mux.HandleFunc("/introspect", p.handleIntrospect)
	mux.HandleFunc("/userinfo", p.handleUserInfo)
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		p.record(r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jwks) // Error intentionally ignored in test helper
	})

	p.Server = NewLocalHTTPServer(tb, mux)
	p.URL = p.Server.URL
	tb.Cleanup(p.Server.Close)

	return p
}

// SetExpiresIn changes the expires_in of subsequently issued tokens.
func (p *MockProvider) SetExpiresIn(seconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresIn = seconds
}

// SetCodeScope sets the scope granted when code is redeemed. A token request
// without a scope parameter for that code is issued this scope.
func (p *MockProvider) SetCodeScope(code, scope string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.codes == nil {
		p.codes = make(map[string]string)
	}
	p.codes[code] = scope
}

// SetScopesSupported changes the discovered scopes_supported. A nil list omits the field.
func (p *MockProvider) SetScopesSupported(scopes []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scopes = scopes
}

// SetRefreshRotation controls whether refresh responses carry a new refresh token.
func (p *MockProvider) SetRefreshRotation(rotate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotate = rotate
}

// SetTokenFunc overrides token endpoint responses.
func (p *MockProvider) SetTokenFunc(fn TokenFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenFunc = fn
}

// SetRevokeStatus sets the status returned by the revoke endpoint.
func (p *MockProvider) SetRevokeStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoke = status
}

// SetIntrospection sets the introspection response body.
func (p *MockProvider) SetIntrospection(body map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intro = body
}

// DisableDiscovery makes the discovery endpoint answer 404.
func (p *MockProvider) DisableDiscovery() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offline = true
}

// Requests returns the captured requests for path.
func (p *MockProvider) Requests(path string) []RecordedRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []RecordedRequest
	for _, r := range p.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// LastForm returns the form of the latest request to path, or nil.
func (p *MockProvider) LastForm(path string) url.Values {
	reqs := p.Requests(path)
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1].Form
}

// GrantCount counts token requests with the given grant_type.
func (p *MockProvider) GrantCount(grantType string) int {
	count := 0
	for _, r := range p.Requests("/token") {
		if r.Form.Get("grant_type") == grantType {
			count++
		}
	}
	return count
}

func (p *MockProvider) record(r *http.Request) url.Values {
	_ = r.ParseForm() // Error intentionally ignored in test helper

	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, RecordedRequest{
		Path:   r.URL.Path,
		Form:   r.PostForm,
		Header: r.Header.Clone(),
	})
	return r.PostForm
}

func (p *MockProvider) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	p.record(r)

	p.mu.Lock()
	disabled := p.offline
	scopes := p.scopes
	p.mu.Unlock()

	if disabled {
		http.NotFound(w, r)
		return
	}

	doc := map[string]any{
		"issuer":                 p.URL,
		"authorization_endpoint": p.URL + "/authorize",
		"token_endpoint":         p.URL + "/token",
		"revocation_endpoint":    p.URL + "/revoke",
		"introspection_endpoint": p.URL + "/introspect",
		"userinfo_endpoint":      p.URL + "/userinfo",
		"jwks_uri":               p.URL + "/jwks",
		"end_session_endpoint":   p.URL + "/logout",
	}
	if scopes != nil {
		doc["scopes_supported"] = scopes
	}

	writeJSON(w, http.StatusOK, doc)
}

func (p *MockProvider) handleToken(tb testing.TB, w http.ResponseWriter, r *http.Request) {
	form := p.record(r)

	p.mu.Lock()
	fn := p.tokenFunc
	p.mu.Unlock()

	if fn != nil {
		if status, body := fn(form); body != nil {
			writeJSON(w, status, body)
			return
		}
	}

	writeJSON(w, http.StatusOK, p.issue(tb, form))
}

// issue builds the default token response for form.
func (p *MockProvider) issue(tb testing.TB, form url.Values) map[string]any {
	p.mu.Lock()
	p.issued++
	n := p.issued
	expiresIn := p.expiresIn
	rotate := p.rotate
	granted := p.codes[form.Get("code")]
	p.mu.Unlock()

	grant := form.Get("grant_type")
	subject := "user-1"
	if grant == "client_credentials" {
		subject = ""
	}

	scope := form.Get("scope")
	if scope == "" && grant == "authorization_code" {
		scope = granted
	}
	access := NewJWTClaims(p.URL, subject).
		WithExpiry(time.Now().Add(time.Duration(expiresIn)*time.Second)).
		WithScope(scope).
		WithClaim("client_id", form.Get("client_id")).
		WithClaim("jti", fmt.Sprintf("token-%d", n)).
		SignToken(tb, p.Key)

	resp := map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
	}
	if scope != "" {
		resp["scope"] = scope
	}
	if grant != "client_credentials" && (grant != "refresh_token" || rotate) {
		resp["refresh_token"] = fmt.Sprintf("refresh-%d", n)
	}
	if grant == "authorization_code" {
		resp["id_token"] = fmt.Sprintf("id-%d", n)
	}

	return resp
}

func (p *MockProvider) handleRevoke(w http.ResponseWriter, r *http.Request) {
	p.record(r)

	p.mu.Lock()
	status := p.revoke
	p.mu.Unlock()

	if status >= 200 && status < 300 {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, map[string]string{"error": "invalid_request", "error_description": "revocation rejected"})
}

func (p *MockProvider) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	p.record(r)

	p.mu.Lock()
	body := p.intro
	p.mu.Unlock()

	if body == nil {
		body = map[string]any{
			"active":     true,
			"scope":      "data:read",
			"client_id":  "client-id",
			"token_type": "Bearer",
			"exp":        time.Now().Add(time.Hour).Unix(),
			"iat":        time.Now().Unix(),
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (p *MockProvider) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	p.record(r)

	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		return
	}

	p.mu.Lock()
	body := p.userInfo
	p.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body) // Error intentionally ignored in test helper
}
