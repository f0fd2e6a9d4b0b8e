package oauth2client

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/AmmannChristian/go-grantx/internal/testutil"
	"github.com/AmmannChristian/go-grantx/sessionstore"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var testEpoch = time.Unix(1_700_000_000, 0)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testCredentials() Credentials {
	return Credentials{
		ClientID:              "client-id",
		ClientSecret:          "client-secret",
		RedirectURL:           "https://app.example.com/callback",
		PostLogoutRedirectURL: "https://app.example.com/",
	}
}

type fixture struct {
	tm       *TokenManager
	provider *testutil.MockProvider
	clock    *fakeClock
	session  *sessionstore.Memory
}

// newFixture builds a manager against a fresh mock provider.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWith(t, testutil.NewMockProvider(t), sessionstore.NewMemory(), testCredentials(), opts...)
}

func newFixtureWith(t *testing.T, provider *testutil.MockProvider, session *sessionstore.Memory, creds Credentials, opts ...Option) *fixture {
	t.Helper()

	clock := newFakeClock()
	base := []Option{
		WithIssuer(provider.URL),
		WithHTTPClient(provider.Server.Client()),
		WithClock(clock.Now),
	}

	tm, err := NewTokenManager(context.Background(), session, creds, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewTokenManager() error = %v", err)
	}
	t.Cleanup(tm.Close)

	return &fixture{tm: tm, provider: provider, clock: clock, session: session}
}

// putRecord writes rec straight into the session, bypassing the manager.
func putRecord(t *testing.T, session *sessionstore.Memory, key string, rec TokenRecord) {
	t.Helper()

	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	if err := session.Set(context.Background(), key, raw); err != nil {
		t.Fatalf("session set: %v", err)
	}
}

// authCodeWithoutRefresh makes the provider omit refresh tokens for the
// authorization_code grant.
func authCodeWithoutRefresh(provider *testutil.MockProvider) {
	provider.SetTokenFunc(func(form url.Values) (int, any) {
		if form.Get("grant_type") != "authorization_code" {
			return 0, nil
		}
		return 200, map[string]any{
			"access_token": "user-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
	})
}

// observedLogger records warnings and above.
func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.WarnLevel)
	return zap.New(core), logs
}

// assertDroppedWarning checks that exactly one warning named msg listed want
// as the dropped scopes.
func assertDroppedWarning(t *testing.T, logs *observer.ObservedLogs, msg string, want []string) {
	t.Helper()

	entries := logs.FilterMessage(msg).All()
	if len(entries) != 1 {
		t.Fatalf("got %d %q warnings, want 1 (all: %v)", len(entries), msg, logs.All())
	}

	got, ok := entries[0].ContextMap()["dropped"].([]interface{})
	if !ok {
		t.Fatalf("dropped field = %#v, want a list", entries[0].ContextMap()["dropped"])
	}
	if len(got) != len(want) {
		t.Fatalf("dropped = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dropped[%d] = %v, want %s", i, got[i], want[i])
		}
	}
}
