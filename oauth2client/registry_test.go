package oauth2client

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/AmmannChristian/go-grantx/sessionstore"
)

func TestRegistryKey(t *testing.T) {
	r := NewTokenRegistry(sessionstore.NewMemory(), "")

	tests := map[string]slotKey{
		"2legged":        "accapi_2legged",
		"accapi_2legged": "accapi_2legged",
		"  user  ":       "accapi_user",
	}
	for in, want := range tests {
		got := r.key(in)
		if got != want {
			t.Errorf("key(%q) = %q, want %q", in, got, want)
		}
		if again := r.key(string(got)); again != got {
			t.Errorf("key is not idempotent: %q -> %q", got, again)
		}
	}
}

func TestRegistryPutLoadRemove(t *testing.T) {
	ctx := context.Background()
	session := sessionstore.NewMemory()
	r := NewTokenRegistry(session, "p_")

	rec := &TokenRecord{AccessToken: "a", ExpiresAt: 10, Scopes: []string{"s"}, GrantType: GrantClientCredentials}
	if err := r.Put(ctx, "p_one", rec); err != nil {
		t.Fatal(err)
	}
	if err := r.Put(ctx, "p_one", rec); err != nil {
		t.Fatal(err)
	}
	if err := r.Put(ctx, "p_two", rec); err != nil {
		t.Fatal(err)
	}

	if got := r.Names(); !reflect.DeepEqual(got, []string{"p_one", "p_two"}) {
		t.Errorf("Names() = %v", got)
	}

	loaded, ok, err := r.Load(ctx, "p_one")
	if err != nil || !ok {
		t.Fatalf("Load() = %v, %v", ok, err)
	}
	if !reflect.DeepEqual(loaded, rec) {
		t.Errorf("Load() = %+v, want %+v", loaded, rec)
	}

	if err := r.Remove(ctx, "p_one"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := r.Load(ctx, "p_one"); ok {
		t.Error("removed slot should not load")
	}
	if _, ok, _ := session.Get(ctx, "p_one"); ok {
		t.Error("removed slot should be deleted from the session")
	}
}

func TestRegistryLoadCorrupt(t *testing.T) {
	ctx := context.Background()
	session := sessionstore.NewMemory()
	r := NewTokenRegistry(session, "")

	if err := r.Put(ctx, "accapi_x", &TokenRecord{AccessToken: "a", ExpiresAt: 10}); err != nil {
		t.Fatal(err)
	}
	_ = session.Set(ctx, "accapi_x", []byte("garbage"))

	if _, _, err := r.Load(ctx, "accapi_x"); err == nil {
		t.Error("expected decode error")
	}
}

type failingSession struct {
	*sessionstore.Memory
	err error
}

func (s failingSession) Keys(context.Context) ([]string, error) {
	return nil, s.err
}

func TestReconcileSessionError(t *testing.T) {
	boom := errors.New("boom")
	r := NewTokenRegistry(failingSession{Memory: sessionstore.NewMemory(), err: boom}, "")

	if _, err := r.Reconcile(context.Background(), testEpoch); !errors.Is(err, boom) {
		t.Errorf("expected session error, got %v", err)
	}
}
