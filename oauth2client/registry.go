package oauth2client

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// TokenRegistry owns the set of named token slots and the session entries
// backing them. Every mutation goes through Put or Remove, which update the
// session and the name list together: a registered name always has a record
// in the session, and a prefixed session key is registered once Reconcile
// has run.
type TokenRegistry struct {
	session Session
	prefix  string

	mu    sync.Mutex
	names []slotKey
}

// NewTokenRegistry creates an empty registry over session. Call Reconcile
// before use to pick up existing slots.
func NewTokenRegistry(session Session, prefix string) *TokenRegistry {
	if prefix == "" {
		prefix = DefaultNamePrefix
	}
	return &TokenRegistry{session: session, prefix: prefix}
}

// key normalizes a caller-supplied name to its prefixed session key.
// Normalization is idempotent.
func (r *TokenRegistry) key(name string) slotKey {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, r.prefix) {
		return slotKey(name)
	}
	return slotKey(r.prefix + name)
}

// Reconcile rebuilds the name list from the session. Prefixed entries that
// cannot be decoded, or whose expires_at is not after now, are deleted from
// the session. It returns the names it pruned.
func (r *TokenRegistry) Reconcile(ctx context.Context, now time.Time) ([]string, error) {
	keys, err := r.session.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("oauth2client: session keys: %w", err)
	}
	sort.Strings(keys)

	var (
		live   []slotKey
		pruned []string
	)
	for _, k := range keys {
		if !strings.HasPrefix(k, r.prefix) {
			continue
		}

		raw, ok, err := r.session.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("oauth2client: session get %s: %w", k, err)
		}
		if !ok {
			continue
		}

		rec, err := decodeRecord(raw)
		if err != nil || rec.ExpiresAt == 0 || rec.ExpiresAt <= now.Unix() {
			if err := r.session.Delete(ctx, k); err != nil {
				return nil, fmt.Errorf("oauth2client: session delete %s: %w", k, err)
			}
			pruned = append(pruned, k)
			continue
		}

		live = append(live, slotKey(k))
	}

	r.mu.Lock()
	r.names = live
	r.mu.Unlock()

	return pruned, nil
}

// Names returns the registered slot names in registration order.
func (r *TokenRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, len(r.names))
	for i, k := range r.names {
		names[i] = string(k)
	}
	return names
}

func (r *TokenRegistry) keys() []slotKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]slotKey(nil), r.names...)
}

func (r *TokenRegistry) has(k slotKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.indexOf(k) >= 0
}

// indexOf must be called with mu held.
func (r *TokenRegistry) indexOf(k slotKey) int {
	for i, name := range r.names {
		if name == k {
			return i
		}
	}
	return -1
}

// Load returns the record for k. A registered name whose session entry has
// disappeared (deleted by the session owner) is dropped from the registry and
// reported as absent.
func (r *TokenRegistry) Load(ctx context.Context, k slotKey) (*TokenRecord, bool, error) {
	if !r.has(k) {
		return nil, false, nil
	}

	raw, ok, err := r.session.Get(ctx, string(k))
	if err != nil {
		return nil, false, fmt.Errorf("oauth2client: session get %s: %w", k, err)
	}
	if !ok {
		r.forget(k)
		return nil, false, nil
	}

	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, false, err
	}

	return rec, true, nil
}

// Put stores rec under k, replacing any previous record wholesale.
func (r *TokenRegistry) Put(ctx context.Context, k slotKey, rec *TokenRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("oauth2client: encode token record: %w", err)
	}

	if err := r.session.Set(ctx, string(k), raw); err != nil {
		return fmt.Errorf("oauth2client: session set %s: %w", k, err)
	}

	r.mu.Lock()
	if r.indexOf(k) < 0 {
		r.names = append(r.names, k)
	}
	r.mu.Unlock()

	return nil
}

// Remove deletes k from the session and the registry.
func (r *TokenRegistry) Remove(ctx context.Context, k slotKey) error {
	if err := r.session.Delete(ctx, string(k)); err != nil {
		return fmt.Errorf("oauth2client: session delete %s: %w", k, err)
	}
	r.forget(k)
	return nil
}

func (r *TokenRegistry) forget(k slotKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.indexOf(k); i >= 0 {
		r.names = append(r.names[:i], r.names[i+1:]...)
	}
}
