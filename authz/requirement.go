package authz

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MatchMode defines how a required list is matched against a token.
type MatchMode string

const (
	// MatchAny is satisfied when one required value is present.
	MatchAny MatchMode = "any"
	// MatchAll is satisfied only when every required value is present.
	MatchAll MatchMode = "all"
)

var (
	defaultRolePaths  = []string{"roles"}
	defaultScopePaths = []string{"scope", "scp"}
)

// ErrInsufficientGrant indicates that a token lacks required scopes or roles.
var ErrInsufficientGrant = errors.New("authz: insufficient grant")

// InsufficientGrantError lists what a token is missing.
type InsufficientGrantError struct {
	MissingScopes []string
	MissingRoles  []string
}

func (e *InsufficientGrantError) Error() string {
	switch {
	case len(e.MissingScopes) > 0 && len(e.MissingRoles) > 0:
		return fmt.Sprintf("authz: token lacks scopes %v and roles %v", e.MissingScopes, e.MissingRoles)
	case len(e.MissingScopes) > 0:
		return fmt.Sprintf("authz: token lacks scopes %v", e.MissingScopes)
	case len(e.MissingRoles) > 0:
		return fmt.Sprintf("authz: token lacks roles %v", e.MissingRoles)
	default:
		return ErrInsufficientGrant.Error()
	}
}

// Is enables errors.Is(err, ErrInsufficientGrant).
func (e *InsufficientGrantError) Is(target error) bool {
	return target == ErrInsufficientGrant
}

// Requirement describes what a token must grant before it is used for a call.
// Both lists empty means no requirement.
//
// Claim paths are dot-separated (e.g. "realm_access.roles"). Defaults:
//   - ScopeMode and RoleMode: all
//   - ScopePaths: ["scope", "scp"]
//   - RolePaths: ["roles"]
//
// Unknown modes are treated as all.
type Requirement struct {
	Scopes    []string
	ScopeMode MatchMode

	Roles    []string
	RoleMode MatchMode

	ScopePaths []string
	RolePaths  []string
}

// Empty reports whether r requires nothing.
func (r Requirement) Empty() bool {
	return len(clean(r.Scopes)) == 0 && len(clean(r.Roles)) == 0
}

// Check evaluates r against token claims. Scopes granted outside the claims
// (for example those recorded at issuance for an opaque token) can be
// passed as granted.
func (r Requirement) Check(claims map[string]any, granted ...string) error {
	if r.Empty() {
		return nil
	}

	scopes := toSet(append(collect(claims, pathsOr(r.ScopePaths, defaultScopePaths)), granted...))
	roles := toSet(collect(claims, pathsOr(r.RolePaths, defaultRolePaths)))

	missingScopes := missing(clean(r.Scopes), scopes, r.ScopeMode)
	missingRoles := missing(clean(r.Roles), roles, r.RoleMode)
	if len(missingScopes) == 0 && len(missingRoles) == 0 {
		return nil
	}

	return &InsufficientGrantError{MissingScopes: missingScopes, MissingRoles: missingRoles}
}

// clean trims values and drops blanks and duplicates, keeping order.
func clean(values []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func pathsOr(paths, defaults []string) []string {
	if p := clean(paths); len(p) > 0 {
		return p
	}
	return defaults
}

func collect(claims map[string]any, paths []string) []string {
	var values []string
	for _, path := range paths {
		if claim, ok := lookup(claims, path); ok {
			values = append(values, flatten(claim)...)
		}
	}
	return values
}

func lookup(claims map[string]any, path string) (any, bool) {
	var current any = claims
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = m[strings.TrimSpace(segment)]; !ok {
			return nil, false
		}
	}
	return current, true
}

// flatten turns a claim into values. Space-separated strings are split and
// objects contribute their keys, the shape some providers use for roles.
func flatten(claim any) []string {
	switch v := claim.(type) {
	case string:
		return strings.Fields(v)
	case []string:
		var out []string
		for _, item := range v {
			out = append(out, strings.Fields(item)...)
		}
		return out
	case []any:
		var out []string
		for _, item := range v {
			out = append(out, flatten(item)...)
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		return keys
	default:
		return nil
	}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func missing(required []string, available map[string]struct{}, mode MatchMode) []string {
	if len(required) == 0 {
		return nil
	}

	if strings.EqualFold(strings.TrimSpace(string(mode)), string(MatchAny)) {
		for _, v := range required {
			if _, ok := available[v]; ok {
				return nil
			}
		}
		return required
	}

	var out []string
	for _, v := range required {
		if _, ok := available[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}
