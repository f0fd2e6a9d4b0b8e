package authz

import (
	"errors"
	"reflect"
	"testing"
)

func TestRequirement_Empty(t *testing.T) {
	if !(Requirement{Scopes: []string{" ", ""}}).Empty() {
		t.Fatal("blank values should not count as requirements")
	}
	if err := (Requirement{}).Check(nil); err != nil {
		t.Fatalf("empty requirement should pass, got %v", err)
	}
}

func TestRequirement_Check(t *testing.T) {
	tests := []struct {
		name       string
		req        Requirement
		claims     map[string]any
		granted    []string
		wantScopes []string
		wantRoles  []string
		wantDenied bool
	}{
		{
			name:   "scope string",
			req:    Requirement{Scopes: []string{"data:read"}},
			claims: map[string]any{"scope": "openid data:read data:write"},
		},
		{
			name:   "scp array",
			req:    Requirement{Scopes: []string{"data:read", "data:write"}},
			claims: map[string]any{"scp": []any{"data:read", "data:write"}},
		},
		{
			name:       "all is the default",
			req:        Requirement{Scopes: []string{"data:read", "data:write"}},
			claims:     map[string]any{"scope": "data:read"},
			wantScopes: []string{"data:write"},
			wantDenied: true,
		},
		{
			name:   "any mode",
			req:    Requirement{Scopes: []string{"data:write", "data:read"}, ScopeMode: MatchAny},
			claims: map[string]any{"scope": "data:read"},
		},
		{
			name:       "any mode reports every value",
			req:        Requirement{Scopes: []string{"a", "b"}, ScopeMode: MatchAny},
			claims:     map[string]any{"scope": "c"},
			wantScopes: []string{"a", "b"},
			wantDenied: true,
		},
		{
			name:    "granted scopes for opaque tokens",
			req:     Requirement{Scopes: []string{"data:read"}},
			granted: []string{"data:read"},
		},
		{
			name:       "unknown mode is strict",
			req:        Requirement{Scopes: []string{"a", "b"}, ScopeMode: "sometimes"},
			claims:     map[string]any{"scope": "a"},
			wantScopes: []string{"b"},
			wantDenied: true,
		},
		{
			name: "nested role paths",
			req: Requirement{
				Roles:     []string{"admin"},
				RolePaths: []string{"realm_access.roles", "resource_access.my-client.roles"},
			},
			claims: map[string]any{
				"realm_access":    map[string]any{"roles": []any{"viewer"}},
				"resource_access": map[string]any{"my-client": map[string]any{"roles": []any{"admin"}}},
			},
		},
		{
			name: "object keys as roles",
			req: Requirement{
				Roles:     []string{"sales-admin", "billing-viewer"},
				RolePaths: []string{"urn:zitadel:iam:org:project:roles"},
			},
			claims: map[string]any{
				"urn:zitadel:iam:org:project:roles": map[string]any{
					"sales-admin":    map[string]any{"org": "1"},
					"billing-viewer": true,
				},
			},
		},
		{
			name:       "missing scopes and roles",
			req:        Requirement{Scopes: []string{"data:write"}, Roles: []string{"admin"}},
			claims:     map[string]any{"scope": "data:read", "roles": []string{"viewer"}},
			wantScopes: []string{"data:write"},
			wantRoles:  []string{"admin"},
			wantDenied: true,
		},
		{
			name:       "path through a non-object",
			req:        Requirement{Roles: []string{"admin"}, RolePaths: []string{"roles.admin"}},
			claims:     map[string]any{"roles": "admin"},
			wantRoles:  []string{"admin"},
			wantDenied: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Check(tt.claims, tt.granted...)
			if !tt.wantDenied {
				if err != nil {
					t.Fatalf("Check() error = %v", err)
				}
				return
			}

			if !errors.Is(err, ErrInsufficientGrant) {
				t.Fatalf("Check() error = %v, want ErrInsufficientGrant", err)
			}
			var grantErr *InsufficientGrantError
			if !errors.As(err, &grantErr) {
				t.Fatalf("error type = %T", err)
			}
			if !reflect.DeepEqual(grantErr.MissingScopes, tt.wantScopes) {
				t.Errorf("MissingScopes = %v, want %v", grantErr.MissingScopes, tt.wantScopes)
			}
			if !reflect.DeepEqual(grantErr.MissingRoles, tt.wantRoles) {
				t.Errorf("MissingRoles = %v, want %v", grantErr.MissingRoles, tt.wantRoles)
			}
		})
	}
}

func TestInsufficientGrantError_Error(t *testing.T) {
	tests := []struct {
		err  *InsufficientGrantError
		want string
	}{
		{err: &InsufficientGrantError{MissingScopes: []string{"a"}}, want: "authz: token lacks scopes [a]"},
		{err: &InsufficientGrantError{MissingRoles: []string{"r"}}, want: "authz: token lacks roles [r]"},
		{err: &InsufficientGrantError{MissingScopes: []string{"a"}, MissingRoles: []string{"r"}}, want: "authz: token lacks scopes [a] and roles [r]"},
		{err: &InsufficientGrantError{}, want: "authz: insufficient grant"},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
