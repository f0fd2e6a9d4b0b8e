package oauth2client

import "strings"

// ScopeNegotiator filters requested scopes against the provider's supported set.
//
// In strict mode (the default) any unsupported scope fails the negotiation and
// the error lists every rejected scope. Lenient mode drops unsupported scopes
// and only fails when nothing is left. Both modes fail before any network call.
type ScopeNegotiator struct {
	supported map[string]struct{}
	lenient   bool
}

// NewScopeNegotiator creates a negotiator for the given supported scopes.
func NewScopeNegotiator(supported []string, lenient bool) *ScopeNegotiator {
	set := make(map[string]struct{}, len(supported))
	for _, scope := range normalizeScopes(supported) {
		set[scope] = struct{}{}
	}
	return &ScopeNegotiator{supported: set, lenient: lenient}
}

// Supports reports whether scope is in the supported set.
func (n *ScopeNegotiator) Supports(scope string) bool {
	_, ok := n.supported[scope]
	return ok
}

// Negotiate returns the usable subset of requested in request order.
// Dropped reports the scopes removed in lenient mode.
func (n *ScopeNegotiator) Negotiate(requested []string) (usable, dropped []string, err error) {
	normalized := normalizeScopes(requested)

	usable = make([]string, 0, len(normalized))
	for _, scope := range normalized {
		if n.Supports(scope) {
			usable = append(usable, scope)
		} else {
			dropped = append(dropped, scope)
		}
	}

	if len(usable) == 0 {
		return nil, nil, &ScopeError{Requested: normalized, Rejected: dropped, Empty: true}
	}
	if len(dropped) > 0 && !n.lenient {
		return nil, nil, &ScopeError{Requested: normalized, Rejected: dropped}
	}

	return usable, dropped, nil
}

// normalizeScopes splits whitespace-joined entries, trims and de-duplicates
// while keeping first-seen order.
func normalizeScopes(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	result := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		for _, scope := range strings.Fields(value) {
			if _, ok := seen[scope]; ok {
				continue
			}
			seen[scope] = struct{}{}
			result = append(result, scope)
		}
	}

	if len(result) == 0 {
		return nil
	}

	return result
}
