// Package authz checks whether a token grants what an API call needs.
//
// A Requirement lists scopes and roles, matched with "any" or "all"
// semantics against token claims. Claim paths may be nested
// ("resource_access.my-client.roles"), and claims may be space-separated
// strings, arrays, or objects whose keys are the values.
//
// oauth2client.TokenManager.Require runs a Requirement against a managed
// slot, so a client can fail early with ErrInsufficientGrant instead of
// sending a request the API will reject.
package authz
