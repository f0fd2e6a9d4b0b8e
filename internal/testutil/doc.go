// Package testutil provides test helpers for go-grantx packages.
//
// # Utilities
//
//   - MockProvider: an in-process identity provider with discovery, token,
//     revoke, introspect, userinfo, and JWKS endpoints that records requests
//   - NewLocalHTTPServer: start an httptest server bound to 127.0.0.1
//   - RoundTripFunc and StaticJSONResponse: inline http.RoundTripper stubs
//   - NewJWTClaims / JWKSJSON / GenerateTestKey: sign and publish test JWTs
//   - WriteTestCACert / WriteTestCertAndKey: temporary CA and leaf certificates for TLS tests
package testutil
