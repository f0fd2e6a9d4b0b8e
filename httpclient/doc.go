// Package httpclient builds HTTP clients that call APIs with tokens managed by
// oauth2client.
//
// A client is bound to a token reference: a slot name such as
// "accapi_3legged" or a grant kind alias such as "2legged" or
// "authorization_code". Before each request the transport asks the
// TokenProvider for that slot's token, which renews it when it has expired.
// WithTokenRef switches the slot for a single request.
//
// # Features
//
//   - Fluent builder for http.Client with bearer token injection
//   - Per-request slot selection through the request context
//   - TLS 1.2+ by default, with custom CA/mTLS and optional InsecureSkipVerify
//   - Custom timeouts, base transport override, default User-Agent, and redirect disabling
//   - Reusable OAuth2Transport for manual composition
//
// # Quick Start
//
//	tm, err := oauth2client.NewTokenManager(ctx, sessionstore.NewMemory(), creds)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := tm.RequestClientCredentialsToken(ctx, []string{"data:read"}, ""); err != nil {
//	    log.Fatal(err)
//	}
//
//	client, err := httpclient.NewBuilder().
//	    WithTokenManager(tm, "2legged").
//	    WithTLS("/path/to/ca.crt", "", "").
//	    WithTimeout(60 * time.Second).
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := client.Get("https://api.example.com/data")
//
// # Acting for a user
//
//	ctx = httpclient.WithTokenRef(ctx, "3legged")
//	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.example.com/me", nil)
//	resp, err := client.Do(req)
//
// Token errors are returned from the request wrapped with the reference, so
// errors.Is(err, oauth2client.ErrReauthorizationRequired) tells the caller to
// send the user through the authorization flow again.
package httpclient
