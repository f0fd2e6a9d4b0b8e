// Package grpcclient provides a fluent builder for gRPC client connections
// that authenticate calls with tokens managed by oauth2client.
//
// It defaults to TLS 1.2+ using system roots to avoid accidental plaintext
// connections. WithTokenManager installs unary and stream interceptors that
// put "authorization: Bearer <token>" into the outgoing metadata, renewing
// the slot's token first when it has expired.
//
// # Features
//
//   - Fluent builder for gRPC clients
//   - Bearer tokens from any slot: client credentials, authorization code, or PKCE
//   - Secure-by-default TLS; optional custom CA and mTLS
//   - Plaintext only on explicit request via WithInsecure
//   - Additional dial options via WithDialOptions
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
//	conn, err := grpcclient.NewBuilder().
//	    WithAddress("server.example.com:9090").
//	    WithTokenManager(tm, "2legged").
//	    WithTLS("/path/to/ca.crt", "", "", "server.example.com").
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	client := pb.NewYourServiceClient(conn)
//
// # TLS Behavior
//
// WithTLS supplies a custom root CA and optional client cert/key for mTLS;
// both cert and key must be provided together.
package grpcclient
