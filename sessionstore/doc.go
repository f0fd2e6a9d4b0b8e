// Package sessionstore provides Session implementations for oauth2client.
//
// A session is a small key-value map owned by one caller, typically one user
// session of a web application. The token manager keeps its slots in it
// under prefixed keys and leaves every other key alone.
//
// # Backends
//
//   - Memory: process-local map, the default for CLIs and tests
//   - Redis: one key per entry under a namespace (go-redis v9)
//   - GORM: one row per entry in SQLite, PostgreSQL, or MySQL
//
// # Quick Start
//
//	db, err := sessionstore.OpenGORM("sqlite", "tokens.db", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	session, err := sessionstore.NewGORM(db, "user-42")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	tm, err := oauth2client.NewTokenManager(ctx, session, creds)
//
// Namespaces isolate sessions that share one Redis database or table.
package sessionstore
