// Package config loads go-grantx settings from the environment (and an
// optional config file) with Viper and turns them into a ready TokenManager.
//
// # Environment Variables
//
// Every key is read with the GRANTX_ prefix, for example GRANTX_CLIENT_ID.
//
//   - CLIENT_ID, CLIENT_SECRET: client credentials (CLIENT_ID is required)
//   - CALLBACK_URL: redirect URI registered for authorization code flows
//   - LOGOUT_URL: post-logout redirect URI
//   - ISSUER: provider issuer for discovery. Default: oauth2client.DefaultIssuer
//   - TOKEN_PREFIX: slot name prefix. Default: accapi_
//   - USER_AGENT: User-Agent sent to the provider
//   - REQUEST_TIMEOUT, EXPIRY_LEEWAY: durations such as "10s"
//   - LENIENT_SCOPES: drop unsupported scopes instead of failing
//   - LOG_LEVEL: debug, info, warn, error. Default: info
//   - STORE_TYPE: memory, redis, sqlite, postgres, mysql. Default: memory
//   - SESSION_NAMESPACE: namespace for redis and SQL stores. Default: default
//   - REDIS_ADDR, REDIS_PASSWORD, REDIS_DB: redis connection
//   - DSN: database connection string for SQL stores
//
// GRANTX_CONFIG_FILE names a YAML, JSON, or TOML file read before the
// environment; environment variables win.
//
// # Example Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	tm, err := cfg.NewTokenManager(ctx)
package config
