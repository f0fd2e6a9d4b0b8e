package oauth2client

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const tracerName = "github.com/AmmannChristian/go-grantx/oauth2client"

// Option is a functional option for configuring TokenManager.
type Option func(*TokenManager)

// WithLogger sets a zap logger for token lifecycle events.
// If not set, no logging will occur. Token values are never logged.
func WithLogger(logger *zap.Logger) Option {
	return func(tm *TokenManager) {
		if logger != nil {
			tm.logger = logger
		}
	}
}

// WithLoggingEnabled enables logging with a zap production logger.
func WithLoggingEnabled() Option {
	return func(tm *TokenManager) {
		if logger, err := zap.NewProduction(); err == nil {
			tm.logger = logger
		}
	}
}

// WithHTTPClient sets the HTTP client used for every provider request.
// The default client has a 30 second timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(tm *TokenManager) {
		if client != nil {
			tm.httpClient = client
		}
	}
}

// WithRequestTimeout bounds each provider round trip independently of the
// HTTP client timeout.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(tm *TokenManager) {
		tm.requestTimeout = timeout
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(tm *TokenManager) {
		if now != nil {
			tm.now = now
		}
	}
}

// WithExpiryLeeway treats tokens as expired this long before expires_at.
// The default is zero.
func WithExpiryLeeway(leeway time.Duration) Option {
	return func(tm *TokenManager) {
		tm.expiryLeeway = leeway
	}
}

// WithIssuer sets the issuer whose openid-configuration is fetched at
// construction. Defaults to DefaultIssuer.
func WithIssuer(issuer string) Option {
	return func(tm *TokenManager) {
		tm.issuer = issuer
	}
}

// WithDiscoveryDocument skips the discovery fetch and uses doc as is.
func WithDiscoveryDocument(doc DiscoveryDocument) Option {
	return func(tm *TokenManager) {
		d := doc.clone()
		tm.staticDiscovery = &d
	}
}

// WithFallbackDiscovery replaces the static document used when discovery fails.
func WithFallbackDiscovery(doc DiscoveryDocument) Option {
	return func(tm *TokenManager) {
		tm.fallback = doc.clone()
	}
}

// WithLenientScopes drops unsupported scopes instead of failing. Negotiation
// still fails when no supported scope remains.
func WithLenientScopes() Option {
	return func(tm *TokenManager) {
		tm.lenientScopes = true
	}
}

// WithNamePrefix sets the prefix distinguishing managed slots from other
// session data. Defaults to DefaultNamePrefix.
func WithNamePrefix(prefix string) Option {
	return func(tm *TokenManager) {
		if prefix != "" {
			tm.prefix = prefix
		}
	}
}

// WithUserAgent overrides the User-Agent sent to the provider.
func WithUserAgent(userAgent string) Option {
	return func(tm *TokenManager) {
		tm.userAgent = userAgent
	}
}

// WithTracerProvider enables OpenTelemetry spans for provider requests.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(tm *TokenManager) {
		if tp != nil {
			tm.tracer = tp.Tracer(tracerName)
		}
	}
}

func defaultTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer(tracerName)
}
