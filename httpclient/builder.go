package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// DefaultTimeout is the client timeout used when WithTimeout is not called.
const DefaultTimeout = 30 * time.Second

type tlsFiles struct {
	enabled    bool
	caFile     string
	certFile   string
	keyFile    string
	skipVerify bool
}

// Builder assembles an http.Client that authenticates API calls with tokens
// from a TokenProvider and optionally speaks TLS/mTLS.
type Builder struct {
	tokens   TokenProvider
	tokenRef string

	tls tlsFiles

	timeout         time.Duration
	base            http.RoundTripper
	followRedirects bool
	userAgent       string
}

// NewBuilder creates a builder with a 30s timeout and redirects enabled.
func NewBuilder() *Builder {
	return &Builder{
		timeout:         DefaultTimeout,
		followRedirects: true,
	}
}

// WithTokenManager attaches bearer tokens for ref to every request.
//
// Parameters:
//   - tokens: usually an *oauth2client.TokenManager
//   - ref: slot name or grant kind alias ("2legged", "3legged", "authorization_code", ...)
func (b *Builder) WithTokenManager(tokens TokenProvider, ref string) *Builder {
	b.tokens = tokens
	b.tokenRef = ref
	return b
}

// WithTLS enables TLS for the connection.
//
// Parameters:
//   - caFile: CA certificate for server verification (system roots if empty)
//   - certFile: client certificate for mTLS (must be paired with keyFile)
//   - keyFile: client private key for mTLS (must be paired with certFile)
func (b *Builder) WithTLS(caFile, certFile, keyFile string) *Builder {
	b.tls.enabled = true
	b.tls.caFile = caFile
	b.tls.certFile = certFile
	b.tls.keyFile = keyFile
	return b
}

// WithInsecureSkipVerify disables certificate verification. Tests only.
func (b *Builder) WithInsecureSkipVerify() *Builder {
	b.tls.skipVerify = true
	return b
}

// WithTimeout sets the overall request timeout.
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.timeout = timeout
	return b
}

// WithBaseTransport replaces the transport that actually sends requests.
// TLS settings are ignored when a base transport is given.
func (b *Builder) WithBaseTransport(transport http.RoundTripper) *Builder {
	b.base = transport
	return b
}

// WithUserAgent sets the User-Agent header on requests that have none.
func (b *Builder) WithUserAgent(userAgent string) *Builder {
	b.userAgent = userAgent
	return b
}

// WithoutRedirects returns redirect responses to the caller instead of following them.
func (b *Builder) WithoutRedirects() *Builder {
	b.followRedirects = false
	return b
}

// Build constructs the HTTP client.
//
// Returns:
//   - *http.Client: the configured client
//   - error: when the TLS files cannot be loaded
func (b *Builder) Build() (*http.Client, error) {
	transport, err := b.transport()
	if err != nil {
		return nil, err
	}

	if b.userAgent != "" {
		transport = &userAgentTransport{base: transport, userAgent: b.userAgent}
	}
	if b.tokens != nil {
		transport = NewOAuth2Transport(b.tokens, b.tokenRef, transport)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   b.timeout,
	}
	if !b.followRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return client, nil
}

// transport returns the innermost RoundTripper with TLS applied.
func (b *Builder) transport() (http.RoundTripper, error) {
	if b.base != nil {
		return b.base, nil
	}

	def, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		// http.DefaultTransport was replaced, e.g. by a test stub.
		return http.DefaultTransport, nil
	}

	cloned := def.Clone()
	if b.tls.enabled || b.tls.skipVerify {
		cfg, err := b.tlsConfig()
		if err != nil {
			return nil, fmt.Errorf("httpclient: TLS config failed: %w", err)
		}
		cloned.TLSClientConfig = cfg
	} else {
		cloned.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return cloned, nil
}

func (b *Builder) tlsConfig() (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: b.tls.skipVerify, // #nosec G402
	}

	if b.tls.caFile != "" {
		pem, err := os.ReadFile(b.tls.caFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("failed to parse CA certificate")
		}
		cfg.RootCAs = pool
	}

	switch {
	case b.tls.certFile != "" && b.tls.keyFile != "":
		cert, err := tls.LoadX509KeyPair(b.tls.certFile, b.tls.keyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	case b.tls.certFile != "" || b.tls.keyFile != "":
		return nil, errors.New("both TLS cert and key files must be provided for mTLS")
	}

	return cfg, nil
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	out := req.Clone(req.Context())
	out.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(out)
}

// NewHTTPClient returns a client with default settings that authenticates
// with tokens for ref. Use Builder for TLS or other options.
//
// Example:
//
//	client := httpclient.NewHTTPClient(tm, "2legged")
//	resp, err := client.Get("https://api.example.com/data")
func NewHTTPClient(tokens TokenProvider, ref string) *http.Client {
	return &http.Client{
		Transport: NewOAuth2Transport(tokens, ref, nil),
		Timeout:   DefaultTimeout,
	}
}
