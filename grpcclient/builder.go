package grpcclient

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// TokenInterceptors produces interceptors that attach a bearer token for a
// slot reference. *oauth2client.TokenManager satisfies it.
type TokenInterceptors interface {
	UnaryClientInterceptor(ref string) grpc.UnaryClientInterceptor
	StreamClientInterceptor(ref string) grpc.StreamClientInterceptor
}

type tlsFiles struct {
	enabled    bool
	caFile     string
	certFile   string
	keyFile    string
	serverName string
}

// Builder assembles a gRPC client connection that authenticates calls with
// managed tokens. Connections use TLS with system roots unless configured
// otherwise.
type Builder struct {
	address string

	tokens   TokenInterceptors
	tokenRef string

	tls      tlsFiles
	insecure bool

	dialOpts []grpc.DialOption
}

// NewBuilder creates a new gRPC client builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithAddress sets the server address (e.g., "server.example.com:9090").
func (b *Builder) WithAddress(address string) *Builder {
	b.address = address
	return b
}

// WithTokenManager attaches a bearer token for ref to every unary and
// streaming call.
//
// Parameters:
//   - tokens: usually an *oauth2client.TokenManager
//   - ref: slot name or grant kind alias ("2legged", "3legged", "authorization_code", ...)
func (b *Builder) WithTokenManager(tokens TokenInterceptors, ref string) *Builder {
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
//   - serverName: expected server name, overrides SNI when set
func (b *Builder) WithTLS(caFile, certFile, keyFile, serverName string) *Builder {
	b.tls = tlsFiles{
		enabled:    true,
		caFile:     caFile,
		certFile:   certFile,
		keyFile:    keyFile,
		serverName: serverName,
	}
	return b
}

// WithInsecure uses plaintext transport. Bearer tokens are then sent in the
// clear, so this is for local development and tests only.
func (b *Builder) WithInsecure() *Builder {
	b.insecure = true
	return b
}

// WithDialOptions adds custom dial options, applied after the builder's own.
func (b *Builder) WithDialOptions(opts ...grpc.DialOption) *Builder {
	b.dialOpts = append(b.dialOpts, opts...)
	return b
}

// Build creates the client connection. The connection is lazy; no network
// traffic happens until the first call.
//
// Returns:
//   - *grpc.ClientConn: the client connection
//   - error: when the address is missing or the TLS files cannot be loaded
func (b *Builder) Build() (*grpc.ClientConn, error) {
	if b.address == "" {
		return nil, errors.New("grpcclient: server address is required")
	}
	if b.insecure && b.tls.enabled {
		return nil, errors.New("grpcclient: WithTLS and WithInsecure are mutually exclusive")
	}

	opts, err := b.dialOptions()
	if err != nil {
		return nil, err
	}

	conn, err := grpc.NewClient(b.address, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpcclient: dial failed: %w", err)
	}
	return conn, nil
}

func (b *Builder) dialOptions() ([]grpc.DialOption, error) {
	var opts []grpc.DialOption

	if b.tokens != nil {
		opts = append(opts,
			grpc.WithChainUnaryInterceptor(b.tokens.UnaryClientInterceptor(b.tokenRef)),
			grpc.WithChainStreamInterceptor(b.tokens.StreamClientInterceptor(b.tokenRef)),
		)
	}

	switch {
	case b.insecure:
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	case b.tls.enabled:
		cfg, err := b.tlsConfig()
		if err != nil {
			return nil, fmt.Errorf("grpcclient: TLS config failed: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(cfg)))
	default:
		// System roots; plaintext must be requested explicitly.
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})))
	}

	return append(opts, b.dialOpts...), nil
}

func (b *Builder) tlsConfig() (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: b.tls.serverName,
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
