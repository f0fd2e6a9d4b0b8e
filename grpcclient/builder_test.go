package grpcclient

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/AmmannChristian/go-grantx/internal/testutil"
	"github.com/AmmannChristian/go-grantx/oauth2client"
	"github.com/AmmannChristian/go-grantx/sessionstore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
)

// fakeInterceptors records the references it was asked for.
type fakeInterceptors struct {
	mu   sync.Mutex
	refs []string
}

func (f *fakeInterceptors) record(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs = append(f.refs, ref)
}

func (f *fakeInterceptors) UnaryClientInterceptor(ref string) grpc.UnaryClientInterceptor {
	f.record(ref)
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func (f *fakeInterceptors) StreamClientInterceptor(ref string) grpc.StreamClientInterceptor {
	f.record(ref)
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		return streamer(ctx, desc, cc, method, opts...)
	}
}

func TestBuilder_Options(t *testing.T) {
	tokens := &fakeInterceptors{}

	builder := NewBuilder().
		WithAddress("localhost:9090").
		WithTokenManager(tokens, "3legged").
		WithTLS("/path/to/ca.crt", "/path/to/cert.crt", "/path/to/key.pem", "server.example.com").
		WithDialOptions(grpc.WithDisableRetry(), grpc.WithDisableHealthCheck())

	if builder.address != "localhost:9090" {
		t.Errorf("address = %q", builder.address)
	}
	if builder.tokens != tokens || builder.tokenRef != "3legged" {
		t.Error("token interceptors not set")
	}
	want := tlsFiles{enabled: true, caFile: "/path/to/ca.crt", certFile: "/path/to/cert.crt", keyFile: "/path/to/key.pem", serverName: "server.example.com"}
	if builder.tls != want {
		t.Errorf("tls = %+v, want %+v", builder.tls, want)
	}
	if len(builder.dialOpts) != 2 {
		t.Errorf("expected 2 dial options, got %d", len(builder.dialOpts))
	}
}

func TestBuilder_Build_Errors(t *testing.T) {
	tests := []struct {
		name    string
		builder *Builder
		wantErr string
	}{
		{name: "no address", builder: NewBuilder(), wantErr: "grpcclient: server address is required"},
		{name: "tls and insecure", builder: NewBuilder().WithAddress("localhost:9090").WithTLS("", "", "", "").WithInsecure(), wantErr: "mutually exclusive"},
		{name: "bad tls", builder: NewBuilder().WithAddress("localhost:9090").WithTLS("/nonexistent/ca.crt", "", "", ""), wantErr: "grpcclient: TLS config failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Build() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestBuilder_Build_WithTokenManager(t *testing.T) {
	tokens := &fakeInterceptors{}

	conn, err := NewBuilder().
		WithAddress("localhost:9090").
		WithTokenManager(tokens, "2legged").
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer conn.Close()

	if len(tokens.refs) != 2 || tokens.refs[0] != "2legged" || tokens.refs[1] != "2legged" {
		t.Errorf("interceptors requested for %v, want unary and stream for 2legged", tokens.refs)
	}
}

func TestBuilder_TLSConfig(t *testing.T) {
	dir := t.TempDir()
	caFile := filepath.Join(dir, "ca.crt")
	certFile := filepath.Join(dir, "client.crt")
	keyFile := filepath.Join(dir, "client.key")
	badFile := filepath.Join(dir, "bad.pem")

	testutil.WriteTestCACert(t, caFile)
	testutil.WriteTestCertAndKey(t, certFile, keyFile)
	if err := os.WriteFile(badFile, []byte("invalid"), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	tests := []struct {
		name      string
		files     tlsFiles
		wantErr   string
		wantRoots bool
		wantCerts bool
	}{
		{name: "system roots", files: tlsFiles{enabled: true, serverName: "server.example.com"}},
		{name: "custom CA", files: tlsFiles{enabled: true, caFile: caFile}, wantRoots: true},
		{name: "mutual TLS", files: tlsFiles{enabled: true, caFile: caFile, certFile: certFile, keyFile: keyFile}, wantRoots: true, wantCerts: true},
		{name: "missing CA", files: tlsFiles{enabled: true, caFile: "/nonexistent/ca.crt"}, wantErr: "read CA file"},
		{name: "invalid CA", files: tlsFiles{enabled: true, caFile: badFile}, wantErr: "failed to parse CA certificate"},
		{name: "cert only", files: tlsFiles{enabled: true, certFile: certFile}, wantErr: "both TLS cert and key"},
		{name: "key only", files: tlsFiles{enabled: true, keyFile: keyFile}, wantErr: "both TLS cert and key"},
		{name: "invalid pair", files: tlsFiles{enabled: true, certFile: badFile, keyFile: caFile}, wantErr: "load client certificate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builder := NewBuilder()
			builder.tls = tt.files

			cfg, err := builder.tlsConfig()
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("tlsConfig() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("tlsConfig() error = %v", err)
			}

			if cfg.MinVersion == 0 {
				t.Error("MinVersion should be set")
			}
			if cfg.ServerName != tt.files.serverName {
				t.Errorf("ServerName = %q, want %q", cfg.ServerName, tt.files.serverName)
			}
			if (cfg.RootCAs != nil) != tt.wantRoots {
				t.Errorf("RootCAs set = %v, want %v", cfg.RootCAs != nil, tt.wantRoots)
			}
			if (len(cfg.Certificates) > 0) != tt.wantCerts {
				t.Errorf("Certificates = %d, want present=%v", len(cfg.Certificates), tt.wantCerts)
			}
		})
	}
}

func TestBuilder_Build_SendsManagedToken(t *testing.T) {
	provider := testutil.NewMockProvider(t)
	ctx := context.Background()

	tm, err := oauth2client.NewTokenManager(ctx, sessionstore.NewMemory(),
		oauth2client.Credentials{ClientID: "client-id", ClientSecret: "client-secret"},
		oauth2client.WithIssuer(provider.URL),
		oauth2client.WithHTTPClient(provider.Server.Client()),
	)
	if err != nil {
		t.Fatalf("NewTokenManager() error = %v", err)
	}
	t.Cleanup(tm.Close)

	if _, err := tm.RequestClientCredentialsToken(ctx, []string{"data:read"}, ""); err != nil {
		t.Fatalf("RequestClientCredentialsToken() error = %v", err)
	}
	want, err := tm.AccessToken(ctx, oauth2client.DefaultClientCredentials)
	if err != nil {
		t.Fatalf("AccessToken() error = %v", err)
	}

	var (
		mu      sync.Mutex
		gotAuth []string
	)
	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.UnaryInterceptor(func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		mu.Lock()
		gotAuth = md.Get("authorization")
		mu.Unlock()
		return handler(ctx, req)
	}))
	healthpb.RegisterHealthServer(server, health.NewServer())
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := NewBuilder().
		WithAddress("passthrough:///bufnet").
		WithTokenManager(tm, "2legged").
		WithInsecure().
		WithDialOptions(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		})).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.GetStatus())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gotAuth) != 1 || gotAuth[0] != "Bearer "+want {
		t.Errorf("authorization metadata = %v, want Bearer token", gotAuth)
	}
}

func BenchmarkBuilder_Build(b *testing.B) {
	tokens := &fakeInterceptors{}
	for i := 0; i < b.N; i++ {
		conn, err := NewBuilder().WithAddress("localhost:9090").WithTokenManager(tokens, "2legged").Build()
		if err != nil {
			b.Fatalf("Build failed: %v", err)
		}
		_ = conn.Close()
	}
}
