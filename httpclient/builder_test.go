package httpclient

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AmmannChristian/go-grantx/internal/testutil"
)

func TestNewBuilder(t *testing.T) {
	builder := NewBuilder()

	if builder.timeout != DefaultTimeout {
		t.Errorf("expected default timeout %v, got %v", DefaultTimeout, builder.timeout)
	}
	if !builder.followRedirects {
		t.Error("redirects should be enabled by default")
	}
}

func TestBuilder_Options(t *testing.T) {
	tokens := &fakeTokens{}
	base := testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) { return okResponse(req), nil })

	builder := NewBuilder().
		WithTokenManager(tokens, "3legged").
		WithTLS("ca.crt", "client.crt", "client.key").
		WithInsecureSkipVerify().
		WithTimeout(5 * time.Second).
		WithBaseTransport(base).
		WithUserAgent("grantx-test").
		WithoutRedirects()

	if builder.tokens != tokens || builder.tokenRef != "3legged" {
		t.Error("token provider not set")
	}
	want := tlsFiles{enabled: true, caFile: "ca.crt", certFile: "client.crt", keyFile: "client.key", skipVerify: true}
	if builder.tls != want {
		t.Errorf("tls = %+v, want %+v", builder.tls, want)
	}
	if builder.timeout != 5*time.Second {
		t.Errorf("timeout = %v", builder.timeout)
	}
	if builder.base == nil || builder.userAgent != "grantx-test" || builder.followRedirects {
		t.Error("transport options not set")
	}
}

func TestBuilder_Build_Simple(t *testing.T) {
	client, err := NewBuilder().Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	if transport.TLSClientConfig == nil || transport.TLSClientConfig.MinVersion == 0 {
		t.Error("TLS 1.2 minimum should be set by default")
	}
	if client.CheckRedirect != nil {
		t.Error("default client should follow redirects")
	}
}

func TestBuilder_Build_WithoutRedirects(t *testing.T) {
	client, err := NewBuilder().WithoutRedirects().Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if client.CheckRedirect == nil {
		t.Fatal("CheckRedirect should be set")
	}
	if err := client.CheckRedirect(nil, nil); err != http.ErrUseLastResponse {
		t.Errorf("CheckRedirect() = %v, want ErrUseLastResponse", err)
	}
}

func TestBuilder_Build_TokenAndUserAgent(t *testing.T) {
	tokens := &fakeTokens{tokens: map[string]string{"authorization_code": "user-token"}}

	var header http.Header
	base := testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		header = req.Header.Clone()
		return okResponse(req), nil
	})

	client, err := NewBuilder().
		WithTokenManager(tokens, "authorization_code").
		WithBaseTransport(base).
		WithUserAgent("grantx-test/1.0").
		WithTimeout(10 * time.Second).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if client.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v", client.Timeout)
	}

	resp, err := client.Get("https://api.example.com/me")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if header.Get("Authorization") != "Bearer user-token" {
		t.Errorf("Authorization = %q", header.Get("Authorization"))
	}
	if header.Get("User-Agent") != "grantx-test/1.0" {
		t.Errorf("User-Agent = %q", header.Get("User-Agent"))
	}
}

func TestBuilder_Build_UserAgentKeepsCallerValue(t *testing.T) {
	var got string
	base := testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		got = req.Header.Get("User-Agent")
		return okResponse(req), nil
	})

	client, err := NewBuilder().WithBaseTransport(base).WithUserAgent("default-agent").Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com", nil)
	req.Header.Set("User-Agent", "caller-agent")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if got != "caller-agent" {
		t.Errorf("User-Agent = %q, want caller-agent", got)
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
	if err := os.WriteFile(badFile, []byte("invalid content"), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	tests := []struct {
		name      string
		files     tlsFiles
		wantErr   string
		wantRoots bool
		wantCerts bool
		wantSkip  bool
	}{
		{name: "system roots", files: tlsFiles{enabled: true}},
		{name: "skip verify", files: tlsFiles{skipVerify: true}, wantSkip: true},
		{name: "custom CA", files: tlsFiles{enabled: true, caFile: caFile}, wantRoots: true},
		{name: "mutual TLS", files: tlsFiles{enabled: true, caFile: caFile, certFile: certFile, keyFile: keyFile}, wantRoots: true, wantCerts: true},
		{name: "missing CA", files: tlsFiles{enabled: true, caFile: filepath.Join(dir, "missing.crt")}, wantErr: "read CA file"},
		{name: "invalid CA", files: tlsFiles{enabled: true, caFile: badFile}, wantErr: "failed to parse CA certificate"},
		{name: "cert without key", files: tlsFiles{enabled: true, certFile: certFile}, wantErr: "both TLS cert and key"},
		{name: "key without cert", files: tlsFiles{enabled: true, keyFile: keyFile}, wantErr: "both TLS cert and key"},
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

			if (cfg.RootCAs != nil) != tt.wantRoots {
				t.Errorf("RootCAs set = %v, want %v", cfg.RootCAs != nil, tt.wantRoots)
			}
			if (len(cfg.Certificates) > 0) != tt.wantCerts {
				t.Errorf("Certificates = %d, want present=%v", len(cfg.Certificates), tt.wantCerts)
			}
			if cfg.InsecureSkipVerify != tt.wantSkip {
				t.Errorf("InsecureSkipVerify = %v, want %v", cfg.InsecureSkipVerify, tt.wantSkip)
			}
		})
	}
}

func TestBuilder_Build_WithTLS_UsesConfig(t *testing.T) {
	caFile := filepath.Join(t.TempDir(), "ca.crt")
	testutil.WriteTestCACert(t, caFile)

	client, err := NewBuilder().WithTLS(caFile, "", "").Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	if transport.TLSClientConfig.RootCAs == nil {
		t.Error("RootCAs should be configured from CA file")
	}
}

func TestBuilder_Build_WithTLS_Error(t *testing.T) {
	_, err := NewBuilder().WithTLS("", "cert-only.crt", "").Build()
	if err == nil || !strings.Contains(err.Error(), "httpclient: TLS config failed") {
		t.Fatalf("Build() error = %v, want TLS config error", err)
	}
}

func TestBuilder_Build_StubbedDefaultTransport(t *testing.T) {
	orig := http.DefaultTransport
	stub := testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) { return okResponse(req), nil })
	http.DefaultTransport = stub
	t.Cleanup(func() { http.DefaultTransport = orig })

	client, err := NewBuilder().WithTLS("", "", "").Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	resp, err := client.Get("https://example.com")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
}

func BenchmarkBuilder_Build(b *testing.B) {
	tokens := &fakeTokens{}
	for i := 0; i < b.N; i++ {
		if _, err := NewBuilder().WithTokenManager(tokens, "2legged").Build(); err != nil {
			b.Fatalf("Build failed: %v", err)
		}
	}
}
