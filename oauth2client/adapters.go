package oauth2client

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// TokenSource adapts the slot resolved from ref (a name or grant kind, see
// AccessTokenFor) to oauth2.TokenSource. Each Token call goes through the
// manager, so expired slots are renewed on demand.
func (tm *TokenManager) TokenSource(ctx context.Context, ref string) oauth2.TokenSource {
	return &tokenSource{ctx: orBackground(ctx), tm: tm, ref: ref}
}

type tokenSource struct {
	ctx context.Context
	tm  *TokenManager
	ref string
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	k, err := s.tm.resolve(s.ctx, s.ref)
	if err != nil {
		return nil, err
	}

	if _, err := s.tm.accessToken(s.ctx, k); err != nil {
		return nil, err
	}

	rec, ok, err := s.tm.registry.Load(s.ctx, k)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound(k)
	}

	return &oauth2.Token{
		AccessToken: rec.AccessToken,
		TokenType:   rec.TokenType,
		Expiry:      rec.Expiry().Add(-s.tm.expiryLeeway),
	}, nil
}

// UnaryClientInterceptor returns a gRPC unary client interceptor that adds
// the access token of ref as "authorization: Bearer <token>" metadata.
// The token fetch uses the RPC context, so it honours its deadline.
//
// Usage:
//
//	conn, err := grpc.NewClient(
//	    "server:9090",
//	    grpc.WithUnaryInterceptor(tm.UnaryClientInterceptor(oauth2client.DefaultClientCredentials)),
//	)
func (tm *TokenManager) UnaryClientInterceptor(ref string) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		token, err := tm.AccessTokenFor(ctx, ref)
		if err != nil {
			return fmt.Errorf("oauth2client: failed to get token: %w", err)
		}

		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor is the streaming counterpart of UnaryClientInterceptor.
func (tm *TokenManager) StreamClientInterceptor(ref string) grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		token, err := tm.AccessTokenFor(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("oauth2client: failed to get token: %w", err)
		}

		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
		return streamer(ctx, desc, cc, method, opts...)
	}
}
