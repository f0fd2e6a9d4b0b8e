package oauth2client

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// IntrospectionResult is the provider's verdict on a token (RFC 7662).
type IntrospectionResult struct {
	Active    bool
	Scope     string
	ClientID  string
	Subject   string
	Username  string
	TokenType string
	Expiry    time.Time
	IssuedAt  time.Time
	// Claims holds the full decoded response.
	Claims map[string]any
}

// Revoke revokes one token of the named slot at the provider and, on success,
// removes the slot locally. Confidential slots authenticate with HTTP Basic;
// public slots send only client_id. An empty hint revokes the access token.
func (tm *TokenManager) Revoke(ctx context.Context, name string, hint TokenTypeHint) error {
	ctx = orBackground(ctx)
	k := tm.registry.key(name)

	rec, ok, err := tm.registry.Load(ctx, k)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(k)
	}

	if hint == "" {
		hint = HintAccessToken
	}

	var token string
	switch hint {
	case HintAccessToken:
		token = rec.AccessToken
	case HintRefreshToken:
		token = rec.RefreshToken
	default:
		return &ConfigurationError{Field: "token type hint", Reason: "unsupported value " + strconv.Quote(string(hint))}
	}
	if token == "" {
		return &ConfigurationError{Field: string(hint), Reason: "slot " + string(k) + " has none"}
	}
	if tm.discovery.RevokeURL == "" {
		return &ConfigurationError{Field: "revoke URL"}
	}

	form, auth, err := tm.clientAuth(rec.ClientType)
	if err != nil {
		return err
	}
	form.Set("token", token)
	form.Set("token_type_hint", string(hint))

	ctx, span := tm.tracer.Start(ctx, "oauth2client.revoke", trace.WithAttributes(
		attribute.String("oauth2.token_type_hint", string(hint)),
		attribute.String("oauth2.client_type", string(rec.ClientType)),
	))
	defer span.End()

	ctx, cancel := tm.withTimeout(ctx)
	defer cancel()

	status, body, err := postForm(ctx, tm.httpClient, tm.discovery.RevokeURL, form, tm.userAgent, auth)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return &NetworkError{Op: "revoke", URL: tm.discovery.RevokeURL, Err: err}
	}
	if status < 200 || status > 299 {
		perr := newProtocolError("revoke", status, body)
		span.SetStatus(codes.Error, perr.Code)
		return perr
	}

	if err := tm.registry.Remove(ctx, k); err != nil {
		return err
	}

	tm.logger.Info("oauth2client: revoked token",
		zap.String("name", string(k)),
		zap.String("token_type_hint", string(hint)),
	)

	return nil
}

// Introspect asks the provider whether the slot's access token is active.
// Local state is never changed by the result, including an inactive verdict.
func (tm *TokenManager) Introspect(ctx context.Context, name string) (*IntrospectionResult, error) {
	ctx = orBackground(ctx)
	k := tm.registry.key(name)

	rec, ok, err := tm.registry.Load(ctx, k)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound(k)
	}
	if tm.discovery.IntrospectURL == "" {
		return nil, &ConfigurationError{Field: "introspect URL"}
	}

	form, auth, err := tm.clientAuth(rec.ClientType)
	if err != nil {
		return nil, err
	}
	form.Set("token", rec.AccessToken)
	form.Set("token_type_hint", string(HintAccessToken))

	ctx, span := tm.tracer.Start(ctx, "oauth2client.introspect")
	defer span.End()

	ctx, cancel := tm.withTimeout(ctx)
	defer cancel()

	status, body, err := postForm(ctx, tm.httpClient, tm.discovery.IntrospectURL, form, tm.userAgent, auth)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return nil, &NetworkError{Op: "introspect", URL: tm.discovery.IntrospectURL, Err: err}
	}
	if status != 200 {
		perr := newProtocolError("introspect", status, body)
		span.SetStatus(codes.Error, perr.Code)
		return nil, perr
	}

	result, err := decodeIntrospection(body)
	if err != nil {
		return nil, &ProtocolError{Op: "introspect", StatusCode: status, Body: string(body), Description: err.Error()}
	}

	span.SetAttributes(attribute.Bool("oauth2.active", result.Active))
	return result, nil
}

// clientAuth returns the base form and Basic credentials for a slot's client type.
func (tm *TokenManager) clientAuth(clientType ClientType) (url.Values, *basicAuth, error) {
	form := url.Values{}
	if clientType == ClientPublic {
		form.Set("client_id", tm.creds.ClientID)
		return form, nil, nil
	}

	if tm.creds.ClientSecret == "" {
		return nil, nil, &ConfigurationError{Field: "client secret"}
	}
	return form, &basicAuth{username: tm.creds.ClientID, password: tm.creds.ClientSecret}, nil
}

func (tm *TokenManager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if tm.requestTimeout > 0 {
		return context.WithTimeout(ctx, tm.requestTimeout)
	}
	return context.WithCancel(ctx)
}

func decodeIntrospection(body []byte) (*IntrospectionResult, error) {
	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, err
	}

	active, _ := claims["active"].(bool)
	result := &IntrospectionResult{
		Active:    active,
		Scope:     claimString(claims, "scope"),
		ClientID:  claimString(claims, "client_id"),
		Subject:   claimString(claims, "sub"),
		Username:  claimString(claims, "username"),
		TokenType: claimString(claims, "token_type"),
		Claims:    claims,
	}
	if exp, ok := claims["exp"]; ok {
		result.Expiry = unixClaim(exp)
	}
	if iat, ok := claims["iat"]; ok {
		result.IssuedAt = unixClaim(iat)
	}

	return result, nil
}

func claimString(claims map[string]any, key string) string {
	value, ok := claims[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func unixClaim(raw any) time.Time {
	switch value := raw.(type) {
	case float64:
		return time.Unix(int64(value), 0)
	case string:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Unix(n, 0)
		}
	}
	return time.Time{}
}
