package oauth2client

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for errors.Is checks. The structured error types below
// match one of these through their Is methods.
var (
	ErrConfiguration           = errors.New("oauth2client: configuration error")
	ErrNoUsableScope           = errors.New("oauth2client: no usable scope")
	ErrUnsupportedScope        = errors.New("oauth2client: unsupported scope")
	ErrNetwork                 = errors.New("oauth2client: network error")
	ErrProtocol                = errors.New("oauth2client: provider rejected request")
	ErrTokenNotFound           = errors.New("oauth2client: token not found")
	ErrReauthorizationRequired = errors.New("oauth2client: reauthorization required")
	ErrInvalidToken            = errors.New("oauth2client: invalid access token")
)

// ConfigurationError reports a missing credential or required input.
// It is always detected before any network call.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("oauth2client: %s is required", e.Field)
	}
	return fmt.Sprintf("oauth2client: %s: %s", e.Field, e.Reason)
}

// Is enables errors.Is(err, ErrConfiguration).
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// ScopeError reports that scope negotiation failed. Rejected lists the
// requested scopes that the provider does not support.
type ScopeError struct {
	Requested []string
	Rejected  []string
	// Empty is true when nothing usable remained after negotiation.
	Empty bool
}

func (e *ScopeError) Error() string {
	switch {
	case e.Empty && len(e.Rejected) > 0:
		return fmt.Sprintf("oauth2client: no usable scope, rejected [%s]", strings.Join(e.Rejected, " "))
	case e.Empty:
		return "oauth2client: no usable scope, at least one scope is required"
	default:
		return fmt.Sprintf("oauth2client: unsupported scopes [%s]", strings.Join(e.Rejected, " "))
	}
}

// Is enables errors.Is(err, ErrNoUsableScope) and errors.Is(err, ErrUnsupportedScope).
func (e *ScopeError) Is(target error) bool {
	if target == ErrNoUsableScope {
		return e.Empty
	}
	return target == ErrUnsupportedScope && len(e.Rejected) > 0
}

// NetworkError wraps a transport failure while talking to the provider.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("oauth2client: %s request to %s failed: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is enables errors.Is(err, ErrNetwork).
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// ProtocolError reports a non-2xx response (or an unusable 2xx body) from the provider.
type ProtocolError struct {
	Op          string
	StatusCode  int
	Body        string
	Code        string // OAuth2 "error" field when the body is JSON
	Description string // OAuth2 "error_description" field when the body is JSON
}

func (e *ProtocolError) Error() string {
	if e.Code != "" {
		if e.Description != "" {
			return fmt.Sprintf("oauth2client: %s failed with status %d: %s: %s", e.Op, e.StatusCode, e.Code, e.Description)
		}
		return fmt.Sprintf("oauth2client: %s failed with status %d: %s", e.Op, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("oauth2client: %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Is enables errors.Is(err, ErrProtocol).
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// StateError reports an operation on a slot that cannot serve it: the slot is
// unknown, or it expired and cannot be renewed without user interaction.
type StateError struct {
	Name string
	Err  error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Name)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

func notFound(key slotKey) error {
	return &StateError{Name: string(key), Err: ErrTokenNotFound}
}
