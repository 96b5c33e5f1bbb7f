package auth

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrMissingAPIKey   = errors.New("missing authorization header")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrAuthUnavailable = errors.New("authentication unavailable")
)

// TenantContext holds the authenticated tenant.
type TenantContext struct {
	TenantID string
	Name     string
	Mode     string // "enforce" or "shadow"
}

// Authenticator validates an API key and returns the tenant context.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*TenantContext, error)
}

// ParseBearer extracts the API key from an Authorization header value.
// Returns ErrMissingAPIKey for an empty header and ErrInvalidAPIKey for
// a key without the gwk_ prefix.
func ParseBearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingAPIKey
	}
	token := header
	// RFC 6750: the "Bearer" scheme is case-insensitive.
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = token[7:]
	}
	token = strings.TrimSpace(token)

	if !strings.HasPrefix(token, "gwk_") {
		return "", ErrInvalidAPIKey
	}
	return token, nil
}

// StaticAuthenticator accepts any well-formed gwk_ key and returns a
// fixed development tenant. Used when no database is configured.
type StaticAuthenticator struct{}

func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, apiKey string) (*TenantContext, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if !strings.HasPrefix(apiKey, "gwk_") {
		return nil, ErrInvalidAPIKey
	}
	return &TenantContext{
		TenantID: "dev",
		Name:     "development",
		Mode:     "enforce",
	}, nil
}
