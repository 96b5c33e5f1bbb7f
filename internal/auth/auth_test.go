package auth

import (
	"context"
	"testing"
)

func TestParseBearer_Valid(t *testing.T) {
	key, err := ParseBearer("Bearer gwk_abc123")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if key != "gwk_abc123" {
		t.Errorf("expected gwk_abc123, got %q", key)
	}
}

func TestParseBearer_MissingHeader(t *testing.T) {
	_, err := ParseBearer("")
	if err != ErrMissingAPIKey {
		t.Errorf("expected ErrMissingAPIKey, got: %v", err)
	}
}

func TestParseBearer_InvalidKeyPrefix(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"wrong prefix", "Bearer bad_abc123"},
		{"no prefix", "Bearer abc123"},
		{"empty after Bearer", "Bearer "},
		{"just Bearer", "Bearer"},
		{"sk_ prefix", "Bearer sk_abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBearer(tt.token)
			if err != ErrInvalidAPIKey {
				t.Errorf("expected ErrInvalidAPIKey for token '%s', got: %v", tt.token, err)
			}
		})
	}
}

func TestParseBearer_LowercaseBearer(t *testing.T) {
	key, err := ParseBearer("bearer gwk_abc123")
	if err != nil {
		t.Fatalf("expected no error for lowercase bearer, got: %v", err)
	}
	if key != "gwk_abc123" {
		t.Errorf("expected gwk_abc123, got %q", key)
	}
}

func TestParseBearer_TokenWithWhitespace(t *testing.T) {
	key, err := ParseBearer("Bearer  gwk_abc123 ")
	if err != nil {
		t.Fatalf("expected no error for token with extra whitespace, got: %v", err)
	}
	if key != "gwk_abc123" {
		t.Errorf("expected gwk_abc123, got %q", key)
	}
}

func TestStaticAuthenticator_ValidKey(t *testing.T) {
	a := NewStaticAuthenticator()

	tenant, err := a.Authenticate(context.Background(), "gwk_abc123")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if tenant.TenantID != "dev" {
		t.Errorf("expected tenant_id 'dev', got '%s'", tenant.TenantID)
	}
	if tenant.Mode != "enforce" {
		t.Errorf("expected mode 'enforce', got '%s'", tenant.Mode)
	}
}

func TestStaticAuthenticator_MissingKey(t *testing.T) {
	a := NewStaticAuthenticator()

	_, err := a.Authenticate(context.Background(), "")
	if err != ErrMissingAPIKey {
		t.Errorf("expected ErrMissingAPIKey, got: %v", err)
	}
}

func TestStaticAuthenticator_InvalidKeyPrefix(t *testing.T) {
	a := NewStaticAuthenticator()

	_, err := a.Authenticate(context.Background(), "tsk_abc123")
	if err != ErrInvalidAPIKey {
		t.Errorf("expected ErrInvalidAPIKey, got: %v", err)
	}
}

func BenchmarkStaticAuthenticator(b *testing.B) {
	a := NewStaticAuthenticator()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		a.Authenticate(context.Background(), "gwk_abc123")
	}
}
