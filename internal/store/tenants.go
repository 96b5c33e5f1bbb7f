package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Tenant represents a row in the tenants table. Each tenant is one
// consumer of the filter API with its own key and filter configuration.
type Tenant struct {
	ID           string
	Name         string
	APIKeyHash   string
	APIKeyPrefix string
	Mode         string // "enforce" or "shadow"
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UpdateTenantParams holds optional fields for partial tenant updates.
type UpdateTenantParams struct {
	Name *string
	Mode *string
}

// GenerateAPIKey creates a new gwk_ API key with its bcrypt hash and prefix.
// Returns (fullKey, hash, prefix, error). The fullKey is shown to the user once.
func GenerateAPIKey() (string, string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	fullKey := "gwk_" + hex.EncodeToString(raw) // 68 chars total

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}

	prefix := fullKey[:8] // "gwk_abcd"
	return fullKey, string(hashBytes), prefix, nil
}

// CreateTenant inserts a new tenant. Returns the tenant and plaintext
// API key (shown once).
func (s *Store) CreateTenant(ctx context.Context, name string) (*Tenant, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("CreateTenant: %w", err)
	}

	var t Tenant
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO tenants (name, api_key_hash, api_key_prefix)
		VALUES ($1, $2, $3)
		RETURNING id, name, api_key_hash, api_key_prefix, mode, created_at, updated_at`,
		name, keyHash, keyPrefix,
	).Scan(&t.ID, &t.Name, &t.APIKeyHash, &t.APIKeyPrefix, &t.Mode,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("CreateTenant: %w", err)
	}

	return &t, fullKey, nil
}

// ListTenants returns all tenants ordered by created_at DESC.
func (s *Store) ListTenants(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, api_key_hash, api_key_prefix, mode, created_at, updated_at
		FROM tenants ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ListTenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.APIKeyHash, &t.APIKeyPrefix,
			&t.Mode, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ListTenants: %w", err)
		}
		tenants = append(tenants, &t)
	}
	return tenants, rows.Err()
}

// GetTenant returns a tenant by ID, or nil if not found.
func (s *Store) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	var t Tenant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, api_key_hash, api_key_prefix, mode, created_at, updated_at
		FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.APIKeyHash, &t.APIKeyPrefix,
		&t.Mode, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetTenant: %w", err)
	}
	return &t, nil
}

// UpdateTenant applies a partial update to a tenant. Only non-nil fields are changed.
func (s *Store) UpdateTenant(ctx context.Context, id string, params UpdateTenantParams) (*Tenant, error) {
	var t Tenant
	err := s.db.QueryRowContext(ctx, `
		UPDATE tenants SET
			name       = COALESCE($2, name),
			mode       = COALESCE($3, mode),
			updated_at = now()
		WHERE id = $1
		RETURNING id, name, api_key_hash, api_key_prefix, mode, created_at, updated_at`,
		id, params.Name, params.Mode,
	).Scan(&t.ID, &t.Name, &t.APIKeyHash, &t.APIKeyPrefix,
		&t.Mode, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateTenant: %w", err)
	}
	return &t, nil
}

// DeleteTenant deletes a tenant by ID.
func (s *Store) DeleteTenant(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("DeleteTenant: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RotateAPIKey generates a new API key for a tenant.
// Returns the updated tenant and the plaintext key (shown once).
func (s *Store) RotateAPIKey(ctx context.Context, id string) (*Tenant, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}

	var t Tenant
	err = s.db.QueryRowContext(ctx, `
		UPDATE tenants SET
			api_key_hash   = $2,
			api_key_prefix = $3,
			updated_at     = now()
		WHERE id = $1
		RETURNING id, name, api_key_hash, api_key_prefix, mode, created_at, updated_at`,
		id, keyHash, keyPrefix,
	).Scan(&t.ID, &t.Name, &t.APIKeyHash, &t.APIKeyPrefix,
		&t.Mode, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, "", sql.ErrNoRows
	}
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}

	return &t, fullKey, nil
}
