package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// FilterConfig represents a row in the filter_configs table. Every
// replacement appends a new version; the active configuration is the
// highest version. Nothing is ever updated in place, so the table
// doubles as the change history.
type FilterConfig struct {
	ID        string
	Version   int
	Config    json.RawMessage // JSONB, the serialized configuration
	Reason    string
	CreatedAt time.Time
}

// LatestConfig returns the highest-version configuration, or nil when
// none has been saved yet (first boot runs on defaults).
func (s *Store) LatestConfig(ctx context.Context) (*FilterConfig, error) {
	var fc FilterConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT id, version, config, reason, created_at
		FROM filter_configs
		ORDER BY version DESC LIMIT 1`,
	).Scan(&fc.ID, &fc.Version, &fc.Config, &fc.Reason, &fc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LatestConfig: %w", err)
	}
	return &fc, nil
}

// SaveConfig appends a configuration version. The version comes from the
// in-memory coordinator, which owns the monotonic counter.
func (s *Store) SaveConfig(ctx context.Context, version int, cfg json.RawMessage, reason string) (*FilterConfig, error) {
	var fc FilterConfig
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO filter_configs (version, config, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (version) DO UPDATE SET config = EXCLUDED.config, reason = EXCLUDED.reason
		RETURNING id, version, config, reason, created_at`,
		version, cfg, reason,
	).Scan(&fc.ID, &fc.Version, &fc.Config, &fc.Reason, &fc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("SaveConfig: %w", err)
	}
	return &fc, nil
}

// ListConfigVersions returns the configuration history, newest first.
func (s *Store) ListConfigVersions(ctx context.Context, limit int) ([]*FilterConfig, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, config, reason, created_at
		FROM filter_configs
		ORDER BY version DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("ListConfigVersions: %w", err)
	}
	defer rows.Close()

	var configs []*FilterConfig
	for rows.Next() {
		var fc FilterConfig
		if err := rows.Scan(&fc.ID, &fc.Version, &fc.Config, &fc.Reason, &fc.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListConfigVersions: %w", err)
		}
		configs = append(configs, &fc)
	}
	return configs, rows.Err()
}
