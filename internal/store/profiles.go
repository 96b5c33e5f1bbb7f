package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sift-ai/gatewatch/internal/trust"
	"go.uber.org/zap"
)

// UpsertProfile writes one trust-profile snapshot, keyed by the stable
// identity hash. The profile body is stored as JSONB; the queryable
// columns are denormalized from it.
func (s *Store) UpsertProfile(ctx context.Context, p trust.Profile) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("UpsertProfile: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trust_profiles (identity_hash, profile, trust_score, violation_count, is_anonymous, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (identity_hash) DO UPDATE SET
			profile         = EXCLUDED.profile,
			trust_score     = EXCLUDED.trust_score,
			violation_count = EXCLUDED.violation_count,
			is_anonymous    = EXCLUDED.is_anonymous,
			updated_at      = now()`,
		p.Hash, body, p.TrustScore, p.ViolationCount, p.IsAnonymous,
	)
	if err != nil {
		return fmt.Errorf("UpsertProfile: %w", err)
	}
	return nil
}

// LoadProfiles returns every persisted trust profile, for warming the
// in-memory store at startup.
func (s *Store) LoadProfiles(ctx context.Context) ([]trust.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT profile FROM trust_profiles`)
	if err != nil {
		return nil, fmt.Errorf("LoadProfiles: %w", err)
	}
	defer rows.Close()

	var profiles []trust.Profile
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("LoadProfiles: %w", err)
		}
		var p trust.Profile
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("LoadProfiles: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// ProfileSaver drains trust-profile snapshots to Postgres off the
// message path. Enqueue never blocks; snapshots are dropped (and
// counted) when the buffer is full. A later snapshot for the same
// identity supersedes a dropped one, so a drop loses freshness, not
// correctness.
type ProfileSaver struct {
	store  *Store
	ch     chan trust.Profile
	logger *zap.Logger

	dropped atomic.Int64
}

const profileSaverBuffer = 1024

// NewProfileSaver creates a saver over the given store.
func NewProfileSaver(store *Store, logger *zap.Logger) *ProfileSaver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileSaver{
		store:  store,
		ch:     make(chan trust.Profile, profileSaverBuffer),
		logger: logger,
	}
}

// Enqueue queues one snapshot. Safe to pass as a trust.Snapshotter.
func (ps *ProfileSaver) Enqueue(p trust.Profile) {
	select {
	case ps.ch <- p:
	default:
		ps.dropped.Add(1)
	}
}

// Dropped reports how many snapshots have been discarded so far.
func (ps *ProfileSaver) Dropped() int64 {
	return ps.dropped.Load()
}

// Run drains the queue until the context is cancelled, then flushes
// whatever is still buffered.
func (ps *ProfileSaver) Run(ctx context.Context) {
	for {
		select {
		case p := <-ps.ch:
			ps.save(p)
		case <-ctx.Done():
			for {
				select {
				case p := <-ps.ch:
					ps.save(p)
				default:
					return
				}
			}
		}
	}
}

func (ps *ProfileSaver) save(p trust.Profile) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ps.store.UpsertProfile(ctx, p); err != nil {
		ps.logger.Warn("trust profile snapshot write failed",
			zap.String("identity_hash", p.Hash),
			zap.Error(err),
		)
	}
}
