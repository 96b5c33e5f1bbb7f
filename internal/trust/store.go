package trust

import (
	"sync"
	"time"

	"github.com/sift-ai/gatewatch/internal/rules"
	"go.uber.org/zap"
)

// Tunables are the policy constants for trust arithmetic and the
// anonymous priority bands. Zero values fall back to the defaults.
type Tunables struct {
	ViolationPenaltyCritical float64 `json:"violation_penalty_critical"` // default 0.10
	ViolationPenaltyHigh     float64 `json:"violation_penalty_high"`     // default 0.05
	CleanReward              float64 `json:"clean_reward"`               // default 0.01
	EvasionDecay             float64 `json:"evasion_decay"`              // default 0.01

	// Band thresholds for PriorityFor.
	CriticalTrustBelow   float64 `json:"critical_trust_below"`   // default 0.2
	CriticalEvasionAbove float64 `json:"critical_evasion_above"` // default 0.7
	HighTrustBelow       float64 `json:"high_trust_below"`       // default 0.5
	HighEvasionAbove     float64 `json:"high_evasion_above"`     // default 0.5
}

// DefaultTunables returns the stock trust policy.
func DefaultTunables() Tunables {
	return Tunables{
		ViolationPenaltyCritical: 0.10,
		ViolationPenaltyHigh:     0.05,
		CleanReward:              0.01,
		EvasionDecay:             0.01,
		CriticalTrustBelow:       0.2,
		CriticalEvasionAbove:     0.7,
		HighTrustBelow:           0.5,
		HighEvasionAbove:         0.5,
	}
}

// withDefaults fills zero fields from DefaultTunables.
func (t Tunables) withDefaults() Tunables {
	d := DefaultTunables()
	if t.ViolationPenaltyCritical == 0 {
		t.ViolationPenaltyCritical = d.ViolationPenaltyCritical
	}
	if t.ViolationPenaltyHigh == 0 {
		t.ViolationPenaltyHigh = d.ViolationPenaltyHigh
	}
	if t.CleanReward == 0 {
		t.CleanReward = d.CleanReward
	}
	if t.EvasionDecay == 0 {
		t.EvasionDecay = d.EvasionDecay
	}
	if t.CriticalTrustBelow == 0 {
		t.CriticalTrustBelow = d.CriticalTrustBelow
	}
	if t.CriticalEvasionAbove == 0 {
		t.CriticalEvasionAbove = d.CriticalEvasionAbove
	}
	if t.HighTrustBelow == 0 {
		t.HighTrustBelow = d.HighTrustBelow
	}
	if t.HighEvasionAbove == 0 {
		t.HighEvasionAbove = d.HighEvasionAbove
	}
	return t
}

// entry wraps a profile with its own lock, so read-modify-write on one
// identity never contends with updates to another.
type entry struct {
	mu sync.Mutex
	p  *Profile
}

// Snapshotter receives profile snapshots after every mutation. The
// store calls it synchronously under the identity lock with a copy;
// implementations must not block (the Postgres persister queues).
type Snapshotter func(Profile)

// Store holds one Profile per identity handle. Lookup happens under a
// map-level RWMutex; mutation happens under the entry lock, keeping
// per-identity updates linearizable.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	tunables Tunables
	hash     func(string) string // stable identity hash (injected from privacy)
	snapshot Snapshotter         // nil means no persistence
	logger   *zap.Logger
	now      func() time.Time
}

// Options configures a Store.
type Options struct {
	Tunables Tunables
	Hash     func(string) string
	Snapshot Snapshotter
	Logger   *zap.Logger
	Now      func() time.Time
}

// NewStore creates an empty trust store.
func NewStore(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Hash == nil {
		opts.Hash = func(s string) string { return s }
	}
	return &Store{
		entries:  make(map[string]*entry),
		tunables: opts.Tunables.withDefaults(),
		hash:     opts.Hash,
		snapshot: opts.Snapshot,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// SetTunables swaps the trust policy (applied by config replacement).
func (s *Store) SetTunables(t Tunables) {
	s.mu.Lock()
	s.tunables = t.withDefaults()
	s.mu.Unlock()
}

func (s *Store) currentTunables() Tunables {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tunables
}

// lookup finds the entry for an identity, or nil.
func (s *Store) lookup(identity string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[identity]
}

// getOrCreate returns the entry for an identity, creating a fresh
// default profile on first contact. A profile rekeyed by anonymization
// still answers for its original handle: the stable hash is checked
// before anything is created, so the raw handle can never grow a second
// default-trust profile that shadows the anonymized one.
func (s *Store) getOrCreate(identity string) *entry {
	if e := s.lookup(identity); e != nil {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[identity]; ok {
		return e
	}
	h := s.hash(identity)
	for _, e := range s.entries {
		if e.p.Hash == h {
			return e
		}
	}
	now := s.now()
	e := &entry{p: &Profile{
		Identity:    identity,
		Hash:        s.hash(identity),
		TrustScore:  DefaultScore,
		ConsentTier: "identified",
		FirstSeen:   now,
		LastSeen:    now,
	}}
	s.entries[identity] = e
	return e
}

// GetOrCreate returns a copy of the identity's profile, creating it
// with default trust on first contact.
func (s *Store) GetOrCreate(identity string) Profile {
	e := s.getOrCreate(identity)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p.clone()
}

// Get returns a copy of an existing profile. The second return is false
// for unseen identities.
func (s *Store) Get(identity string) (Profile, bool) {
	e := s.lookup(identity)
	if e == nil {
		return Profile{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p.clone(), true
}

// Has reports whether the identity has a profile without creating one.
func (s *Store) Has(identity string) bool {
	return s.lookup(identity) != nil
}

// Resolve returns the handle the identity's profile is actually stored
// under: the identity itself, or the anonymous handle its profile was
// rekeyed to. The second return is false when no profile exists under
// either.
func (s *Store) Resolve(identity string) (string, bool) {
	if identity == "" {
		return "", false
	}
	if s.lookup(identity) != nil {
		return identity, true
	}
	if e := s.lookupByHash(s.hash(identity)); e != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.p.Identity, true
	}
	return "", false
}

// Update runs fn on the identity's profile under its lock, creating the
// profile first if needed, then emits a persistence snapshot. This is
// the only mutation path, which keeps per-identity read-modify-write
// linearizable.
func (s *Store) Update(identity string, fn func(*Profile)) Profile {
	e := s.getOrCreate(identity)
	e.mu.Lock()
	fn(e.p)
	snap := e.p.clone()
	e.mu.Unlock()

	if s.snapshot != nil {
		s.snapshot(snap)
	}
	return snap
}

// RecordViolation applies the trust penalty for a triggered violation
// at the given severity and retains the triggering rule ids as safety
// patterns.
func (s *Store) RecordViolation(identity string, severity rules.Priority, patterns []string) Profile {
	t := s.currentTunables()
	now := s.now()

	penalty := t.ViolationPenaltyHigh
	if severity == rules.PriorityCritical {
		penalty = t.ViolationPenaltyCritical
	}

	p := s.Update(identity, func(p *Profile) {
		p.MessageCount++
		p.LastSeen = now
		p.ViolationCount++
		p.TrustScore = clampScore(p.TrustScore - penalty)
		v := now
		p.LastViolation = &v
		p.SafetyPatterns = appendUnique(p.SafetyPatterns, patterns)
	})

	s.logger.Debug("violation recorded",
		zap.String("identity_hash", p.Hash),
		zap.String("severity", severity.String()),
		zap.Float64("trust_score", p.TrustScore),
	)
	return p
}

// RecordCleanMessage applies the (smaller) clean-message reward and
// decays the evasion score. Trust is harder to regain than to lose.
func (s *Store) RecordCleanMessage(identity string) Profile {
	t := s.currentTunables()
	now := s.now()

	return s.Update(identity, func(p *Profile) {
		p.MessageCount++
		p.LastSeen = now
		p.TrustScore = clampScore(p.TrustScore + t.CleanReward)
		if p.EvasionScore > 0 {
			p.EvasionScore = clampScore(p.EvasionScore - t.EvasionDecay)
		}
	})
}

// RecordNeutralMessage bumps counters without touching the score, for
// messages that neither violated nor earned the clean reward.
func (s *Store) RecordNeutralMessage(identity string) Profile {
	now := s.now()
	return s.Update(identity, func(p *Profile) {
		p.MessageCount++
		p.LastSeen = now
	})
}

// PriorityFor maps an identity's trust and evasion state to the
// reputation priority band. Low trust or high evasion escalates
// scrutiny; this is what stops trust-laundering through anonymization.
// The identity may be a raw handle or an anonymous hash handle.
func (s *Store) PriorityFor(identity string) rules.Priority {
	e := s.lookup(identity)
	if e == nil {
		// Fall back to hash lookup so anonymized identities resolve
		// from their original handle.
		e = s.lookupByHash(s.hash(identity))
	}
	if e == nil {
		return rules.PriorityMedium
	}

	t := s.currentTunables()
	e.mu.Lock()
	p := e.p
	defer e.mu.Unlock()

	switch {
	case p.TrustScore < t.CriticalTrustBelow || p.EvasionScore > t.CriticalEvasionAbove:
		return rules.PriorityCritical
	case p.TrustScore < t.HighTrustBelow || p.EvasionScore > t.HighEvasionAbove:
		return rules.PriorityHigh
	case p.RapidSwitching:
		return rules.PriorityHigh
	default:
		return rules.PriorityMedium
	}
}

// lookupByHash scans for a profile with the given stable hash.
func (s *Store) lookupByHash(hash string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.p.Hash == hash {
			return e
		}
	}
	return nil
}

// Rekey atomically replaces the profile stored under oldIdentity with
// the given profile stored under its own (new) identity handle. Used by
// the anonymization transition. Returns false when oldIdentity is
// unknown.
func (s *Store) Rekey(oldIdentity string, p Profile) bool {
	s.mu.Lock()
	if _, ok := s.entries[oldIdentity]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.entries, oldIdentity)
	cp := p.clone()
	s.entries[p.Identity] = &entry{p: &cp}
	s.mu.Unlock()

	if s.snapshot != nil {
		s.snapshot(p)
	}
	return true
}

// Restore loads a persisted profile into the store, used at startup to
// warm from snapshots. Existing in-memory state for the identity wins.
func (s *Store) Restore(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[p.Identity]; ok {
		return
	}
	cp := p.clone()
	s.entries[p.Identity] = &entry{p: &cp}
}

// Len reports how many profiles the store holds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func appendUnique(dst []string, add []string) []string {
	for _, a := range add {
		found := false
		for _, d := range dst {
			if d == a {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, a)
		}
	}
	return dst
}
