package privacy

import (
	"sync"
	"time"

	"github.com/sift-ai/gatewatch/internal/trust"
	"go.uber.org/zap"
)

// Tunables are the gaming-detection policy constants. Zero values fall
// back to the defaults.
type Tunables struct {
	// TransitionWindow is the trailing window over which consent-tier
	// transitions are counted. Default 24h.
	TransitionWindowSeconds int `json:"transition_window_seconds"`
	// MaxTransitions is the largest transition count inside the window
	// that is still considered normal. Default 3.
	MaxTransitions int `json:"max_transitions"`
	// EvasionWindow is how soon after a violation a switch to the
	// anonymous tier counts as evasion. Default 1h.
	EvasionWindowSeconds int `json:"evasion_window_seconds"`

	RapidSwitchPenalty   float64 `json:"rapid_switch_penalty"`   // default 0.2
	EvasionSwitchPenalty float64 `json:"evasion_switch_penalty"` // default 0.3
}

// DefaultTunables returns the stock gaming-detection policy.
func DefaultTunables() Tunables {
	return Tunables{
		TransitionWindowSeconds: int((24 * time.Hour).Seconds()),
		MaxTransitions:          3,
		EvasionWindowSeconds:    int(time.Hour.Seconds()),
		RapidSwitchPenalty:      0.2,
		EvasionSwitchPenalty:    0.3,
	}
}

func (t Tunables) withDefaults() Tunables {
	d := DefaultTunables()
	if t.TransitionWindowSeconds <= 0 {
		t.TransitionWindowSeconds = d.TransitionWindowSeconds
	}
	if t.MaxTransitions <= 0 {
		t.MaxTransitions = d.MaxTransitions
	}
	if t.EvasionWindowSeconds <= 0 {
		t.EvasionWindowSeconds = d.EvasionWindowSeconds
	}
	if t.RapidSwitchPenalty == 0 {
		t.RapidSwitchPenalty = d.RapidSwitchPenalty
	}
	if t.EvasionSwitchPenalty == 0 {
		t.EvasionSwitchPenalty = d.EvasionSwitchPenalty
	}
	return t
}

func (t Tunables) transitionWindow() time.Duration {
	return time.Duration(t.TransitionWindowSeconds) * time.Second
}

func (t Tunables) evasionWindow() time.Duration {
	return time.Duration(t.EvasionWindowSeconds) * time.Second
}

// Monitor owns the identity-transition side of moderation: consent-tier
// changes, gaming detection, and the anonymization transition itself.
// It mutates profiles only through the trust store's locked Update
// path.
type Monitor struct {
	store *trust.Store

	mu       sync.RWMutex
	tunables Tunables

	logger *zap.Logger
	now    func() time.Time
}

// NewMonitor creates a Monitor over the given trust store.
func NewMonitor(store *trust.Store, tunables Tunables, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		store:    store,
		tunables: tunables.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
}

// SetNow overrides the monitor clock. Test hook.
func (m *Monitor) SetNow(now func() time.Time) { m.now = now }

// SetTunables swaps the gaming policy (applied by config replacement).
func (m *Monitor) SetTunables(t Tunables) {
	m.mu.Lock()
	m.tunables = t.withDefaults()
	m.mu.Unlock()
}

func (m *Monitor) currentTunables() Tunables {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tunables
}

// RecordTransition registers a consent-tier transition for an identity
// and reports whether gaming was detected. Two independent signals each
// suffice: more than MaxTransitions inside the trailing window, or a
// switch into the anonymous tier within the evasion window of a
// recorded violation.
func (m *Monitor) RecordTransition(identity, fromTier, toTier string, at time.Time) bool {
	if at.IsZero() {
		at = m.now()
	}
	t := m.currentTunables()
	gaming := false
	var transitions int

	m.store.Update(identity, func(p *trust.Profile) {
		p.ConsentTier = toTier

		cutoff := at.Add(-t.transitionWindow())
		kept := p.TransitionTimes[:0]
		for _, ts := range p.TransitionTimes {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		p.TransitionTimes = append(kept, at)
		transitions = len(p.TransitionTimes)

		if transitions > t.MaxTransitions {
			p.RapidSwitching = true
			p.EvasionScore = clamp(p.EvasionScore + t.RapidSwitchPenalty)
			gaming = true
		}

		if toTier == trust.AnonymousTier {
			if p.LastViolation != nil && at.Sub(*p.LastViolation) < t.evasionWindow() {
				p.EvasionScore = clamp(p.EvasionScore + t.EvasionSwitchPenalty)
				gaming = true
			}
			p.IsAnonymous = true
		}
	})

	if gaming {
		m.logger.Warn("consent-tier gaming detected",
			zap.String("identity_hash", HashIdentity(identity)),
			zap.String("from_tier", fromTier),
			zap.String("to_tier", toTier),
			zap.Int("transitions_in_window", transitions),
		)
	}
	return gaming
}

// Anonymize converts an identified profile into its anonymized form and
// re-keys it under the anonymous handle. Trust score, violation count,
// evasion state, and safety patterns survive unchanged; every
// identifying field is cleared. Returns the anonymized profile copy and
// false when the identity has no profile.
func (m *Monitor) Anonymize(identity string) (trust.Profile, bool) {
	p, ok := m.store.Get(identity)
	if !ok {
		return trust.Profile{}, false
	}

	anon := Anonymize(p)
	if !m.store.Rekey(identity, anon) {
		return trust.Profile{}, false
	}

	m.logger.Info("profile anonymized",
		zap.String("identity_hash", anon.Hash),
		zap.Float64("trust_score", anon.TrustScore),
	)
	return anon, true
}

// Anonymize returns the anonymized form of a profile. Pure function so
// the before/after field policy is testable in isolation.
func Anonymize(p trust.Profile) trust.Profile {
	anon := p
	anon.Identity = AnonymousHandle(p.Hash)
	anon.DisplayName = ""
	anon.Roles = nil
	anon.IsAnonymous = true
	anon.ConsentTier = trust.AnonymousTier
	// Safety-relevant fields carry over untouched: TrustScore,
	// ViolationCount, EvasionScore, SafetyPatterns, RapidSwitching,
	// TransitionTimes, LastViolation.
	return anon
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
