package filter

import (
	"sync"
	"time"

	"github.com/sift-ai/gatewatch/internal/rules"
	"github.com/sift-ai/gatewatch/internal/trust"
)

// Stats is the coordinator's counter snapshot for the stats and health
// endpoints.
type Stats struct {
	MessagesTotal   int64            `json:"messages_total"`
	ByPriority      map[string]int64 `json:"by_priority"`
	DeferredTotal   int64            `json:"deferred_total"`
	ProfilesTracked int              `json:"profiles_tracked"`
	ConfigVersion   int              `json:"config_version"`
}

type statCounters struct {
	mu         sync.Mutex
	total      int64
	byPriority map[rules.Priority]int64
	deferred   int64
}

func newStatCounters() *statCounters {
	return &statCounters{byPriority: make(map[rules.Priority]int64)}
}

func (c *statCounters) observe(p rules.Priority, deferred bool) {
	c.mu.Lock()
	c.total++
	c.byPriority[p]++
	if deferred {
		c.deferred++
	}
	c.mu.Unlock()
}

// Stats snapshots the message counters.
func (s *Service) Stats() Stats {
	s.stats.mu.Lock()
	by := make(map[string]int64, len(s.stats.byPriority))
	for p, n := range s.stats.byPriority {
		by[p.String()] = n
	}
	out := Stats{
		MessagesTotal: s.stats.total,
		ByPriority:    by,
		DeferredTotal: s.stats.deferred,
	}
	s.stats.mu.Unlock()

	out.ProfilesTracked = s.trust.Len()
	s.mu.RLock()
	out.ConfigVersion = s.cfg.Version
	s.mu.RUnlock()
	return out
}

// RecordConsentTransition registers a consent-tier change for an
// identity and reports whether it looked like gaming.
func (s *Service) RecordConsentTransition(identity, fromTier, toTier string, at time.Time) bool {
	return s.monitor.RecordTransition(identity, fromTier, toTier, at)
}

// AnonymizeIdentity converts an identity's profile to its anonymized
// form, preserving the safety-relevant fields.
func (s *Service) AnonymizeIdentity(identity string) (trust.Profile, bool) {
	return s.monitor.Anonymize(identity)
}

// RecordFeedback feeds an operator's true/false-positive verdict on a
// rule into the learner.
func (s *Service) RecordFeedback(ruleID string, wasCorrect bool) {
	s.learner.RecordOutcome(ruleID, wasCorrect)
}
