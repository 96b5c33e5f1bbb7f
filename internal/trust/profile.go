package trust

import "time"

// DefaultScore is the trust score assigned on first contact.
const DefaultScore = 0.5

// AnonymousTier is the consent-tier label for anonymized identities.
const AnonymousTier = "anonymous"

// Profile is the per-identity reputation record. Identifying fields
// (DisplayName, Roles, and the raw identity handle itself) are cleared
// by anonymization; safety-relevant fields survive it unchanged.
type Profile struct {
	Identity    string   `json:"identity"`
	Hash        string   `json:"hash"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles,omitempty"`

	TrustScore     float64 `json:"trust_score"`
	MessageCount   int64   `json:"message_count"`
	ViolationCount int64   `json:"violation_count"`

	IsAnonymous bool   `json:"is_anonymous"`
	ConsentTier string `json:"consent_tier"`

	// TransitionTimes holds consent-tier transition timestamps inside
	// the trailing detection window; older entries are pruned lazily.
	TransitionTimes []time.Time `json:"transition_times,omitempty"`
	RapidSwitching  bool        `json:"rapid_switching"`
	EvasionScore    float64     `json:"evasion_score"`

	SafetyPatterns []string `json:"safety_patterns,omitempty"`

	FirstSeen     time.Time  `json:"first_seen"`
	LastSeen      time.Time  `json:"last_seen"`
	LastViolation *time.Time `json:"last_violation,omitempty"`
}

// clone returns a deep copy safe to hand outside the store.
func (p *Profile) clone() Profile {
	c := *p
	if p.LastViolation != nil {
		t := *p.LastViolation
		c.LastViolation = &t
	}
	c.Roles = append([]string(nil), p.Roles...)
	c.TransitionTimes = append([]time.Time(nil), p.TransitionTimes...)
	c.SafetyPatterns = append([]string(nil), p.SafetyPatterns...)
	return c
}

// clampScore bounds a trust or evasion score to [0, 1].
func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
