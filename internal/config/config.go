package config

import (
	"errors"
	"fmt"

	"github.com/sift-ai/gatewatch/internal/learning"
	"github.com/sift-ai/gatewatch/internal/privacy"
	"github.com/sift-ai/gatewatch/internal/rules"
	"github.com/sift-ai/gatewatch/internal/trust"
)

// Config is the whole filter configuration: the rule sets and every
// policy tunable. It is applied atomically via replace-whole-config;
// there are no partial patch semantics. The JSON form round-trips
// losslessly through the external store.
type Config struct {
	Version int `json:"version"`

	// AttentionRules are CRITICAL-grade content rules (direct messages,
	// mentions). ReviewRules cover suspicious-content patterns. Both
	// apply to ordinary messages; ResponseRules form the disjoint set
	// evaluated only for model-generated responses.
	AttentionRules []rules.Rule `json:"attention_rules"`
	ReviewRules    []rules.Rule `json:"review_rules"`
	ResponseRules  []rules.Rule `json:"response_rules"`

	Trust    trust.Tunables    `json:"trust"`
	Gaming   privacy.Tunables  `json:"gaming"`
	Learning learning.Tunables `json:"learning"`
}

// ContentRules returns the attention and review rules as the single
// ordered list the engine evaluates for ordinary messages. Attention
// rules come first so triggered-id ordering is stable.
func (c *Config) ContentRules() []rules.Rule {
	out := make([]rules.Rule, 0, len(c.AttentionRules)+len(c.ReviewRules))
	out = append(out, c.AttentionRules...)
	out = append(out, c.ReviewRules...)
	return out
}

// ValidationError reports everything wrong with a candidate
// configuration. Replacement is all-or-nothing: any problem rejects the
// whole config and leaves the previous one active.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid configuration: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid configuration: %d problems, first: %s", len(e.Problems), e.Problems[0])
}

// Validate checks the configuration structurally: every rule must
// compile, and the tunables must be in range. It never mutates the
// receiver.
func (c *Config) Validate() error {
	var problems []string

	// Compile is the authoritative rule check: duplicate ids, unknown
	// kinds, malformed patterns, unknown predicates.
	if _, err := rules.Compile(c.ContentRules(), c.ResponseRules, nil); err != nil {
		problems = append(problems, err.Error())
	}

	for name, v := range map[string]float64{
		"learning.effectiveness_floor":   c.Learning.EffectivenessFloor,
		"trust.violation_penalty_critical": c.Trust.ViolationPenaltyCritical,
		"trust.violation_penalty_high":     c.Trust.ViolationPenaltyHigh,
		"trust.clean_reward":               c.Trust.CleanReward,
		"gaming.rapid_switch_penalty":      c.Gaming.RapidSwitchPenalty,
		"gaming.evasion_switch_penalty":    c.Gaming.EvasionSwitchPenalty,
	} {
		if v < 0 || v > 1 {
			problems = append(problems, fmt.Sprintf("%s must be within [0,1], got %g", name, v))
		}
	}
	if c.Learning.MinSampleCount < 0 {
		problems = append(problems, "learning.min_sample_count must not be negative")
	}
	if c.Gaming.TransitionWindowSeconds < 0 || c.Gaming.EvasionWindowSeconds < 0 {
		problems = append(problems, "gaming windows must not be negative")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// IsValidationError reports whether err is a configuration rejection,
// as opposed to an infrastructure failure.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
