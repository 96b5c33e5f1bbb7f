package rules

import (
	"time"
)

// Priority is the urgency label assigned to a message. Lower numeric
// value means more severe.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
	PriorityIgnore
)

// String returns the lowercase priority name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	case PriorityIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

// ParsePriority converts a lowercase priority name back to a Priority.
// Unknown names map to PriorityMedium.
func ParsePriority(s string) Priority {
	switch s {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "medium":
		return PriorityMedium
	case "low":
		return PriorityLow
	case "ignore":
		return PriorityIgnore
	default:
		return PriorityMedium
	}
}

// MarshalText implements encoding.TextMarshaler so priorities serialize
// as their string enum form.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	*p = ParsePriority(string(text))
	return nil
}

// MoreSevere reports whether p outranks other.
func (p Priority) MoreSevere(other Priority) bool {
	return p < other
}

// MaxSeverity returns the more severe of the two priorities.
func MaxSeverity(a, b Priority) Priority {
	if a.MoreSevere(b) {
		return a
	}
	return b
}

// MatcherKind identifies how a rule's pattern is interpreted.
type MatcherKind string

const (
	KindRegex     MatcherKind = "regex"     // pattern is a regular expression, whole-content search
	KindLength    MatcherKind = "length"    // pattern is a numeric character threshold
	KindFrequency MatcherKind = "frequency" // pattern is "count:seconds"
	KindCustom    MatcherKind = "custom"    // pattern names a registered predicate
)

// KnownKind reports whether k is a matcher kind this engine can evaluate.
func KnownKind(k MatcherKind) bool {
	switch k {
	case KindRegex, KindLength, KindFrequency, KindCustom:
		return true
	}
	return false
}

// Rule is a single named detector. Rules are plain data; all mutation of
// the learning metadata happens through a Set, which owns the locking.
type Rule struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Kind        MatcherKind `json:"kind"`
	Pattern     string      `json:"pattern"`
	Priority    Priority    `json:"priority"`
	Enabled     bool        `json:"enabled"`
	Description string      `json:"description,omitempty"`

	Effectiveness      float64    `json:"effectiveness"`
	FalsePositiveRate  float64    `json:"false_positive_rate"`
	TruePositiveCount  int64      `json:"true_positive_count"`
	FalsePositiveCount int64      `json:"false_positive_count"`
	LastTriggered      *time.Time `json:"last_triggered,omitempty"`
}

// LearningStats is a point-in-time copy of a rule's learning metadata,
// taken by the learner so adjustment decisions never hold the set lock
// across a full pass.
type LearningStats struct {
	RuleID        string
	Enabled       bool
	Effectiveness float64
	SampleCount   int64
}
