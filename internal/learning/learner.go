package learning

import (
	"context"
	"sync"
	"time"

	"github.com/sift-ai/gatewatch/internal/rules"
	"go.uber.org/zap"
)

// Tunables control when the learner disables a rule. Zero values fall
// back to the defaults.
type Tunables struct {
	// EffectivenessFloor is the minimum effectiveness an enabled rule
	// may have once it has enough samples. Default 0.5.
	EffectivenessFloor float64 `json:"effectiveness_floor"`
	// MinSampleCount is the number of recorded outcomes required before
	// a rule can be judged. Default 10.
	MinSampleCount int64 `json:"min_sample_count"`
	// AdjustmentIntervalSeconds is the cadence of the background
	// adjustment pass. Default 300.
	AdjustmentIntervalSeconds int `json:"adjustment_interval_seconds"`
}

// DefaultTunables returns the stock learning policy.
func DefaultTunables() Tunables {
	return Tunables{
		EffectivenessFloor:        0.5,
		MinSampleCount:            10,
		AdjustmentIntervalSeconds: 300,
	}
}

func (t Tunables) withDefaults() Tunables {
	d := DefaultTunables()
	if t.EffectivenessFloor == 0 {
		t.EffectivenessFloor = d.EffectivenessFloor
	}
	if t.MinSampleCount == 0 {
		t.MinSampleCount = d.MinSampleCount
	}
	if t.AdjustmentIntervalSeconds <= 0 {
		t.AdjustmentIntervalSeconds = d.AdjustmentIntervalSeconds
	}
	return t
}

func (t Tunables) interval() time.Duration {
	return time.Duration(t.AdjustmentIntervalSeconds) * time.Second
}

// SetProvider returns the rule set currently in force. Configuration
// replacement swaps sets, so the learner re-resolves on every call
// instead of caching a pointer.
type SetProvider func() *rules.Set

// Learner records per-rule outcome feedback and periodically disables
// rules whose effectiveness has fallen below the floor. It only ever
// disables: re-enabling is an operator action, and nothing is deleted.
type Learner struct {
	sets   SetProvider
	logger *zap.Logger

	mu       sync.RWMutex
	tunables Tunables

	statsMu         sync.Mutex
	outcomesTotal   int64
	falseReports    int64
	disabledTotal   int64
	lastAdjusted    time.Time
	lastDisabledIDs []string
}

// NewLearner creates a learner over the provided rule-set source.
func NewLearner(sets SetProvider, tunables Tunables, logger *zap.Logger) *Learner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Learner{
		sets:     sets,
		tunables: tunables.withDefaults(),
		logger:   logger,
	}
}

// SetTunables swaps the learning policy (applied by config replacement).
func (l *Learner) SetTunables(t Tunables) {
	l.mu.Lock()
	l.tunables = t.withDefaults()
	l.mu.Unlock()
}

func (l *Learner) currentTunables() Tunables {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tunables
}

// RecordOutcome feeds one true/false-positive observation for a rule.
// Unknown rule ids (from a replaced configuration) are dropped quietly.
func (l *Learner) RecordOutcome(ruleID string, wasCorrect bool) {
	if !l.sets().RecordOutcome(ruleID, wasCorrect) {
		l.logger.Debug("outcome for unknown rule dropped", zap.String("rule_id", ruleID))
		return
	}
	l.statsMu.Lock()
	l.outcomesTotal++
	if !wasCorrect {
		l.falseReports++
	}
	l.statsMu.Unlock()
}

// MaybeAdjust runs one adjustment pass: it snapshots rule statistics,
// then disables every enabled rule whose effectiveness is below the
// floor with at least the minimum sample count. Returns the ids
// disabled in this cycle.
func (l *Learner) MaybeAdjust() []string {
	t := l.currentTunables()
	set := l.sets()
	snapshot := set.LearningSnapshot()

	var disabled []string
	for _, st := range snapshot {
		if !st.Enabled {
			continue
		}
		if st.SampleCount < t.MinSampleCount {
			continue
		}
		if st.Effectiveness >= t.EffectivenessFloor {
			continue
		}
		if set.Disable(st.RuleID) {
			disabled = append(disabled, st.RuleID)
			l.logger.Info("rule auto-disabled",
				zap.String("rule_id", st.RuleID),
				zap.Float64("effectiveness", st.Effectiveness),
				zap.Int64("samples", st.SampleCount),
				zap.Float64("floor", t.EffectivenessFloor),
			)
		}
	}

	l.statsMu.Lock()
	l.lastAdjusted = time.Now()
	l.disabledTotal += int64(len(disabled))
	l.lastDisabledIDs = disabled
	l.statsMu.Unlock()

	return disabled
}

// Run executes adjustment passes on the configured cadence until the
// context is cancelled. The pass itself works on a snapshot, so it
// never blocks message-path evaluation.
func (l *Learner) Run(ctx context.Context) {
	ticker := time.NewTicker(l.currentTunables().interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if disabled := l.MaybeAdjust(); len(disabled) > 0 {
				l.logger.Info("adjustment cycle complete",
					zap.Strings("disabled_rules", disabled),
				)
			}
			// Pick up a cadence change from config replacement.
			ticker.Reset(l.currentTunables().interval())
		}
	}
}

// Stats is a snapshot of learner counters for health reporting.
type Stats struct {
	OutcomesTotal      int64     `json:"outcomes_total"`
	FalsePositiveTotal int64     `json:"false_positive_total"`
	RulesDisabledTotal int64     `json:"rules_disabled_total"`
	LastAdjusted       time.Time `json:"last_adjusted"`
	LastCycleDisabled  []string  `json:"last_cycle_disabled,omitempty"`
}

// Snapshot copies the learner counters.
func (l *Learner) Snapshot() Stats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return Stats{
		OutcomesTotal:      l.outcomesTotal,
		FalsePositiveTotal: l.falseReports,
		RulesDisabledTotal: l.disabledTotal,
		LastAdjusted:       l.lastAdjusted,
		LastCycleDisabled:  append([]string(nil), l.lastDisabledIDs...),
	}
}
