package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Result is the outcome of evaluating one message against a rule set.
// TriggeredIDs preserves rule-set order, so repeated evaluation of the
// same content against the same set yields identical results.
type Result struct {
	Priority     Priority
	Triggered    bool
	TriggeredIDs []string
	Rationale    string
}

// Engine evaluates messages against the current rule set. All enabled,
// applicable rules run concurrently; there is no short-circuit, since
// every triggered id must be reported even once a CRITICAL rule has
// settled the severity.
type Engine struct {
	set     *Set
	windows *WindowTracker
	logger  *zap.Logger
	now     func() time.Time
}

// NewEngine creates an engine over a compiled set with a fresh window
// tracker sized for the widest frequency rule.
func NewEngine(set *Set, logger *zap.Logger) *Engine {
	return NewEngineWithWindows(set, NewWindowTracker(set.MaxFrequencyWindow()), logger)
}

// NewEngineWithWindows creates an engine that adopts an existing window
// tracker, so in-flight frequency history survives a rule-set swap. The
// tracker's retention is re-clamped to the new set's widest window.
func NewEngineWithWindows(set *Set, windows *WindowTracker, logger *zap.Logger) *Engine {
	windows.SetRetention(set.MaxFrequencyWindow())
	return &Engine{
		set:     set,
		windows: windows,
		logger:  logger,
		now:     time.Now,
	}
}

// SetNow overrides the engine clock. Test hook.
func (e *Engine) SetNow(now func() time.Time) { e.now = now }

// Windows exposes the tracker, mostly for tests and health reporting.
func (e *Engine) Windows() *WindowTracker { return e.windows }

// ruleOutcome carries one rule's verdict back from its goroutine.
type ruleOutcome struct {
	index     int
	ruleID    string
	ruleName  string
	priority  Priority
	triggered bool
	err       error
}

// Evaluate runs every enabled rule for the requested mode against the
// content. The frequency window for the identity is updated exactly
// once, before fan-out. A single failing rule is logged and excluded
// from the pass; it never aborts evaluation.
func (e *Engine) Evaluate(ctx context.Context, content string, ectx EvalContext) Result {
	now := e.now()
	applicable := e.set.applicable(ectx.IsAgentResponse)

	// One observation per message, shared by all frequency rules.
	if !ectx.IsAgentResponse {
		e.windows.Observe(ectx.Identity, now)
	}

	ch := make(chan ruleOutcome, len(applicable))
	launched := 0
	for i, cr := range applicable {
		if !e.set.enabled(cr) {
			continue
		}
		launched++
		go func(index int, cr *compiledRule) {
			out := ruleOutcome{
				index:    index,
				ruleID:   cr.rule.ID,
				ruleName: cr.rule.Name,
				priority: cr.rule.Priority,
			}
			defer func() {
				if rec := recover(); rec != nil {
					out.err = fmt.Errorf("rule panicked: %v", rec)
					out.triggered = false
				}
				ch <- out
			}()
			out.triggered, out.err = e.match(ctx, cr, content, ectx, now)
		}(i, cr)
	}

	collected := make([]ruleOutcome, 0, launched)
	for remaining := launched; remaining > 0; remaining-- {
		collected = append(collected, <-ch)
	}

	// Restore rule-set order for deterministic triggered-id lists.
	ordered := make([]ruleOutcome, len(applicable))
	seen := make([]bool, len(applicable))
	for _, out := range collected {
		ordered[out.index] = out
		seen[out.index] = true
	}

	result := Result{Priority: PriorityLow}
	var names []string
	for i, out := range ordered {
		if !seen[i] {
			continue
		}
		if out.err != nil {
			e.logger.Warn("rule evaluation error",
				zap.String("rule_id", out.ruleID),
				zap.Error(out.err),
			)
			continue
		}
		if !out.triggered {
			continue
		}
		result.Triggered = true
		result.TriggeredIDs = append(result.TriggeredIDs, out.ruleID)
		names = append(names, out.ruleName)
		if out.priority.MoreSevere(result.Priority) {
			result.Priority = out.priority
		}
		e.set.markTriggered(out.ruleID, now)
	}

	result.Rationale = rationale(names, result.Priority, ectx.IsAgentResponse, result.Triggered)
	return result
}

// match dispatches on the rule's matcher kind. New kinds are added by
// extending this switch, not by subclassing anything.
func (e *Engine) match(ctx context.Context, cr *compiledRule, content string, ectx EvalContext, now time.Time) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	switch cr.rule.Kind {
	case KindRegex:
		return cr.re.MatchString(content), nil

	case KindLength:
		return len([]rune(content)) > cr.lengthLimit, nil

	case KindFrequency:
		if ectx.Identity == "" {
			return false, nil
		}
		return e.windows.CountWithin(ectx.Identity, cr.freqWindow, now) > cr.freqCount, nil

	case KindCustom:
		return cr.predicate(content, ectx)

	default:
		return false, fmt.Errorf("unknown matcher kind %q", cr.rule.Kind)
	}
}

// rationale builds the human-readable explanation for a result.
func rationale(names []string, priority Priority, agentResponse, triggered bool) string {
	source := "message"
	if agentResponse {
		source = "agent response"
	}
	if !triggered {
		return fmt.Sprintf("no rules triggered, assigned %s priority", priority)
	}
	return fmt.Sprintf("%s triggered rules: %s -> %s priority", source, strings.Join(names, ", "), priority)
}
