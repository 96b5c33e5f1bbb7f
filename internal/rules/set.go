package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// compiledRule pairs a rule with its pre-parsed matcher payload.
// Patterns are compiled exactly once, at Compile time, never on the
// message path.
type compiledRule struct {
	rule *Rule

	re            *regexp.Regexp // KindRegex
	lengthLimit   int            // KindLength
	freqCount     int            // KindFrequency
	freqWindow    time.Duration  // KindFrequency
	predicate     Predicate      // KindCustom
	predicateName string
}

// Set is a compiled, concurrently usable rule set. Content rules and
// agent-response rules are disjoint: a message is evaluated against one
// list or the other, never both.
type Set struct {
	mu       sync.RWMutex
	content  []*compiledRule
	response []*compiledRule
	byID     map[string]*compiledRule
}

// CompileError describes why a single rule failed to compile. A set
// compile is all-or-nothing: any CompileError rejects the whole set.
type CompileError struct {
	RuleID string
	Reason string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("rule %q: %s", e.RuleID, e.Reason)
}

// Compile validates and compiles content and agent-response rules into a
// Set. It rejects the whole input on the first structural problem:
// duplicate ids, unknown matcher kinds, malformed patterns, or unknown
// custom predicates.
func Compile(content, response []Rule, predicates PredicateMap) (*Set, error) {
	if predicates == nil {
		predicates = BuiltinPredicates()
	}

	s := &Set{byID: make(map[string]*compiledRule, len(content)+len(response))}

	add := func(list *[]*compiledRule, in []Rule) error {
		for i := range in {
			r := in[i] // copy; the set owns its rules
			cr, err := compileRule(&r, predicates)
			if err != nil {
				return err
			}
			if _, dup := s.byID[r.ID]; dup {
				return &CompileError{RuleID: r.ID, Reason: "duplicate rule id"}
			}
			s.byID[r.ID] = cr
			*list = append(*list, cr)
		}
		return nil
	}

	if err := add(&s.content, content); err != nil {
		return nil, err
	}
	if err := add(&s.response, response); err != nil {
		return nil, err
	}
	return s, nil
}

func compileRule(r *Rule, predicates PredicateMap) (*compiledRule, error) {
	if strings.TrimSpace(r.ID) == "" {
		return nil, &CompileError{RuleID: r.ID, Reason: "empty rule id"}
	}
	cr := &compiledRule{rule: r}

	switch r.Kind {
	case KindRegex:
		// Patterns carry their own flags; a blanket (?i) would defeat
		// case-sensitive rules like caps detection.
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, &CompileError{RuleID: r.ID, Reason: "invalid regex: " + err.Error()}
		}
		cr.re = re

	case KindLength:
		n, err := strconv.Atoi(r.Pattern)
		if err != nil || n <= 0 {
			return nil, &CompileError{RuleID: r.ID, Reason: "length pattern must be a positive integer"}
		}
		cr.lengthLimit = n

	case KindFrequency:
		count, window, err := parseFrequencyPattern(r.Pattern)
		if err != nil {
			return nil, &CompileError{RuleID: r.ID, Reason: err.Error()}
		}
		cr.freqCount = count
		cr.freqWindow = window

	case KindCustom:
		p, ok := predicates[r.Pattern]
		if !ok {
			return nil, &CompileError{RuleID: r.ID, Reason: "unknown custom predicate " + strconv.Quote(r.Pattern)}
		}
		cr.predicate = p
		cr.predicateName = r.Pattern

	default:
		return nil, &CompileError{RuleID: r.ID, Reason: "unknown matcher kind " + strconv.Quote(string(r.Kind))}
	}

	return cr, nil
}

// parseFrequencyPattern parses "count:seconds" (e.g. "5:60").
func parseFrequencyPattern(pattern string) (int, time.Duration, error) {
	parts := strings.SplitN(pattern, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("frequency pattern must be count:seconds, got %q", pattern)
	}
	count, err := strconv.Atoi(parts[0])
	if err != nil || count <= 0 {
		return 0, 0, fmt.Errorf("frequency count must be a positive integer, got %q", parts[0])
	}
	secs, err := strconv.Atoi(parts[1])
	if err != nil || secs <= 0 {
		return 0, 0, fmt.Errorf("frequency window must be positive seconds, got %q", parts[1])
	}
	return count, time.Duration(secs) * time.Second, nil
}

// MaxFrequencyWindow returns the widest trailing window any frequency
// rule in the set uses. Zero when the set has no frequency rules.
func (s *Set) MaxFrequencyWindow() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max time.Duration
	for _, list := range [][]*compiledRule{s.content, s.response} {
		for _, cr := range list {
			if cr.rule.Kind == KindFrequency && cr.freqWindow > max {
				max = cr.freqWindow
			}
		}
	}
	return max
}

// RecordOutcome updates a rule's true/false-positive counters and
// recomputes effectiveness and false-positive rate. Returns false when
// the rule id is unknown (e.g. it belonged to a replaced configuration).
func (s *Set) RecordOutcome(ruleID string, wasCorrect bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cr, ok := s.byID[ruleID]
	if !ok {
		return false
	}
	r := cr.rule
	if wasCorrect {
		r.TruePositiveCount++
	} else {
		r.FalsePositiveCount++
	}
	total := r.TruePositiveCount + r.FalsePositiveCount
	if total > 0 {
		r.Effectiveness = float64(r.TruePositiveCount) / float64(total)
		r.FalsePositiveRate = float64(r.FalsePositiveCount) / float64(total)
	}
	return true
}

// Disable marks a rule disabled. The rule stays in the set and remains
// inspectable; nothing ever deletes a rule at runtime.
func (s *Set) Disable(ruleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cr, ok := s.byID[ruleID]
	if !ok || !cr.rule.Enabled {
		return false
	}
	cr.rule.Enabled = false
	return true
}

// markTriggered stamps the rule's last-triggered time.
func (s *Set) markTriggered(ruleID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cr, ok := s.byID[ruleID]; ok {
		t := at
		cr.rule.LastTriggered = &t
	}
}

// LearningSnapshot copies every rule's learning metadata. The learner
// works from this copy so the set lock is never held across a full
// adjustment pass.
func (s *Set) LearningSnapshot() []LearningStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LearningStats, 0, len(s.byID))
	for _, list := range [][]*compiledRule{s.content, s.response} {
		for _, cr := range list {
			r := cr.rule
			out = append(out, LearningStats{
				RuleID:        r.ID,
				Enabled:       r.Enabled,
				Effectiveness: r.Effectiveness,
				SampleCount:   r.TruePositiveCount + r.FalsePositiveCount,
			})
		}
	}
	return out
}

// Rules returns copies of the content and agent-response rules, in set
// order, for API responses and persistence.
func (s *Set) Rules() (content, response []Rule) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content = make([]Rule, 0, len(s.content))
	for _, cr := range s.content {
		content = append(content, cloneRule(cr.rule))
	}
	response = make([]Rule, 0, len(s.response))
	for _, cr := range s.response {
		response = append(response, cloneRule(cr.rule))
	}
	return content, response
}

// Rule returns a copy of a single rule by id.
func (s *Set) Rule(ruleID string) (Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cr, ok := s.byID[ruleID]
	if !ok {
		return Rule{}, false
	}
	return cloneRule(cr.rule), true
}

func cloneRule(r *Rule) Rule {
	c := *r
	if r.LastTriggered != nil {
		t := *r.LastTriggered
		c.LastTriggered = &t
	}
	return c
}

// applicable returns a stable copy of the compiled-rule slice for the
// requested mode. Taken under RLock so evaluation never races a
// concurrent metadata update.
func (s *Set) applicable(agentResponse bool) []*compiledRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.content
	if agentResponse {
		src = s.response
	}
	out := make([]*compiledRule, len(src))
	copy(out, src)
	return out
}

// enabledSnapshot reads a rule's enabled flag under the set lock.
func (s *Set) enabled(cr *compiledRule) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cr.rule.Enabled
}

// MarshalJSON serializes the set as its rule lists, mostly for debug
// endpoints.
func (s *Set) MarshalJSON() ([]byte, error) {
	content, response := s.Rules()
	return json.Marshal(struct {
		Content  []Rule `json:"content_rules"`
		Response []Rule `json:"response_rules"`
	}{content, response})
}
