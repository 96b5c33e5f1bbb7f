package rules

import (
	"strings"
	"testing"
	"time"
)

func testRule(id string, kind MatcherKind, pattern string, priority Priority) Rule {
	return Rule{
		ID:       id,
		Name:     id,
		Kind:     kind,
		Pattern:  pattern,
		Priority: priority,
		Enabled:  true,
	}
}

func TestCompile_Valid(t *testing.T) {
	content := []Rule{
		testRule("r1", KindRegex, `hello`, PriorityHigh),
		testRule("r2", KindLength, "100", PriorityMedium),
		testRule("r3", KindFrequency, "5:60", PriorityHigh),
		testRule("r4", KindCustom, "is_dm", PriorityCritical),
	}
	response := []Rule{
		testRule("r5", KindCustom, "invalid_json", PriorityHigh),
	}

	set, err := Compile(content, response, nil)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	gotContent, gotResponse := set.Rules()
	if len(gotContent) != 4 || len(gotResponse) != 1 {
		t.Errorf("expected 4 content + 1 response rules, got %d + %d", len(gotContent), len(gotResponse))
	}
	if set.MaxFrequencyWindow() != 60*time.Second {
		t.Errorf("expected 60s max frequency window, got %v", set.MaxFrequencyWindow())
	}
}

func TestCompile_Rejections(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		want string
	}{
		{"empty id", testRule("", KindRegex, "x", PriorityLow), "empty rule id"},
		{"bad regex", testRule("r1", KindRegex, "([invalid", PriorityLow), "invalid regex"},
		{"bad length", testRule("r1", KindLength, "not-a-number", PriorityLow), "positive integer"},
		{"zero length", testRule("r1", KindLength, "0", PriorityLow), "positive integer"},
		{"bad frequency shape", testRule("r1", KindFrequency, "5", PriorityLow), "count:seconds"},
		{"bad frequency count", testRule("r1", KindFrequency, "0:60", PriorityLow), "positive integer"},
		{"bad frequency window", testRule("r1", KindFrequency, "5:-1", PriorityLow), "positive seconds"},
		{"unknown predicate", testRule("r1", KindCustom, "no_such_predicate", PriorityLow), "unknown custom predicate"},
		{"unknown kind", testRule("r1", MatcherKind("bogus"), "x", PriorityLow), "unknown matcher kind"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile([]Rule{tc.rule}, nil, nil)
			if err == nil {
				t.Fatal("expected compile error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error containing %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestCompile_DuplicateID(t *testing.T) {
	content := []Rule{testRule("dup", KindRegex, "a", PriorityLow)}
	response := []Rule{testRule("dup", KindRegex, "b", PriorityLow)}

	_, err := Compile(content, response, nil)
	if err == nil {
		t.Fatal("expected duplicate id error, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate rule id") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCompile_AllOrNothing(t *testing.T) {
	content := []Rule{
		testRule("good", KindRegex, "a", PriorityLow),
		testRule("bad", KindRegex, "([", PriorityLow),
	}
	set, err := Compile(content, nil, nil)
	if err == nil {
		t.Fatal("expected error lost to partial compile")
	}
	if set != nil {
		t.Error("expected nil set on compile failure")
	}
}

func TestRecordOutcome(t *testing.T) {
	set, err := Compile([]Rule{testRule("r1", KindRegex, "x", PriorityLow)}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		set.RecordOutcome("r1", true)
	}
	set.RecordOutcome("r1", false)

	r, ok := set.Rule("r1")
	if !ok {
		t.Fatal("rule not found")
	}
	if r.TruePositiveCount != 3 || r.FalsePositiveCount != 1 {
		t.Errorf("expected 3 TP / 1 FP, got %d / %d", r.TruePositiveCount, r.FalsePositiveCount)
	}
	if r.Effectiveness != 0.75 {
		t.Errorf("expected effectiveness 0.75, got %g", r.Effectiveness)
	}
	if r.FalsePositiveRate != 0.25 {
		t.Errorf("expected false positive rate 0.25, got %g", r.FalsePositiveRate)
	}

	if set.RecordOutcome("no-such-rule", true) {
		t.Error("expected false for unknown rule id")
	}
}

func TestDisable(t *testing.T) {
	set, err := Compile([]Rule{testRule("r1", KindRegex, "x", PriorityLow)}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if !set.Disable("r1") {
		t.Error("expected first disable to succeed")
	}
	if set.Disable("r1") {
		t.Error("expected second disable to report false")
	}
	r, _ := set.Rule("r1")
	if r.Enabled {
		t.Error("rule should be disabled")
	}

	// Disabled rules stay in the set.
	content, _ := set.Rules()
	if len(content) != 1 {
		t.Errorf("disabled rule was removed from the set: %d rules", len(content))
	}
}

func TestLearningSnapshot(t *testing.T) {
	set, err := Compile([]Rule{
		testRule("r1", KindRegex, "a", PriorityLow),
		testRule("r2", KindRegex, "b", PriorityLow),
	}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	set.RecordOutcome("r1", true)
	set.RecordOutcome("r1", false)

	snap := set.LearningSnapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	for _, st := range snap {
		if st.RuleID == "r1" {
			if st.SampleCount != 2 {
				t.Errorf("expected 2 samples for r1, got %d", st.SampleCount)
			}
			if st.Effectiveness != 0.5 {
				t.Errorf("expected effectiveness 0.5 for r1, got %g", st.Effectiveness)
			}
		}
	}
}

func TestRules_ReturnsCopies(t *testing.T) {
	set, err := Compile([]Rule{testRule("r1", KindRegex, "x", PriorityLow)}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	content, _ := set.Rules()
	content[0].Enabled = false

	r, _ := set.Rule("r1")
	if !r.Enabled {
		t.Error("mutating a returned rule copy leaked into the set")
	}
}
