package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func mustCompile(t *testing.T, content, response []Rule, predicates PredicateMap) *Set {
	t.Helper()
	set, err := Compile(content, response, predicates)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return set
}

func defaultContentRules() []Rule {
	return []Rule{
		testRule("dm_1", KindCustom, "is_dm", PriorityCritical),
		testRule("mention_1", KindRegex, `<@!?\d+>`, PriorityCritical),
		testRule("wall_1", KindLength, "1000", PriorityHigh),
		testRule("caps_1", KindRegex, `[A-Z\s!?]{20,}`, PriorityMedium),
	}
}

func TestEvaluate_NoTrigger(t *testing.T) {
	set := mustCompile(t, defaultContentRules(), nil, nil)
	e := NewEngine(set, zap.NewNop())

	result := e.Evaluate(context.Background(), "just a normal message", EvalContext{Identity: "user1"})
	if result.Triggered {
		t.Errorf("expected no trigger, got %v", result.TriggeredIDs)
	}
	if result.Priority != PriorityLow {
		t.Errorf("expected low priority baseline, got %v", result.Priority)
	}
	if !strings.Contains(result.Rationale, "no rules triggered") {
		t.Errorf("unexpected rationale: %s", result.Rationale)
	}
}

func TestEvaluate_DirectMessageCritical(t *testing.T) {
	set := mustCompile(t, defaultContentRules(), nil, nil)
	e := NewEngine(set, zap.NewNop())

	result := e.Evaluate(context.Background(), "hi there", EvalContext{
		Identity:        "user1",
		IsDirectMessage: true,
	})
	if !result.Triggered {
		t.Fatal("expected dm rule to trigger")
	}
	if result.Priority != PriorityCritical {
		t.Errorf("expected critical, got %v", result.Priority)
	}
	if len(result.TriggeredIDs) != 1 || result.TriggeredIDs[0] != "dm_1" {
		t.Errorf("unexpected triggered ids: %v", result.TriggeredIDs)
	}
}

func TestEvaluate_MentionCritical(t *testing.T) {
	set := mustCompile(t, defaultContentRules(), nil, nil)
	e := NewEngine(set, zap.NewNop())

	result := e.Evaluate(context.Background(), "hey <@12345> look at this", EvalContext{Identity: "user1"})
	if result.Priority != PriorityCritical {
		t.Errorf("expected critical for mention, got %v", result.Priority)
	}
}

func TestEvaluate_SeverityIsMaxOfTriggered(t *testing.T) {
	set := mustCompile(t, defaultContentRules(), nil, nil)
	e := NewEngine(set, zap.NewNop())

	// Caps abuse (MEDIUM) plus a mention (CRITICAL) in one message.
	result := e.Evaluate(context.Background(), "<@99> STOP SHOUTING AT ME PLEASE!!", EvalContext{Identity: "user1"})
	if result.Priority != PriorityCritical {
		t.Errorf("expected critical (max severity wins), got %v", result.Priority)
	}
	if len(result.TriggeredIDs) != 2 {
		t.Errorf("expected both rules reported, got %v", result.TriggeredIDs)
	}
	// Set order is preserved regardless of goroutine completion order.
	if result.TriggeredIDs[0] != "mention_1" || result.TriggeredIDs[1] != "caps_1" {
		t.Errorf("triggered ids out of set order: %v", result.TriggeredIDs)
	}
}

func TestEvaluate_LengthRule(t *testing.T) {
	set := mustCompile(t, []Rule{testRule("wall_1", KindLength, "10", PriorityHigh)}, nil, nil)
	e := NewEngine(set, zap.NewNop())

	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"under threshold", "short", false},
		{"at threshold", "exactly10!", false},
		{"over threshold", "this is over ten chars", true},
		{"multibyte runes counted once", strings.Repeat("日", 10), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := e.Evaluate(context.Background(), tc.content, EvalContext{Identity: "u"})
			if result.Triggered != tc.want {
				t.Errorf("triggered = %v, want %v", result.Triggered, tc.want)
			}
		})
	}
}

func TestEvaluate_FrequencyRule(t *testing.T) {
	set := mustCompile(t, []Rule{testRule("flood_1", KindFrequency, "5:60", PriorityHigh)}, nil, nil)
	e := NewEngine(set, zap.NewNop())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	e.SetNow(func() time.Time { return clock })

	// Five messages inside the window stay clean; the sixth trips it.
	for i := 0; i < 5; i++ {
		clock = base.Add(time.Duration(i) * time.Second)
		result := e.Evaluate(context.Background(), "msg", EvalContext{Identity: "flooder"})
		if result.Triggered {
			t.Fatalf("message %d should not trigger", i+1)
		}
	}
	clock = base.Add(5 * time.Second)
	result := e.Evaluate(context.Background(), "msg", EvalContext{Identity: "flooder"})
	if !result.Triggered {
		t.Fatal("sixth message within the window should trigger")
	}

	// A different identity is unaffected.
	result = e.Evaluate(context.Background(), "msg", EvalContext{Identity: "someone-else"})
	if result.Triggered {
		t.Error("frequency state leaked across identities")
	}

	// Empty identity never accumulates frequency state.
	for i := 0; i < 10; i++ {
		result = e.Evaluate(context.Background(), "msg", EvalContext{})
		if result.Triggered {
			t.Fatal("empty identity should never trip a frequency rule")
		}
	}
}

func TestEvaluate_FrequencyWindowExpires(t *testing.T) {
	set := mustCompile(t, []Rule{testRule("flood_1", KindFrequency, "5:60", PriorityHigh)}, nil, nil)
	e := NewEngine(set, zap.NewNop())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	e.SetNow(func() time.Time { return clock })

	for i := 0; i < 5; i++ {
		clock = base.Add(time.Duration(i) * time.Second)
		e.Evaluate(context.Background(), "msg", EvalContext{Identity: "u"})
	}

	// After the window slides past the burst, counting restarts.
	clock = base.Add(2 * time.Minute)
	result := e.Evaluate(context.Background(), "msg", EvalContext{Identity: "u"})
	if result.Triggered {
		t.Error("observations outside the window should not count")
	}
}

func TestEvaluate_WindowsSurviveSetSwap(t *testing.T) {
	set := mustCompile(t, []Rule{testRule("flood_1", KindFrequency, "5:60", PriorityHigh)}, nil, nil)
	e := NewEngine(set, zap.NewNop())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	e.SetNow(func() time.Time { return clock })

	for i := 0; i < 5; i++ {
		clock = base.Add(time.Duration(i) * time.Second)
		e.Evaluate(context.Background(), "msg", EvalContext{Identity: "flooder"})
	}

	// A new engine over a recompiled set adopts the tracker, so the
	// burst is still visible to the replacement rule set.
	next := mustCompile(t, []Rule{testRule("flood_1", KindFrequency, "5:60", PriorityHigh)}, nil, nil)
	e2 := NewEngineWithWindows(next, e.Windows(), zap.NewNop())
	e2.SetNow(func() time.Time { return clock })

	clock = base.Add(5 * time.Second)
	result := e2.Evaluate(context.Background(), "msg", EvalContext{Identity: "flooder"})
	if !result.Triggered {
		t.Error("frequency history lost across the set swap")
	}
}

func TestEvaluate_ResponseRulesDisjoint(t *testing.T) {
	content := []Rule{testRule("c1", KindRegex, "apple", PriorityHigh)}
	response := []Rule{testRule("r1", KindRegex, "banana", PriorityCritical)}
	set := mustCompile(t, content, response, nil)
	e := NewEngine(set, zap.NewNop())

	// Content containing the response pattern does not trigger it.
	result := e.Evaluate(context.Background(), "banana", EvalContext{Identity: "u"})
	if result.Triggered {
		t.Errorf("response rule leaked into content evaluation: %v", result.TriggeredIDs)
	}

	result = e.Evaluate(context.Background(), "banana", EvalContext{IsAgentResponse: true})
	if !result.Triggered || result.TriggeredIDs[0] != "r1" {
		t.Errorf("expected response rule to trigger, got %v", result.TriggeredIDs)
	}
	if !strings.Contains(result.Rationale, "agent response") {
		t.Errorf("rationale should name the agent-response source: %s", result.Rationale)
	}
}

func TestEvaluate_DisabledRulesSkipped(t *testing.T) {
	set := mustCompile(t, []Rule{testRule("r1", KindRegex, "bad", PriorityHigh)}, nil, nil)
	e := NewEngine(set, zap.NewNop())
	set.Disable("r1")

	result := e.Evaluate(context.Background(), "bad content", EvalContext{Identity: "u"})
	if result.Triggered {
		t.Error("disabled rule should not evaluate")
	}
}

func TestEvaluate_RuleFailureIsolated(t *testing.T) {
	predicates := BuiltinPredicates()
	predicates["always_errors"] = func(string, EvalContext) (bool, error) {
		return false, errors.New("boom")
	}
	predicates["always_panics"] = func(string, EvalContext) (bool, error) {
		panic("boom")
	}
	content := []Rule{
		testRule("err_1", KindCustom, "always_errors", PriorityCritical),
		testRule("panic_1", KindCustom, "always_panics", PriorityCritical),
		testRule("ok_1", KindRegex, "target", PriorityHigh),
	}
	set := mustCompile(t, content, nil, predicates)
	e := NewEngine(set, zap.NewNop())

	result := e.Evaluate(context.Background(), "target acquired", EvalContext{Identity: "u"})
	if !result.Triggered {
		t.Fatal("healthy rule should still trigger")
	}
	if len(result.TriggeredIDs) != 1 || result.TriggeredIDs[0] != "ok_1" {
		t.Errorf("failing rules leaked into the result: %v", result.TriggeredIDs)
	}
	if result.Priority != PriorityHigh {
		t.Errorf("expected high from the healthy rule, got %v", result.Priority)
	}
}

func TestEvaluate_DeterministicForSameInput(t *testing.T) {
	set := mustCompile(t, defaultContentRules(), nil, nil)
	e := NewEngine(set, zap.NewNop())
	content := "<@1> HELLO THERE FRIEND HOW ARE YOU?!"

	first := e.Evaluate(context.Background(), content, EvalContext{Identity: "u"})
	for i := 0; i < 20; i++ {
		again := e.Evaluate(context.Background(), content, EvalContext{Identity: "u"})
		if again.Priority != first.Priority {
			t.Fatalf("priority changed between runs: %v vs %v", again.Priority, first.Priority)
		}
		if fmt.Sprint(again.TriggeredIDs) != fmt.Sprint(first.TriggeredIDs) {
			t.Fatalf("triggered ids changed between runs: %v vs %v", again.TriggeredIDs, first.TriggeredIDs)
		}
	}
}

func TestEvaluate_ConcurrentCallers(t *testing.T) {
	set := mustCompile(t, defaultContentRules(), nil, nil)
	e := NewEngine(set, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			result := e.Evaluate(context.Background(), "<@42> hello", EvalContext{
				Identity: fmt.Sprintf("user%d", n%5),
			})
			if !result.Triggered {
				t.Error("expected mention to trigger")
			}
		}(i)
	}
	wg.Wait()
}

func TestPriorityOrdering(t *testing.T) {
	if !PriorityCritical.MoreSevere(PriorityHigh) {
		t.Error("critical should outrank high")
	}
	if PriorityIgnore.MoreSevere(PriorityLow) {
		t.Error("ignore should not outrank low")
	}
	if MaxSeverity(PriorityMedium, PriorityCritical) != PriorityCritical {
		t.Error("MaxSeverity should pick the more severe")
	}
	if MaxSeverity(PriorityLow, PriorityLow) != PriorityLow {
		t.Error("MaxSeverity of equal priorities")
	}
}

func TestPriorityRoundTrip(t *testing.T) {
	for _, p := range []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, PriorityIgnore} {
		if got := ParsePriority(p.String()); got != p {
			t.Errorf("round trip failed for %v: got %v", p, got)
		}
	}
	if ParsePriority("garbage") != PriorityMedium {
		t.Error("unknown priority name should map to medium")
	}
}

func TestInvalidJSONPredicate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"plain prose", "hello world", false},
		{"valid object", `{"a": 1}`, false},
		{"valid array", `[1, 2, 3]`, false},
		{"broken object", `{"a": `, true},
		{"broken array", `[1, 2`, true},
		{"leading whitespace", "   {bad", true},
	}
	pred := BuiltinPredicates()["invalid_json"]
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := pred(tc.content, EvalContext{})
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("invalid_json(%q) = %v, want %v", tc.content, got, tc.want)
			}
		})
	}
}

func BenchmarkEvaluate(b *testing.B) {
	set, err := Compile(defaultContentRules(), nil, nil)
	if err != nil {
		b.Fatal(err)
	}
	e := NewEngine(set, zap.NewNop())
	ctx := context.Background()
	ectx := EvalContext{Identity: "bench-user"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Evaluate(ctx, "a perfectly ordinary message about nothing much", ectx)
	}
}
