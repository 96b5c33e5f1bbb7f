package rules

import (
	"encoding/json"
	"strings"
)

// EvalContext carries the channel-agnostic message context a predicate
// may inspect. Content itself is passed separately.
type EvalContext struct {
	Identity        string // stable identity handle; empty for unresolved senders
	ChannelKind     string // open set: "discord", "api", "cli", ...
	IsDirectMessage bool
	IsAgentResponse bool
}

// Predicate is a named boolean check evaluated against content and
// context. Predicates must be pure and fast; an error is treated as a
// rule-level evaluation failure and isolated.
type Predicate func(content string, ectx EvalContext) (bool, error)

// PredicateMap maps predicate names (the pattern payload of a
// KindCustom rule) to implementations.
type PredicateMap map[string]Predicate

// BuiltinPredicates returns the predicates every configuration may
// reference without registering anything.
func BuiltinPredicates() PredicateMap {
	return PredicateMap{
		"is_dm":        isDirectMessage,
		"invalid_json": invalidJSON,
	}
}

func isDirectMessage(_ string, ectx EvalContext) (bool, error) {
	return ectx.IsDirectMessage, nil
}

// invalidJSON triggers when content looks like a JSON document but does
// not parse. Plain prose never triggers.
func invalidJSON(content string, _ EvalContext) (bool, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return false, nil
	}
	return !json.Valid([]byte(trimmed)), nil
}
