package filter

import (
	"github.com/sift-ai/gatewatch/internal/rules"
)

// Message is the channel-agnostic inbound abstraction. Channel adapters
// normalize their envelopes into this shape before the coordinator sees
// anything; no envelope parsing happens here.
type Message struct {
	ID              string `json:"id"`
	Content         string `json:"content"`
	Identity        string `json:"identity"` // sender identity handle; may be empty
	ChannelID       string `json:"channel_id,omitempty"`
	ChannelKind     string `json:"channel_kind"` // open set: "discord", "api", "cli", ...
	IsDirectMessage bool   `json:"is_dm"`
	IsAgentResponse bool   `json:"is_agent_response"`
}

// Hint is one downstream context hint.
type Hint struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Outcome is the per-message filter result. It is a transient return
// value; persistence of the decision happens through the event sink.
type Outcome struct {
	MessageID      string         `json:"message_id"`
	Priority       rules.Priority `json:"priority"`
	TriggeredRules []string       `json:"triggered_rules"`
	Admit          bool           `json:"admit"`
	Defer          bool           `json:"defer"`
	Rationale      string         `json:"rationale"`
	ContextHints   []Hint         `json:"context_hints,omitempty"`
}
