package config

import (
	"github.com/sift-ai/gatewatch/internal/learning"
	"github.com/sift-ai/gatewatch/internal/privacy"
	"github.com/sift-ai/gatewatch/internal/rules"
	"github.com/sift-ai/gatewatch/internal/trust"
)

// DefaultAgentNamePattern matches the agent being addressed by name.
// Deployments override this per agent through configuration.
const DefaultAgentNamePattern = `(?i)\b(echo|gatewatch|echo\s*bot)\b`

// emojiSpamPattern fires on an eleventh emoji character in a single
// message. The class covers the emoticon, symbol, transport, and
// regional-indicator blocks.
const emojiSpamPattern = `(?:[\x{1F1E0}-\x{1F1FF}\x{1F300}-\x{1F64F}\x{1F680}-\x{1F6FF}][^\x{1F1E0}-\x{1F1FF}\x{1F300}-\x{1F64F}\x{1F680}-\x{1F6FF}]*){11}`

// Default returns the stock configuration used when the external store
// holds nothing: the essential attention, review, and agent-response
// rules plus default tunables.
func Default() *Config {
	return &Config{
		Version: 1,
		AttentionRules: []rules.Rule{
			{
				ID:          "dm_1",
				Name:        "direct_message",
				Kind:        rules.KindCustom,
				Pattern:     "is_dm",
				Priority:    rules.PriorityCritical,
				Enabled:     true,
				Description: "Direct messages to the agent",
			},
			{
				ID:          "mention_1",
				Name:        "at_mention",
				Kind:        rules.KindRegex,
				Pattern:     `<@!?\d+>`,
				Priority:    rules.PriorityCritical,
				Enabled:     true,
				Description: "@ mentions",
			},
			{
				ID:          "name_1",
				Name:        "name_mention",
				Kind:        rules.KindRegex,
				Pattern:     DefaultAgentNamePattern,
				Priority:    rules.PriorityCritical,
				Enabled:     true,
				Description: "Agent name mentioned",
			},
		},
		ReviewRules: []rules.Rule{
			{
				ID:          "wall_1",
				Name:        "text_wall",
				Kind:        rules.KindLength,
				Pattern:     "1000",
				Priority:    rules.PriorityHigh,
				Enabled:     true,
				Description: "Long messages (walls of text)",
			},
			{
				ID:          "flood_1",
				Name:        "message_flooding",
				Kind:        rules.KindFrequency,
				Pattern:     "5:60",
				Priority:    rules.PriorityHigh,
				Enabled:     true,
				Description: "Rapid message posting",
			},
			{
				ID:          "emoji_1",
				Name:        "emoji_spam",
				Kind:        rules.KindRegex,
				Pattern:     emojiSpamPattern,
				Priority:    rules.PriorityHigh,
				Enabled:     true,
				Description: "Excessive emoji usage",
			},
			{
				ID:          "caps_1",
				Name:        "caps_abuse",
				Kind:        rules.KindRegex,
				Pattern:     `[A-Z\s!?]{20,}`,
				Priority:    rules.PriorityMedium,
				Enabled:     true,
				Description: "Excessive caps lock",
			},
		},
		ResponseRules: []rules.Rule{
			{
				ID:          "resp_inject_1",
				Name:        "prompt_injection",
				Kind:        rules.KindRegex,
				Pattern:     `(?i)(ignore previous|disregard above|new instructions|system:)`,
				Priority:    rules.PriorityCritical,
				Enabled:     true,
				Description: "Potential prompt injection in a model response",
			},
			{
				ID:          "resp_malform_1",
				Name:        "malformed_json",
				Kind:        rules.KindCustom,
				Pattern:     "invalid_json",
				Priority:    rules.PriorityHigh,
				Enabled:     true,
				Description: "Malformed JSON from the model",
			},
			{
				ID:          "resp_length_1",
				Name:        "excessive_length",
				Kind:        rules.KindLength,
				Pattern:     "50000",
				Priority:    rules.PriorityHigh,
				Enabled:     true,
				Description: "Unusually long model response",
			},
		},
		Trust:    trust.DefaultTunables(),
		Gaming:   privacy.DefaultTunables(),
		Learning: learning.DefaultTunables(),
	}
}
