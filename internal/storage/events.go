package storage

import "time"

// EventWriter is the interface for writing filter events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *FilterEvent)
	Close()
}

// FilterEvent represents a single filter decision to be persisted.
// Only the identity hash leaves the process; raw handles stay in
// memory.
type FilterEvent struct {
	RequestID       string
	MessageID       string
	Timestamp       time.Time
	ChannelKind     string
	IdentityHash    string
	IsAgentResponse bool
	ContentPreview  string // first 500 chars
	ContentHash     string // SHA256 of full content
	ContentSize     uint32
	Priority        string
	Admitted        bool
	Deferred        bool
	Rationale       string
	TriggeredRules  []string
	TrustScore      float64
	LatencyMs       float32
}

// ContentPreviewLength is the max chars stored in content_preview.
const ContentPreviewLength = 500

// TruncateContent returns the first N characters (runes) of message
// content for preview storage. It never splits a multi-byte UTF-8
// character.
func TruncateContent(content string, maxLen int) string {
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	return string(runes[:maxLen])
}
