package api

import (
	"time"

	"github.com/sift-ai/gatewatch/internal/filter"
	"github.com/sift-ai/gatewatch/internal/learning"
	"github.com/sift-ai/gatewatch/internal/rules"
	"github.com/sift-ai/gatewatch/internal/trust"
)

// --- POST /v1/filter request/response ---

// FilterRequest is the JSON body for POST /v1/filter.
type FilterRequest struct {
	MessageID       string `json:"message_id,omitempty"`
	Content         string `json:"content"`
	Identity        string `json:"identity,omitempty"`
	ChannelID       string `json:"channel_id,omitempty"`
	ChannelKind     string `json:"channel_kind,omitempty"`
	IsDirectMessage bool   `json:"is_dm,omitempty"`
	IsAgentResponse bool   `json:"is_agent_response,omitempty"`
}

// FilterResponse is the admission decision returned to the caller.
type FilterResponse struct {
	MessageID      string            `json:"message_id"`
	Priority       string            `json:"priority"`
	Admitted       bool              `json:"admitted"`
	Deferred       bool              `json:"deferred"`
	IsShadow       bool              `json:"is_shadow"`
	TriggeredRules []string          `json:"triggered_rules"`
	Rationale      string            `json:"rationale"`
	ContextHints   map[string]string `json:"context_hints,omitempty"`
	LatencyMs      float64           `json:"latency_ms"`
}

// --- Rules, feedback, stats ---

// RulesListResp groups the active rules by category.
type RulesListResp struct {
	Attention []rules.Rule `json:"attention_rules"`
	Review    []rules.Rule `json:"review_rules"`
	Response  []rules.Rule `json:"response_rules"`
	Total     int          `json:"total"`
}

// FeedbackReq is the JSON body for POST /api/gatewatch/feedback.
type FeedbackReq struct {
	RuleID     string `json:"rule_id"`
	WasCorrect *bool  `json:"was_correct"`
}

// StatsResp aggregates message counters, learner counters, and per-rule
// effectiveness for GET /api/gatewatch/stats.
type StatsResp struct {
	Messages filter.Stats    `json:"messages"`
	Learning learning.Stats  `json:"learning"`
	Rules    []RuleStatsResp `json:"rules"`
}

// RuleStatsResp is the per-rule effectiveness summary.
type RuleStatsResp struct {
	RuleID            string  `json:"rule_id"`
	Enabled           bool    `json:"enabled"`
	Effectiveness     float64 `json:"effectiveness"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
	SampleCount       int64   `json:"sample_count"`
}

// HealthResp reports filter health with operator-facing warnings.
type HealthResp struct {
	Status          string   `json:"status"` // "healthy" or "degraded"
	Warnings        []string `json:"warnings"`
	EnabledRules    int      `json:"enabled_rules"`
	TotalRules      int      `json:"total_rules"`
	ProfilesTracked int      `json:"profiles_tracked"`
	ConfigVersion   int      `json:"config_version"`
}

// --- Configuration ---

// ConfigReplaceResp acknowledges a configuration replacement.
type ConfigReplaceResp struct {
	Version int    `json:"version"`
	Reason  string `json:"reason,omitempty"`
}

// ValidationErrorResp is the 422 body for a rejected configuration.
type ValidationErrorResp struct {
	Detail   string   `json:"detail"`
	Problems []string `json:"problems"`
}

// --- Trust profiles ---

// TransitionReq is the JSON body for a consent-tier transition.
type TransitionReq struct {
	FromTier string `json:"from_tier"`
	ToTier   string `json:"to_tier"`
}

// TransitionResp reports a transition and its gaming verdict.
type TransitionResp struct {
	GamingDetected bool          `json:"gaming_detected"`
	Profile        trust.Profile `json:"profile"`
}

// --- Tenant CRUD ---

// CreateTenantReq is the JSON body for POST /api/gatewatch/tenants.
type CreateTenantReq struct {
	Name string `json:"name"`
}

// CreateTenantResp includes the plaintext API key (shown once).
type CreateTenantResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKey       string    `json:"api_key"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	Mode         string    `json:"mode"`
	CreatedAt    time.Time `json:"created_at"`
}

// UpdateTenantReq is the JSON body for PATCH /api/gatewatch/tenants/{id}.
type UpdateTenantReq struct {
	Name *string `json:"name,omitempty"`
	Mode *string `json:"mode,omitempty"`
}

// TenantResp is the tenant view without the plaintext key.
type TenantResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	Mode         string    `json:"mode"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RotateKeyResp includes the new plaintext API key (shown once).
type RotateKeyResp struct {
	APIKey       string `json:"api_key"`
	APIKeyPrefix string `json:"api_key_prefix"`
}

// --- Filter events ---

// FilterEventResp mirrors one persisted filter decision.
type FilterEventResp struct {
	RequestID       string    `json:"request_id"`
	MessageID       string    `json:"message_id"`
	Timestamp       time.Time `json:"timestamp"`
	ChannelKind     *string   `json:"channel_kind"`
	IdentityHash    *string   `json:"identity_hash"`
	IsAgentResponse bool      `json:"is_agent_response"`
	ContentPreview  string    `json:"content_preview"`
	ContentSize     uint32    `json:"content_size"`
	Priority        string    `json:"priority"`
	Admitted        bool      `json:"admitted"`
	Deferred        bool      `json:"deferred"`
	Rationale       *string   `json:"rationale"`
	TriggeredRules  []string  `json:"triggered_rules"`
	TrustScore      float64   `json:"trust_score"`
	LatencyMs       float32   `json:"latency_ms"`
}

// EventListResp is a paginated event listing.
type EventListResp struct {
	Events   []FilterEventResp `json:"events"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
