package api

import (
	"net/http"
	"time"

	"github.com/sift-ai/gatewatch/internal/filter"
)

// handleFilter implements POST /v1/filter.
// Auth middleware has already validated the Bearer token and injected the tenant.
func (d *Dependencies) handleFilter(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req FilterRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	tenant := tenantFromContext(r.Context())
	if tenant == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing tenant context"})
		return
	}

	out := d.Filter.FilterMessage(r.Context(), filter.Message{
		ID:              req.MessageID,
		Content:         req.Content,
		Identity:        req.Identity,
		ChannelID:       req.ChannelID,
		ChannelKind:     req.ChannelKind,
		IsDirectMessage: req.IsDirectMessage,
		IsAgentResponse: req.IsAgentResponse,
	})

	// Shadow mode: report the real verdict but never suppress or defer.
	admitted := out.Admit
	deferred := out.Defer
	isShadow := false
	if tenant.Mode == "shadow" && (!admitted || deferred) {
		isShadow = true
		admitted = true
		deferred = false
	}

	hints := make(map[string]string, len(out.ContextHints))
	for _, h := range out.ContextHints {
		hints[h.Key] = h.Value
	}

	triggered := out.TriggeredRules
	if triggered == nil {
		triggered = []string{}
	}

	writeJSON(w, http.StatusOK, FilterResponse{
		MessageID:      out.MessageID,
		Priority:       out.Priority.String(),
		Admitted:       admitted,
		Deferred:       deferred,
		IsShadow:       isShadow,
		TriggeredRules: triggered,
		Rationale:      out.Rationale,
		ContextHints:   hints,
		LatencyMs:      float64(time.Since(start)) / float64(time.Millisecond),
	})
}
