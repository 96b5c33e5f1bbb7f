package api

import (
	"fmt"
	"net/http"

	"github.com/sift-ai/gatewatch/internal/rules"
)

// handleListRules implements GET /api/gatewatch/rules.
// Disabled rules are hidden unless ?include_disabled=true.
func (d *Dependencies) handleListRules(w http.ResponseWriter, r *http.Request) {
	includeDisabled := queryBool(r.URL.Query(), "include_disabled")

	cfg := d.Filter.Config()
	resp := RulesListResp{
		Attention: filterRules(cfg.AttentionRules, includeDisabled),
		Review:    filterRules(cfg.ReviewRules, includeDisabled),
		Response:  filterRules(cfg.ResponseRules, includeDisabled),
	}
	resp.Total = len(resp.Attention) + len(resp.Review) + len(resp.Response)

	writeJSON(w, http.StatusOK, resp)
}

func filterRules(in []rules.Rule, includeDisabled bool) []rules.Rule {
	out := make([]rules.Rule, 0, len(in))
	for _, r := range in {
		if r.Enabled || includeDisabled {
			out = append(out, r)
		}
	}
	return out
}

// handleFeedback implements POST /api/gatewatch/feedback: an operator's
// true/false-positive verdict on a rule trigger, fed to the learner.
func (d *Dependencies) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.RuleID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "rule_id is required"})
		return
	}
	if req.WasCorrect == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "was_correct is required"})
		return
	}

	d.Filter.RecordFeedback(req.RuleID, *req.WasCorrect)
	w.WriteHeader(http.StatusAccepted)
}

// handleStats implements GET /api/gatewatch/stats.
func (d *Dependencies) handleStats(w http.ResponseWriter, r *http.Request) {
	cfg := d.Filter.Config()

	all := append(append(append([]rules.Rule(nil), cfg.AttentionRules...), cfg.ReviewRules...), cfg.ResponseRules...)
	ruleStats := make([]RuleStatsResp, 0, len(all))
	for _, rl := range all {
		samples := rl.TruePositiveCount + rl.FalsePositiveCount
		eff := rl.Effectiveness
		if samples == 0 {
			eff = 0.5 // no evidence either way yet
		}
		ruleStats = append(ruleStats, RuleStatsResp{
			RuleID:            rl.ID,
			Enabled:           rl.Enabled,
			Effectiveness:     eff,
			FalsePositiveRate: rl.FalsePositiveRate,
			SampleCount:       samples,
		})
	}

	writeJSON(w, http.StatusOK, StatsResp{
		Messages: d.Filter.Stats(),
		Learning: d.Filter.Learner().Snapshot(),
		Rules:    ruleStats,
	})
}

// handleHealth implements GET /api/gatewatch/health. Degraded when no
// attention rule is enabled or a live rule has a high false-positive
// rate.
func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := d.Filter.Config()
	stats := d.Filter.Stats()

	var warnings []string
	enabledAttention := 0
	enabled, total := 0, 0
	for _, group := range [][]rules.Rule{cfg.AttentionRules, cfg.ReviewRules, cfg.ResponseRules} {
		for _, rl := range group {
			total++
			if rl.Enabled {
				enabled++
			}
		}
	}
	for _, rl := range cfg.AttentionRules {
		if rl.Enabled {
			enabledAttention++
		}
	}
	if enabledAttention == 0 {
		warnings = append(warnings, "no enabled attention rules, direct messages and mentions are not escalated")
	}
	for _, group := range [][]rules.Rule{cfg.AttentionRules, cfg.ReviewRules, cfg.ResponseRules} {
		for _, rl := range group {
			samples := rl.TruePositiveCount + rl.FalsePositiveCount
			if rl.Enabled && samples >= 10 && rl.FalsePositiveRate > 0.5 {
				warnings = append(warnings, fmt.Sprintf("rule %s has false-positive rate %.2f", rl.ID, rl.FalsePositiveRate))
			}
		}
	}

	status := "healthy"
	if len(warnings) > 0 {
		status = "degraded"
	}
	if warnings == nil {
		warnings = []string{}
	}

	writeJSON(w, http.StatusOK, HealthResp{
		Status:          status,
		Warnings:        warnings,
		EnabledRules:    enabled,
		TotalRules:      total,
		ProfilesTracked: stats.ProfilesTracked,
		ConfigVersion:   stats.ConfigVersion,
	})
}

func queryBool(q interface{ Get(string) string }, key string) bool {
	v := q.Get(key)
	return v == "true" || v == "1"
}
