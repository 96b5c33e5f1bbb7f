package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/sift-ai/gatewatch/internal/config"
	"go.uber.org/zap"
)

// maxConfigBody caps PUT /api/gatewatch/config bodies at 1 MiB.
const maxConfigBody = 1 << 20

// handleGetConfig implements GET /api/gatewatch/config: the active
// configuration with live rule state folded in.
func (d *Dependencies) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.Filter.Config())
}

// handleReplaceConfig implements PUT /api/gatewatch/config. The whole
// configuration is validated and swapped atomically; any problem rejects
// the request and leaves the previous configuration active.
func (d *Dependencies) handleReplaceConfig(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Failed to read request body"})
		return
	}

	cfg, err := config.Decode(raw)
	if err != nil {
		writeValidationError(w, err)
		return
	}

	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "api replace"
	}

	if err := d.Filter.ReplaceConfig(cfg, reason); err != nil {
		writeValidationError(w, err)
		return
	}

	d.Logger.Info("configuration replaced via api",
		zap.Int("version", cfg.Version),
		zap.String("reason", reason),
	)
	writeJSON(w, http.StatusOK, ConfigReplaceResp{Version: cfg.Version, Reason: reason})
}

// writeValidationError maps configuration rejections to 422 with
// per-problem detail; anything else is a 400.
func writeValidationError(w http.ResponseWriter, err error) {
	var ve *config.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusUnprocessableEntity, ValidationErrorResp{
			Detail:   "configuration rejected",
			Problems: ve.Problems,
		})
		return
	}
	writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
}
