package api

import (
	"net/http"

	"github.com/sift-ai/gatewatch/internal/auth"
	"github.com/sift-ai/gatewatch/internal/chread"
	"github.com/sift-ai/gatewatch/internal/filter"
	"github.com/sift-ai/gatewatch/internal/store"
	"go.uber.org/zap"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Filter *filter.Service
	Auth   auth.Authenticator
	Store  *store.Store   // nil if Postgres unavailable
	Reader *chread.Reader // nil if ClickHouse unavailable
	Logger *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Filter endpoint (auth required via Bearer gwk_ token)
	mux.HandleFunc("POST /v1/filter", deps.authMiddleware(deps.handleFilter))

	// Rules, feedback, stats (no auth — dashboard auth added later)
	mux.HandleFunc("GET /api/gatewatch/rules", deps.handleListRules)
	mux.HandleFunc("POST /api/gatewatch/feedback", deps.handleFeedback)
	mux.HandleFunc("GET /api/gatewatch/stats", deps.handleStats)
	mux.HandleFunc("GET /api/gatewatch/health", deps.handleHealth)

	// Configuration (replace-whole-config)
	mux.HandleFunc("GET /api/gatewatch/config", deps.handleGetConfig)
	mux.HandleFunc("PUT /api/gatewatch/config", deps.handleReplaceConfig)

	// Trust profiles
	mux.HandleFunc("GET /api/gatewatch/trust/{identity}", deps.handleGetTrust)
	mux.HandleFunc("POST /api/gatewatch/trust/{identity}/transition", deps.handleTransition)
	mux.HandleFunc("POST /api/gatewatch/trust/{identity}/anonymize", deps.handleAnonymize)

	// Tenant CRUD (no auth)
	mux.HandleFunc("POST /api/gatewatch/tenants", deps.handleCreateTenant)
	mux.HandleFunc("GET /api/gatewatch/tenants", deps.handleListTenants)
	mux.HandleFunc("GET /api/gatewatch/tenants/{tenant_id}", deps.handleGetTenant)
	mux.HandleFunc("PATCH /api/gatewatch/tenants/{tenant_id}", deps.handleUpdateTenant)
	mux.HandleFunc("DELETE /api/gatewatch/tenants/{tenant_id}", deps.handleDeleteTenant)
	mux.HandleFunc("POST /api/gatewatch/tenants/{tenant_id}/rotate-key", deps.handleRotateKey)

	// Events & Analytics (no auth)
	mux.HandleFunc("GET /api/gatewatch/events", deps.handleListEvents)
	mux.HandleFunc("GET /api/gatewatch/events/{request_id}", deps.handleGetEvent)
	mux.HandleFunc("GET /api/gatewatch/analytics", deps.handleGetAnalytics)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
