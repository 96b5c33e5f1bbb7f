package api

import (
	"net/http"
	"time"
)

func (d *Dependencies) handleGetTrust(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	profile, ok := d.Filter.Trust().Get(identity)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "No trust profile for identity."})
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (d *Dependencies) handleTransition(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")

	var req TransitionReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body: " + err.Error()})
		return
	}
	if req.ToTier == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "to_tier is required"})
		return
	}

	gaming := d.Filter.RecordConsentTransition(identity, req.FromTier, req.ToTier, time.Time{})
	profile := d.Filter.Trust().GetOrCreate(identity)

	writeJSON(w, http.StatusOK, TransitionResp{
		GamingDetected: gaming,
		Profile:        profile,
	})
}

func (d *Dependencies) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")

	profile, ok := d.Filter.AnonymizeIdentity(identity)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "No trust profile for identity."})
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
