package server

import (
	"net/http"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// handleListRestrictions handles GET /v1/restrictions.
func (s *Server) handleListRestrictions(w http.ResponseWriter, _ *http.Request) {
	rs := s.engine.Restrictions()
	if rs == nil {
		rs = []model.Restriction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"restrictions": rs})
}

// handleActivateRestriction handles POST /v1/restrictions. A client can
// restrict itself; a trusted caller may name any client. Minutes of zero
// lasts until the night begins.
func (s *Server) handleActivateRestriction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Client  string `json:"client,omitempty"`
		Kind    string `json:"kind"`
		Minutes int    `json:"minutes,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	kind, err := model.ParseRestrictionKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Minutes < 0 {
		writeError(w, http.StatusBadRequest, "minutes must not be negative")
		return
	}

	var client string
	switch {
	case req.Client != "" && isTrusted(r.Context()):
		client = req.Client
	case req.Client != "":
		writeError(w, http.StatusForbidden, "naming a client requires authorization")
		return
	default:
		var ok bool
		if client, ok = s.identify(r, "restrict"); !ok {
			writeError(w, http.StatusForbidden, "unable to identify your device")
			return
		}
	}

	res, err := s.engine.ActivateRestriction(r.Context(), client, kind, time.Duration(req.Minutes)*time.Minute)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleDeactivateRestriction handles DELETE /v1/restrictions/{client}/{kind}.
// Lockdowns are refused: they end only by negotiation or expiry.
func (s *Server) handleDeactivateRestriction(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseRestrictionKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.DeactivateRestriction(r.Context(), r.PathValue("client"), kind); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListSessions handles GET /v1/sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	ss := s.engine.Sessions()
	if ss == nil {
		ss = []model.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ss})
}

// handleRevokeSession handles DELETE /v1/sessions/{client}.
func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RevokeSession(r.Context(), r.PathValue("client")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListConversations handles GET /v1/conversations.
func (s *Server) handleListConversations(w http.ResponseWriter, _ *http.Request) {
	cs := s.engine.Conversations()
	if cs == nil {
		cs = []model.ConversationInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": cs})
}

// handleGetFocusDomains handles GET /v1/settings/focus-domains.
func (s *Server) handleGetFocusDomains(w http.ResponseWriter, _ *http.Request) {
	domains := s.engine.FocusDomains()
	if domains == nil {
		domains = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"domains": domains})
}

// handleSetFocusDomains handles PUT /v1/settings/focus-domains.
func (s *Server) handleSetFocusDomains(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Domains []string `json:"domains"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Domains == nil {
		writeError(w, http.StatusBadRequest, "domains is required")
		return
	}
	norm, err := s.engine.SetFocusDomains(r.Context(), req.Domains)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"domains": norm})
}
