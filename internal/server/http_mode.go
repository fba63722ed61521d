package server

import (
	"net/http"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

type modeResponse struct {
	Mode          model.Mode `json:"mode"`
	Override      model.Mode `json:"override,omitempty"`
	OverrideUntil *time.Time `json:"override_until,omitempty"`
	NextBoundary  time.Time  `json:"next_boundary"`
}

func (s *Server) modeResponse() modeResponse {
	resp := modeResponse{
		Mode:         s.engine.CurrentMode(),
		NextBoundary: s.engine.Status("").NextBoundary,
	}
	if m, until, ok := s.engine.Override(); ok {
		resp.Override = m
		resp.OverrideUntil = &until
	}
	return resp
}

// handleGetMode handles GET /v1/mode.
func (s *Server) handleGetMode(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.modeResponse())
}

// handleSetMode handles PUT /v1/mode. The override lasts until the next
// scheduled boundary.
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	m, err := model.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.SetMode(r.Context(), m); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.modeResponse())
}

// handleClearOverride handles DELETE /v1/mode/override.
func (s *Server) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ClearOverride(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.modeResponse())
}
