package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When the auth token is set, admin routes require a valid
// Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/mode", s.handleGetMode)
	mux.HandleFunc("PUT /v1/mode", s.handleSetMode)
	mux.HandleFunc("DELETE /v1/mode/override", s.handleClearOverride)
	mux.HandleFunc("GET /v1/events", s.handleListEvents)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("DELETE /v1/sessions/{client}", s.handleRevokeSession)
	mux.HandleFunc("GET /v1/conversations", s.handleListConversations)
	mux.HandleFunc("GET /v1/restrictions", s.handleListRestrictions)
	mux.HandleFunc("POST /v1/restrictions", s.handleActivateRestriction)
	mux.HandleFunc("DELETE /v1/restrictions/{client}/{kind}", s.handleDeactivateRestriction)
	mux.HandleFunc("GET /v1/settings/focus-domains", s.handleGetFocusDomains)
	mux.HandleFunc("PUT /v1/settings/focus-domains", s.handleSetFocusDomains)
	mux.HandleFunc("GET /v1/clients", s.handleListClients)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	for _, path := range captivePaths {
		mux.HandleFunc("GET "+path, s.handleCaptive)
	}
	return RequestIDMiddleware(AuthMiddleware(s.cfg.AuthToken, mux))
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	m, err := s.health.Last()
	resp := map[string]any{
		"status": "ok",
		"mode":   s.engine.CurrentMode(),
	}
	if err != nil {
		resp["status"] = "degraded"
		resp["enforcement_error"] = err.Error()
		resp["target_mode"] = m
	}
	writeJSON(w, http.StatusOK, resp)
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

// errBodyTooLarge is returned when a request body exceeds its cap.
var errBodyTooLarge = errors.New("request body too large")

// errorStatus maps the error taxonomy to an HTTP status.
func errorStatus(err error) int {
	var ie inputError
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ie), errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidClientState), errors.Is(err, model.ErrUnlockRequiresNegotiation):
		return http.StatusConflict
	case errors.Is(err, model.ErrNotAccepting):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeErr writes err with the status errorStatus picks for it.
func writeErr(w http.ResponseWriter, err error) {
	code := errorStatus(err)
	if code == http.StatusInternalServerError {
		slog.Warn("request failed", "request_id", w.Header().Get(requestIDHeader), "error", err)
	}
	writeError(w, code, err.Error())
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return fmt.Errorf("%w: limit is %d bytes", errBodyTooLarge, mbe.Limit)
		}
		return inputError(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
