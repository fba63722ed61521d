package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/roster"
)

// handleListClients handles GET /v1/clients.
// Returns the client roster with each client's session and restrictions.
func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	// Parse optional stale_threshold_secs query param (default: 30 min).
	staleThreshold := 30 * time.Minute
	if v := r.URL.Query().Get("stale_threshold_secs"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			staleThreshold = time.Duration(secs) * time.Second
		}
	}

	type clientEntry struct {
		roster.Entry
		SessionUntil *time.Time `json:"session_until,omitempty"`
		Restrictions []string   `json:"restrictions,omitempty"`
		Negotiating  bool       `json:"negotiating,omitempty"`
	}

	sessions := make(map[string]time.Time)
	for _, ss := range s.engine.Sessions() {
		sessions[ss.Client] = ss.ExpiresAt
	}
	restrictions := make(map[string][]string)
	for _, rs := range s.engine.Restrictions() {
		label := string(rs.Kind)
		if rs.Suspended {
			label += " (suspended)"
		}
		restrictions[rs.Client] = append(restrictions[rs.Client], label)
	}
	negotiating := make(map[string]bool)
	for _, c := range s.engine.Conversations() {
		negotiating[c.Client] = true
	}

	entries := s.engine.Clients(staleThreshold)
	clients := make([]clientEntry, 0, len(entries))
	for _, e := range entries {
		ce := clientEntry{
			Entry:        e,
			Restrictions: restrictions[e.Client],
			Negotiating:  negotiating[e.Client],
		}
		if until, ok := sessions[e.Client]; ok {
			ce.SessionUntil = &until
		}
		clients = append(clients, ce)
	}

	writeJSON(w, http.StatusOK, map[string]any{"clients": clients})
}
