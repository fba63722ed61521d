package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// handleListEvents handles GET /v1/events.
//
// Query parameters: client, kind (comma-separated), outcome, since
// (RFC 3339), limit (default 50, max 1000). With no filters it returns the
// newest events.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultEventLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	filter := model.EventFilter{
		Client:  q.Get("client"),
		Outcome: model.Outcome(q.Get("outcome")),
		Limit:   limit,
	}
	if v := q.Get("kind"); v != "" {
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				filter.Kinds = append(filter.Kinds, model.EventKind(k))
			}
		}
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}

	var (
		evts []model.Event
		err  error
	)
	if filter.Client == "" && filter.Outcome == model.OutcomeNone && len(filter.Kinds) == 0 && filter.Since.IsZero() {
		evts, err = s.engine.ListRecentEvents(r.Context(), limit)
	} else {
		evts, err = s.engine.QueryEvents(r.Context(), filter)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	if evts == nil {
		evts = []model.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evts})
}
