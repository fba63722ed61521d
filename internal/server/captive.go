package server

import (
	"net/http"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// captivePaths are the connectivity probes operating systems fetch to
// decide whether a network has a captive portal.
var captivePaths = []string{
	"/generate_204",              // Android, Chrome OS
	"/gen_204",                   // Android
	"/hotspot-detect.html",       // Apple
	"/library/test/success.html", // older Apple
	"/ncsi.txt",                  // Windows
	"/connecttest.txt",           // Windows 10+
	"/success.txt",               // Firefox
	"/canonical.html",            // Firefox
}

// probeAnswers is the body each probe expects when the network is open.
var probeAnswers = map[string]string{
	"/hotspot-detect.html":       "<HTML><HEAD><TITLE>Success</TITLE></HEAD><BODY>Success</BODY></HTML>",
	"/library/test/success.html": "<HTML><HEAD><TITLE>Success</TITLE></HEAD><BODY>Success</BODY></HTML>",
	"/ncsi.txt":                  "Microsoft NCSI",
	"/connecttest.txt":           "Microsoft Connect Test",
	"/success.txt":               "success\n",
	"/canonical.html":            `<meta http-equiv="refresh" content="0;url=https://support.mozilla.org/kb/captive-portal"/>`,
}

// handleCaptive answers a connectivity probe: the expected success body
// when the client has access, otherwise a redirect to the portal so the
// OS opens its sign-in sheet.
func (s *Server) handleCaptive(w http.ResponseWriter, r *http.Request) {
	client, _ := s.identify(r, "captive")
	if !hasAccess(s.engine.Status(client)) {
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, s.cfg.PortalURL, http.StatusFound)
		return
	}

	body, ok := probeAnswers[r.URL.Path]
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// hasAccess reports whether st lets the client reach the internet.
func hasAccess(st model.ClientStatus) bool {
	switch st.Mode {
	case model.ModeGatekeeper:
		return st.SessionActive
	case model.ModeOpen:
		for _, r := range st.Restrictions {
			if r.Kind == model.RestrictionLockdown && !r.Suspended {
				return false
			}
		}
		return true
	}
	return false
}
