package server

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// chatRequest is the body of POST /v1/chat. A proof arrives either as a
// data URL in Image (what the portal page sends) or as an Attachment.
type chatRequest struct {
	ConversationID string            `json:"conversation_id,omitempty"`
	Message        string            `json:"message"`
	Image          string            `json:"image,omitempty"`
	Attachment     *model.Attachment `json:"attachment,omitempty"`
}

// handleChat handles POST /v1/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	client, ok := s.identify(r, "chat")
	if !ok {
		writeError(w, http.StatusForbidden, "unable to identify your device")
		return
	}

	if ok, wait := s.limiter.allow(client); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds()+0.5)))
		writeError(w, http.StatusTooManyRequests, "Too many requests. Please wait.")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	msg := model.ClientMessage{
		ConversationID: req.ConversationID,
		Text:           req.Message,
		Attachment:     req.Attachment,
	}
	if req.Image != "" {
		if req.Attachment != nil {
			writeError(w, http.StatusBadRequest, "send either image or attachment, not both")
			return
		}
		a, err := parseDataURL(req.Image)
		if err != nil {
			writeErr(w, err)
			return
		}
		msg.Attachment = a
	}

	reply, err := s.engine.HandleClientMessage(r.Context(), client, msg)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// parseDataURL decodes "data:<mime>;base64,<payload>".
func parseDataURL(v string) (*model.Attachment, error) {
	rest, ok := strings.CutPrefix(v, "data:")
	if !ok {
		return nil, inputError("image must be a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, inputError("image data URL has no payload")
	}
	mime, enc, _ := strings.Cut(meta, ";")
	if enc != "base64" {
		return nil, inputError("image data URL must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, inputError(fmt.Sprintf("image data URL: %v", err))
	}
	return &model.Attachment{MIMEType: mime, Data: data}, nil
}

// handleStatus handles GET /v1/status. Clients that cannot be identified
// still learn the network mode.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	client, _ := s.identify(r, "status")
	writeJSON(w, http.StatusOK, s.engine.Status(client))
}
