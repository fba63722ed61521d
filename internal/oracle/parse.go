package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

const (
	statusQuestion = "question"
	statusApproved = "approved"
	statusDenied   = "denied"
)

type wireReply struct {
	Status   *string `json:"status"`
	Message  *string `json:"message"`
	Duration *int    `json:"duration"`
}

// Parse decodes raw oracle output into a Reply. It accepts exactly one JSON
// object of the form
//
//	{"status":"question","message":"...","duration":N}   (duration optional)
//	{"status":"approved","message":"...","duration":N}
//	{"status":"denied","message":"..."}
//
// optionally wrapped in a single markdown code fence. Anything else is
// model.ErrOracleMalformedReply.
func Parse(raw []byte) (Reply, error) {
	body, err := stripFence(string(raw))
	if err != nil {
		return Reply{}, err
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	var w wireReply
	if err := dec.Decode(&w); err != nil {
		return Reply{}, malformed("decode: %v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Reply{}, malformed("trailing data after reply object")
	}

	if w.Status == nil {
		return Reply{}, malformed("missing status")
	}
	if w.Message == nil || strings.TrimSpace(*w.Message) == "" {
		return Reply{}, malformed("missing message")
	}
	msg := strings.TrimSpace(*w.Message)

	switch *w.Status {
	case statusQuestion:
		r := Clarify(msg)
		if w.Duration != nil {
			if *w.Duration <= 0 {
				return Reply{}, malformed("question duration must be positive, got %d", *w.Duration)
			}
			r.Minutes = *w.Duration
		}
		return r, nil
	case statusApproved:
		if w.Duration == nil {
			return Reply{}, malformed("approved reply without duration")
		}
		if *w.Duration <= 0 {
			return Reply{}, malformed("approved duration must be positive, got %d", *w.Duration)
		}
		return Allow(*w.Duration, msg), nil
	case statusDenied:
		if w.Duration != nil {
			return Reply{}, malformed("denied reply carries a duration")
		}
		return Deny(msg), nil
	default:
		return Reply{}, malformed("unknown status %q", *w.Status)
	}
}

func stripFence(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", malformed("empty reply")
	}
	if !strings.HasPrefix(s, "```") {
		return s, nil
	}
	nl := strings.IndexByte(s, '\n')
	if nl < 0 {
		return "", malformed("unterminated code fence")
	}
	// The opening line may carry a language tag such as "json".
	if tag := strings.TrimSpace(s[3:nl]); tag != "" && tag != "json" {
		return "", malformed("unexpected code fence language %q", tag)
	}
	rest := strings.TrimRight(s[nl+1:], " \t\r\n")
	if !strings.HasSuffix(rest, "```") {
		return "", malformed("unterminated code fence")
	}
	inner := strings.TrimSpace(strings.TrimSuffix(rest, "```"))
	if strings.Contains(inner, "```") {
		return "", malformed("nested code fence")
	}
	return inner, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrOracleMalformedReply, fmt.Sprintf(format, args...))
}

// Encode renders r in the wire form Parse accepts. Used by the scripted
// oracle and CLI diagnostics.
func Encode(r Reply) []byte {
	w := map[string]any{"message": r.Message}
	switch r.Kind {
	case model.ReplyAllow:
		w["status"] = statusApproved
		w["duration"] = r.Minutes
	case model.ReplyDeny:
		w["status"] = statusDenied
	default:
		w["status"] = statusQuestion
		if r.Minutes > 0 {
			w["duration"] = r.Minutes
		}
	}
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(w)
	return bytes.TrimSpace(buf.Bytes())
}
