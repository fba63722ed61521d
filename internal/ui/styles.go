// Package ui renders CLI output for gk.
package ui

import (
	"fmt"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// ANSI256 color codes.
const (
	colorAccent = 74  // blue
	colorMuted  = 245 // medium gray
	colorGood   = 114 // green
	colorBad    = 203 // red
	colorWarn   = 179 // amber
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns a command name in bold accent.
func RenderCommand(s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[1;38;5;%dm%s\x1b[0m", colorAccent, s)
}

// RenderMode colors the network mode: amber while gated, green while open.
func RenderMode(m model.Mode) string {
	switch m {
	case model.ModeGatekeeper:
		return paint(colorWarn, string(m))
	case model.ModeOpen:
		return paint(colorGood, string(m))
	}
	return RenderMuted("unknown")
}

// RenderOutcome colors an event outcome.
func RenderOutcome(o model.Outcome) string {
	switch o {
	case model.OutcomeAllow:
		return paint(colorGood, string(o))
	case model.OutcomeDeny, model.OutcomeFailed:
		return paint(colorBad, string(o))
	case "":
		return ""
	}
	return paint(colorWarn, string(o))
}

// RenderReply colors a reply kind the way the portal shows it.
func RenderReply(k model.ReplyKind) string {
	switch k {
	case model.ReplyAllow:
		return paint(colorGood, string(k))
	case model.ReplyDeny:
		return paint(colorBad, string(k))
	}
	return paint(colorAccent, string(k))
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
