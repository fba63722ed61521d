package main

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gatekeeper/internal/ui"
)

// helpRule styles every match of re. Groups 1 and 3, when present, are
// kept as-is and group 2 is styled.
type helpRule struct {
	re     *regexp.Regexp
	render func(string) string
}

var (
	// Section headers: unindented line ending with ":" (e.g. "Network:", "Flags:").
	reGroupHeader = regexp.MustCompile(`(?m)^([A-Z][^\n]*:)\s*$`)

	// Command names: two-space indent, a word, then two or more spaces.
	reCommand = regexp.MustCompile(`(?m)^(  )(\S+)(  )`)

	// Flag types: e.g. "--url string", "--limit int".
	reFlagType = regexp.MustCompile(`(--?\S+\s+)(string|int|duration|strings|stringSlice)()`)

	// Environment variables the daemon and CLI read.
	reEnvVar = regexp.MustCompile(`()\b((?:GATEKEEPER|GEMINI)_[A-Z0-9_]+)\b()`)

	reDefault = regexp.MustCompile(`\(default [^)]*\)`)
)

var helpRules = []helpRule{
	{reGroupHeader, func(s string) string { return ui.RenderAccent(strings.TrimSpace(s)) }},
	{reCommand, ui.RenderCommand},
	{reFlagType, ui.RenderMuted},
	{reEnvVar, ui.RenderAccent},
	{reDefault, ui.RenderMuted},
}

// colorizedHelpFunc prints the command's description and usage, styled
// when the terminal supports color.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		var buf bytes.Buffer
		writeHelp(&buf, cmd)
		out := buf.String()
		if ui.ShouldUseColor() {
			out = colorizeHelpOutput(out)
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
	}
}

func writeHelp(w io.Writer, cmd *cobra.Command) {
	desc := strings.TrimSpace(cmd.Long)
	if desc == "" {
		desc = cmd.Short
	}
	if desc != "" {
		fmt.Fprintf(w, "%s\n\n", desc)
	}
	orig := cmd.OutOrStdout()
	cmd.SetOut(w)
	_ = cmd.Usage()
	cmd.SetOut(orig)
}

// colorizeHelpOutput applies helpRules to Cobra's plain-text help.
func colorizeHelpOutput(s string) string {
	for _, r := range helpRules {
		s = r.re.ReplaceAllStringFunc(s, func(match string) string {
			parts := r.re.FindStringSubmatch(match)
			if len(parts) != 4 {
				return r.render(match)
			}
			return parts[1] + r.render(parts[2]) + parts[3]
		})
	}
	return s
}
