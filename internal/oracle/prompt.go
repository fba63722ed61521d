package oracle

import (
	"fmt"
	"strings"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

const basePrompt = `You are a gatekeeper controlling internet access for a home network.

Your role is to decide whether the person has a legitimate reason to use the
internet right now, or whether it can wait.

## Access rules
%s
## Your behavior
1. Always find out how many minutes they need.
2. If they need more than %d minutes, ask why they need that amount and require
   proof (screenshot of an email, calendar invite, assignment, etc.). When proof
   is attached, examine it and check that it supports their claim.
3. You may ask at most %d clarifying questions in total.
4. Be understanding but firm: most things can wait.
5. Mindless browsing, social media and entertainment are denied.
6. Legitimate work or emergencies are approved with an appropriate duration.
7. Never approve more than %d minutes.

## Response format
Respond with exactly one JSON object and nothing else.
To ask a question or request proof:
{"status": "question", "message": "...", "duration": <minutes, if they stated one>}
To decide:
{"status": "approved", "duration": <minutes>, "message": "brief explanation"}
{"status": "denied", "message": "brief explanation of why it can wait"}`

const unlockPrompt = `

## Lockdown
This device was voluntarily locked down by its owner until %s. They are now
asking to lift the lockdown early. Apply the same rules: the lockdown was their
own choice, so only approve when the need is real.`

const promptAck = "Understood. I will evaluate access requests, require proof where the rules say so, and reply with JSON only."

// SystemPrompt renders the instructions for s, including the current time
// and recent decisions.
func SystemPrompt(s State) string {
	p := s.Policy
	var rules strings.Builder
	for _, c := range p.Classes {
		fmt.Fprintf(&rules, "- Up to %d minutes (%s)", int(c.Length.Minutes()), c.Name)
		if p.RequiresProof(c) {
			rules.WriteString(": proof required")
		}
		rules.WriteByte('\n')
	}
	threshold, ok := p.Class(p.ProofThreshold)
	if !ok {
		threshold = p.Shortest()
	}

	var b strings.Builder
	fmt.Fprintf(&b, basePrompt, rules.String(), int(threshold.Length.Minutes()),
		p.MaxClarifyingTurns, int(p.Longest().Length.Minutes()))
	if s.Purpose == model.PurposeUnlock && !s.LockdownUntil.IsZero() {
		fmt.Fprintf(&b, unlockPrompt, s.LockdownUntil.Format("15:04"))
	}

	fmt.Fprintf(&b, "\n\n## Current context\n- Date: %s (%s)\n- Time: %s\n- Questions left: %d\n",
		s.Now.Format("2006-01-02"), s.Now.Weekday(), s.Now.Format("3:04 PM"), s.TurnsLeft)

	if len(s.History) > 0 {
		b.WriteString("\n## Previous requests tonight\n")
		for _, e := range s.History {
			b.WriteString(historyLine(e))
		}
	}
	return b.String()
}

func historyLine(e model.Event) string {
	reason := e.Message
	if reason == "" {
		reason = e.Reason
	}
	reason = truncate(reason, 50)
	at := e.Timestamp.Format("15:04")
	if e.Outcome == model.OutcomeAllow {
		return fmt.Sprintf("- [%s] approved %d min: %s\n", at, int(e.DurationGranted.Minutes()), reason)
	}
	return fmt.Sprintf("- [%s] denied: %s\n", at, reason)
}

// proofNote is the text that stands in for a proof already seen.
func proofNote(id string) string {
	return fmt.Sprintf("[proof %s was attached earlier in this conversation]", id)
}
