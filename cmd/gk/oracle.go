package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gatekeeper/internal/config"
	"github.com/alfredjeanlab/gatekeeper/internal/model"
	"github.com/alfredjeanlab/gatekeeper/internal/oracle"
	"github.com/alfredjeanlab/gatekeeper/internal/ui"
)

var oracleTestCmd = &cobra.Command{
	Use:   "oracle-test <message>",
	Short: "Ask the configured oracle about one message, without touching the router",
	Long: `Send a single night-access request to the oracle configured by
GEMINI_API_KEY and GATEKEEPER_ORACLE_MODEL and print its parsed reply.
Useful for tuning the policy file.`,
	GroupID: "system",
	Args:    cobra.MinimumNArgs(1),
	// Talks to the oracle directly; no API client needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Setup(plain || jsonOutput)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		attach, _ := cmd.Flags().GetString("attach")
		unlock, _ := cmd.Flags().GetBool("unlock")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is not set")
		}
		tun, err := config.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return err
		}
		att, err := readAttachment(attach)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.OracleTimeout)
		defer cancel()
		g, err := oracle.NewGemini(ctx, oracle.GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.OracleModel,
			Timeout: cfg.OracleTimeout,
		})
		if err != nil {
			return err
		}

		state := probeState(strings.Join(args, " "), att, tun.Policy, time.Now(), unlock)
		start := time.Now()
		reply, err := g.Evaluate(ctx, state)
		if err != nil {
			return fmt.Errorf("oracle: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"model":   g.Model(),
				"kind":    reply.Kind,
				"message": reply.Message,
				"minutes": reply.Minutes,
				"latency": time.Since(start).String(),
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", ui.RenderReply(reply.Kind), reply.Message)
		if reply.Minutes > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "duration: %s\n", reply.Duration())
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderMuted(fmt.Sprintf("%s in %s", g.Model(), time.Since(start).Round(time.Millisecond))))
		return nil
	},
}

func init() {
	oracleTestCmd.Flags().String("attach", "", "image file to send as proof")
	oracleTestCmd.Flags().Bool("unlock", false, "evaluate as a lockdown unlock request")
}

// probeState builds the oracle input for a fresh one-message conversation.
func probeState(text string, att *model.Attachment, policy model.Policy, now time.Time, unlock bool) oracle.State {
	st := oracle.State{
		ConversationID: "cv-oracle-test",
		Client:         "00:00:00:00:00:00",
		Purpose:        model.PurposeNightAccess,
		Now:            now,
		Turns:          []model.Turn{{Role: model.RoleClient, Text: text, At: now}},
		TurnsLeft:      policy.MaxClarifyingTurns,
		Policy:         policy,
	}
	if unlock {
		st.Purpose = model.PurposeUnlock
		st.LockdownUntil = now.Add(time.Hour)
	}
	if att != nil {
		st.NewProof = &model.Proof{
			ID:          "pf-oracle-test",
			MIMEType:    att.MIMEType,
			Size:        len(att.Data),
			SubmittedAt: now,
			Data:        att.Data,
		}
		st.Turns[0].ProofRef = st.NewProof.ID
	}
	return st
}
