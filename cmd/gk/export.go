package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gatekeeper/internal/config"
	"github.com/alfredjeanlab/gatekeeper/internal/model"
	gksync "github.com/alfredjeanlab/gatekeeper/internal/sync"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the history database as JSONL",
	Long: `Write the event history and saved settings from GATEKEEPER_DATABASE_URL
as JSONL, in the same format the sync scheduler uploads.`,
	GroupID: "history",
	Args:    cobra.NoArgs,
	// Reads the database directly; no API client needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		who, _ := cmd.Flags().GetString("client")
		sinceFlag, _ := cmd.Flags().GetString("since")

		since, err := parseSince(sinceFlag, time.Now())
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("GATEKEEPER_DATABASE_URL is not set; an in-memory history cannot be exported")
		}
		st, err := openStore(cfg, slog.Default())
		if err != nil {
			return err
		}
		defer st.Close()

		var w io.Writer = cmd.OutOrStdout()
		if output != "" && output != "-" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating %s: %w", output, err)
			}
			defer f.Close()
			w = f
		}

		filter := model.EventFilter{Client: who, Since: since}
		if err := gksync.ExportJSONL(cmd.Context(), st, filter, w); err != nil {
			return err
		}
		if output != "" && output != "-" {
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", output)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "-", "file to write (- for stdout)")
	exportCmd.Flags().String("client", "", "only events for this device")
	exportCmd.Flags().String("since", "", "RFC3339 time or a duration such as 72h")
}
