package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gatekeeper/internal/client"
	"github.com/alfredjeanlab/gatekeeper/internal/ui"
)

var (
	serverURL  string
	authToken  string
	jsonOutput bool
	plain      bool

	gkClient client.GatekeeperClient
)

func defaultServerURL() string {
	if s := os.Getenv("GATEKEEPER_URL"); s != "" {
		return s
	}
	return "http://localhost:2050"
}

var rootCmd = &cobra.Command{
	Use:           "gk <command>",
	Short:         "Night-time network gatekeeper",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Setup(plain || jsonOutput)
		gkClient = client.NewHTTPClient(serverURL, authToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if gkClient != nil {
			gkClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", defaultServerURL(), "gatekeeper HTTP URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("GATEKEEPER_AUTH_TOKEN"), "operator bearer token")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&plain, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "network", Title: "Network:"},
		&cobra.Group{ID: "history", Title: "History:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Network
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(modeCmd)
	rootCmd.AddCommand(restrictCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(focusDomainsCmd)
	rootCmd.AddCommand(clientsCmd)

	// History
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(exportCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(oracleTestCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
