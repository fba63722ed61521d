package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
)

var focusDomainsCmd = &cobra.Command{
	Use:     "focus-domains",
	Short:   "Show or edit the domains focus mode blocks",
	GroupID: "network",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		domains, err := gkClient.GetFocusDomains(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting focus domains: %w", err)
		}
		return printDomains(cmd.OutOrStdout(), domains)
	},
}

var focusDomainsSetCmd = &cobra.Command{
	Use:   "set [domain...]",
	Short: "Replace the list (no arguments clears it)",
	RunE: func(cmd *cobra.Command, args []string) error {
		domains, err := gkClient.SetFocusDomains(cmd.Context(), args)
		if err != nil {
			return fmt.Errorf("setting focus domains: %w", err)
		}
		return printDomains(cmd.OutOrStdout(), domains)
	},
}

var focusDomainsAddCmd = &cobra.Command{
	Use:   "add <domain>...",
	Short: "Add domains to the list",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editDomains(cmd, func(cur []string) []string {
			return append(cur, args...)
		})
	},
}

var focusDomainsRemoveCmd = &cobra.Command{
	Use:   "remove <domain>...",
	Short: "Remove domains from the list",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editDomains(cmd, func(cur []string) []string {
			return slices.DeleteFunc(cur, func(d string) bool {
				return slices.Contains(args, d)
			})
		})
	},
}

func init() {
	focusDomainsCmd.AddCommand(focusDomainsSetCmd, focusDomainsAddCmd, focusDomainsRemoveCmd)
}

// editDomains reads the list, applies edit and writes it back. The server
// normalises and deduplicates the result.
func editDomains(cmd *cobra.Command, edit func([]string) []string) error {
	cur, err := gkClient.GetFocusDomains(cmd.Context())
	if err != nil {
		return fmt.Errorf("getting focus domains: %w", err)
	}
	domains, err := gkClient.SetFocusDomains(cmd.Context(), edit(cur))
	if err != nil {
		return fmt.Errorf("setting focus domains: %w", err)
	}
	return printDomains(cmd.OutOrStdout(), domains)
}

func printDomains(w io.Writer, domains []string) error {
	if jsonOutput {
		if domains == nil {
			domains = []string{}
		}
		return printJSON(w, domains)
	}
	if len(domains) == 0 {
		fmt.Fprintln(w, "No focus domains configured.")
		return nil
	}
	for _, d := range domains {
		fmt.Fprintln(w, d)
	}
	return nil
}
