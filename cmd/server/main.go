package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ryabkov82/sf-sync-server/internal/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newRootCommand creates the sf-sync-server command tree
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sf-sync-server",
		Short:         "Batched Salesforce record sync service",
		Long:          "Synchronizes record batches into Salesforce via the REST API or Bulk API 2.0 jobs.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}
}
