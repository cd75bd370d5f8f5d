package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/willibrandon/calltrace/pkg/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "calltrace",
		Short: "Capture program state at oracle-designated calls",
		Long: `calltrace runs a program under Delve and stops at the call boundaries named
in a call-count oracle. At the last expected invocation of each call it
records the caller's locals, globals, member state and arguments.

The trace document is written when the program exits or the run is
interrupted, and can be browsed afterwards with "calltrace show".`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newScanCmd(),
		newShowCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.GetVersionInfo())
			},
		},
	)
	return rootCmd
}
