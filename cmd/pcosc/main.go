package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set by the release build.
var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pcosc",
		Short: "Predictive coding hierarchy with controlled oscillators",
		Long: `pcosc simulates a predictive-coding integrator hierarchy whose layers set
the phase rate of two amplitude-controlled oscillators.

Runs use the reference model by default; any network can be described in a
YAML definition and run with --network. Traces can be written to Arrow files,
stored in .pcosc/runs.db and resumed from checkpoints.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("root", ".", "Project root directory")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newValidateCmd(),
		newGraphCmd(),
		newRunsCmd(),
		newConfigCmd(),
		newMCPServerCmd(),
	)
	return rootCmd
}
