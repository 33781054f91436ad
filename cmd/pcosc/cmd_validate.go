package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// validateResult is the JSON output of "pcosc validate".
type validateResult struct {
	Valid       bool     `json:"valid"`
	Errors      []string `json:"errors,omitempty"`
	Populations int      `json:"populations,omitempty"`
	Stimuli     int      `json:"stimuli,omitempty"`
	Connections int      `json:"connections,omitempty"`
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a network for topology errors",
		Long: `Validate the reference model, or the network given by --network, without
running it. Every problem is reported, not only the first.

Examples:
  pcosc validate
  pcosc validate --omega -1
  pcosc validate --network mynet.yaml --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadSettings()
			if err != nil {
				return err
			}

			var result validateResult
			b, _, err := networkBuilder(cmd, cfg)
			if err != nil {
				result.Errors = []string{err.Error()}
			} else if issues := b.Validate(); len(issues) > 0 {
				for _, e := range issues {
					result.Errors = append(result.Errors, e.Error())
				}
			} else {
				g, err := b.Build()
				if err != nil {
					result.Errors = []string{err.Error()}
				} else {
					result.Valid = true
					result.Populations = len(g.Populations())
					result.Stimuli = len(g.Stimuli())
					result.Connections = len(g.Connections())
				}
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				if err := json.NewEncoder(out).Encode(result); err != nil {
					return err
				}
			} else if result.Valid {
				fmt.Fprintf(out, "Network is valid: %d populations, %d stimuli, %d connections\n",
					result.Populations, result.Stimuli, result.Connections)
			} else {
				fmt.Fprintf(out, "Network is invalid (%d errors):\n", len(result.Errors))
				for _, e := range result.Errors {
					fmt.Fprintf(out, "  - %s\n", e)
				}
			}

			if !result.Valid {
				return fmt.Errorf("validation failed with %d errors", len(result.Errors))
			}
			return nil
		},
	}

	addNetworkFlags(cmd)
	return cmd
}
