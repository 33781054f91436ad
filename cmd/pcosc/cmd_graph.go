package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/nvandessel/pcosc/internal/visualization"
	"github.com/spf13/cobra"
)

func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the network topology",
		Long: `Output the network in DOT (Graphviz) or JSON format.

Examples:
  pcosc graph | dot -Tsvg > pcosc.svg
  pcosc graph --format json --network mynet.yaml
  pcosc graph -o pcosc.dot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")

			f, err := visualization.ParseFormat(format)
			if err != nil {
				return err
			}

			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			g, _, err := buildNetwork(cmd, cfg)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer file.Close()
				w = file
			}

			switch f {
			case visualization.FormatDOT:
				if _, err := io.WriteString(w, visualization.RenderDOT(g)); err != nil {
					return fmt.Errorf("write DOT: %w", err)
				}
			case visualization.FormatJSON:
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if err := enc.Encode(visualization.RenderJSON(g)); err != nil {
					return fmt.Errorf("encode JSON: %w", err)
				}
			}

			if output != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Graph written to %s\n", output)
			}
			return nil
		},
	}

	addNetworkFlags(cmd)
	cmd.Flags().String("format", "dot", "Output format: dot or json")
	cmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")
	return cmd
}
