package main

import (
	"context"
	"fmt"

	"github.com/nvandessel/pcosc/internal/mcp"
	"github.com/spf13/cobra"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Run the MCP server over stdio",
		Long: `Serve pcosc_run, pcosc_validate, pcosc_graph and pcosc_runs to an MCP
client over stdin and stdout. Logs go to stderr.

Output files requested by tools are confined to ~/.pcosc/output and
<root>/.pcosc/output.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")

			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			server, err := mcp.NewServer(&mcp.Config{
				Name:     "pcosc",
				Version:  version,
				Root:     root,
				Settings: cfg,
				Logger:   logger,
			})
			if err != nil {
				return fmt.Errorf("failed to start MCP server: %w", err)
			}

			logger.Info("mcp server listening on stdio", "root", root)
			return server.Run(context.Background())
		},
	}
}
