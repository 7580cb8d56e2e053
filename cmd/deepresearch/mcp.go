package main

import (
	"os"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/mcpserver"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func mcpCMD(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve deep_research and the registered tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := core.NewRuntime(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					a.logger.Warn("close runtime", zap.Error(err))
				}
			}()
			s, err := mcpserver.New(rt.Engine, a.logger)
			if err != nil {
				return err
			}
			return mcpserver.Serve(ctx, s, os.Stdin, os.Stdout)
		},
	}
}
