package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func toolsCMD(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools the configuration registers",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := core.NewRuntime(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					a.logger.Warn("close runtime", zap.Error(err))
				}
			}()
			tools, err := rt.Engine.Tools()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPATH\tCOST\tDESCRIPTION")
			for _, t := range tools {
				fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\t%s\n", t.ToolID, t.Name, t.Path, t.Cost, t.Description)
			}
			return w.Flush()
		},
	}
}
