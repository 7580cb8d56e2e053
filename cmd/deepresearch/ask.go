package main

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/stream"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func askCMD(a *app) *cobra.Command {
	var (
		mode    string
		tools   []string
		jsonOut bool
	)
	ask := &cobra.Command{
		Use:   "ask [question]",
		Short: "Research one question and print the streamed answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var m models.ResearchMode
			if mode != "" {
				parsed, err := models.ParseMode(mode)
				if err != nil {
					return err
				}
				m = parsed
			}
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

			var sink stream.Sink
			if jsonOut {
				sink = stream.NewJSONLinesSink(cmd.OutOrStdout())
			} else {
				sink = newRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr())
			}
			req := core.Request{Question: strings.Join(args, " "), Mode: m, Tools: tools}
			res, err := rt.Engine.Run(ctx, req, sink)
			if err != nil {
				return err
			}
			if !jsonOut && res.StopReason == models.StopCancelled {
				fmt.Fprintln(cmd.ErrOrStderr(), "cancelled")
			}
			return nil
		},
	}
	ask.Flags().StringVarP(&mode, "mode", "m", "", "research mode: fast, thoughtful or deep (default research.default_mode)")
	ask.Flags().StringSliceVar(&tools, "tools", nil, "restrict the run to these tool names")
	ask.Flags().BoolVar(&jsonOut, "json", false, "print raw packets as JSON lines")
	return ask
}
