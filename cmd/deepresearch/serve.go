package main

import (
	"context"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/runtime"
	srv "github.com/mohammad-safakhou/deepresearch/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCMD(a *app) *cobra.Command {
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP research API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tel, _, err := runtime.SetupTelemetry(ctx, runtime.TelemetryOptions{
				Enabled:      a.cfg.Telemetry.Enabled,
				OTLPEndpoint: a.cfg.Telemetry.OTLPEndpoint,
				SampleRatio:  a.cfg.Telemetry.SampleRatio,
			})
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown(context.WithoutCancel(ctx)) }()

			rt, err := core.NewRuntime(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					a.logger.Warn("close runtime", zap.Error(err))
				}
			}()

			deps := srv.Deps{
				Engine:        rt.Engine,
				Redis:         rt.Redis,
				Logger:        a.logger,
				StreamTimeout: a.cfg.Server.StreamTimeout,
			}
			if rt.Store != nil {
				deps.Store = rt.Store
			}
			if addr == "" {
				addr = a.cfg.Server.Address
			}
			return srv.New(deps).Run(ctx, addr)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default server.address)")
	return serve
}
