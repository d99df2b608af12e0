package main

import (
	"context"
	stdErrors "errors"
	"log/slog"

	"github.com/spf13/cobra"

	"ImageGen-Console/internal/api"
	"ImageGen-Console/internal/events"
	"ImageGen-Console/pkg/logger"
)

func (a *app) newServeCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API with the history cache and cache event subscription",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := buildServices(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			log := logger.Named("serve")
			if _, ok := rt.bus.(events.Nop); !ok {
				go func() {
					if err := rt.bus.Subscribe(ctx, rt.manager.HandleEvent); err != nil && !stdErrors.Is(err, context.Canceled) {
						log.Error("缓存事件订阅退出", slog.Any("error", err))
					}
				}()
			}
			if metricsAddr != "" {
				go func() {
					if err := rt.metrics.StartServer(ctx, metricsAddr); err != nil && !stdErrors.Is(err, context.Canceled) {
						log.Error("指标服务退出", slog.Any("error", err))
					}
				}()
			}

			server := api.NewServer(a.cfg.Server.Address, rt.manager, rt.client,
				api.WithRefreshLimit(a.cfg.Server.RefreshRate, a.cfg.Server.RefreshBurst),
				api.WithMetrics(rt.metrics),
				api.WithLogger(logger.Named("api")),
				api.WithPageSize(a.cfg.Backend.PageSize),
				api.WithTimeouts(a.cfg.Server.ReadTimeout.D(), a.cfg.Server.ShutdownTimeout.D()),
			)
			if err := server.Start(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "also expose /metrics on a dedicated address")
	return cmd
}
