package main

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"

	"github.com/spf13/cobra"

	xerrors "ImageGen-Console/internal/errors"
	"ImageGen-Console/internal/events"
)

func (a *app) newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Cache event bus tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Print cache events as JSON lines until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Events.Driver == events.DriverNone || a.cfg.Events.Driver == events.DriverMemory {
				return xerrors.New(xerrors.CodeInvalidArgument,
					fmt.Sprintf("事件驱动 %s 不支持跨进程订阅", a.cfg.Events.Driver))
			}
			ctx := cmd.Context()
			bus, err := openBus(ctx, a.cfg.Events)
			if err != nil {
				return err
			}
			defer bus.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			err = bus.Subscribe(ctx, func(_ context.Context, event events.Event) error {
				return enc.Encode(event)
			})
			if err != nil && !stdErrors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	})
	return cmd
}
