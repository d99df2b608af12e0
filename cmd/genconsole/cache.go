package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func (a *app) newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the history cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show cache freshness and size",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := buildServices(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			snap, freshness := rt.manager.Peek(ctx)
			fmt.Fprintf(out, "namespace: %s\nstorage:   %s\n", rt.manager.Namespace(), a.cfg.Storage.Driver)
			if snap == nil {
				fmt.Fprintln(out, "cache:     empty")
				return nil
			}
			written := snap.Meta.WrittenAt()
			fmt.Fprintf(out, "cache:     %s, %d entries (total %d, has_more=%t)\n",
				freshness, len(snap.Data), snap.Meta.TotalCount, snap.Meta.HasMore)
			fmt.Fprintf(out, "written:   %s (%s ago)\nversion:   %s\n",
				written.Local().Format(time.DateTime), time.Since(written).Round(time.Second), snap.Meta.Version)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Clear the cache and notify other instances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := buildServices(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.manager.Invalidate(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", rt.manager.Namespace())
			return nil
		},
	})
	return cmd
}
