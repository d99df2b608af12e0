package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"ImageGen-Console/internal/history"
)

func (a *app) newHistoryCmd() *cobra.Command {
	var (
		force   bool
		noCache bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the first history page through the cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := buildServices(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			var opts []history.LoadOption
			if force {
				opts = append(opts, history.WithForceRefresh())
			}
			if noCache {
				opts = append(opts, history.WithoutCache())
			}
			result, err := rt.manager.SmartLoad(ctx, rt.historyFetch(), opts...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, result)
			}
			source := "backend"
			switch {
			case result.Stale:
				source = "cache (stale, refreshing)"
			case result.FromCache:
				source = "cache"
			}
			fmt.Fprintf(out, "%d of %d tasks from %s\n", len(result.Data), result.TotalCount, source)
			return printEntries(out, result.Data)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "skip the cache and fetch from the backend")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "do not read the cache (the result is still stored)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (a *app) newSyncCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch the first page and merge small changes into the cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := buildServices(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.manager.Sync(ctx, rt.historyFetch())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, result)
			}
			mode := "replaced"
			if result.Merged {
				mode = "merged"
			}
			fmt.Fprintf(out, "%s: %d new, %d updated, %d removed, %d cached\n", mode,
				len(result.Diff.New), len(result.Diff.Updated), len(result.Diff.Removed), len(result.Data))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// printEntries 以表格输出历史记录，描述按显示宽度对齐中文。
func printEntries(out io.Writer, entries []history.Entry) error {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Task", "Status", "Created", "Fav", "Description"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, e := range entries {
		created := e.CreatedAt.String()
		if at := e.CreatedAt.Time(); !at.IsZero() {
			created = at.Local().Format(time.DateTime)
		}
		if created == "" {
			created = "-"
		}
		fav := ""
		if e.IsFavorited {
			fav = "*"
		}
		table.Append([]string{e.Key(), string(e.Status), created, fav, truncate(e.Description, 48)})
	}
	table.Render()
	return nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
