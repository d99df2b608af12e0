package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"ImageGen-Console/pkg/logger"
	"ImageGen-Console/sdk/go/imagegen"
)

// invalidateAfter 在后端数据变更后清除本地缓存，并通知其它实例。
func invalidateAfter(cmd *cobra.Command, rt *services, action string) error {
	if err := rt.manager.Invalidate(cmd.Context()); err != nil {
		return fmt.Errorf("%s succeeded but the history cache could not be cleared: %w", action, err)
	}
	return nil
}

func (a *app) newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Modify tasks on the backend",
	}
	cmd.AddCommand(a.newTaskDeleteCmd(), a.newTaskFavoriteCmd())
	return cmd
}

func (a *app) newTaskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete TASK_ID...",
		Short: "Delete tasks and clear the history cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildServices(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			var failed []string
			for _, id := range args {
				err := rt.client.DeleteTask(ctx, id)
				switch {
				case err == nil:
					fmt.Fprintf(out, "%s\tdeleted\n", id)
				case imagegen.IsNotFound(err):
					// 后端已不存在的任务按删除成功处理。
					fmt.Fprintf(out, "%s\tnot found\n", id)
				default:
					logger.Named("cli").Warn("删除任务失败", slog.String("task_id", id), slog.Any("error", err))
					fmt.Fprintf(out, "%s\terror: %v\n", id, err)
					failed = append(failed, id)
				}
			}
			if len(failed) < len(args) {
				if err := invalidateAfter(cmd, rt, "delete"); err != nil {
					return err
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("failed to delete: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
}

func (a *app) newTaskFavoriteCmd() *cobra.Command {
	var (
		index int
		video bool
	)
	cmd := &cobra.Command{
		Use:   "favorite TASK_ID",
		Short: "Toggle the favorite flag of an image or video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildServices(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			var result *imagegen.FavoriteResult
			if video {
				result, err = rt.client.ToggleVideoFavorite(ctx, args[0])
			} else {
				result, err = rt.client.ToggleFavorite(ctx, args[0], index)
			}
			if err != nil {
				return err
			}
			if err := invalidateAfter(cmd, rt, "favorite"); err != nil {
				return err
			}
			state := "unfavorited"
			if result.IsFavorited {
				state = "favorited"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", args[0], state)
			return nil
		},
	}
	cmd.Flags().IntVar(&index, "index", 0, "image index within the task")
	cmd.Flags().BoolVar(&video, "video", false, "toggle a video task instead of an image")
	return cmd
}

func (a *app) newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check backend health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newClient(a.cfg.Backend)
			if err != nil {
				return err
			}
			health, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status:   %s\ndatabase: %t\ncomfyui:  %t\n",
				health.Status, health.DatabaseConnected, health.ComfyUIConnected)
			if !health.Healthy() {
				return fmt.Errorf("backend is %s", health.Status)
			}
			return nil
		},
	}
}
