package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"ImageGen-Console/internal/task"
	"ImageGen-Console/sdk/go/imagegen"
)

func (a *app) newPollCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "poll TASK_ID...",
		Short: "Poll task status until every task reaches a terminal state",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildServices(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			poller, err := newPoller(rt, kind)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var mu sync.Mutex
			printf := func(format string, args ...any) {
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintf(out, format, args...)
			}
			results := poller.PollAll(ctx, args, a.cfg.Poller.Concurrency, func(id string) task.Callbacks {
				last := -1
				return task.Callbacks{
					OnProgress: func(p int) {
						if p != last {
							last = p
							printf("%s\t%d%%\n", id, p)
						}
					},
					OnSuccess: func(status *imagegen.TaskStatus) error {
						printf("%s\tcompleted\n", id)
						return nil
					},
					OnError:   func(msg string) { printf("%s\terror: %s\n", id, msg) },
					OnTimeout: func() { printf("%s\ttimed out\n", id) },
				}
			})

			var failed []string
			for _, r := range results {
				if r.Outcome != task.OutcomeCompleted {
					failed = append(failed, fmt.Sprintf("%s(%s)", r.TaskID, r.Outcome))
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d of %d tasks did not complete: %s", len(failed), len(results), strings.Join(failed, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "type", "t", task.ProfileTask, "task type: task, upscale or video")
	return cmd
}
