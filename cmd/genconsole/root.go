package main

import (
	"github.com/spf13/cobra"

	"ImageGen-Console/internal/config"
	"ImageGen-Console/pkg/logger"
)

// app 在子命令之间共享已加载的配置。
type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "genconsole",
		Short:         "Image generation console companion: history cache, task polling and API service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.ResolvePath(a.configPath))
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.Logging); err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logger.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "",
		"path to the YAML config (defaults to $"+config.EnvConfigPath+" or "+config.DefaultPath+")")

	root.AddCommand(
		a.newServeCmd(),
		a.newHistoryCmd(),
		a.newSyncCmd(),
		a.newPollCmd(),
		a.newCacheCmd(),
		a.newEventsCmd(),
		a.newTaskCmd(),
		a.newHealthCmd(),
	)
	return root
}
