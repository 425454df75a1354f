package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/int3rceptor/interceptor/internal/config"
	"github.com/int3rceptor/interceptor/internal/interceptor/plugin"
)

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Inspect the WASM plugin host",
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "Load every configured plugin and report which ones succeeded",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		system := plugin.DefaultSystemConfig()
		if cfg.PluginDir != "" {
			system.PluginDir = cfg.PluginDir
		}

		ctx := context.Background()
		host, err := plugin.NewHost(ctx, system)
		if err != nil {
			return fmt.Errorf("starting plugin host: %w", err)
		}
		defer host.Close(ctx)

		if err := host.LoadAll(ctx); err != nil {
			return fmt.Errorf("loading plugins: %w", err)
		}

		names := host.ListPlugins()
		if len(names) == 0 {
			fmt.Println("no plugins loaded")
			return nil
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

func init() {
	pluginCmd.AddCommand(pluginListCmd)
	rootCmd.AddCommand(pluginCmd)
}
