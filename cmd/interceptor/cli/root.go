// Package cli implements the interceptor command-line interface using Cobra.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/int3rceptor/interceptor/internal/ilog"
)

var (
	cfgPath  string
	verbose  bool
	jsonLogs bool
	debugDir string
)

var rootCmd = &cobra.Command{
	Use:   "interceptor",
	Short: "Interactive, TLS-capable HTTP/HTTPS interception proxy",
	Long: `interceptor is a man-in-the-middle HTTP proxy for security testing.
It forges per-host TLS leaf certificates to intercept HTTPS via CONNECT,
captures HTTP/1.1, HTTP/2, and WebSocket traffic into a searchable,
optionally encrypted store, and exposes rewrite rules, a WASM plugin
hook surface, request replay/fuzzing, and passive/active vulnerability
scanning.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return ilog.Init(ilog.Options{
			Verbose:  verbose,
			JSON:     jsonLogs,
			DebugDir: debugDir,
		})
	},
}

// Execute runs the root command.
func Execute() error {
	defer ilog.Close()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to interceptor.yaml (defaults applied if unset or missing)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose (debug-level) logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "emit structured logs as JSON instead of text")
	rootCmd.PersistentFlags().StringVar(&debugDir, "debug-dir", "", "directory to also receive a rotated JSON debug log")
}
