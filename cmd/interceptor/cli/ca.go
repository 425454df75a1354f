package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/int3rceptor/interceptor/internal/config"
	"github.com/int3rceptor/interceptor/internal/interceptor/ca"
)

var caCmd = &cobra.Command{
	Use:   "ca",
	Short: "Manage the interception root CA",
}

var caExportCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "Write the root CA certificate (PEM) to path for import into a client trust store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		c, err := ca.New(cfg.CADir)
		if err != nil {
			return fmt.Errorf("loading CA: %w", err)
		}
		if err := c.ExportCA(args[0]); err != nil {
			return fmt.Errorf("exporting CA certificate: %w", err)
		}
		fmt.Printf("wrote CA certificate to %s\n", args[0])
		return nil
	},
}

func init() {
	caCmd.AddCommand(caExportCmd)
	rootCmd.AddCommand(caCmd)
}
