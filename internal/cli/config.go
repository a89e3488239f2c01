package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/knowhub/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with API keys masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewLoader(cfgFile)
		cfg, err := loader.Load()
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "# %s\n", loader.Path())
		fmt.Fprintln(out, cfg.String())
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and list usable model tiers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		enabled := cfg.EnabledTiers()
		fmt.Fprintf(out, "Configuration is valid (%d of %d tiers usable)\n", len(enabled), len(cfg.Tiers))
		for _, t := range enabled {
			fmt.Fprintf(out, "  %s: %s/%s\n", t.Name, t.Provider, t.Model)
		}
		if len(enabled) == 0 {
			return fmt.Errorf("no model tier has an API key configured")
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
