package main

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/storefwd/pkg/storefwd"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Print the effective configuration as YAML.

With --defaults the built-in defaults are printed, which is a convenient
starting point for a config file:

  syncd config --defaults > storefwd.yaml`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		defaults, _ := cmd.Flags().GetBool("defaults")

		cfg := storefwd.DefaultConfig()
		if !defaults {
			loaded, err := loadConfig()
			if err != nil {
				return err
			}
			cfg = loaded
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

func init() {
	configCmd.Flags().Bool("defaults", false, "print the built-in defaults instead of the loaded config")
}
