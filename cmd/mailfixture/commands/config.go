package commands

import (
	"fmt"

	"github.com/busybox42/mailfixture/internal/config"
	"github.com/spf13/cobra"

	toml "github.com/pelletier/go-toml/v2"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create, show and validate the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "mailfixture.toml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.CreateDefaultConfig(path); err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "✅ Configuration written to %s", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := toml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and print warnings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Loading already rejected invalid files, warnings remain
		w := cmd.OutOrStdout()
		result := cfg.Validate()
		for _, warning := range result.Warnings {
			printWarn(w, "WARNING: %s", warning.Error())
		}
		if err := result.Err(); err != nil {
			return err
		}
		fmt.Fprintln(w, "Configuration is valid")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configValidateCmd)
}
