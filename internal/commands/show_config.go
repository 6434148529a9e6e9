// internal/commands/show_config.go
package weave

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mwiater/weave/internal/appconfig"
)

var dumpConfig bool

// showCmd represents the 'show' command group for displaying resources.
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Group commands for displaying resources",
	Long:  `The 'show' command groups subcommands that display resources or information related to weave.`,
}

// showConfigCmd implements the 'show config' command, which displays the current configuration settings.
var showConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show config settings",
	Long:  `Show config settings ensuring that the JSON configs are loaded properly and overriden by flags accordingly.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := GetConfig()
		if cfg == nil {
			cfg = &appconfig.Config{}
		}
		if dumpConfig {
			appconfig.Dump(cmd.OutOrStdout(), *cfg)
			return
		}
		appconfig.ShowConfig(cmd.OutOrStdout(), viper.ConfigFileUsed(), cfg)
	},
}

func init() {
	showConfigCmd.Flags().BoolVar(&dumpConfig, "dump", false, "pretty-print the full configuration struct")
	showCmd.AddCommand(showConfigCmd)
	rootCmd.AddCommand(showCmd)
}
