package cmd

import (
	"github.com/spf13/cobra"

	"github.com/caedis/gamelauncher/internal/logging"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the launcher config",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective launcher config",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := parseFormat(configFormat)
		if err != nil {
			return wrapUsageError(err)
		}
		if format == formatText {
			format = formatYAML
		}
		a := newApp()
		cfg, err := a.store.Get()
		if err != nil {
			return err
		}
		logging.Debugf("Verbose: config file %s\n", a.store.Path())
		return writeOutput(cmd.OutOrStdout(), format, cfg)
	},
}

func init() {
	configShowCmd.Flags().StringVarP(&configFormat, "format", "f", "yaml", "Output format: json or yaml")

	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
