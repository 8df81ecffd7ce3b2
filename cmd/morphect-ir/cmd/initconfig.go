package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/basicacc/morphect-sub000/internal/config"
)

var forceInit bool

// initConfigCmd writes a configuration file with default settings, ready to
// be edited and passed back via --config.
var initConfigCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "Write a default configuration file",
	Long: `Writes a YAML configuration file populated with default settings.
The path defaults to ./morphect.yaml.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		path := "morphect.yaml"
		if len(args) == 1 {
			path = args[0]
		}

		if _, err := os.Stat(path); err == nil && !forceInit {
			return fmt.Errorf("config file %s already exists, use --force to overwrite", path)
		}

		if err := config.SaveConfig(path); err != nil {
			return err
		}
		fmt.Printf("Wrote default configuration to %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initConfigCmd)
	initConfigCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite an existing config file")
}
