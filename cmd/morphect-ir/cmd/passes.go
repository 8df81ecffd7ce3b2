package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/basicacc/morphect-sub000/internal/obfuscator"
)

// passesCmd lists the registered passes in the order they would run,
// after applying pass_order from the configuration.
var passesCmd = &cobra.Command{
	Use:   "passes",
	Short: "List the transformation passes in execution order",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("configuration not loaded")
		}
		cmd.SilenceUsage = true

		engine, err := obfuscator.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize obfuscation engine: %w", err)
		}
		ordered, err := engine.Passes()
		if err != nil {
			return err
		}

		for i, p := range ordered {
			state := "disabled"
			if p.Enabled() {
				state = "enabled"
			}
			fmt.Printf("%d. %-16s priority %-4d %s\n", i+1, p.Name(), p.Priority(), state)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(passesCmd)
}
