// Package cmd implements the command line interface for the application.
package cmd

import (
	"fmt"
	"os"

	"github.com/basicacc/morphect-sub000/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfgFile string         // Config file path from the flag
	cfg     *config.Config // Loaded configuration, shared by subcommands

	// Flag variables mapped to config fields for override
	silentMode     bool    // -> cfg.Silent
	abortOnError   bool    // -> cfg.AbortOnError
	debugMode      bool    // -> cfg.DebugMode
	seed           int64   // -> cfg.Seed
	probability    float64 // -> cfg.Probability
	flatten        bool    // -> cfg.Obfuscation.Flatten.Enabled
	bogusFlow      bool    // -> cfg.Obfuscation.BogusFlow.Enabled
	indirectBranch bool    // -> cfg.Obfuscation.IndirectBranch.Enabled
	indirectCall   bool    // -> cfg.Obfuscation.IndirectCall.Enabled
	mba            bool    // -> cfg.Obfuscation.MBA.Enabled
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "morphect-ir",
	Short: "A CLI tool to obfuscate textual IR modules.",
	Long: `morphect-ir rewrites textual IR to make it harder to understand and
reverse-engineer: control flow flattening, bogus control flow guarded by
opaque predicates, branch and call indirection through encoded tables, and
mixed boolean-arithmetic rewriting.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil { // Only load config once
			// MORPHECT_* environment variables layer over file values;
			// explicit flags override both.
			loadedCfg, err := config.LoadConfigWithEnv(cfgFile)
			if err != nil {
				return fmt.Errorf("error loading configuration: %w", err)
			}
			cfg = loadedCfg

			// Flag overrides win over the config file.
			applyFlagOverrides(cfg, cmd)
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// applyFlagOverrides applies command-line flag values to the config struct.
// Only overrides if the flag was explicitly set, via cmd.Flags().Changed().
func applyFlagOverrides(cfg *config.Config, cmd *cobra.Command) {
	if cmd.Flags().Changed("silent") {
		cfg.Silent = silentMode
	}
	if cmd.Flags().Changed("abort-on-error") {
		cfg.AbortOnError = abortOnError
	}
	if cmd.Flags().Changed("debug") {
		cfg.DebugMode = debugMode
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = seed
		cfg.Seeded = true
	}
	if cmd.Flags().Changed("probability") {
		cfg.Probability = probability
		cfg.Obfuscation.Flatten.Probability = probability
		cfg.Obfuscation.BogusFlow.Probability = probability
		cfg.Obfuscation.IndirectBranch.Probability = probability
		cfg.Obfuscation.IndirectCall.Probability = probability
		cfg.Obfuscation.MBA.Probability = probability
	}
	if cmd.Flags().Changed("flatten") {
		cfg.Obfuscation.Flatten.Enabled = flatten
	}
	if cmd.Flags().Changed("bogus-flow") {
		cfg.Obfuscation.BogusFlow.Enabled = bogusFlow
	}
	if cmd.Flags().Changed("indirect-branch") {
		cfg.Obfuscation.IndirectBranch.Enabled = indirectBranch
	}
	if cmd.Flags().Changed("indirect-call") {
		cfg.Obfuscation.IndirectCall.Enabled = indirectCall
	}
	if cmd.Flags().Changed("mba") {
		cfg.Obfuscation.MBA.Enabled = mba
	}
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		// Cobra already printed the error. We just need to exit non-zero.
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./morphect.yaml)")

	rootCmd.PersistentFlags().BoolVarP(&silentMode, "silent", "s", false, "Suppress informational output (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&abortOnError, "abort-on-error", true, "Stop processing on the first pass error (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable verbose debug logging (overrides config)")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 0, "Random seed for reproducible output (overrides config)")
	rootCmd.PersistentFlags().Float64VarP(&probability, "probability", "p", 0.85, "Per-site transformation probability for all passes (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&flatten, "flatten", true, "Enable/disable control flow flattening (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&bogusFlow, "bogus-flow", false, "Enable/disable bogus control flow insertion (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&indirectBranch, "indirect-branch", false, "Enable/disable branch indirection through jump tables (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&indirectCall, "indirect-call", false, "Enable/disable call indirection through function tables (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&mba, "mba", false, "Enable/disable mixed boolean-arithmetic rewriting (overrides config)")
}
