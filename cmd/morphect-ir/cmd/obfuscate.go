package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/basicacc/morphect-sub000/internal/obfuscator"
)

var outputFile string // Flag variable for output file path

// obfuscateCmd represents the obfuscate command
var obfuscateCmd = &cobra.Command{
	Use:   "obfuscate [module_file]",
	Short: "Obfuscate a single textual IR module",
	Long: `Reads a textual IR module, applies the configured transformation
passes, and writes the result to stdout or a specified file.

Example:
  morphect-ir obfuscate input.ll -o output.ll
  morphect-ir obfuscate input.ll --flatten --indirect-call --seed 42`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("configuration not loaded")
		}
		cmd.SilenceUsage = true
		inputPath := cfg.InputFile
		if len(args) == 1 {
			inputPath = args[0]
		}
		if inputPath == "" {
			return fmt.Errorf("no input file given: pass a path or set input_file in the config")
		}
		targetFile := outputFile
		if targetFile == "" {
			targetFile = cfg.OutputFile
		}

		engine, err := obfuscator.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize obfuscation engine: %w", err)
		}

		if targetFile != "" {
			if err := engine.ObfuscateFile(inputPath, targetFile); err != nil {
				return err
			}
		} else {
			// No output flag: transform and print to stdout.
			src, err := os.ReadFile(inputPath)
			if err != nil {
				return fmt.Errorf("error reading input file %s: %w", inputPath, err)
			}
			result, err := engine.ObfuscateCode(string(src))
			if err != nil {
				return fmt.Errorf("error obfuscating %s: %w", inputPath, err)
			}
			fmt.Print(result)
		}

		if !cfg.Silent {
			fmt.Fprintf(os.Stderr, "Seed: %d\n", engine.Seed())
			fmt.Fprintln(os.Stderr, strings.TrimRight(engine.Stats().Summary(), "\n"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(obfuscateCmd)
	obfuscateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file path (default: stdout)")
}
