// Package api provides the public API for using the IR obfuscator as a library.
//
// It exposes the same transformation pipeline as the command-line interface:
// control flow flattening, bogus control flow, indirect branches and calls, and
// mixed boolean-arithmetic rewriting, all over textual IR modules.
//
// Basic usage example:
//
//	obf, err := api.NewObfuscator(api.Options{ConfigPath: "morphect.yaml"})
//	if err != nil {
//	    log.Fatalf("Failed to create obfuscator: %v", err)
//	}
//
//	result, err := obf.ObfuscateCode(moduleSource)
//	if err != nil {
//	    log.Fatalf("Failed to obfuscate module: %v", err)
//	}
//
//	fmt.Println(result) // Prints the obfuscated module
package api

import (
	"fmt"

	"github.com/basicacc/morphect-sub000/internal/config"
	"github.com/basicacc/morphect-sub000/internal/obfuscator"
	"github.com/basicacc/morphect-sub000/internal/stats"
)

// PrintInfo prints formatted information to stdout, respecting the Testing
// flag. It forwards to the internal config.PrintInfo function.
func PrintInfo(format string, args ...interface{}) {
	config.PrintInfo(format, args...)
}

// Obfuscator wraps the obfuscation engine for library use.
type Obfuscator struct {
	// Engine is the underlying pass pipeline.
	Engine *obfuscator.Obfuscator
	// Config holds the settings the engine was built with.
	Config *config.Config
}

// Options configures a new Obfuscator instance.
type Options struct {
	// ConfigPath is the path to a YAML configuration file.
	// If empty, default configuration will be used.
	ConfigPath string

	// Seed fixes the random seed for reproducible output.
	// A zero value keeps whatever the configuration selects.
	Seed int64

	// Silent suppresses informational messages during obfuscation.
	Silent bool
}

// NewObfuscator creates a new Obfuscator using the provided options.
//
// Returns an error if the configuration cannot be loaded or the pass pipeline
// cannot be constructed, for example an invalid pass_order entry.
func NewObfuscator(options Options) (*Obfuscator, error) {
	cfg, err := config.LoadConfig(options.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if options.Silent {
		cfg.Silent = true
	}
	if options.Seed != 0 {
		cfg.Seed = options.Seed
		cfg.Seeded = true
	}

	engine, err := obfuscator.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create obfuscation engine: %w", err)
	}

	return &Obfuscator{Engine: engine, Config: cfg}, nil
}

// ObfuscateCode obfuscates a textual IR module and returns the transformed
// source. The input is not modified.
func (o *Obfuscator) ObfuscateCode(code string) (string, error) {
	return o.Engine.ObfuscateCode(code)
}

// ObfuscateFile obfuscates the module at inputPath and writes the result to
// outputPath. An empty outputPath derives one next to the input.
func (o *Obfuscator) ObfuscateFile(inputPath, outputPath string) error {
	return o.Engine.ObfuscateFile(inputPath, outputPath)
}

// Stats returns the counters accumulated across ObfuscateCode and
// ObfuscateFile calls on this instance.
func (o *Obfuscator) Stats() *stats.Stats {
	return o.Engine.Stats()
}

// Seed returns the effective random seed, useful for reproducing a run that
// used a time-based seed.
func (o *Obfuscator) Seed() int64 {
	return o.Engine.Seed()
}
