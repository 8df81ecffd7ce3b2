// Package config loads and validates the obfuscator configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Index obfuscation strategies for jump tables.
const (
	IndexStrategyDirect = "direct"
	IndexStrategyXOR    = "xor"
	IndexStrategyLinear = "linear"
	IndexStrategyMBA    = "mba"
)

// Address obfuscation strategies for function pointer tables.
const (
	AddressStrategyNone      = "none"
	AddressStrategyXOR       = "xor"
	AddressStrategyAdd       = "add"
	AddressStrategyXORAdd    = "xor_add"
	AddressStrategyRotateXOR = "rotate_xor"
)

// FlattenConfig defines settings for control flow flattening.
type FlattenConfig struct {
	Enabled       bool    `yaml:"enabled" mapstructure:"enabled"`
	Probability   float64 `yaml:"probability" mapstructure:"probability"`
	MinBlocks     int     `yaml:"min_blocks" mapstructure:"min_blocks"`
	MaxBlocks     int     `yaml:"max_blocks" mapstructure:"max_blocks"`
	ShuffleStates bool    `yaml:"shuffle_states" mapstructure:"shuffle_states"`
	StateVarName  string  `yaml:"state_var_name" mapstructure:"state_var_name"`
}

// BogusFlowConfig defines settings for bogus control flow insertion.
type BogusFlowConfig struct {
	Enabled          bool    `yaml:"enabled" mapstructure:"enabled"`
	Probability      float64 `yaml:"probability" mapstructure:"probability"`
	MinInsertions    int     `yaml:"min_insertions" mapstructure:"min_insertions"`
	MaxInsertions    int     `yaml:"max_insertions" mapstructure:"max_insertions"`
	GenerateDeadCode bool    `yaml:"generate_dead_code" mapstructure:"generate_dead_code"`
	DeadCodeLines    int     `yaml:"dead_code_lines" mapstructure:"dead_code_lines"`
	UseRealVariables bool    `yaml:"use_real_variables" mapstructure:"use_real_variables"`
}

// IndirectBranchConfig defines settings for jump-table based branch indirection.
type IndirectBranchConfig struct {
	Enabled        bool    `yaml:"enabled" mapstructure:"enabled"`
	Probability    float64 `yaml:"probability" mapstructure:"probability"`
	IndexStrategy  string  `yaml:"index_strategy" mapstructure:"index_strategy"`
	UseMBAForIndex bool    `yaml:"use_mba_for_index" mapstructure:"use_mba_for_index"`
	AddDecoys      bool    `yaml:"add_decoys" mapstructure:"add_decoys"`
	MinDecoyCount  int     `yaml:"min_decoy_count" mapstructure:"min_decoy_count"`
	MaxDecoyCount  int     `yaml:"max_decoy_count" mapstructure:"max_decoy_count"`
	ShuffleEntries bool    `yaml:"shuffle_entries" mapstructure:"shuffle_entries"`
	TablePrefix    string  `yaml:"table_prefix" mapstructure:"table_prefix"`
}

// IndirectCallConfig defines settings for function-pointer-table call indirection.
type IndirectCallConfig struct {
	Enabled          bool     `yaml:"enabled" mapstructure:"enabled"`
	Probability      float64  `yaml:"probability" mapstructure:"probability"`
	AddressStrategy  string   `yaml:"address_strategy" mapstructure:"address_strategy"`
	AddDecoys        bool     `yaml:"add_decoys" mapstructure:"add_decoys"`
	MinDecoyCount    int      `yaml:"min_decoy_count" mapstructure:"min_decoy_count"`
	MaxDecoyCount    int      `yaml:"max_decoy_count" mapstructure:"max_decoy_count"`
	ShuffleEntries   bool     `yaml:"shuffle_entries" mapstructure:"shuffle_entries"`
	SkipIntrinsics   bool     `yaml:"skip_intrinsics" mapstructure:"skip_intrinsics"`
	ExcludeFunctions []string `yaml:"exclude_functions" mapstructure:"exclude_functions"`
	IncludeOnly      []string `yaml:"include_only" mapstructure:"include_only"`
	TableName        string   `yaml:"table_name" mapstructure:"table_name"`
}

// MBAConfig defines settings for mixed boolean-arithmetic rewriting.
type MBAConfig struct {
	Enabled      bool    `yaml:"enabled" mapstructure:"enabled"`
	Probability  float64 `yaml:"probability" mapstructure:"probability"`
	NestingDepth int     `yaml:"nesting_depth" mapstructure:"nesting_depth"`
}

// ObfuscationConfig holds all pass-specific settings.
type ObfuscationConfig struct {
	Flatten        FlattenConfig        `yaml:"flatten" mapstructure:"flatten"`
	BogusFlow      BogusFlowConfig      `yaml:"bogus_flow" mapstructure:"bogus_flow"`
	IndirectBranch IndirectBranchConfig `yaml:"indirect_branch" mapstructure:"indirect_branch"`
	IndirectCall   IndirectCallConfig   `yaml:"indirect_call" mapstructure:"indirect_call"`
	MBA            MBAConfig            `yaml:"mba" mapstructure:"mba"`
}

// Config holds all configuration settings for the obfuscator.
// Struct tags control how Viper maps config file keys and environment variables.
type Config struct {
	// Input/Output settings
	InputFile  string `yaml:"input_file" mapstructure:"input_file"`
	OutputFile string `yaml:"output_file" mapstructure:"output_file"`

	// General behavior
	Silent       bool  `yaml:"silent" mapstructure:"silent"`                 // Suppress informational messages
	AbortOnError bool  `yaml:"abort_on_error" mapstructure:"abort_on_error"` // Stop processing on the first error
	DebugMode    bool  `yaml:"debug_mode" mapstructure:"debug_mode"`         // Enable verbose debug logging
	Seed         int64 `yaml:"seed" mapstructure:"seed"`                     // RNG seed; 0 means time-based
	Seeded       bool  `yaml:"seeded" mapstructure:"seeded"`                 // Whether Seed is authoritative

	// Global transformation probability. The -p flag fans this value out to
	// every pass; each pass reads only its own probability field.
	Probability float64 `yaml:"probability" mapstructure:"probability"`

	// Explicit pass order; empty means priority order.
	PassOrder []string `yaml:"pass_order" mapstructure:"pass_order"`

	Obfuscation ObfuscationConfig `yaml:"obfuscation" mapstructure:"obfuscation"`
}

var (
	// Testing controls whether output is suppressed for testing purposes.
	Testing bool
)

// PrintInfo prints informational output unless Testing mode is active.
func PrintInfo(format string, args ...interface{}) {
	if !Testing {
		fmt.Printf(format, args...)
	}
}

// DefaultConfig returns a configuration with default settings.
func DefaultConfig() *Config {
	return &Config{
		Silent:       false,
		AbortOnError: true,
		DebugMode:    false,
		Seed:         0,
		Seeded:       false,
		Probability:  0.85,

		Obfuscation: ObfuscationConfig{
			Flatten: FlattenConfig{
				Enabled:       true,
				Probability:   0.85,
				MinBlocks:     2,
				MaxBlocks:     100,
				ShuffleStates: true,
				StateVarName:  "_cff_state",
			},
			BogusFlow: BogusFlowConfig{
				Enabled:          false,
				Probability:      0.5,
				MinInsertions:    1,
				MaxInsertions:    5,
				GenerateDeadCode: true,
				DeadCodeLines:    3,
				UseRealVariables: true,
			},
			IndirectBranch: IndirectBranchConfig{
				Enabled:        false,
				Probability:    0.8,
				IndexStrategy:  IndexStrategyXOR,
				UseMBAForIndex: true,
				AddDecoys:      true,
				MinDecoyCount:  1,
				MaxDecoyCount:  3,
				ShuffleEntries: true,
				TablePrefix:    "_jt_",
			},
			IndirectCall: IndirectCallConfig{
				Enabled:         false,
				Probability:     0.75,
				AddressStrategy: AddressStrategyXOR,
				AddDecoys:       true,
				MinDecoyCount:   1,
				MaxDecoyCount:   3,
				ShuffleEntries:  true,
				SkipIntrinsics:  true,
				TableName:       "_func_table",
			},
			MBA: MBAConfig{
				Enabled:      false,
				Probability:  0.85,
				NestingDepth: 1,
			},
		},
	}
}

// LoadConfig reads configuration from a YAML file, applying defaults for any
// keys the file does not set, and returns a filled Config struct.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		configPath = "morphect.yaml" // Default path
	}

	if _, err := os.Stat(configPath); err == nil {
		yamlFile, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configPath, err)
		}

		if err := yaml.Unmarshal(yamlFile, cfg); err != nil {
			return nil, fmt.Errorf("error unmarshalling config file %s: %w", configPath, err)
		}
		if !cfg.Silent {
			PrintInfo("Info: Loaded configuration from %s\n", configPath)
		}
	} else if os.IsNotExist(err) {
		if configPath != "morphect.yaml" {
			return nil, fmt.Errorf("specified config file not found: %s", configPath)
		}
		PrintInfo("Info: Configuration file 'morphect.yaml' not found, using default settings.\n")
	} else {
		return nil, fmt.Errorf("error checking config file %s: %w", configPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the default configuration to a file.
func SaveConfig(configPath string) error {
	cfg := DefaultConfig()
	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshalling default config: %w", err)
	}
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating directory for config file %s: %w", configPath, err)
	}
	if err := os.WriteFile(configPath, yamlData, 0644); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configPath, err)
	}
	PrintInfo("Info: Saved default configuration to %s\n", configPath)
	return nil
}

// Validate normalizes and range-checks configuration values.
func (c *Config) Validate() error {
	clampProb := func(p *float64) {
		if *p < 0 {
			*p = 0
		}
		if *p > 1 {
			*p = 1
		}
	}
	clampProb(&c.Probability)
	clampProb(&c.Obfuscation.Flatten.Probability)
	clampProb(&c.Obfuscation.BogusFlow.Probability)
	clampProb(&c.Obfuscation.IndirectBranch.Probability)
	clampProb(&c.Obfuscation.IndirectCall.Probability)
	clampProb(&c.Obfuscation.MBA.Probability)

	if c.Obfuscation.Flatten.MinBlocks < 2 {
		c.Obfuscation.Flatten.MinBlocks = 2
	}
	if c.Obfuscation.Flatten.StateVarName == "" {
		c.Obfuscation.Flatten.StateVarName = "_cff_state"
	}

	switch c.Obfuscation.IndirectBranch.IndexStrategy {
	case IndexStrategyDirect, IndexStrategyXOR, IndexStrategyLinear, IndexStrategyMBA:
	case "":
		c.Obfuscation.IndirectBranch.IndexStrategy = IndexStrategyXOR
	default:
		return fmt.Errorf("invalid index_strategy %q", c.Obfuscation.IndirectBranch.IndexStrategy)
	}

	switch c.Obfuscation.IndirectCall.AddressStrategy {
	case AddressStrategyNone, AddressStrategyXOR, AddressStrategyAdd,
		AddressStrategyXORAdd, AddressStrategyRotateXOR:
	case "":
		c.Obfuscation.IndirectCall.AddressStrategy = AddressStrategyXOR
	default:
		return fmt.Errorf("invalid address_strategy %q", c.Obfuscation.IndirectCall.AddressStrategy)
	}

	if c.Obfuscation.IndirectBranch.MaxDecoyCount < c.Obfuscation.IndirectBranch.MinDecoyCount {
		c.Obfuscation.IndirectBranch.MaxDecoyCount = c.Obfuscation.IndirectBranch.MinDecoyCount
	}
	if c.Obfuscation.IndirectCall.MaxDecoyCount < c.Obfuscation.IndirectCall.MinDecoyCount {
		c.Obfuscation.IndirectCall.MaxDecoyCount = c.Obfuscation.IndirectCall.MinDecoyCount
	}
	return nil
}

// bindEnv explicitly binds environment variables, handling potential key mismatches.
func bindEnv(v *viper.Viper, key string) {
	envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	_ = v.BindEnv(key, "MORPHECT_"+envKey)
}

// LoadConfigWithEnv loads configuration like LoadConfig but additionally layers
// MORPHECT_* environment variables over file values via Viper.
func LoadConfigWithEnv(configPath string) (*Config, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	for _, key := range []string{"silent", "seed", "seeded", "probability", "debug_mode"} {
		bindEnv(v, key)
	}

	if v.IsSet("silent") {
		cfg.Silent = v.GetBool("silent")
	}
	if v.IsSet("seed") {
		cfg.Seed = v.GetInt64("seed")
		cfg.Seeded = true
	}
	if v.IsSet("seeded") {
		cfg.Seeded = v.GetBool("seeded")
	}
	if v.IsSet("probability") {
		cfg.Probability = v.GetFloat64("probability")
	}
	if v.IsSet("debug_mode") {
		cfg.DebugMode = v.GetBool("debug_mode")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
