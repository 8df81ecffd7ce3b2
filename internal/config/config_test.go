package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	Testing = true
	os.Exit(m.Run())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.True(t, cfg.Obfuscation.Flatten.Enabled)
	assert.Equal(t, 2, cfg.Obfuscation.Flatten.MinBlocks)
	assert.Equal(t, "_cff_state", cfg.Obfuscation.Flatten.StateVarName)
	assert.Equal(t, IndexStrategyXOR, cfg.Obfuscation.IndirectBranch.IndexStrategy)
	assert.Equal(t, AddressStrategyXOR, cfg.Obfuscation.IndirectCall.AddressStrategy)
	assert.Equal(t, "_func_table", cfg.Obfuscation.IndirectCall.TableName)
	assert.True(t, cfg.Obfuscation.IndirectCall.SkipIntrinsics)
	assert.False(t, cfg.Seeded)
}

func TestLoadConfigMissingDefaultFile(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(cwd) }()

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Probability, cfg.Probability)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	content := []byte(`
silent: true
seed: 42
seeded: true
obfuscation:
  flatten:
    enabled: false
    min_blocks: 5
  indirect_branch:
    index_strategy: linear
`)
	require.NoError(t, os.WriteFile(path, content, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.Silent)
	assert.True(t, cfg.Seeded)
	assert.EqualValues(t, 42, cfg.Seed)
	assert.False(t, cfg.Obfuscation.Flatten.Enabled)
	assert.Equal(t, 5, cfg.Obfuscation.Flatten.MinBlocks)
	assert.Equal(t, IndexStrategyLinear, cfg.Obfuscation.IndirectBranch.IndexStrategy)
	// Keys absent from the file keep defaults.
	assert.Equal(t, "_jt_", cfg.Obfuscation.IndirectBranch.TablePrefix)
}

func TestLoadConfigRejectsBadStrategy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("obfuscation:\n  indirect_call:\n    address_strategy: bogus\n"), 0644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "address_strategy")
}

func TestSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "out.yaml")
	require.NoError(t, SaveConfig(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Obfuscation.Flatten.StateVarName, cfg.Obfuscation.Flatten.StateVarName)
}

func TestValidateClampsProbabilities(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Probability = 1.7
	cfg.Obfuscation.MBA.Probability = -0.3
	cfg.Obfuscation.IndirectBranch.MinDecoyCount = 4
	cfg.Obfuscation.IndirectBranch.MaxDecoyCount = 2

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1.0, cfg.Probability)
	assert.Equal(t, 0.0, cfg.Obfuscation.MBA.Probability)
	assert.Equal(t, 4, cfg.Obfuscation.IndirectBranch.MaxDecoyCount)
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	t.Setenv("MORPHECT_SEED", "99")
	t.Setenv("MORPHECT_SILENT", "true")
	t.Setenv("MORPHECT_PROBABILITY", "0.25")

	cfg, err := LoadConfigWithEnv("")
	require.NoError(t, err)
	assert.Equal(t, int64(99), cfg.Seed)
	assert.True(t, cfg.Seeded)
	assert.True(t, cfg.Silent)
	assert.Equal(t, 0.25, cfg.Probability)
}

func TestLoadConfigWithEnvNoVars(t *testing.T) {
	cfg, err := LoadConfigWithEnv("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Probability, cfg.Probability)
	assert.False(t, cfg.Seeded)
}
