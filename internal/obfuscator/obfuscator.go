// Package obfuscator wires configuration, the pass manager, and the
// transformation passes into one engine that processes whole modules.
package obfuscator

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/basicacc/morphect-sub000/internal/config"
	"github.com/basicacc/morphect-sub000/internal/ir"
	"github.com/basicacc/morphect-sub000/internal/passes"
	"github.com/basicacc/morphect-sub000/internal/stats"
	"github.com/basicacc/morphect-sub000/internal/transformer"
)

// Obfuscator runs the configured pass pipeline over textual IR modules.
type Obfuscator struct {
	cfg *config.Config
	ctx *transformer.Context
	mgr *passes.Manager
}

// New builds an engine from configuration: a shared transformation context
// plus a manager with every pass registered. Pass order comes from
// configuration, falling back to priorities.
func New(cfg *config.Config) (*Obfuscator, error) {
	ctx := transformer.NewContext(cfg)
	mgr := passes.NewManager(cfg.AbortOnError, ctx.Logf)

	all := []passes.Pass{
		transformer.NewFlattenPass(ctx),
		transformer.NewBogusFlowPass(ctx),
		transformer.NewIndirectBranchPass(ctx),
		transformer.NewIndirectCallPass(ctx),
		transformer.NewMBAPass(ctx),
	}
	for _, p := range all {
		if err := mgr.Register(p); err != nil {
			return nil, err
		}
	}
	if len(cfg.PassOrder) > 0 {
		mgr.SetOrder(cfg.PassOrder)
	}
	// An invalid custom order should fail construction, not the first run.
	if _, err := mgr.Passes(); err != nil {
		return nil, err
	}

	return &Obfuscator{cfg: cfg, ctx: ctx, mgr: mgr}, nil
}

// ObfuscateCode transforms module source text and returns the result.
func (o *Obfuscator) ObfuscateCode(src string) (string, error) {
	lines := ir.SplitLines(src)
	out, err := o.mgr.Run(lines, passes.KindTextualIR)
	if err != nil {
		return "", err
	}
	return ir.JoinLines(out), nil
}

// ObfuscateFile reads inputPath, transforms it, and writes outputPath. An
// empty outputPath derives one by appending ".obf" before the extension.
func (o *Obfuscator) ObfuscateFile(inputPath, outputPath string) error {
	src, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("error reading input file %s: %w", inputPath, err)
	}

	result, err := o.ObfuscateCode(string(src))
	if err != nil {
		return fmt.Errorf("error obfuscating %s: %w", inputPath, err)
	}

	if outputPath == "" {
		outputPath = derivedOutputPath(inputPath)
	}
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating output directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(outputPath, []byte(result), 0644); err != nil {
		return fmt.Errorf("error writing output file %s: %w", outputPath, err)
	}

	if !o.cfg.Silent {
		config.PrintInfo("Info: Obfuscated %s -> %s (seed %d)\n", inputPath, outputPath, o.Seed())
	}
	return nil
}

// Stats exposes the counters accumulated so far.
func (o *Obfuscator) Stats() *stats.Stats { return o.ctx.Stats }

// Seed returns the effective RNG seed, for reproducing a run.
func (o *Obfuscator) Seed() int64 { return o.ctx.Rnd.Seed() }

// Passes returns the resolved execution order, for display.
func (o *Obfuscator) Passes() ([]passes.Pass, error) { return o.mgr.Passes() }

func derivedOutputPath(inputPath string) string {
	ext := filepath.Ext(inputPath)
	base := inputPath[:len(inputPath)-len(ext)]
	return base + ".obf" + ext
}
