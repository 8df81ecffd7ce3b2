// Package transformer implements the obfuscating passes that rewrite textual
// IR: control flow flattening, bogus control flow, indirect branches, indirect
// calls, and mixed boolean-arithmetic rewriting.
package transformer

import (
	"errors"

	"github.com/basicacc/morphect-sub000/internal/config"
	"github.com/basicacc/morphect-sub000/internal/ir"
	"github.com/basicacc/morphect-sub000/internal/opaque"
	"github.com/basicacc/morphect-sub000/internal/rng"
	"github.com/basicacc/morphect-sub000/internal/stats"
)

// Per-function skip reasons. They are reported through stats and debug
// logging, not as pass failures.
var (
	ErrExceptionHandling = errors.New("function uses exception handling")
	ErrTooFewBlocks      = errors.New("function has too few basic blocks")
	ErrTooManyBlocks     = errors.New("function has too many basic blocks")
	ErrComputedBranch    = errors.New("function branches through computed targets")
)

// Context carries the shared machinery every pass needs: configuration, the
// seeded random source, module-wide naming counters, the opaque predicate
// library, and run statistics.
type Context struct {
	Config *config.Config
	Rnd    *rng.Source
	Naming *ir.NamingContext
	Opaque *opaque.Library
	Stats  *stats.Stats
	Logf   func(format string, args ...interface{})
}

// NewContext wires a context from configuration. A zero seed in cfg selects a
// time-based one; the effective seed is readable from Rnd.
func NewContext(cfg *config.Config) *Context {
	seed := cfg.Seed
	if !cfg.Seeded {
		seed = 0
	}
	rnd := rng.New(seed)
	naming := ir.NewNamingContext()
	logf := func(format string, args ...interface{}) {
		if !cfg.Silent {
			config.PrintInfo(format, args...)
		}
	}
	return &Context{
		Config: cfg,
		Rnd:    rnd,
		Naming: naming,
		Opaque: opaque.NewLibrary(rnd, naming),
		Stats:  stats.New(),
		Logf:   logf,
	}
}

// Debugf logs only when debug mode is enabled.
func (c *Context) Debugf(format string, args ...interface{}) {
	if c.Config.DebugMode {
		c.Logf(format, args...)
	}
}
