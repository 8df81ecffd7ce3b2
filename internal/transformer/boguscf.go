package transformer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/basicacc/morphect-sub000/internal/cfg"
	"github.com/basicacc/morphect-sub000/internal/ir"
	"github.com/basicacc/morphect-sub000/internal/opaque"
	"github.com/basicacc/morphect-sub000/internal/passes"
)

var i32ParamRe = regexp.MustCompile(`i32(?:\s+\w+)*\s+(%[\w.]+)`)

// BogusFlowPass guards real blocks behind opaque always-true predicates. The
// taken edge runs the original code; the never-taken edge leads to a block of
// plausible dead computation.
type BogusFlowPass struct {
	ctx *Context
}

// NewBogusFlowPass returns the bogus control flow pass.
func NewBogusFlowPass(ctx *Context) *BogusFlowPass { return &BogusFlowPass{ctx: ctx} }

func (p *BogusFlowPass) Name() string           { return "bogus-flow" }
func (p *BogusFlowPass) Kind() passes.Kind      { return passes.KindTextualIR }
func (p *BogusFlowPass) Priority() int          { return passes.PriorityControlFlow }
func (p *BogusFlowPass) Enabled() bool          { return p.ctx.Config.Obfuscation.BogusFlow.Enabled }
func (p *BogusFlowPass) Dependencies() []string { return nil }

func (p *BogusFlowPass) Apply(lines []string) ([]string, passes.Status, error) {
	funcs := ir.FindFunctions(lines)
	if len(funcs) == 0 {
		return lines, passes.NotApplicable, nil
	}

	changed := false
	var out []string
	prev := 0
	for _, fn := range funcs {
		out = append(out, lines[prev:fn.Start]...)
		prev = fn.End + 1

		region := lines[fn.Start : fn.End+1]
		if !p.ctx.Rnd.Decide(p.ctx.Config.Obfuscation.BogusFlow.Probability) {
			out = append(out, region...)
			continue
		}
		rewritten, n := p.rewriteFunction(region)
		if n == 0 {
			out = append(out, region...)
			continue
		}
		p.ctx.Stats.Add("bogus_blocks_inserted", n)
		out = append(out, rewritten...)
		changed = true
	}
	out = append(out, lines[prev:]...)

	if !changed {
		return lines, passes.NotApplicable, nil
	}
	return out, passes.Success, nil
}

// rewriteFunction guards up to a configured number of blocks and returns the
// rebuilt function plus how many guards were inserted.
func (p *BogusFlowPass) rewriteFunction(region []string) ([]string, int) {
	g, ok := cfg.Analyze(region)
	if !ok {
		return region, 0
	}

	bc := p.ctx.Config.Obfuscation.BogusFlow
	var eligible []string
	for _, label := range g.Order {
		block := g.Blocks[label]
		// Entry blocks keep their allocas at the top; guarding them would
		// push stack slots behind a branch.
		if block.IsEntry || block.TermKind == cfg.TermNone {
			continue
		}
		if len(nonEmptyLines(block.Lines)) == 0 {
			continue
		}
		eligible = append(eligible, label)
	}
	if len(eligible) == 0 {
		return region, 0
	}

	budget := p.ctx.Rnd.Between(bc.MinInsertions, bc.MaxInsertions)
	p.ctx.Rnd.Shuffle(len(eligible), func(i, j int) {
		eligible[i], eligible[j] = eligible[j], eligible[i]
	})
	guarded := make(map[string]bool)
	for i := 0; i < len(eligible) && i < budget; i++ {
		guarded[eligible[i]] = true
	}

	params := i32Params(region[0])
	ctxVars := classifyParams(region, params)
	out := []string{region[0]}
	count := 0
	renamed := make(map[string]string)
	for _, label := range g.Order {
		block := g.Blocks[label]
		out = append(out, label+":")
		if !guarded[label] {
			out = append(out, block.Lines...)
			if block.Terminator != "" {
				out = append(out, "  "+block.Terminator)
			}
			out = append(out, "")
			continue
		}
		guardLines, merge := p.guardBlock(block, ctxVars)
		out = append(out, guardLines...)
		out = append(out, "")
		renamed[label] = merge
		count++
	}
	out = append(out, "}")

	// The original terminator now issues from the merge block, so phi nodes
	// downstream must name the merge block as their predecessor.
	for i, line := range out {
		if !phiRe.MatchString(line) {
			continue
		}
		for old, merge := range renamed {
			out[i] = ir.ReplaceToken(out[i], "%"+old, "%"+merge)
		}
	}
	return out, count
}

// guardBlock renders one guarded block: predicate, split, real body, dead
// body, merge holding the original terminator. Predicate operands come from
// function parameters only; those dominate every block, so the guard never
// reads a value defined after it. Returns the lines and the merge label.
func (p *BogusFlowPass) guardBlock(block *cfg.BasicBlock, ctxVars []opaque.ContextVar) ([]string, string) {
	bc := p.ctx.Config.Obfuscation.BogusFlow
	id := p.ctx.Naming.NextID("bogus_block")
	real := fmt.Sprintf("real_%d", id)
	fake := fmt.Sprintf("fake_%d", id)
	merge := fmt.Sprintf("merge_%d", id)

	var vars []string
	if bc.UseRealVariables {
		for _, v := range ctxVars {
			vars = append(vars, v.Name)
		}
	}

	// Mix hint-driven context predicates with plain identities so guarded
	// blocks do not all share one shape.
	var predLines []string
	var cond string
	switch {
	case bc.UseRealVariables && len(ctxVars) >= 2 && p.ctx.Rnd.Decide(0.5):
		predLines, cond = p.ctx.Opaque.ForContexts(ctxVars[0], ctxVars[1])
	case bc.UseRealVariables && len(ctxVars) >= 1 && p.ctx.Rnd.Decide(0.5):
		predLines, cond = p.ctx.Opaque.ForContext(ctxVars[0])
	default:
		predLines, cond = p.ctx.Opaque.BuildTrue(vars)
	}

	// Phi nodes must stay the first instructions of the original block; the
	// guard goes after them and only the non-phi body moves to the real path.
	var phiLines, bodyLines []string
	for _, line := range block.Lines {
		if phiRe.MatchString(line) {
			phiLines = append(phiLines, line)
		} else {
			bodyLines = append(bodyLines, line)
		}
	}

	var out []string
	out = append(out, phiLines...)
	for _, line := range predLines {
		out = append(out, "  "+line)
	}
	out = append(out, fmt.Sprintf("  br i1 %s, label %%%s, label %%%s", cond, real, fake))
	out = append(out, "")
	out = append(out, real+":")
	out = append(out, bodyLines...)
	out = append(out, fmt.Sprintf("  br label %%%s", merge))
	out = append(out, "")
	out = append(out, fake+":")
	if bc.GenerateDeadCode {
		out = append(out, p.deadCode(vars, bc.DeadCodeLines)...)
	}
	out = append(out, fmt.Sprintf("  br label %%%s", merge))
	out = append(out, "")
	out = append(out, merge+":")
	if block.Terminator != "" {
		out = append(out, "  "+block.Terminator)
	}
	return out, merge
}

// i32Params extracts i32 parameter names from a define header. Attribute
// words between the type and the name are skipped.
func i32Params(header string) []string {
	open := strings.Index(header, "(")
	if open < 0 {
		return nil
	}
	var params []string
	for _, m := range i32ParamRe.FindAllStringSubmatch(header[open:], -1) {
		params = append(params, m[1])
	}
	return params
}

// classifyParams infers a role hint for each parameter from how the body uses
// it. A value bounded by an ordered compare reads as a loop counter; a value
// feeding an address computation reads as a size or index bound.
func classifyParams(region []string, params []string) []opaque.ContextVar {
	out := make([]opaque.ContextVar, 0, len(params))
	for _, name := range params {
		hint := opaque.HintNone
		for _, line := range region[1:] {
			if !strings.Contains(line, name) {
				continue
			}
			trimmed := strings.TrimSpace(line)
			if strings.Contains(trimmed, "icmp slt") || strings.Contains(trimmed, "icmp ult") {
				hint = opaque.HintLoopCounter
				break
			}
			if strings.Contains(trimmed, "getelementptr") {
				hint = opaque.HintArraySize
				break
			}
		}
		out = append(out, opaque.ContextVar{Name: name, Hint: hint})
	}
	return out
}

// deadCode emits never-executed arithmetic over the given variables, falling
// back to constants when none are in scope.
func (p *BogusFlowPass) deadCode(vars []string, count int) []string {
	ops := []string{"add", "mul", "xor", "or", "and", "sub"}
	var out []string
	var last string
	for i := 0; i < count; i++ {
		dst := p.ctx.Naming.Temp("_dead_")
		op := ops[p.ctx.Rnd.IntN(len(ops))]
		a := fmt.Sprintf("%d", p.ctx.Rnd.Between(1, 1000))
		if last != "" {
			a = last
		} else if len(vars) > 0 {
			a = vars[p.ctx.Rnd.IntN(len(vars))]
		}
		b := fmt.Sprintf("%d", p.ctx.Rnd.Between(1, 1000))
		out = append(out, fmt.Sprintf("  %s = %s i32 %s, %s", dst, op, a, b))
		last = dst
	}
	return out
}

func nonEmptyLines(lines []string) []string {
	var out []string
	for _, line := range lines {
		if s := strings.TrimSpace(line); s != "" && !strings.HasPrefix(s, ";") {
			out = append(out, line)
		}
	}
	return out
}
