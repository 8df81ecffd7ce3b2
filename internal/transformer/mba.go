package transformer

import (
	"fmt"
	"regexp"

	"github.com/basicacc/morphect-sub000/internal/ir"
	"github.com/basicacc/morphect-sub000/internal/passes"
)

var mbaInstRe = regexp.MustCompile(`^(\s*)(%[\w.]+)\s*=\s*(add|sub|xor|and|or)(?:\s+nsw|\s+nuw)*\s+i32\s+([^,]+),\s*(.+?)\s*$`)

// mbaVariant is one rewriting rule: an identity over wrapping i32 arithmetic
// expressed as an instruction template.
type mbaVariant struct {
	Name   string
	Op     string
	Weight int
	expand func(e *mbaEmitter, dst, a, b string)
}

// mbaEmitter collects expansion lines and hands out temps, recursing into
// sub-operations while nesting depth remains.
type mbaEmitter struct {
	pass   *MBAPass
	indent string
	depth  int
	lines  []string
}

func (e *mbaEmitter) temp() string { return e.pass.ctx.Naming.Temp("_mba_t") }

// op emits dst = op a, b, expanding recursively when depth allows.
func (e *mbaEmitter) op(dst, op, a, b string) {
	if e.depth > 1 {
		if v := e.pass.pickVariant(op); v != nil {
			sub := &mbaEmitter{pass: e.pass, indent: e.indent, depth: e.depth - 1}
			v.expand(sub, dst, a, b)
			e.lines = append(e.lines, sub.lines...)
			return
		}
	}
	e.lines = append(e.lines, fmt.Sprintf("%s%s = %s i32 %s, %s", e.indent, dst, op, a, b))
}

// mbaVariants is filled by init: the expansion closures recurse through
// (*mbaEmitter).op back into variant selection, so a static initializer for
// the table would reference itself.
var mbaVariants []mbaVariant

func init() {
	mbaVariants = []mbaVariant{
		{
			Name: "add_xor_carry", Op: "add", Weight: 3,
			// a+b == (a^b) + 2*(a&b)
			expand: func(e *mbaEmitter, dst, a, b string) {
				x, n, n2 := e.temp(), e.temp(), e.temp()
				e.op(x, "xor", a, b)
				e.op(n, "and", a, b)
				e.op(n2, "mul", n, "2")
				e.op(dst, "add", x, n2)
			},
		},
		{
			Name: "add_or_and", Op: "add", Weight: 2,
			// a+b == (a|b) + (a&b)
			expand: func(e *mbaEmitter, dst, a, b string) {
				o, n := e.temp(), e.temp()
				e.op(o, "or", a, b)
				e.op(n, "and", a, b)
				e.op(dst, "add", o, n)
			},
		},
		{
			Name: "sub_complement", Op: "sub", Weight: 2,
			// a-b == a + (b^-1) + 1
			expand: func(e *mbaEmitter, dst, a, b string) {
				nb, s := e.temp(), e.temp()
				e.op(nb, "xor", b, "-1")
				e.op(s, "add", a, nb)
				e.op(dst, "add", s, "1")
			},
		},
		{
			Name: "sub_xor_borrow", Op: "sub", Weight: 1,
			// a-b == (a^b) - 2*((a^-1)&b)
			expand: func(e *mbaEmitter, dst, a, b string) {
				x, na, brw, brw2 := e.temp(), e.temp(), e.temp(), e.temp()
				e.op(x, "xor", a, b)
				e.op(na, "xor", a, "-1")
				e.op(brw, "and", na, b)
				e.op(brw2, "mul", brw, "2")
				e.op(dst, "sub", x, brw2)
			},
		},
		{
			Name: "xor_or_and", Op: "xor", Weight: 3,
			// a^b == (a|b) - (a&b)
			expand: func(e *mbaEmitter, dst, a, b string) {
				o, n := e.temp(), e.temp()
				e.op(o, "or", a, b)
				e.op(n, "and", a, b)
				e.op(dst, "sub", o, n)
			},
		},
		{
			Name: "and_or_xor", Op: "and", Weight: 2,
			// a&b == (a|b) - (a^b)
			expand: func(e *mbaEmitter, dst, a, b string) {
				o, x := e.temp(), e.temp()
				e.op(o, "or", a, b)
				e.op(x, "xor", a, b)
				e.op(dst, "sub", o, x)
			},
		},
		{
			Name: "or_add_and", Op: "or", Weight: 2,
			// a|b == (a+b) - (a&b)
			expand: func(e *mbaEmitter, dst, a, b string) {
				s, n := e.temp(), e.temp()
				e.op(s, "add", a, b)
				e.op(n, "and", a, b)
				e.op(dst, "sub", s, n)
			},
		},
		{
			Name: "or_xor_and", Op: "or", Weight: 1,
			// a|b == (a^b) + (a&b)
			expand: func(e *mbaEmitter, dst, a, b string) {
				x, n := e.temp(), e.temp()
				e.op(x, "xor", a, b)
				e.op(n, "and", a, b)
				e.op(dst, "add", x, n)
			},
		},
	}
}

// MBAPass rewrites integer arithmetic into mixed boolean-arithmetic
// equivalents. Runs after control flow passes so it sees their emitted
// instructions too.
type MBAPass struct {
	ctx *Context
}

// NewMBAPass returns the mixed boolean-arithmetic pass.
func NewMBAPass(ctx *Context) *MBAPass { return &MBAPass{ctx: ctx} }

func (p *MBAPass) Name() string           { return "mba" }
func (p *MBAPass) Kind() passes.Kind      { return passes.KindTextualIR }
func (p *MBAPass) Priority() int          { return passes.PriorityMBA }
func (p *MBAPass) Enabled() bool          { return p.ctx.Config.Obfuscation.MBA.Enabled }
func (p *MBAPass) Dependencies() []string { return nil }

func (p *MBAPass) Apply(lines []string) ([]string, passes.Status, error) {
	funcs := ir.FindFunctions(lines)
	if len(funcs) == 0 {
		return lines, passes.NotApplicable, nil
	}
	mc := p.ctx.Config.Obfuscation.MBA
	depth := mc.NestingDepth
	if depth < 1 {
		depth = 1
	}

	inFunc := func(i int) bool {
		for _, fn := range funcs {
			if i > fn.Start && i < fn.End {
				return true
			}
		}
		return false
	}

	changed := false
	var out []string
	for i, line := range lines {
		m := mbaInstRe.FindStringSubmatch(line)
		if m == nil || !inFunc(i) {
			out = append(out, line)
			continue
		}
		if !p.ctx.Rnd.Decide(mc.Probability) {
			out = append(out, line)
			continue
		}
		v := p.pickVariant(m[3])
		if v == nil {
			out = append(out, line)
			continue
		}
		e := &mbaEmitter{pass: p, indent: m[1], depth: depth}
		v.expand(e, m[2], m[4], m[5])
		out = append(out, e.lines...)
		p.ctx.Stats.Inc("mba_rewrites")
		changed = true
	}

	if !changed {
		return lines, passes.NotApplicable, nil
	}
	// Expansion inserts instructions, so numeric temps need renumbering to
	// stay sequential.
	ir.RenumberModule(out)
	return out, passes.Success, nil
}

// pickVariant selects a variant for op by weight, nil when none applies.
func (p *MBAPass) pickVariant(op string) *mbaVariant {
	var candidates []*mbaVariant
	var weights []int
	for i := range mbaVariants {
		if mbaVariants[i].Op == op {
			candidates = append(candidates, &mbaVariants[i])
			weights = append(weights, mbaVariants[i].Weight)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates[p.ctx.Rnd.ChooseWeighted(weights)]
}
