package transformer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/basicacc/morphect-sub000/internal/cfg"
	"github.com/basicacc/morphect-sub000/internal/ir"
	"github.com/basicacc/morphect-sub000/internal/passes"
)

var (
	phiRe         = regexp.MustCompile(`^\s*(%[\w.]+)\s*=\s*phi\s+(.+?)\s+(\[.+)$`)
	phiIncomingRe = regexp.MustCompile(`\[\s*([^,\]]+),\s*%([\w.]+)\s*\]`)
	allocaRe      = regexp.MustCompile(`^\s*%[\w.]+\s*=\s*alloca\b`)
	returnTypeRe  = regexp.MustCompile(`define\s+(.*?)@[\w.]+\s*\(`)
	retValRe      = regexp.MustCompile(`^ret\s+(\S+)\s+(.+)$`)
)

// phiNode records one phi instruction slated for demotion to an alloca slot.
type phiNode struct {
	Name      string
	Type      string
	Block     string
	Slot      string
	Incomings []phiIncoming
}

type phiIncoming struct {
	Value string
	Pred  string
}

// FlattenPass rewrites each eligible function into a state machine: every
// basic block becomes a switch case reached through a central dispatcher, and
// the original edges become updates of a state variable.
type FlattenPass struct {
	ctx *Context
}

// NewFlattenPass returns the control flow flattening pass.
func NewFlattenPass(ctx *Context) *FlattenPass { return &FlattenPass{ctx: ctx} }

func (p *FlattenPass) Name() string           { return "flatten" }
func (p *FlattenPass) Kind() passes.Kind      { return passes.KindTextualIR }
func (p *FlattenPass) Priority() int          { return passes.PriorityControlFlow }
func (p *FlattenPass) Enabled() bool          { return p.ctx.Config.Obfuscation.Flatten.Enabled }
func (p *FlattenPass) Dependencies() []string { return nil }

// Apply flattens every eligible function in the module. Functions that fail
// eligibility are left untouched and counted; only a module with no candidate
// at all reports NotApplicable.
func (p *FlattenPass) Apply(lines []string) ([]string, passes.Status, error) {
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
		if !p.ctx.Rnd.Decide(p.ctx.Config.Obfuscation.Flatten.Probability) {
			p.ctx.Stats.Inc("flatten_skipped_probability")
			out = append(out, region...)
			continue
		}

		flattened, err := p.flattenFunction(region)
		if err != nil {
			p.ctx.Debugf("Info: flatten: skipping @%s: %v\n", fn.Name, err)
			p.ctx.Stats.Inc("flatten_skipped_ineligible")
			out = append(out, region...)
			continue
		}
		out = append(out, flattened...)
		changed = true
	}
	out = append(out, lines[prev:]...)

	if !changed {
		return lines, passes.NotApplicable, nil
	}
	return out, passes.Success, nil
}

// flattenFunction rewrites one function region. The returned error is an
// eligibility verdict, not a failure.
func (p *FlattenPass) flattenFunction(region []string) ([]string, error) {
	g, ok := cfg.Analyze(region)
	if !ok {
		return nil, ErrTooFewBlocks
	}
	fc := p.ctx.Config.Obfuscation.Flatten
	if g.HasExceptions {
		return nil, ErrExceptionHandling
	}
	for _, label := range g.Order {
		// Computed branch targets cannot be rewritten into state updates.
		if g.Blocks[label].TermKind == cfg.TermIndirectBr {
			return nil, ErrComputedBranch
		}
	}
	if g.BlockCount() < fc.MinBlocks {
		return nil, ErrTooFewBlocks
	}
	if fc.MaxBlocks > 0 && g.BlockCount() > fc.MaxBlocks {
		return nil, ErrTooManyBlocks
	}

	retType := functionReturnType(region[0])
	stateOf := p.assignStates(g)
	endState := g.BlockCount()
	phis := p.collectPhis(g)

	// A block with no explicit terminator continues to the next block in
	// source order; the case emitter needs that edge for its state update.
	nextOf := make(map[string]string, len(g.Order))
	for i, label := range g.Order {
		if i+1 < len(g.Order) {
			nextOf[label] = g.Order[i+1]
		}
	}

	stateVar := "%" + fc.StateVarName
	retSlot := "%" + fc.StateVarName + "_ret"

	var body []string
	emit := func(format string, args ...interface{}) {
		body = append(body, fmt.Sprintf(format, args...))
	}

	// Entry: allocas first so every slot dominates all uses, then the state
	// machine scaffolding.
	emit("entry_flat:")
	for _, label := range g.Order {
		for _, line := range g.Blocks[label].Lines {
			if allocaRe.MatchString(line) {
				body = append(body, line)
			}
		}
	}
	emit("  %s = alloca i32", stateVar)
	if retType != "void" {
		emit("  %s = alloca %s", retSlot, retType)
	}
	for i := range phis {
		phis[i].Slot = p.ctx.Naming.Temp("_phi_slot")
		emit("  %s = alloca %s", phis[i].Slot, phis[i].Type)
	}
	emit("  store i32 0, i32* %s", stateVar)
	emit("  br label %%dispatch")
	emit("")

	emit("dispatch:")
	cur := p.ctx.Naming.Temp("_cff_cur")
	emit("  %s = load i32, i32* %s", cur, stateVar)
	sw := fmt.Sprintf("  switch i32 %s, label %%end_state [", cur)
	for _, label := range g.Order {
		sw += fmt.Sprintf(" i32 %d, label %%state_%d", stateOf[label], stateOf[label])
	}
	emit("%s ]", sw)
	emit("")

	for _, label := range g.Order {
		block := g.Blocks[label]
		body = append(body, p.emitCase(g, block, stateOf, nextOf, endState, stateVar, retSlot, retType, phis)...)
		emit("")
	}

	emit("end_state:")
	if retType == "void" {
		emit("  ret void")
	} else {
		rv := p.ctx.Naming.Temp("_cff_rv")
		emit("  %s = load %s, %s* %s", rv, retType, retType, retSlot)
		emit("  ret %s %s", retType, rv)
	}

	p.ctx.Stats.Inc("functions_flattened")
	p.ctx.Stats.Add("states_created", endState+1)
	p.ctx.Stats.Add("flattened_blocks", g.BlockCount()+2)

	out := []string{region[0]}
	out = append(out, body...)
	out = append(out, "}")
	return out, nil
}

// assignStates numbers the blocks. The entry block is always state 0 so the
// initial store starts execution correctly; the rest are optionally shuffled.
func (p *FlattenPass) assignStates(g *cfg.CFG) map[string]int {
	states := make([]int, 0, g.BlockCount()-1)
	for i := 1; i < g.BlockCount(); i++ {
		states = append(states, i)
	}
	if p.ctx.Config.Obfuscation.Flatten.ShuffleStates {
		p.ctx.Rnd.Shuffle(len(states), func(i, j int) {
			states[i], states[j] = states[j], states[i]
		})
	}

	stateOf := make(map[string]int, g.BlockCount())
	idx := 0
	for _, label := range g.Order {
		if label == g.EntryLabel {
			stateOf[label] = 0
			continue
		}
		stateOf[label] = states[idx]
		idx++
	}
	return stateOf
}

// collectPhis gathers every phi instruction in the function.
func (p *FlattenPass) collectPhis(g *cfg.CFG) []phiNode {
	var phis []phiNode
	for _, label := range g.Order {
		for _, line := range g.Blocks[label].Lines {
			m := phiRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			node := phiNode{Name: m[1], Type: strings.TrimSpace(m[2]), Block: label}
			for _, inc := range phiIncomingRe.FindAllStringSubmatch(m[3], -1) {
				node.Incomings = append(node.Incomings, phiIncoming{
					Value: strings.TrimSpace(inc[1]),
					Pred:  inc[2],
				})
			}
			phis = append(phis, node)
		}
	}
	return phis
}

// emitCase renders one original block as a dispatcher case: phi slot loads,
// the surviving body, phi slot stores for successor phis, then the state
// update derived from the old terminator.
func (p *FlattenPass) emitCase(g *cfg.CFG, block *cfg.BasicBlock, stateOf map[string]int,
	nextOf map[string]string, endState int, stateVar, retSlot, retType string, phis []phiNode) []string {

	state := stateOf[block.Label]
	var out []string
	emit := func(format string, args ...interface{}) {
		out = append(out, fmt.Sprintf(format, args...))
	}
	emit("state_%d:", state)

	// Body minus phis and hoisted allocas.
	var kept []string
	for _, line := range block.Lines {
		if phiRe.MatchString(line) || allocaRe.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}

	// Phi slot stores this block owes as a predecessor.
	var storeTmpl []string
	for _, phi := range phis {
		for _, inc := range phi.Incomings {
			if inc.Pred != block.Label {
				continue
			}
			storeTmpl = append(storeTmpl, fmt.Sprintf("  store %s %s, %s* %s",
				phi.Type, inc.Value, phi.Type, phi.Slot))
		}
	}

	// Load every phi value this case reads, then substitute the loaded name
	// throughout the case.
	searchable := strings.Join(kept, "\n") + "\n" + strings.Join(storeTmpl, "\n") + "\n" + block.Terminator
	sub := make(map[string]string)
	for _, phi := range phis {
		if !referencesToken(searchable, phi.Name) {
			continue
		}
		loaded := phi.Name + "_loaded"
		if phi.Block != block.Label {
			loaded = fmt.Sprintf("%s_ld_%d", phi.Name, state)
		}
		emit("  %s = load %s, %s* %s", loaded, phi.Type, phi.Type, phi.Slot)
		sub[phi.Name] = loaded
	}
	apply := func(line string) string {
		for name, loaded := range sub {
			line = ir.ReplaceToken(line, name, loaded)
		}
		return line
	}

	for _, line := range kept {
		out = append(out, apply(line))
	}
	for _, line := range storeTmpl {
		out = append(out, apply(line))
	}

	switch block.TermKind {
	case cfg.TermCondBranch:
		m := regexp.MustCompile(`br\s+i1\s+(%[\w.]+)`).FindStringSubmatch(block.Terminator)
		cond := apply(m[1])
		next := p.ctx.Naming.Temp("_cff_next")
		emit("  %s = select i1 %s, i32 %d, i32 %d", next, cond,
			stateOf[block.Successors[0]], stateOf[block.Successors[1]])
		emit("  store i32 %s, i32* %s", next, stateVar)
		emit("  br label %%dispatch")

	case cfg.TermBranch:
		emit("  store i32 %d, i32* %s", stateOf[block.Successors[0]], stateVar)
		emit("  br label %%dispatch")

	case cfg.TermSwitch:
		// Switch targets jump straight to the successor cases; the state
		// variable only matters again at the next dispatcher entry.
		term := apply(block.Terminator)
		for _, succ := range block.Successors {
			term = ir.ReplaceToken(term, "%"+succ, fmt.Sprintf("%%state_%d", stateOf[succ]))
		}
		emit("  %s", term)

	case cfg.TermRet:
		if m := retValRe.FindStringSubmatch(block.Terminator); m != nil && m[1] != "void" {
			emit("  store %s %s, %s* %s", retType, apply(m[2]), retType, retSlot)
		}
		emit("  store i32 %d, i32* %s", endState, stateVar)
		emit("  br label %%dispatch")

	case cfg.TermUnreachable:
		emit("  unreachable")

	default:
		// An unterminated block falls through to the next block in source
		// order; only a trailing one routes to the exit.
		target := endState
		if next, ok := nextOf[block.Label]; ok {
			target = stateOf[next]
		}
		emit("  store i32 %d, i32* %s", target, stateVar)
		emit("  br label %%dispatch")
	}
	return out
}

// functionReturnType extracts the return type from a define header, skipping
// linkage and attribute keywords.
func functionReturnType(header string) string {
	m := returnTypeRe.FindStringSubmatch(header)
	if m == nil {
		return "void"
	}
	fields := strings.Fields(m[1])
	if len(fields) == 0 {
		return "void"
	}
	return fields[len(fields)-1]
}

func referencesToken(text, name string) bool {
	re := regexp.MustCompile(regexp.QuoteMeta(name) + `([^\w.]|$)`)
	return re.MatchString(text)
}
