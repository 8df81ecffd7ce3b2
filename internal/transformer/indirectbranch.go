package transformer

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/basicacc/morphect-sub000/internal/cfg"
	"github.com/basicacc/morphect-sub000/internal/config"
	"github.com/basicacc/morphect-sub000/internal/ir"
	"github.com/basicacc/morphect-sub000/internal/passes"
)

var (
	condBrTermRe = regexp.MustCompile(`br\s+i1\s+(%[\w.]+),\s*label\s+%([\w.]+),\s*label\s+%([\w.]+)`)
	switchCaseRe = regexp.MustCompile(`i\d+\s+(-?\d+),\s*label\s+%([\w.]+)`)
	switchCondRe = regexp.MustCompile(`switch\s+i\d+\s+(%[\w.]+|-?\d+),\s*label\s+%([\w.]+)`)
)

// jumpTable is one emitted blockaddress array.
type jumpTable struct {
	Name    string
	Func    string
	Entries []string // target labels, decoys included
}

func (t *jumpTable) decl() string {
	parts := make([]string, len(t.Entries))
	for i, label := range t.Entries {
		parts[i] = fmt.Sprintf("i8* blockaddress(@%s, %%%s)", t.Func, label)
	}
	return fmt.Sprintf("%s = private unnamed_addr constant [%d x i8*] [%s]",
		t.Name, len(t.Entries), strings.Join(parts, ", "))
}

// IndirectBranchPass replaces direct branches with computed jumps through
// per-branch blockaddress tables. The table index is obfuscated by the
// configured strategy and only decoded at runtime.
type IndirectBranchPass struct {
	ctx *Context
}

// NewIndirectBranchPass returns the branch indirection pass.
func NewIndirectBranchPass(ctx *Context) *IndirectBranchPass { return &IndirectBranchPass{ctx: ctx} }

func (p *IndirectBranchPass) Name() string      { return "indirect-branch" }
func (p *IndirectBranchPass) Kind() passes.Kind { return passes.KindTextualIR }
func (p *IndirectBranchPass) Priority() int     { return passes.PriorityControlFlow + 50 }
func (p *IndirectBranchPass) Enabled() bool {
	return p.ctx.Config.Obfuscation.IndirectBranch.Enabled
}
func (p *IndirectBranchPass) Dependencies() []string { return nil }

func (p *IndirectBranchPass) Apply(lines []string) ([]string, passes.Status, error) {
	funcs := ir.FindFunctions(lines)
	if len(funcs) == 0 {
		return lines, passes.NotApplicable, nil
	}

	var tables []jumpTable
	var out []string
	prev := 0
	for _, fn := range funcs {
		out = append(out, lines[prev:fn.Start]...)
		prev = fn.End + 1

		region := lines[fn.Start : fn.End+1]
		if fn.Name == "" {
			out = append(out, region...)
			continue
		}
		rewritten, fnTables := p.rewriteFunction(fn.Name, region)
		tables = append(tables, fnTables...)
		out = append(out, rewritten...)
	}
	out = append(out, lines[prev:]...)

	if len(tables) == 0 {
		return lines, passes.NotApplicable, nil
	}

	// Table globals go right above the first function definition.
	at := ir.FirstDefineIndex(out)
	var final []string
	final = append(final, out[:at]...)
	for _, t := range tables {
		final = append(final, t.decl())
	}
	final = append(final, "")
	final = append(final, out[at:]...)

	p.ctx.Stats.Add("jump_tables_emitted", len(tables))
	return final, passes.Success, nil
}

func (p *IndirectBranchPass) rewriteFunction(fnName string, region []string) ([]string, []jumpTable) {
	g, ok := cfg.Analyze(region)
	if !ok {
		return region, nil
	}
	ibc := p.ctx.Config.Obfuscation.IndirectBranch

	var tables []jumpTable
	out := []string{region[0]}
	for _, label := range g.Order {
		block := g.Blocks[label]
		out = append(out, label+":")
		out = append(out, block.Lines...)

		var repl []string
		var table *jumpTable
		switch block.TermKind {
		case cfg.TermCondBranch:
			if p.ctx.Rnd.Decide(ibc.Probability) {
				repl, table = p.rewriteCondBranch(fnName, block)
			}
		case cfg.TermSwitch:
			if p.ctx.Rnd.Decide(ibc.Probability) {
				repl, table = p.rewriteSwitch(fnName, block)
			}
		}

		if repl == nil {
			if block.Terminator != "" {
				out = append(out, "  "+block.Terminator)
			}
		} else {
			out = append(out, repl...)
			tables = append(tables, *table)
			p.ctx.Stats.Inc("branches_indirected")
		}
		out = append(out, "")
	}
	out = append(out, "}")
	return out, tables
}

// rewriteCondBranch turns a two-way branch into a table jump. Both target
// positions are known at build time, so their obfuscated indices are baked
// into a select.
func (p *IndirectBranchPass) rewriteCondBranch(fnName string, block *cfg.BasicBlock) ([]string, *jumpTable) {
	m := condBrTermRe.FindStringSubmatch(block.Terminator)
	if m == nil {
		return nil, nil
	}
	cond, trueLabel, falseLabel := m[1], m[2], m[3]
	ibc := p.ctx.Config.Obfuscation.IndirectBranch

	entries := []string{trueLabel, falseLabel}
	entries = p.addDecoys(entries)
	if ibc.ShuffleEntries {
		p.ctx.Rnd.Shuffle(len(entries), func(i, j int) {
			entries[i], entries[j] = entries[j], entries[i]
		})
	}
	truePos := indexOfLabel(entries, trueLabel)
	falsePos := indexOfLabel(entries, falseLabel)

	codec := p.newCodec(len(entries))
	table := &jumpTable{Name: p.ctx.Naming.Global(ibc.TablePrefix), Func: fnName, Entries: entries}

	var out []string
	sel := p.ctx.Naming.Temp("_ib_tmp")
	out = append(out, fmt.Sprintf("  %s = select i1 %s, i32 %d, i32 %d",
		sel, cond, codec.encode(truePos), codec.encode(falsePos)))
	decodeLines, idx := codec.decodeLines(p.ctx.Naming, sel)
	out = append(out, decodeLines...)
	out = append(out, p.tableJump(table, idx, []string{trueLabel, falseLabel})...)
	return out, table
}

// rewriteSwitch handles switches whose case values are exactly 0..n-1. The
// default target sits at table index 0 and case value v at index v+1; values
// outside the range are clamped to the default by an unsigned bounds check.
// Entries are not shuffled: the runtime index computation depends on the
// layout. Obfuscation instead comes from the encode/decode round trip.
func (p *IndirectBranchPass) rewriteSwitch(fnName string, block *cfg.BasicBlock) ([]string, *jumpTable) {
	cm := switchCondRe.FindStringSubmatch(block.Terminator)
	if cm == nil {
		return nil, nil
	}
	cond, defaultLabel := cm[1], cm[2]

	caseList := block.Terminator[strings.Index(block.Terminator, "["):]
	var values []int
	byValue := make(map[int]string)
	for _, m := range switchCaseRe.FindAllStringSubmatch(caseList, -1) {
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, nil
		}
		values = append(values, v)
		byValue[v] = m[2]
	}
	sort.Ints(values)
	for i, v := range values {
		if v != i {
			p.ctx.Stats.Inc("switches_skipped_sparse")
			return nil, nil
		}
	}
	n := len(values)
	if n == 0 {
		return nil, nil
	}

	ibc := p.ctx.Config.Obfuscation.IndirectBranch
	entries := make([]string, 0, n+1)
	entries = append(entries, defaultLabel)
	for v := 0; v < n; v++ {
		entries = append(entries, byValue[v])
	}
	entries = p.addDecoys(entries)

	codec := p.newCodec(len(entries))
	table := &jumpTable{Name: p.ctx.Naming.Global(ibc.TablePrefix), Func: fnName, Entries: entries}

	var out []string
	inBounds := p.ctx.Naming.Temp("_ib_tmp")
	shifted := p.ctx.Naming.Temp("_ib_tmp")
	safe := p.ctx.Naming.Temp("_ib_tmp")
	out = append(out, fmt.Sprintf("  %s = icmp ult i32 %s, %d", inBounds, cond, n))
	out = append(out, fmt.Sprintf("  %s = add i32 %s, 1", shifted, cond))
	out = append(out, fmt.Sprintf("  %s = select i1 %s, i32 %s, i32 0", safe, inBounds, shifted))

	encodeLines, enc := codec.encodeLines(p.ctx.Naming, safe)
	out = append(out, encodeLines...)
	decodeLines, idx := codec.decodeLines(p.ctx.Naming, enc)
	out = append(out, decodeLines...)

	targets := append([]string{defaultLabel}, entries[1:n+1]...)
	out = append(out, p.tableJump(table, idx, targets)...)
	return out, table
}

// tableJump emits the gep, load, and indirectbr lines. possible lists every
// real target for the indirectbr destination clause.
func (p *IndirectBranchPass) tableJump(table *jumpTable, idx string, possible []string) []string {
	gep := p.ctx.Naming.Temp("_ib_tmp")
	addr := p.ctx.Naming.Temp("_ib_tmp")
	size := len(table.Entries)

	dedup := make(map[string]bool)
	var labels []string
	for _, l := range possible {
		if !dedup[l] {
			dedup[l] = true
			labels = append(labels, fmt.Sprintf("label %%%s", l))
		}
	}

	return []string{
		fmt.Sprintf("  %s = getelementptr inbounds [%d x i8*], [%d x i8*]* %s, i32 0, i32 %s",
			gep, size, size, table.Name, idx),
		fmt.Sprintf("  %s = load i8*, i8** %s", addr, gep),
		fmt.Sprintf("  indirectbr i8* %s, [%s]", addr, strings.Join(labels, ", ")),
	}
}

// addDecoys appends decoy entries that alias random real targets, so even a
// misdecoded index lands on executable code.
func (p *IndirectBranchPass) addDecoys(entries []string) []string {
	ibc := p.ctx.Config.Obfuscation.IndirectBranch
	if !ibc.AddDecoys {
		return entries
	}
	real := len(entries)
	count := p.ctx.Rnd.Between(ibc.MinDecoyCount, ibc.MaxDecoyCount)
	for i := 0; i < count; i++ {
		entries = append(entries, entries[p.ctx.Rnd.IntN(real)])
	}
	p.ctx.Stats.Add("decoy_entries", count)
	return entries
}

func (p *IndirectBranchPass) newCodec(size int) *indexCodec {
	ibc := p.ctx.Config.Obfuscation.IndirectBranch
	strategy := ibc.IndexStrategy
	if strategy == config.IndexStrategyXOR && ibc.UseMBAForIndex {
		strategy = config.IndexStrategyMBA
	}
	return newIndexCodec(p.ctx, strategy, size)
}

func indexOfLabel(entries []string, label string) int {
	for i, e := range entries {
		if e == label {
			return i
		}
	}
	return -1
}
