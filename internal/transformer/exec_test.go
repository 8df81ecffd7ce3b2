package transformer

import (
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/basicacc/morphect-sub000/internal/cfg"
	"github.com/basicacc/morphect-sub000/internal/ir"
)

// The tests in this package check transformed output by running it: a small
// executor walks one function's blocks, handling memory, arithmetic, and all
// the branch forms the passes emit. Transformed code must compute the same
// results as its input, so every scenario compares executions.

var (
	execAllocaRe   = regexp.MustCompile(`^(%[\w.]+)\s*=\s*alloca\b`)
	execLoadRe     = regexp.MustCompile(`^(%[\w.]+)\s*=\s*load\s+[^,]+,\s*\S+\s+(\S+)`)
	execStoreRe    = regexp.MustCompile(`^store\s+\S+\s+(\S+),\s*\S+\s+(\S+)`)
	execGepRe      = regexp.MustCompile(`^(%[\w.]+)\s*=\s*getelementptr\b.*\s(-?\d+|%[\w.]+)\s*$`)
	execSwitchRe   = regexp.MustCompile(`switch\s+i\d+\s+(%[\w.]+|-?\d+),\s*label\s+%([\w.]+)`)
	execCaseRe     = regexp.MustCompile(`i\d+\s+(-?\d+),\s*label\s+%([\w.]+)`)
	execIndirectRe = regexp.MustCompile(`indirectbr\s+\S+\s+(%[\w.]+)`)
	execCastRe     = regexp.MustCompile(`^(%[\w.]+)\s*=\s*(?:ptrtoint|inttoptr|bitcast|trunc|zext|sext)\s+\S+\s+(\S+)(?:\s+to\s+.+)?$`)
	execTableRe    = regexp.MustCompile(`^(@[\w.]+)\s*=.*\[(.+)\]`)
	execBlockokRe  = regexp.MustCompile(`blockaddress\(@[\w.]+,\s*%([\w.]+)\)`)
)

// execState carries scalar values plus two symbolic stores: memory cells for
// alloca slots and label values for block addresses flowing through tables.
type execState struct {
	env    map[string]int32
	mem    map[string]int32
	labels map[string]string   // value name -> block label (symbolic pointers)
	tables map[string][]string // global jump tables as label lists
}

// parseJumpTables extracts blockaddress arrays from global definitions.
func parseJumpTables(lines []string) map[string][]string {
	tables := make(map[string][]string)
	for _, line := range lines {
		m := execTableRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		var labels []string
		for _, bm := range execBlockokRe.FindAllStringSubmatch(m[2], -1) {
			labels = append(labels, bm[1])
		}
		if len(labels) > 0 {
			tables[m[1]] = labels
		}
	}
	return tables
}

// runFunction executes the first function of the module and returns its i32
// result. Void functions return 0. Jump tables are read from the whole module
// so indirect branches resolve. The step limit catches runaway state machines.
func runFunction(t *testing.T, module []string, args map[string]int32) int32 {
	t.Helper()
	funcs := ir.FindFunctions(module)
	require.NotEmpty(t, funcs, "module must define a function")
	region := module[funcs[0].Start : funcs[0].End+1]
	g, ok := cfg.Analyze(region)
	require.True(t, ok, "function must stay analyzable")

	st := &execState{
		env:    make(map[string]int32),
		mem:    make(map[string]int32),
		labels: make(map[string]string),
		tables: parseJumpTables(module),
	}
	for k, v := range args {
		st.env[k] = v
	}

	current := g.EntryLabel
	prev := ""
	for steps := 0; steps < 100000; steps++ {
		block := g.Block(current)
		require.NotNil(t, block, "jumped to unknown label %q", current)

		for _, raw := range block.Lines {
			line := strings.TrimSpace(raw)
			if m := phiRe.FindStringSubmatch(line); m != nil {
				found := false
				for _, inc := range phiIncomingRe.FindAllStringSubmatch(m[3], -1) {
					if inc[2] == prev {
						st.env[m[1]] = execOperand(t, st, inc[1])
						found = true
						break
					}
				}
				require.True(t, found, "phi in %q has no incoming for predecessor %q", block.Label, prev)
				continue
			}
			execLine(t, st, line)
		}

		if block.TermKind == cfg.TermNone {
			next := fallthroughLabel(g, current)
			require.NotEmpty(t, next, "block %q has no terminator and no following block", current)
			prev = current
			current = next
			continue
		}

		next, result, done := execTerminator(t, st, block)
		if done {
			return result
		}
		prev = current
		current = next
	}
	t.Fatal("execution did not terminate")
	return 0
}

// fallthroughLabel returns the block following label in source order; blocks
// without an explicit terminator continue there.
func fallthroughLabel(g *cfg.CFG, label string) string {
	for i, l := range g.Order {
		if l == label && i+1 < len(g.Order) {
			return g.Order[i+1]
		}
	}
	return ""
}

func execLine(t *testing.T, st *execState, line string) {
	t.Helper()
	if line == "" || strings.HasPrefix(line, ";") {
		return
	}

	if m := execAllocaRe.FindStringSubmatch(line); m != nil {
		st.mem[m[1]] = 0
		return
	}
	if m := execLoadRe.FindStringSubmatch(line); m != nil {
		// A pointer that symbolically holds a block label came from a jump
		// table; loading it yields the label itself.
		if label, ok := st.labels[m[2]]; ok {
			st.labels[m[1]] = label
			return
		}
		st.env[m[1]] = st.mem[m[2]]
		return
	}
	if m := execStoreRe.FindStringSubmatch(line); m != nil {
		st.mem[m[2]] = execOperand(t, st, m[1])
		return
	}
	if m := execGepRe.FindStringSubmatch(line); m != nil {
		base, idx := gepParts(t, st, line, m)
		labels, ok := st.tables[base]
		require.True(t, ok, "gep into unknown table %s", base)
		require.Less(t, int(idx), len(labels), "table index out of range")
		st.labels[m[1]] = labels[idx]
		return
	}
	if m := execCastRe.FindStringSubmatch(line); m != nil {
		src := m[2]
		if label, ok := st.labels[src]; ok {
			st.labels[m[1]] = label
			return
		}
		st.env[m[1]] = execOperand(t, st, src)
		return
	}

	if err := ir.Eval([]string{line}, st.env); err == nil {
		return
	}
	t.Fatalf("executor cannot handle line: %s", line)
}

// gepParts pulls the base global and final index out of a getelementptr line.
func gepParts(t *testing.T, st *execState, line string, m []string) (string, int32) {
	t.Helper()
	baseRe := regexp.MustCompile(`(@[\w.]+)`)
	bm := baseRe.FindStringSubmatch(line)
	require.NotNil(t, bm, "gep without global base: %s", line)
	return bm[1], execOperand(t, st, m[2])
}

func execTerminator(t *testing.T, st *execState, block *cfg.BasicBlock) (next string, result int32, done bool) {
	t.Helper()
	term := block.Terminator
	switch block.TermKind {
	case cfg.TermBranch:
		return block.Successors[0], 0, false

	case cfg.TermCondBranch:
		m := regexp.MustCompile(`br\s+i1\s+(%[\w.]+)`).FindStringSubmatch(term)
		require.NotNil(t, m)
		if execOperand(t, st, m[1]) != 0 {
			return block.Successors[0], 0, false
		}
		return block.Successors[1], 0, false

	case cfg.TermSwitch:
		m := execSwitchRe.FindStringSubmatch(term)
		require.NotNil(t, m)
		v := execOperand(t, st, m[1])
		caseList := term[strings.Index(term, "["):]
		for _, cm := range execCaseRe.FindAllStringSubmatch(caseList, -1) {
			cv, err := strconv.ParseInt(cm[1], 10, 64)
			require.NoError(t, err)
			if int32(cv) == v {
				return cm[2], 0, false
			}
		}
		return m[2], 0, false

	case cfg.TermRet:
		if m := retValRe.FindStringSubmatch(term); m != nil && m[1] != "void" {
			return "", execOperand(t, st, strings.TrimSpace(m[2])), true
		}
		return "", 0, true

	case cfg.TermUnreachable:
		t.Fatal("executed unreachable")

	case cfg.TermIndirectBr:
		m := execIndirectRe.FindStringSubmatch(term)
		require.NotNil(t, m)
		label, ok := st.labels[m[1]]
		require.True(t, ok, "indirectbr through unknown pointer %s", m[1])
		return label, 0, false
	}

	t.Fatalf("block %q has no executable terminator", block.Label)
	return "", 0, true
}

func execOperand(t *testing.T, st *execState, tok string) int32 {
	t.Helper()
	tok = strings.TrimSpace(tok)
	if strings.HasPrefix(tok, "%") {
		v, ok := st.env[tok]
		require.True(t, ok, "undefined value %s", tok)
		return v
	}
	if tok == "true" {
		return 1
	}
	if tok == "false" {
		return 0
	}
	n, err := strconv.ParseInt(tok, 10, 64)
	require.NoError(t, err, "bad operand %q", tok)
	return int32(n)
}
