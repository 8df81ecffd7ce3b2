package cfg

import (
	"regexp"
	"strings"

	"github.com/basicacc/morphect-sub000/internal/ir"
)

var (
	condBrRe   = regexp.MustCompile(`br\s+i1\s+(%[\w.]+),\s*label\s+%([\w.]+),\s*label\s+%([\w.]+)`)
	uncondBrRe = regexp.MustCompile(`br\s+label\s+%([\w.]+)`)
	switchRe   = regexp.MustCompile(`switch\s+i\d+\s+(%[\w.]+|-?\d+),\s*label\s+%([\w.]+)`)
	caseRe     = regexp.MustCompile(`i\d+\s+-?\d+,\s*label\s+%([\w.]+)`)
	invokeRe   = regexp.MustCompile(`to\s+label\s+%([\w.]+)\s+unwind\s+label\s+%([\w.]+)`)
	indirectRe = regexp.MustCompile(`label\s+%([\w.]+)`)
)

// Analyze reconstructs the control flow graph of one function. The lines slice
// must cover the whole region, define header and closing brace included. The
// second result is false when the region yields no basic blocks.
func Analyze(lines []string) (*CFG, bool) {
	g := &CFG{Blocks: make(map[string]*BasicBlock)}
	if len(lines) == 0 {
		return g, false
	}
	if m := regexp.MustCompile(`define\s+\S+\s+@([\w.]+)\s*\(`).FindStringSubmatch(lines[0]); m != nil {
		g.FunctionName = m[1]
	}

	var current *BasicBlock
	open := func(label string) {
		current = &BasicBlock{Label: label}
		if len(g.Order) == 0 {
			current.IsEntry = true
			g.EntryLabel = label
		}
		g.Blocks[label] = current
		g.Order = append(g.Order, label)
	}

	body := lines
	if ir.IsDefineHeader(lines[0]) {
		body = lines[1:]
	}
	if len(body) > 0 && strings.TrimSpace(body[len(body)-1]) == "}" {
		body = body[:len(body)-1]
	}

	for i := 0; i < len(body); i++ {
		line := body[i]
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, ";") {
			if current != nil {
				current.Lines = append(current.Lines, line)
			}
			continue
		}

		if label, ok := ir.ParseLabel(line); ok {
			open(label)
			continue
		}

		if current == nil {
			// Instructions before any label form the implicit entry block.
			open("entry")
		}

		kind, succs, consumed := classifyTerminator(trimmed, body[i:])
		if kind == TermNone {
			// landingpad opens an unwind destination; it stays in the body
			// but marks the function as exception handling.
			if strings.Contains(trimmed, "= landingpad ") || strings.HasPrefix(trimmed, "landingpad ") {
				current.IsLandingPad = true
				g.HasExceptions = true
			}
			current.Lines = append(current.Lines, line)
			continue
		}

		// Multi-line switch terminators are folded into one logical line.
		term := trimmed
		for j := 1; j < consumed; j++ {
			term += " " + strings.TrimSpace(body[i+j])
		}
		i += consumed - 1

		current.Terminator = term
		current.TermKind = kind
		current.Successors = succs
		if kind == TermInvoke || kind == TermResume {
			g.HasExceptions = true
		}
		current = nil
	}

	if len(g.Order) == 0 {
		return g, false
	}

	for _, label := range g.Order {
		for _, succ := range g.Blocks[label].Successors {
			if sb, ok := g.Blocks[succ]; ok {
				sb.Predecessors = append(sb.Predecessors, label)
			}
		}
	}

	g.BackEdges = findBackEdges(g)
	return g, true
}

// classifyTerminator inspects a trimmed instruction and, when it terminates a
// block, returns its kind, successor labels, and how many source lines it
// spans. Switch case lists may continue over following lines until the bracket
// depth returns to zero.
func classifyTerminator(trimmed string, rest []string) (TermKind, []string, int) {
	switch {
	case strings.HasPrefix(trimmed, "switch"):
		m := switchRe.FindStringSubmatch(trimmed)
		if m == nil {
			return TermNone, nil, 1
		}
		succs := []string{m[2]}
		seen := map[string]bool{m[2]: true}
		depth := 0
		consumed := 0
		for _, line := range rest {
			consumed++
			depth += strings.Count(line, "[") - strings.Count(line, "]")
			for _, cm := range caseRe.FindAllStringSubmatch(line, -1) {
				if !seen[cm[1]] {
					seen[cm[1]] = true
					succs = append(succs, cm[1])
				}
			}
			if depth <= 0 && strings.Contains(line, "]") {
				break
			}
		}
		return TermSwitch, succs, consumed

	case strings.HasPrefix(trimmed, "br "):
		if m := condBrRe.FindStringSubmatch(trimmed); m != nil {
			return TermCondBranch, []string{m[2], m[3]}, 1
		}
		if m := uncondBrRe.FindStringSubmatch(trimmed); m != nil {
			return TermBranch, []string{m[1]}, 1
		}
		return TermNone, nil, 1

	case strings.HasPrefix(trimmed, "invoke ") || strings.Contains(trimmed, "= invoke "):
		if m := invokeRe.FindStringSubmatch(trimmed); m != nil {
			return TermInvoke, []string{m[1], m[2]}, 1
		}
		// The unwind clause may sit on the next line.
		if len(rest) > 1 {
			if m := invokeRe.FindStringSubmatch(rest[1]); m != nil {
				return TermInvoke, []string{m[1], m[2]}, 2
			}
		}
		return TermNone, nil, 1

	case strings.HasPrefix(trimmed, "indirectbr "):
		var succs []string
		for _, m := range indirectRe.FindAllStringSubmatch(trimmed, -1) {
			succs = append(succs, m[1])
		}
		return TermIndirectBr, succs, 1

	case strings.HasPrefix(trimmed, "ret ") || trimmed == "ret":
		return TermRet, nil, 1

	case strings.HasPrefix(trimmed, "resume "):
		return TermResume, nil, 1

	case trimmed == "unreachable":
		return TermUnreachable, nil, 1
	}
	return TermNone, nil, 1
}

// findBackEdges runs a depth-first walk from the entry block and reports edges
// into blocks still on the walk stack. Those edges close loops.
func findBackEdges(g *CFG) [][2]string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Order))
	var edges [][2]string

	var visit func(label string)
	visit = func(label string) {
		color[label] = gray
		for _, succ := range g.Blocks[label].Successors {
			sb, ok := g.Blocks[succ]
			if !ok {
				continue
			}
			switch color[succ] {
			case white:
				visit(sb.Label)
			case gray:
				edges = append(edges, [2]string{label, succ})
			}
		}
		color[label] = black
	}

	if g.EntryLabel != "" {
		visit(g.EntryLabel)
	}
	for _, label := range g.Order {
		if color[label] == white {
			visit(label)
		}
	}
	return edges
}
