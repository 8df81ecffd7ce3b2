// Package cfg reconstructs control flow graphs from textual LLVM-style IR.
// The input is a slice of raw source lines covering one function body; no
// bitcode or AST is involved.
package cfg

// TermKind classifies the instruction that ends a basic block.
type TermKind int

const (
	TermNone TermKind = iota // block fell off the end of the region
	TermBranch
	TermCondBranch
	TermSwitch
	TermInvoke
	TermResume
	TermRet
	TermUnreachable
	TermIndirectBr
)

func (k TermKind) String() string {
	switch k {
	case TermBranch:
		return "br"
	case TermCondBranch:
		return "br i1"
	case TermSwitch:
		return "switch"
	case TermInvoke:
		return "invoke"
	case TermResume:
		return "resume"
	case TermRet:
		return "ret"
	case TermUnreachable:
		return "unreachable"
	case TermIndirectBr:
		return "indirectbr"
	}
	return "none"
}

// IsExit reports whether the terminator leaves the function.
func (k TermKind) IsExit() bool {
	return k == TermRet || k == TermUnreachable || k == TermResume
}

// BasicBlock is one labeled region of straight-line instructions plus its
// terminator and graph edges.
type BasicBlock struct {
	Label        string
	Lines        []string // body lines, label and terminator lines excluded
	Terminator   string   // the terminator instruction, trimmed and joined
	TermKind     TermKind
	Successors   []string
	Predecessors []string
	IsEntry      bool
	IsLandingPad bool // block opens with a landingpad instruction
}

// CFG is the reconstructed graph for one function.
type CFG struct {
	FunctionName  string
	EntryLabel    string
	Blocks        map[string]*BasicBlock
	Order         []string // block labels in source order
	HasExceptions bool     // invoke, landingpad, or resume present anywhere
	BackEdges     [][2]string
}

// Block returns the named block or nil.
func (g *CFG) Block(label string) *BasicBlock {
	return g.Blocks[label]
}

// BlockCount returns the number of basic blocks in the function.
func (g *CFG) BlockCount() int { return len(g.Order) }

// HasLoops reports whether any back edge was found during analysis.
func (g *CFG) HasLoops() bool { return len(g.BackEdges) > 0 }

// ExitBlocks returns the labels of blocks whose terminator leaves the function,
// in source order.
func (g *CFG) ExitBlocks() []string {
	var exits []string
	for _, label := range g.Order {
		if g.Blocks[label].TermKind.IsExit() {
			exits = append(exits, label)
		}
	}
	return exits
}
