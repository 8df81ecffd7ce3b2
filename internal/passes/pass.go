// Package passes defines the transformation pass interface and the manager
// that orders and runs passes over a module.
package passes

// Kind tags the representation a pass consumes. A manager run targets one
// kind; Generic passes run regardless.
type Kind int

const (
	KindGeneric Kind = iota
	KindHostPlugin
	KindTextualIR
	KindAssembly
)

func (k Kind) String() string {
	switch k {
	case KindGeneric:
		return "generic"
	case KindHostPlugin:
		return "host-plugin"
	case KindTextualIR:
		return "textual-ir"
	case KindAssembly:
		return "assembly"
	}
	return "unknown"
}

// Status is the outcome of one pass application.
type Status int

const (
	Success       Status = iota
	Skipped              // pass declined, e.g. probability roll
	NotApplicable        // input had nothing the pass handles
	Failed
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Skipped:
		return "skipped"
	case NotApplicable:
		return "not applicable"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Default priority bands. Lower values run earlier. Control flow reshaping
// must precede arithmetic rewriting so MBA sees the final instruction stream.
const (
	PriorityControlFlow = 200
	PriorityMBA         = 400
	PriorityData        = 600
	PriorityCleanup     = 800
)

// Pass transforms module source lines. Apply returns the new lines (the input
// slice when nothing changed), a status, and an error only for real failures;
// declining is reported through the status.
type Pass interface {
	Name() string
	Kind() Kind
	Priority() int
	Enabled() bool
	Dependencies() []string
	Apply(lines []string) ([]string, Status, error)
}
