package passes

import (
	"fmt"
	"sort"
)

// maxResolveIterations caps dependency reordering. Exceeding it almost always
// means a dependency cycle; the manager warns and keeps the current order.
const maxResolveIterations = 100

// Manager holds registered passes and runs them in resolved order.
type Manager struct {
	passes       []Pass
	customOrder  []string
	abortOnError bool
	logf         func(format string, args ...interface{})
}

// NewManager returns an empty manager. logf receives informational and
// warning output; nil silences it.
func NewManager(abortOnError bool, logf func(string, ...interface{})) *Manager {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Manager{abortOnError: abortOnError, logf: logf}
}

// Register adds a pass. Names must be unique.
func (m *Manager) Register(p Pass) error {
	for _, existing := range m.passes {
		if existing.Name() == p.Name() {
			return fmt.Errorf("pass %q registered twice", p.Name())
		}
	}
	m.passes = append(m.passes, p)
	return nil
}

// SetOrder overrides priority ordering with an explicit pass name sequence.
// Registered passes missing from the sequence run after it, in priority order.
func (m *Manager) SetOrder(names []string) {
	m.customOrder = names
}

// Passes returns the registered passes in resolved execution order.
func (m *Manager) Passes() ([]Pass, error) {
	ordered := make([]Pass, len(m.passes))
	copy(ordered, m.passes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() < ordered[j].Priority()
	})

	if len(m.customOrder) > 0 {
		byName := make(map[string]Pass, len(ordered))
		for _, p := range ordered {
			byName[p.Name()] = p
		}
		var custom []Pass
		taken := make(map[string]bool)
		for _, name := range m.customOrder {
			p, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("unknown pass in order: %q", name)
			}
			if taken[name] {
				return nil, fmt.Errorf("pass %q listed twice in order", name)
			}
			taken[name] = true
			custom = append(custom, p)
		}
		for _, p := range ordered {
			if !taken[p.Name()] {
				custom = append(custom, p)
			}
		}
		ordered = custom
	}

	return m.resolveDependencies(ordered), nil
}

// resolveDependencies repeatedly hoists declared dependencies ahead of their
// dependents until the order stabilizes. Unknown dependency names are ignored.
// The iteration cap turns a cycle into a warning instead of a hang.
func (m *Manager) resolveDependencies(ordered []Pass) []Pass {
	index := func(name string) int {
		for i, p := range ordered {
			if p.Name() == name {
				return i
			}
		}
		return -1
	}

	for iter := 0; iter < maxResolveIterations; iter++ {
		changed := false
		for i := 0; i < len(ordered); i++ {
			for _, dep := range ordered[i].Dependencies() {
				j := index(dep)
				if j <= i {
					continue
				}
				// Move the dependency directly before its dependent.
				p := ordered[j]
				copy(ordered[i+1:j+1], ordered[i:j])
				ordered[i] = p
				changed = true
			}
		}
		if !changed {
			return ordered
		}
	}
	m.logf("Warning: pass dependency resolution did not stabilize after %d iterations, likely a cycle; keeping current order\n", maxResolveIterations)
	return ordered
}

// Run applies every enabled pass matching the target kind, in resolved order.
// Generic passes always match. With abortOnError unset, a failing pass is
// logged and its input passed through unchanged.
func (m *Manager) Run(lines []string, target Kind) ([]string, error) {
	ordered, err := m.Passes()
	if err != nil {
		return lines, err
	}

	for _, p := range ordered {
		if !p.Enabled() {
			continue
		}
		if p.Kind() != KindGeneric && p.Kind() != target {
			continue
		}

		out, status, err := p.Apply(lines)
		switch {
		case err != nil:
			if m.abortOnError {
				return lines, fmt.Errorf("pass %q: %w", p.Name(), err)
			}
			m.logf("Warning: pass %q failed: %v\n", p.Name(), err)
		case status == Success:
			lines = out
		default:
			m.logf("Info: pass %q: %s\n", p.Name(), status)
		}
	}
	return lines, nil
}
