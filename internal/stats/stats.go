// Package stats accumulates counters describing what an obfuscation run did.
package stats

import (
	"fmt"
	"sort"
	"strings"
)

// Stats is a set of named counters. Passes record how many functions they
// touched, blocks they created, tables they emitted, and so on.
type Stats struct {
	counters map[string]int
	order    []string
}

// New returns an empty counter set.
func New() *Stats {
	return &Stats{counters: make(map[string]int)}
}

// Add increments a counter by delta, registering it on first use.
func (s *Stats) Add(name string, delta int) {
	if _, ok := s.counters[name]; !ok {
		s.order = append(s.order, name)
	}
	s.counters[name] += delta
}

// Inc increments a counter by one.
func (s *Stats) Inc(name string) { s.Add(name, 1) }

// Get returns the current value of a counter, zero if never touched.
func (s *Stats) Get(name string) int { return s.counters[name] }

// Merge folds another counter set into this one.
func (s *Stats) Merge(other *Stats) {
	if other == nil {
		return
	}
	names := append([]string(nil), other.order...)
	sort.Strings(names)
	for _, name := range names {
		s.Add(name, other.counters[name])
	}
}

// Summary renders the counters in first-use order, one per line.
func (s *Stats) Summary() string {
	if len(s.order) == 0 {
		return "no transformations applied"
	}
	var b strings.Builder
	for _, name := range s.order {
		fmt.Fprintf(&b, "  %-28s %d\n", name+":", s.counters[name])
	}
	return b.String()
}
