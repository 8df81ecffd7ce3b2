package ir

import "fmt"

// NamingContext hands out unique names for temps, labels, and tables created
// during a single obfuscation run. Counters never reset between functions, so
// generated globals stay unique module-wide.
type NamingContext struct {
	counters map[string]int
}

// NewNamingContext returns an empty naming context.
func NewNamingContext() *NamingContext {
	return &NamingContext{counters: make(map[string]int)}
}

// Next returns prefix followed by a per-prefix sequence number, starting at 0.
func (n *NamingContext) Next(prefix string) string {
	v := n.counters[prefix]
	n.counters[prefix] = v + 1
	return fmt.Sprintf("%s%d", prefix, v)
}

// Temp returns a fresh SSA temp name with a leading %.
func (n *NamingContext) Temp(prefix string) string {
	return "%" + n.Next(prefix)
}

// Global returns a fresh global name with a leading @.
func (n *NamingContext) Global(prefix string) string {
	return "@" + n.Next(prefix)
}

// NextID consumes and returns the bare sequence number for prefix, for
// callers that stamp the same number onto several related names.
func (n *NamingContext) NextID(prefix string) int {
	v := n.counters[prefix]
	n.counters[prefix] = v + 1
	return v
}

// Peek returns the next value the counter would hand out, without consuming it.
func (n *NamingContext) Peek(prefix string) int {
	return n.counters[prefix]
}
