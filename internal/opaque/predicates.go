// Package opaque builds predicate snippets whose outcome is fixed by
// construction but not obvious from the emitted instructions. All identities
// hold under wrapping 32-bit arithmetic, so they stay sound for every input.
package opaque

import (
	"fmt"

	"github.com/basicacc/morphect-sub000/internal/ir"
	"github.com/basicacc/morphect-sub000/internal/rng"
)

// Value is the compile-time-known outcome of a predicate.
type Value int

const (
	AlwaysTrue Value = iota
	AlwaysFalse
)

// Hint classifies an in-scope variable so context predicates can pose as
// checks a compiler might genuinely emit for it.
type Hint int

const (
	HintNone Hint = iota
	HintLoopCounter
	HintArraySize
)

// ContextVar pairs a variable name with a hint about its role.
type ContextVar struct {
	Name string
	Hint Hint
}

// Predicate describes one identity from the library. Weight sets its relative
// selection frequency within a pool.
type Predicate struct {
	Name   string
	Value  Value
	Arity  int
	Weight int
	hint   Hint
	build  func(b *builder, ops []string) string
}

type builder struct {
	naming *ir.NamingContext
	lines  []string
}

func (b *builder) emit(format string, args ...interface{}) {
	b.lines = append(b.lines, fmt.Sprintf(format, args...))
}

func (b *builder) temp() string {
	return b.naming.Temp("_op_t")
}

// truePredicates always evaluate to 1.
var truePredicates = []Predicate{
	{
		// x*(x+1) is a product of consecutive integers, hence even.
		Name: "even_product", Value: AlwaysTrue, Arity: 1, Weight: 2,
		build: func(b *builder, ops []string) string {
			t0, t1, t2, c := b.temp(), b.temp(), b.temp(), b.temp()
			b.emit("%s = add i32 %s, 1", t0, ops[0])
			b.emit("%s = mul i32 %s, %s", t1, ops[0], t0)
			b.emit("%s = srem i32 %s, 2", t2, t1)
			b.emit("%s = icmp eq i32 %s, 0", c, t2)
			return c
		},
	},
	{
		// Masking to 15 bits keeps the square below 2^31, so the sign
		// bit never sets even with wraparound.
		Name: "square_nonneg", Value: AlwaysTrue, Arity: 1, Weight: 2,
		build: func(b *builder, ops []string) string {
			t0, t1, c := b.temp(), b.temp(), b.temp()
			b.emit("%s = and i32 %s, 32767", t0, ops[0])
			b.emit("%s = mul i32 %s, %s", t1, t0, t0)
			b.emit("%s = icmp sge i32 %s, 0", c, t1)
			return c
		},
	},
	{
		// OR sets a superset of the bits AND sets.
		Name: "or_geq_and", Value: AlwaysTrue, Arity: 2, Weight: 3,
		build: func(b *builder, ops []string) string {
			t0, t1, c := b.temp(), b.temp(), b.temp()
			b.emit("%s = or i32 %s, %s", t0, ops[0], ops[1])
			b.emit("%s = and i32 %s, %s", t1, ops[0], ops[1])
			b.emit("%s = icmp uge i32 %s, %s", c, t0, t1)
			return c
		},
	},
	{
		Name: "xor_self_zero", Value: AlwaysTrue, Arity: 1, Weight: 1,
		build: func(b *builder, ops []string) string {
			t0, c := b.temp(), b.temp()
			b.emit("%s = xor i32 %s, %s", t0, ops[0], ops[0])
			b.emit("%s = icmp eq i32 %s, 0", c, t0)
			return c
		},
	},
	{
		// (x&y)|(x^y) reassembles exactly x|y.
		Name: "boolean_identity", Value: AlwaysTrue, Arity: 2, Weight: 3,
		build: func(b *builder, ops []string) string {
			t0, t1, t2, t3, c := b.temp(), b.temp(), b.temp(), b.temp(), b.temp()
			b.emit("%s = and i32 %s, %s", t0, ops[0], ops[1])
			b.emit("%s = xor i32 %s, %s", t1, ops[0], ops[1])
			b.emit("%s = or i32 %s, %s", t2, t0, t1)
			b.emit("%s = or i32 %s, %s", t3, ops[0], ops[1])
			b.emit("%s = icmp eq i32 %s, %s", c, t2, t3)
			return c
		},
	},
	{
		// 2*(x&y)+(x^y) == x+y, the classic carry decomposition.
		Name: "mba_identity", Value: AlwaysTrue, Arity: 2, Weight: 3,
		build: func(b *builder, ops []string) string {
			t0, t1, t2, t3, t4, c := b.temp(), b.temp(), b.temp(), b.temp(), b.temp(), b.temp()
			b.emit("%s = and i32 %s, %s", t0, ops[0], ops[1])
			b.emit("%s = mul i32 %s, 2", t1, t0)
			b.emit("%s = xor i32 %s, %s", t2, ops[0], ops[1])
			b.emit("%s = add i32 %s, %s", t3, t1, t2)
			b.emit("%s = add i32 %s, %s", t4, ops[0], ops[1])
			b.emit("%s = icmp eq i32 %s, %s", c, t3, t4)
			return c
		},
	},
}

// falsePredicates always evaluate to 0.
var falsePredicates = []Predicate{
	{
		Name: "square_negative", Value: AlwaysFalse, Arity: 1, Weight: 2,
		build: func(b *builder, ops []string) string {
			t0, t1, c := b.temp(), b.temp(), b.temp()
			b.emit("%s = and i32 %s, 32767", t0, ops[0])
			b.emit("%s = mul i32 %s, %s", t1, t0, t0)
			b.emit("%s = icmp slt i32 %s, 0", c, t1)
			return c
		},
	},
	{
		Name: "xor_self_nonzero", Value: AlwaysFalse, Arity: 1, Weight: 1,
		build: func(b *builder, ops []string) string {
			t0, c := b.temp(), b.temp()
			b.emit("%s = xor i32 %s, %s", t0, ops[0], ops[0])
			b.emit("%s = icmp ne i32 %s, 0", c, t0)
			return c
		},
	},
	{
		Name: "or_lt_and", Value: AlwaysFalse, Arity: 2, Weight: 2,
		build: func(b *builder, ops []string) string {
			t0, t1, c := b.temp(), b.temp(), b.temp()
			b.emit("%s = or i32 %s, %s", t0, ops[0], ops[1])
			b.emit("%s = and i32 %s, %s", t1, ops[0], ops[1])
			b.emit("%s = icmp ult i32 %s, %s", c, t0, t1)
			return c
		},
	},
}

// contextPredicates dress in-scope variables up as data-dependent checks while
// remaining always true.
var contextPredicates = []Predicate{
	{
		// Doubling any counter yields an even value.
		Name: "loop_counter_even", Value: AlwaysTrue, Arity: 1, Weight: 2, hint: HintLoopCounter,
		build: func(b *builder, ops []string) string {
			t0, t1, c := b.temp(), b.temp(), b.temp()
			b.emit("%s = mul i32 %s, 2", t0, ops[0])
			b.emit("%s = srem i32 %s, 2", t1, t0)
			b.emit("%s = icmp eq i32 %s, 0", c, t1)
			return c
		},
	},
	{
		// Clearing the sign bit makes any value compare nonnegative.
		Name: "array_size_nonneg", Value: AlwaysTrue, Arity: 1, Weight: 2, hint: HintArraySize,
		build: func(b *builder, ops []string) string {
			t0, c := b.temp(), b.temp()
			b.emit("%s = and i32 %s, 2147483647", t0, ops[0])
			b.emit("%s = icmp sge i32 %s, 0", c, t0)
			return c
		},
	},
	{
		Name: "and_not_self", Value: AlwaysTrue, Arity: 1, Weight: 1,
		build: func(b *builder, ops []string) string {
			t0, t1, c := b.temp(), b.temp(), b.temp()
			b.emit("%s = xor i32 %s, -1", t0, ops[0])
			b.emit("%s = and i32 %s, %s", t1, ops[0], t0)
			b.emit("%s = icmp eq i32 %s, 0", c, t1)
			return c
		},
	},
	{
		// AND can only clear bits, so the result never exceeds either input.
		Name: "loop_bound_check", Value: AlwaysTrue, Arity: 2, Weight: 2, hint: HintLoopCounter,
		build: func(b *builder, ops []string) string {
			t0, c := b.temp(), b.temp()
			b.emit("%s = and i32 %s, %s", t0, ops[0], ops[1])
			b.emit("%s = icmp ule i32 %s, %s", c, t0, ops[0])
			return c
		},
	},
}

// Library selects and instantiates predicates for one obfuscation run.
type Library struct {
	rnd    *rng.Source
	naming *ir.NamingContext
}

// NewLibrary returns a predicate library drawing randomness and temp names
// from the given sources.
func NewLibrary(rnd *rng.Source, naming *ir.NamingContext) *Library {
	return &Library{rnd: rnd, naming: naming}
}

// Build instantiates a predicate against the given variables and returns the
// instruction lines plus the i1 result name. Missing operands are filled with
// random constants, so vars may be nil.
func (l *Library) Build(p Predicate, vars []string) ([]string, string) {
	ops := make([]string, p.Arity)
	for i := range ops {
		if i < len(vars) && vars[i] != "" {
			ops[i] = vars[i]
		} else {
			ops[i] = fmt.Sprintf("%d", l.rnd.Between(1, 1<<20))
		}
	}
	b := &builder{naming: l.naming}
	result := p.build(b, ops)
	return b.lines, result
}

// pickWeighted draws one predicate from the pool with probability
// proportional to its weight.
func (l *Library) pickWeighted(pool []Predicate) Predicate {
	weights := make([]int, len(pool))
	for i, p := range pool {
		weights[i] = p.Weight
	}
	return pool[l.rnd.ChooseWeighted(weights)]
}

// PickTrue returns a weighted random always-true predicate. When vars supplies
// at least one in-scope variable, context predicates join the candidate pool.
func (l *Library) PickTrue(haveVars bool) Predicate {
	pool := truePredicates
	if haveVars {
		pool = append(append([]Predicate(nil), truePredicates...), contextPredicates...)
	}
	return l.pickWeighted(pool)
}

// PickFalse returns a weighted random always-false predicate.
func (l *Library) PickFalse() Predicate {
	return l.pickWeighted(falsePredicates)
}

// BuildTrue picks and instantiates an always-true predicate in one step.
func (l *Library) BuildTrue(vars []string) ([]string, string) {
	return l.Build(l.PickTrue(len(vars) > 0), vars)
}

// BuildFalse picks and instantiates an always-false predicate in one step.
func (l *Library) BuildFalse(vars []string) ([]string, string) {
	return l.Build(l.PickFalse(), vars)
}

// fallback is the hint-agnostic identity x & ~x == 0, always applicable.
func fallback() Predicate {
	for _, p := range contextPredicates {
		if p.Name == "and_not_self" {
			return p
		}
	}
	panic("opaque: missing and_not_self predicate")
}

// ForContext builds an always-true predicate matching the variable's hint.
// When no specialized predicate fits the hint, the hint-agnostic x & ~x == 0
// identity is used instead.
func (l *Library) ForContext(v ContextVar) ([]string, string) {
	var pool []Predicate
	if v.Hint != HintNone {
		for _, p := range contextPredicates {
			if p.Arity == 1 && p.hint == v.Hint {
				pool = append(pool, p)
			}
		}
	}
	if len(pool) == 0 {
		return l.Build(fallback(), []string{v.Name})
	}
	return l.Build(l.pickWeighted(pool), []string{v.Name})
}

// ForContexts builds an always-true predicate over two in-scope variables.
// Two loop counters qualify for the two-variable bound identity; otherwise
// the better-hinted variable is handled like ForContext.
func (l *Library) ForContexts(v1, v2 ContextVar) ([]string, string) {
	if v1.Hint == HintLoopCounter && v2.Hint == HintLoopCounter {
		var pool []Predicate
		for _, p := range contextPredicates {
			if p.Arity == 2 && p.hint == HintLoopCounter {
				pool = append(pool, p)
			}
		}
		if len(pool) > 0 {
			return l.Build(l.pickWeighted(pool), []string{v1.Name, v2.Name})
		}
	}
	if v1.Hint == HintNone && v2.Hint != HintNone {
		v1 = v2
	}
	return l.ForContext(v1)
}

// All returns every predicate in the library, used by tests to verify
// soundness exhaustively.
func All() []Predicate {
	var out []Predicate
	out = append(out, truePredicates...)
	out = append(out, falsePredicates...)
	out = append(out, contextPredicates...)
	return out
}
