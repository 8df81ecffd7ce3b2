package transformer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basicacc/morphect-sub000/internal/config"
	"github.com/basicacc/morphect-sub000/internal/ir"
	"github.com/basicacc/morphect-sub000/internal/passes"
)

func newBogusContext(seed int64, mutate func(*config.Config)) *Context {
	return newTestContext(seed, func(c *config.Config) {
		c.Obfuscation.BogusFlow.Enabled = true
		c.Obfuscation.BogusFlow.MinInsertions = 3
		c.Obfuscation.BogusFlow.MaxInsertions = 3
		if mutate != nil {
			mutate(c)
		}
	})
}

func TestBogusFlowPreservesSemantics(t *testing.T) {
	ctx := newBogusContext(42, nil)
	out := applyPass(t, NewBogusFlowPass(ctx), calcFunc)

	for _, tc := range []struct{ a, b, want int32 }{
		{2, 3, 5},
		{3, 2, 1},
		{-7, 7, 0},
	} {
		got := runFunction(t, out, map[string]int32{"%a": tc.a, "%b": tc.b})
		assert.Equal(t, tc.want, got, "a=%d b=%d", tc.a, tc.b)
	}
}

func TestBogusFlowStructure(t *testing.T) {
	ctx := newBogusContext(42, nil)
	out := applyPass(t, NewBogusFlowPass(ctx), calcFunc)
	text := ir.JoinLines(out)

	assert.Contains(t, text, "real_0:")
	assert.Contains(t, text, "fake_0:")
	assert.Contains(t, text, "merge_0:")
	assert.Contains(t, text, "%_dead_")
	assert.Contains(t, text, "br i1 %_op_t")
	assert.Equal(t, 3, ctx.Stats.Get("bogus_blocks_inserted"))
}

func TestBogusFlowSkipsEntryBlock(t *testing.T) {
	ctx := newBogusContext(42, nil)
	out := applyPass(t, NewBogusFlowPass(ctx), calcFunc)

	// The entry block must not be split: its body runs before any guard.
	var entryIdx, firstGuard int
	for i, line := range out {
		if strings.TrimSpace(line) == "entry:" {
			entryIdx = i
		}
		if strings.Contains(line, "real_") && firstGuard == 0 {
			firstGuard = i
		}
	}
	require.Greater(t, firstGuard, entryIdx)
	assert.Contains(t, out[entryIdx+1], "%cmp = icmp")
}

func TestBogusFlowDeadCodeDisabled(t *testing.T) {
	ctx := newBogusContext(42, func(c *config.Config) {
		c.Obfuscation.BogusFlow.GenerateDeadCode = false
	})
	out := applyPass(t, NewBogusFlowPass(ctx), calcFunc)
	assert.NotContains(t, ir.JoinLines(out), "%_dead_")
}

func TestBogusFlowInsertionBudget(t *testing.T) {
	ctx := newBogusContext(42, func(c *config.Config) {
		c.Obfuscation.BogusFlow.MinInsertions = 1
		c.Obfuscation.BogusFlow.MaxInsertions = 1
	})
	out := applyPass(t, NewBogusFlowPass(ctx), calcFunc)

	// Each guard contributes one real_N label; the branch referencing it is
	// not a second insertion.
	labels := 0
	for _, line := range out {
		if name, ok := ir.ParseLabel(line); ok && strings.HasPrefix(name, "real_") {
			labels++
		}
	}
	assert.Equal(t, 1, labels)
	assert.Equal(t, 1, ctx.Stats.Get("bogus_blocks_inserted"))
}

func TestBogusFlowNotApplicableWithoutFunctions(t *testing.T) {
	ctx := newBogusContext(42, nil)
	lines := []string{"@g = global i32 0"}
	out, status, err := NewBogusFlowPass(ctx).Apply(lines)
	require.NoError(t, err)
	assert.Equal(t, passes.NotApplicable, status)
	assert.Equal(t, lines, out)
}

func TestBogusFlowThenFlattenCompose(t *testing.T) {
	ctx := newBogusContext(42, nil)
	out := applyPass(t, NewBogusFlowPass(ctx), calcFunc)
	out = applyPass(t, NewFlattenPass(ctx), ir.JoinLines(out))

	got := runFunction(t, out, map[string]int32{"%a": 2, "%b": 3})
	assert.EqualValues(t, 5, got)
}

func TestBogusFlowDeterministic(t *testing.T) {
	a := applyPass(t, NewBogusFlowPass(newBogusContext(9, nil)), calcFunc)
	b := applyPass(t, NewBogusFlowPass(newBogusContext(9, nil)), calcFunc)
	assert.Equal(t, a, b)
}
