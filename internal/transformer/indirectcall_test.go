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

func newICContext(seed int64, mutate func(*config.Config)) *Context {
	return newTestContext(seed, func(c *config.Config) {
		c.Obfuscation.IndirectCall.Enabled = true
		if mutate != nil {
			mutate(c)
		}
	})
}

const callModule = `declare i32 @helper(i32)
declare void @llvm.donothing()

define i32 @user(i32 %x) {
entry:
  %a = call i32 @helper(i32 %x)
  call void @llvm.donothing()
  %b = call i32 @helper(i32 %a)
  ret i32 %b
}`

func TestIndirectCallStructure(t *testing.T) {
	ctx := newICContext(42, nil)
	out := applyPass(t, NewIndirectCallPass(ctx), callModule)
	text := ir.JoinLines(out)

	assert.Contains(t, text, "@_func_table = private unnamed_addr constant")
	assert.Contains(t, text, "ptrtoint (i32 (i32)* @helper to i64)")
	assert.Contains(t, text, "%_ic_tmp")
	assert.Regexp(t, `\[\d+ x i64\]\* @_func_table, i32 0`, text)
	assert.Contains(t, text, "inttoptr i64")
	assert.NotContains(t, text, "call i32 @helper", "direct calls must be rewritten")

	// Intrinsics stay direct.
	assert.Contains(t, text, "call void @llvm.donothing()")

	// The table precedes the function body.
	tableIdx := indexOfLine(out, "@_func_table")
	defineIdx := indexOfLine(out, "define i32 @user")
	require.GreaterOrEqual(t, tableIdx, 0)
	assert.Greater(t, defineIdx, tableIdx)

	assert.Equal(t, 2, ctx.Stats.Get("calls_indirected"))
	assert.Equal(t, 1, ctx.Stats.Get("function_tables_emitted"))
}

func TestIndirectCallSharedSlot(t *testing.T) {
	ctx := newICContext(42, func(c *config.Config) {
		c.Obfuscation.IndirectCall.AddDecoys = false
	})
	out := applyPass(t, NewIndirectCallPass(ctx), callModule)
	text := ir.JoinLines(out)

	// Two calls to the same callee share one table slot.
	assert.Contains(t, text, "[1 x i64]")
}

func TestIndirectCallResultNamesPreserved(t *testing.T) {
	ctx := newICContext(42, nil)
	out := applyPass(t, NewIndirectCallPass(ctx), callModule)
	text := ir.JoinLines(out)
	assert.Regexp(t, `%a = call i32 %_ic_tmp\d+\(i32 %x\)`, text)
	assert.Regexp(t, `%b = call i32 %_ic_tmp\d+\(i32 %a\)`, text)
}

func TestIndirectCallExcludeList(t *testing.T) {
	ctx := newICContext(42, func(c *config.Config) {
		c.Obfuscation.IndirectCall.ExcludeFunctions = []string{"helper"}
	})
	out, status, err := NewIndirectCallPass(ctx).Apply(ir.SplitLines(callModule))
	require.NoError(t, err)
	assert.Equal(t, passes.NotApplicable, status)
	assert.Equal(t, ir.SplitLines(callModule), out)
}

func TestIndirectCallIncludeOnly(t *testing.T) {
	src := `declare i32 @alpha(i32)
declare i32 @beta(i32)

define void @u(i32 %x) {
entry:
  %a = call i32 @alpha(i32 %x)
  %b = call i32 @beta(i32 %x)
  ret void
}`
	ctx := newICContext(42, func(c *config.Config) {
		c.Obfuscation.IndirectCall.IncludeOnly = []string{"beta"}
	})
	out := applyPass(t, NewIndirectCallPass(ctx), src)
	text := ir.JoinLines(out)
	assert.Contains(t, text, "call i32 @alpha")
	assert.NotContains(t, text, "call i32 @beta")
	assert.Contains(t, text, "@beta to i64")
}

func TestAddrCodecInverse(t *testing.T) {
	strategies := []string{
		config.AddressStrategyNone,
		config.AddressStrategyXOR,
		config.AddressStrategyAdd,
		config.AddressStrategyXORAdd,
		config.AddressStrategyRotateXOR,
	}
	for _, strategy := range strategies {
		strategy := strategy
		t.Run(strategy, func(t *testing.T) {
			for seed := int64(1); seed <= 20; seed++ {
				ctx := newICContext(seed, func(c *config.Config) {
					c.Obfuscation.IndirectCall.AddressStrategy = strategy
				})
				codec := newAddrCodec(ctx)
				for _, addr := range []uint64{0, 1, 0x1000, 0xdeadbeef, ^uint64(0), 1 << 47} {
					assert.Equal(t, addr, codec.invert(codec.apply(addr)),
						"strategy=%s seed=%d addr=%#x", strategy, seed, addr)
				}
			}
		})
	}
}

func TestAddrCodecEncodeExprShape(t *testing.T) {
	ctx := newICContext(42, func(c *config.Config) {
		c.Obfuscation.IndirectCall.AddressStrategy = config.AddressStrategyRotateXOR
	})
	codec := newAddrCodec(ctx)
	expr := codec.encodeExpr("i32 (i32)", "helper")
	assert.Contains(t, expr, "i64 xor (i64 or (i64 shl (")
	assert.Contains(t, expr, "ptrtoint (i32 (i32)* @helper to i64)")
}

func TestIndirectCallDecodeMatchesStrategy(t *testing.T) {
	ctx := newICContext(42, func(c *config.Config) {
		c.Obfuscation.IndirectCall.AddressStrategy = config.AddressStrategyXORAdd
	})
	out := applyPass(t, NewIndirectCallPass(ctx), callModule)
	text := ir.JoinLines(out)
	assert.Contains(t, text, "sub i64")
	assert.Contains(t, text, "xor i64")
}

func TestIndirectCallSkipsVarargs(t *testing.T) {
	src := `declare i32 @printf(i8*, ...)

define void @u(i8* %fmt) {
entry:
  %r = call i32 (i8*, ...) @printf(i8* %fmt)
  ret void
}`
	ctx := newICContext(42, nil)
	_, status, err := NewIndirectCallPass(ctx).Apply(ir.SplitLines(src))
	require.NoError(t, err)
	assert.Equal(t, passes.NotApplicable, status)
}

func TestSplitArgsNested(t *testing.T) {
	args := splitArgs("i32 %x, i8* getelementptr ([4 x i8], [4 x i8]* @s, i32 0, i32 0), i64 7")
	require.Len(t, args, 3)
	assert.Equal(t, "i32 %x", args[0])
	assert.Equal(t, "i64 7", args[2])

	assert.Nil(t, splitArgs(""))
}

func TestCallSignature(t *testing.T) {
	assert.Equal(t, "i32 (i32, i64)", callSignature("i32", "i32 %a, i64 %b"))
	assert.Equal(t, "void ()", callSignature("void", ""))
	assert.Equal(t, "i8* (i8*)", callSignature("i8*", "i8* noalias %p"))
}

func TestIndirectCallDeterministic(t *testing.T) {
	a := applyPass(t, NewIndirectCallPass(newICContext(5, nil)), callModule)
	b := applyPass(t, NewIndirectCallPass(newICContext(5, nil)), callModule)
	assert.Equal(t, a, b)
	assert.True(t, strings.Contains(ir.JoinLines(a), "@_func_table"))
}
