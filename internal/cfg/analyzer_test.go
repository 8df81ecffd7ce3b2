package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basicacc/morphect-sub000/internal/ir"
)

const diamondFunc = `define i32 @max(i32 %a, i32 %b) {
entry:
  %cmp = icmp sgt i32 %a, %b
  br i1 %cmp, label %then, label %else

then:
  br label %merge

else:
  br label %merge

merge:
  %r = phi i32 [ %a, %then ], [ %b, %else ]
  ret i32 %r
}`

func TestAnalyzeDiamond(t *testing.T) {
	g, ok := Analyze(ir.SplitLines(diamondFunc))
	require.True(t, ok)

	assert.Equal(t, "max", g.FunctionName)
	assert.Equal(t, []string{"entry", "then", "else", "merge"}, g.Order)
	assert.Equal(t, "entry", g.EntryLabel)
	assert.True(t, g.Block("entry").IsEntry)

	entry := g.Block("entry")
	assert.Equal(t, TermCondBranch, entry.TermKind)
	assert.Equal(t, []string{"then", "else"}, entry.Successors)

	merge := g.Block("merge")
	assert.Equal(t, TermRet, merge.TermKind)
	assert.Empty(t, merge.Successors)
	assert.ElementsMatch(t, []string{"then", "else"}, merge.Predecessors)

	assert.False(t, g.HasExceptions)
	assert.False(t, g.HasLoops())
	assert.Equal(t, []string{"merge"}, g.ExitBlocks())
}

func TestAnalyzeImplicitEntry(t *testing.T) {
	g, ok := Analyze(ir.SplitLines(`define void @f() {
  %x = add i32 1, 2
  ret void
}`))
	require.True(t, ok)
	require.Equal(t, []string{"entry"}, g.Order)
	assert.Equal(t, TermRet, g.Block("entry").TermKind)
}

func TestAnalyzeLoop(t *testing.T) {
	g, ok := Analyze(ir.SplitLines(`define void @loop(i32 %n) {
entry:
  br label %header

header:
  %i = phi i32 [ 0, %entry ], [ %next, %body ]
  %cond = icmp slt i32 %i, %n
  br i1 %cond, label %body, label %exit

body:
  %next = add i32 %i, 1
  br label %header

exit:
  ret void
}`))
	require.True(t, ok)
	assert.True(t, g.HasLoops())
	require.Len(t, g.BackEdges, 1)
	assert.Equal(t, [2]string{"body", "header"}, g.BackEdges[0])
}

func TestAnalyzeSwitchSingleLine(t *testing.T) {
	g, ok := Analyze(ir.SplitLines(`define void @s(i32 %v) {
entry:
  switch i32 %v, label %def [ i32 0, label %a i32 1, label %b ]

a:
  ret void

b:
  ret void

def:
  ret void
}`))
	require.True(t, ok)
	entry := g.Block("entry")
	assert.Equal(t, TermSwitch, entry.TermKind)
	assert.Equal(t, []string{"def", "a", "b"}, entry.Successors)
}

func TestAnalyzeSwitchMultiLine(t *testing.T) {
	g, ok := Analyze(ir.SplitLines(`define void @s(i32 %v) {
entry:
  switch i32 %v, label %def [
    i32 0, label %a
    i32 1, label %b
  ]

a:
  ret void

b:
  ret void

def:
  ret void
}`))
	require.True(t, ok)
	entry := g.Block("entry")
	assert.Equal(t, TermSwitch, entry.TermKind)
	assert.ElementsMatch(t, []string{"def", "a", "b"}, entry.Successors)
	// The folded terminator carries every case for later rewriting.
	assert.Contains(t, entry.Terminator, "label %a")
	assert.Contains(t, entry.Terminator, "label %b")
}

func TestAnalyzeInvokeSetsExceptionFlag(t *testing.T) {
	g, ok := Analyze(ir.SplitLines(`define void @e() personality i8* null {
entry:
  invoke void @may_throw() to label %cont unwind label %lpad

cont:
  ret void

lpad:
  %lp = landingpad { i8*, i32 } cleanup
  resume { i8*, i32 } %lp
}`))
	require.True(t, ok)
	assert.True(t, g.HasExceptions)
	assert.Equal(t, []string{"cont", "lpad"}, g.Block("entry").Successors)
	assert.Equal(t, TermResume, g.Block("lpad").TermKind)
}

func TestAnalyzeEmpty(t *testing.T) {
	_, ok := Analyze([]string{"define void @f() {", "}"})
	assert.False(t, ok)

	_, ok = Analyze(nil)
	assert.False(t, ok)
}

func TestAnalyzeLandingPadMarksBlock(t *testing.T) {
	g, ok := Analyze(ir.SplitLines(`define void @e() personality i8* null {
entry:
  invoke void @may_throw() to label %cont unwind label %lpad

cont:
  ret void

lpad:
  %lp = landingpad { i8*, i32 } cleanup
  resume { i8*, i32 } %lp
}`))
	require.True(t, ok)
	assert.True(t, g.HasExceptions)
	assert.True(t, g.Block("lpad").IsLandingPad)
	assert.False(t, g.Block("cont").IsLandingPad)
}
