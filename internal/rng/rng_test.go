package rng

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicWithSeed(t *testing.T) {
	a := New(42)
	b := New(42)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a.IntN(1000), b.IntN(1000))
	}
}

func TestBetweenBounds(t *testing.T) {
	s := New(42)
	for i := 0; i < 1000; i++ {
		v := s.Between(3, 7)
		assert.GreaterOrEqual(t, v, 3)
		assert.LessOrEqual(t, v, 7)
	}
	assert.Equal(t, 5, s.Between(5, 5))
	assert.Equal(t, 5, s.Between(5, 2))
}

func TestDecideExtremes(t *testing.T) {
	s := New(42)
	assert.True(t, s.Decide(1.0))
	assert.False(t, s.Decide(0.0))
}

func TestNonZeroInt32(t *testing.T) {
	s := New(42)
	for i := 0; i < 1000; i++ {
		assert.NotZero(t, s.NonZeroInt32())
	}
}

func TestChooseWeighted(t *testing.T) {
	s := New(42)

	// Index 1 has all the weight.
	for i := 0; i < 50; i++ {
		assert.Equal(t, 1, s.ChooseWeighted([]int{0, 10, 0}))
	}

	// Degenerate weights fall back to 0.
	assert.Equal(t, 0, s.ChooseWeighted([]int{0, 0}))

	counts := make(map[int]int)
	for i := 0; i < 10000; i++ {
		counts[s.ChooseWeighted([]int{1, 3})]++
	}
	require.Greater(t, counts[1], counts[0])
}

func TestCoprimeWith(t *testing.T) {
	s := New(42)
	for _, n := range []int{2, 3, 4, 8, 12, 100} {
		for i := 0; i < 20; i++ {
			c := s.CoprimeWith(n)
			assert.Equal(t, 1, gcd(c, n), "n=%d c=%d", n, c)
		}
	}
	assert.Equal(t, 1, s.CoprimeWith(1))
}

func TestOddInt32(t *testing.T) {
	s := New(42)
	for i := 0; i < 100; i++ {
		assert.EqualValues(t, 1, s.OddInt32()&1)
	}
}
