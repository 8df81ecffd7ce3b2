// Package rng provides the seedable random source shared by all passes.
// A fixed seed makes every transformation decision reproducible.
package rng

import (
	"math/rand"
	"time"
)

// Source wraps math/rand with the helpers the transformation passes need.
// It is not safe for concurrent use; each obfuscation run owns one Source.
type Source struct {
	r    *rand.Rand
	seed int64
}

// New returns a Source seeded with the given value. A seed of zero selects a
// time-based seed.
func New(seed int64) *Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Source{r: rand.New(rand.NewSource(seed)), seed: seed}
}

// Seed returns the effective seed, useful for reproducing a run.
func (s *Source) Seed() int64 { return s.seed }

// IntN returns a uniform value in [0, n). n must be positive.
func (s *Source) IntN(n int) int { return s.r.Intn(n) }

// Between returns a uniform value in [lo, hi] inclusive.
func (s *Source) Between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.r.Intn(hi-lo+1)
}

// Int32 returns a uniform 32-bit value, used for obfuscation keys.
func (s *Source) Int32() int32 { return int32(s.r.Uint32()) }

// NonZeroInt32 returns a uniform 32-bit value guaranteed not to be zero.
func (s *Source) NonZeroInt32() int32 {
	for {
		if v := s.Int32(); v != 0 {
			return v
		}
	}
}

// Decide returns true with the given probability in [0, 1].
func (s *Source) Decide(probability float64) bool {
	if probability >= 1 {
		return true
	}
	if probability <= 0 {
		return false
	}
	return s.r.Float64() < probability
}

// Shuffle permutes n elements using the provided swap function.
func (s *Source) Shuffle(n int, swap func(i, j int)) {
	s.r.Shuffle(n, swap)
}

// ChooseWeighted returns an index into weights drawn proportionally to the
// weight values. Zero or negative total weight falls back to index 0.
func (s *Source) ChooseWeighted(weights []int) int {
	total := 0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return 0
	}
	pick := s.r.Intn(total)
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		if pick < w {
			return i
		}
		pick -= w
	}
	return len(weights) - 1
}

// OddInt32 returns a random odd 32-bit value, always coprime with any power
// of two table size.
func (s *Source) OddInt32() int32 {
	return s.Int32() | 1
}

// CoprimeWith returns a positive value coprime with n, used as the multiplier
// in linear index transforms.
func (s *Source) CoprimeWith(n int) int {
	if n <= 1 {
		return 1
	}
	for {
		candidate := s.Between(1, n*4+1)
		if gcd(candidate, n) == 1 {
			return candidate
		}
	}
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}
