package transformer

import (
	"fmt"

	"github.com/basicacc/morphect-sub000/internal/config"
	"github.com/basicacc/morphect-sub000/internal/ir"
)

// indexCodec obfuscates small table indices. encode maps a real index to its
// stored form at build time; decodeLines emits the instructions recovering it
// at runtime. encodeLines exists for indices only known at runtime, where the
// whole round trip happens in emitted code.
type indexCodec struct {
	strategy string
	size     int
	key      int32
	a        int // linear multiplier, coprime with size
	b        int // linear offset
	aInv     int // modular inverse of a
}

func newIndexCodec(ctx *Context, strategy string, size int) *indexCodec {
	c := &indexCodec{strategy: strategy, size: size}
	switch strategy {
	case config.IndexStrategyXOR, config.IndexStrategyMBA:
		// Small positive keys keep the encoded constants unremarkable.
		c.key = int32(ctx.Rnd.Between(1, 1<<16))
	case config.IndexStrategyLinear:
		c.a = ctx.Rnd.CoprimeWith(size) % size
		if c.a == 0 {
			c.a = 1
		}
		c.b = ctx.Rnd.IntN(size)
		c.aInv = modInverse(c.a, size)
	}
	return c
}

// encode returns the stored form of idx.
func (c *indexCodec) encode(idx int) int {
	switch c.strategy {
	case config.IndexStrategyXOR, config.IndexStrategyMBA:
		return idx ^ int(c.key)
	case config.IndexStrategyLinear:
		// decode computes (a*e+b) mod size, so e = aInv*(idx-b) mod size.
		return ((c.aInv*(idx-c.b+c.size))%c.size + c.size) % c.size
	}
	return idx
}

// decodeLines emits instructions turning the encoded value in src into the
// real table index.
func (c *indexCodec) decodeLines(naming *ir.NamingContext, src string) ([]string, string) {
	switch c.strategy {
	case config.IndexStrategyXOR:
		idx := naming.Temp("_ib_tmp")
		return []string{fmt.Sprintf("  %s = xor i32 %s, %d", idx, src, c.key)}, idx

	case config.IndexStrategyMBA:
		// a^k rewritten as (a|k)-(a&k).
		t0 := naming.Temp("_ib_tmp")
		t1 := naming.Temp("_ib_tmp")
		idx := naming.Temp("_ib_tmp")
		return []string{
			fmt.Sprintf("  %s = or i32 %s, %d", t0, src, c.key),
			fmt.Sprintf("  %s = and i32 %s, %d", t1, src, c.key),
			fmt.Sprintf("  %s = sub i32 %s, %s", idx, t0, t1),
		}, idx

	case config.IndexStrategyLinear:
		t0 := naming.Temp("_ib_tmp")
		t1 := naming.Temp("_ib_tmp")
		idx := naming.Temp("_ib_tmp")
		return []string{
			fmt.Sprintf("  %s = mul i32 %s, %d", t0, src, c.a),
			fmt.Sprintf("  %s = add i32 %s, %d", t1, t0, c.b),
			fmt.Sprintf("  %s = urem i32 %s, %d", idx, t1, c.size),
		}, idx
	}
	return nil, src
}

// encodeLines emits instructions producing the encoded form of a runtime
// index in src. Operands stay within [0, 2*size*size), so 32-bit arithmetic
// never wraps for any realistic table.
func (c *indexCodec) encodeLines(naming *ir.NamingContext, src string) ([]string, string) {
	switch c.strategy {
	case config.IndexStrategyXOR, config.IndexStrategyMBA:
		enc := naming.Temp("_ib_tmp")
		return []string{fmt.Sprintf("  %s = xor i32 %s, %d", enc, src, c.key)}, enc

	case config.IndexStrategyLinear:
		t0 := naming.Temp("_ib_tmp")
		t1 := naming.Temp("_ib_tmp")
		enc := naming.Temp("_ib_tmp")
		return []string{
			fmt.Sprintf("  %s = add i32 %s, %d", t0, src, c.size-c.b%c.size),
			fmt.Sprintf("  %s = mul i32 %s, %d", t1, t0, c.aInv),
			fmt.Sprintf("  %s = urem i32 %s, %d", enc, t1, c.size),
		}, enc
	}
	return nil, src
}

// modInverse returns a^-1 mod n for gcd(a, n) == 1.
func modInverse(a, n int) int {
	t, newT := 0, 1
	r, newR := n, a%n
	for newR != 0 {
		q := r / newR
		t, newT = newT, t-q*newT
		r, newR = newR, r-q*newR
	}
	if t < 0 {
		t += n
	}
	return t
}
