package transformer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/basicacc/morphect-sub000/internal/config"
	"github.com/basicacc/morphect-sub000/internal/ir"
	"github.com/basicacc/morphect-sub000/internal/passes"
)

var callRe = regexp.MustCompile(`^(\s*)(?:(%[\w.]+)\s*=\s*)?(?:tail\s+)?call\s+([\w.*]+)\s+@([\w.$]+)\((.*)\)\s*$`)

// callSite is one rewritable direct call.
type callSite struct {
	lineIdx int
	indent  string
	result  string // "" for void calls
	retType string
	callee  string
	args    string
	sig     string // e.g. "i32 (i32, i32)"
}

// addrCodec obfuscates function addresses stored in the table. The stored
// form is a constant expression over ptrtoint; the decode side is emitted at
// every call site.
type addrCodec struct {
	strategy string
	k1, k2   uint64
	rot      uint // rotate amount, 1..63
}

func newAddrCodec(ctx *Context) *addrCodec {
	c := &addrCodec{strategy: ctx.Config.Obfuscation.IndirectCall.AddressStrategy}
	c.k1 = uint64(uint32(ctx.Rnd.NonZeroInt32()))<<32 | uint64(uint32(ctx.Rnd.NonZeroInt32()))
	c.k2 = uint64(uint32(ctx.Rnd.NonZeroInt32()))<<32 | uint64(uint32(ctx.Rnd.NonZeroInt32()))
	c.rot = uint(ctx.Rnd.Between(1, 63))
	return c
}

// apply is the numeric twin of the stored constant expression.
func (c *addrCodec) apply(addr uint64) uint64 {
	switch c.strategy {
	case config.AddressStrategyXOR:
		return addr ^ c.k1
	case config.AddressStrategyAdd:
		return addr + c.k1
	case config.AddressStrategyXORAdd:
		return (addr ^ c.k1) + c.k2
	case config.AddressStrategyRotateXOR:
		return ((addr << c.rot) | (addr >> (64 - c.rot))) ^ c.k1
	}
	return addr
}

// invert is the numeric twin of the emitted decode instructions.
func (c *addrCodec) invert(v uint64) uint64 {
	switch c.strategy {
	case config.AddressStrategyXOR:
		return v ^ c.k1
	case config.AddressStrategyAdd:
		return v - c.k1
	case config.AddressStrategyXORAdd:
		return (v - c.k2) ^ c.k1
	case config.AddressStrategyRotateXOR:
		u := v ^ c.k1
		return (u >> c.rot) | (u << (64 - c.rot))
	}
	return v
}

// encodeExpr renders the stored table entry for one callee as an i64 constant
// expression mirroring apply.
func (c *addrCodec) encodeExpr(sig, callee string) string {
	pt := fmt.Sprintf("i64 ptrtoint (%s* @%s to i64)", sig, callee)
	switch c.strategy {
	case config.AddressStrategyXOR:
		return fmt.Sprintf("i64 xor (%s, i64 %d)", pt, c.k1)
	case config.AddressStrategyAdd:
		return fmt.Sprintf("i64 add (%s, i64 %d)", pt, c.k1)
	case config.AddressStrategyXORAdd:
		return fmt.Sprintf("i64 add (i64 xor (%s, i64 %d), i64 %d)", pt, c.k1, c.k2)
	case config.AddressStrategyRotateXOR:
		rotated := fmt.Sprintf("i64 or (i64 shl (%s, i64 %d), i64 lshr (%s, i64 %d))",
			pt, c.rot, pt, 64-c.rot)
		return fmt.Sprintf("i64 xor (%s, i64 %d)", rotated, c.k1)
	}
	return pt
}

// decodeLines emits the instructions recovering a callable pointer of the
// given signature from the loaded table value in src.
func (c *addrCodec) decodeLines(naming *ir.NamingContext, src, sig string) ([]string, string) {
	var out []string
	val := src
	emit := func(format string, args ...interface{}) string {
		dst := naming.Temp("_ic_tmp")
		out = append(out, fmt.Sprintf("  "+format, append([]interface{}{dst}, args...)...))
		return dst
	}

	switch c.strategy {
	case config.AddressStrategyXOR:
		val = emit("%s = xor i64 %s, %d", val, c.k1)
	case config.AddressStrategyAdd:
		val = emit("%s = sub i64 %s, %d", val, c.k1)
	case config.AddressStrategyXORAdd:
		val = emit("%s = sub i64 %s, %d", val, c.k2)
		val = emit("%s = xor i64 %s, %d", val, c.k1)
	case config.AddressStrategyRotateXOR:
		val = emit("%s = xor i64 %s, %d", val, c.k1)
		hi := emit("%s = lshr i64 %s, %d", val, c.rot)
		lo := emit("%s = shl i64 %s, %d", val, 64-c.rot)
		val = emit("%s = or i64 %s, %s", hi, lo)
	}

	ptr := emit("%s = inttoptr i64 %s to %s*", val, sig)
	return out, ptr
}

// IndirectCallPass routes direct calls through a module-wide table of
// obfuscated function addresses.
type IndirectCallPass struct {
	ctx *Context
}

// NewIndirectCallPass returns the call indirection pass.
func NewIndirectCallPass(ctx *Context) *IndirectCallPass { return &IndirectCallPass{ctx: ctx} }

func (p *IndirectCallPass) Name() string      { return "indirect-call" }
func (p *IndirectCallPass) Kind() passes.Kind { return passes.KindTextualIR }
func (p *IndirectCallPass) Priority() int     { return passes.PriorityControlFlow + 60 }
func (p *IndirectCallPass) Enabled() bool {
	return p.ctx.Config.Obfuscation.IndirectCall.Enabled
}
func (p *IndirectCallPass) Dependencies() []string { return nil }

func (p *IndirectCallPass) Apply(lines []string) ([]string, passes.Status, error) {
	sites := p.collectSites(lines)
	if len(sites) == 0 {
		return lines, passes.NotApplicable, nil
	}

	icc := p.ctx.Config.Obfuscation.IndirectCall
	codec := newAddrCodec(p.ctx)

	// The configured name is a bare identifier; globals carry the @ sigil.
	table := icc.TableName
	if !strings.HasPrefix(table, "@") {
		table = "@" + table
	}

	// One table slot per distinct callee signature pair, plus decoys.
	type slot struct {
		callee string
		sig    string
	}
	var slots []slot
	slotIdx := make(map[slot]int)
	for _, s := range sites {
		key := slot{s.callee, s.sig}
		if _, ok := slotIdx[key]; !ok {
			slotIdx[key] = len(slots)
			slots = append(slots, key)
		}
	}
	if icc.AddDecoys {
		real := len(slots)
		count := p.ctx.Rnd.Between(icc.MinDecoyCount, icc.MaxDecoyCount)
		for i := 0; i < count; i++ {
			slots = append(slots, slots[p.ctx.Rnd.IntN(real)])
		}
		p.ctx.Stats.Add("call_decoy_entries", count)
	}
	if icc.ShuffleEntries {
		p.ctx.Rnd.Shuffle(len(slots), func(i, j int) {
			slots[i], slots[j] = slots[j], slots[i]
		})
	}
	// Recompute positions after decoys and shuffling; with aliased decoy
	// entries any occurrence resolves to the same callee.
	slotIdx = make(map[slot]int)
	for i, s := range slots {
		if _, ok := slotIdx[s]; !ok {
			slotIdx[s] = i
		}
	}

	out := make([]string, len(lines))
	copy(out, lines)
	for _, s := range sites {
		idx := slotIdx[slot{s.callee, s.sig}]
		var repl []string
		gep := p.ctx.Naming.Temp("_ic_tmp")
		loaded := p.ctx.Naming.Temp("_ic_tmp")
		size := len(slots)
		repl = append(repl, fmt.Sprintf("%s%s = getelementptr inbounds [%d x i64], [%d x i64]* %s, i32 0, i32 %d",
			s.indent, gep, size, size, table, idx))
		repl = append(repl, fmt.Sprintf("%s%s = load i64, i64* %s", s.indent, loaded, gep))
		decode, fptr := codec.decodeLines(p.ctx.Naming, loaded, s.sig)
		for _, d := range decode {
			repl = append(repl, s.indent+strings.TrimSpace(d))
		}
		call := fmt.Sprintf("%scall %s %s(%s)", s.indent, s.retType, fptr, s.args)
		if s.result != "" {
			call = fmt.Sprintf("%s%s = call %s %s(%s)", s.indent, s.result, s.retType, fptr, s.args)
		}
		repl = append(repl, call)
		out[s.lineIdx] = strings.Join(repl, "\n")
		p.ctx.Stats.Inc("calls_indirected")
	}
	out = ir.SplitLines(ir.JoinLines(out))

	// Table global above the first function.
	entries := make([]string, len(slots))
	for i, s := range slots {
		entries[i] = codec.encodeExpr(s.sig, s.callee)
	}
	decl := fmt.Sprintf("%s = private unnamed_addr constant [%d x i64] [%s]",
		table, len(slots), strings.Join(entries, ", "))
	at := ir.FirstDefineIndex(out)
	var final []string
	final = append(final, out[:at]...)
	final = append(final, decl, "")
	final = append(final, out[at:]...)

	p.ctx.Stats.Inc("function_tables_emitted")
	return final, passes.Success, nil
}

// collectSites finds every direct call the configuration allows rewriting.
func (p *IndirectCallPass) collectSites(lines []string) []callSite {
	icc := p.ctx.Config.Obfuscation.IndirectCall
	var sites []callSite
	for i, line := range lines {
		m := callRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		indent, result, retType, callee, args := m[1], m[2], m[3], m[4], m[5]
		if icc.SkipIntrinsics && strings.HasPrefix(callee, "llvm.") {
			continue
		}
		if strings.Contains(args, "...") {
			continue
		}
		if excluded(icc, callee) {
			continue
		}
		if !p.ctx.Rnd.Decide(icc.Probability) {
			p.ctx.Stats.Inc("calls_skipped_probability")
			continue
		}
		sites = append(sites, callSite{
			lineIdx: i,
			indent:  indent,
			result:  result,
			retType: retType,
			callee:  callee,
			args:    args,
			sig:     callSignature(retType, args),
		})
	}
	return sites
}

func excluded(icc config.IndirectCallConfig, callee string) bool {
	for _, name := range icc.ExcludeFunctions {
		if name == callee {
			return true
		}
	}
	if len(icc.IncludeOnly) > 0 {
		for _, name := range icc.IncludeOnly {
			if name == callee {
				return false
			}
		}
		return true
	}
	return false
}

// callSignature derives the function pointer type from a call site: the
// return type plus the leading type token of every argument.
func callSignature(retType, args string) string {
	var types []string
	for _, arg := range splitArgs(args) {
		fields := strings.Fields(arg)
		if len(fields) > 0 {
			types = append(types, fields[0])
		}
	}
	return fmt.Sprintf("%s (%s)", retType, strings.Join(types, ", "))
}

// splitArgs splits a call argument list on top-level commas.
func splitArgs(args string) []string {
	args = strings.TrimSpace(args)
	if args == "" {
		return nil
	}
	var out []string
	depth := 0
	start := 0
	for i, r := range args {
		switch r {
		case '(', '[', '{', '<':
			depth++
		case ')', ']', '}', '>':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(args[start:i]))
				start = i + 1
			}
		}
	}
	out = append(out, strings.TrimSpace(args[start:]))
	return out
}
