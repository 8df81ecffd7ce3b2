package ir

import (
	"fmt"
	"math/bits"
	"regexp"
	"strconv"
	"strings"
)

var (
	binOpRe  = regexp.MustCompile(`^(%[\w.]+)\s*=\s*(\w+)(?:\s+nsw|\s+nuw)*\s+i(?:1|32|64)\s+([^,]+),\s*(.+)$`)
	icmpRe   = regexp.MustCompile(`^(%[\w.]+)\s*=\s*icmp\s+(\w+)\s+i(?:1|32|64)\s+([^,]+),\s*(.+)$`)
	selectRe = regexp.MustCompile(`^(%[\w.]+)\s*=\s*select\s+i1\s+([^,]+),\s*i(?:1|32|64)\s+([^,]+),\s*i(?:1|32|64)\s+(.+)$`)
)

// Eval executes a straight-line sequence of arithmetic and comparison
// instructions against env, mutating env with every defined temp. It exists so
// tests can prove generated snippets compute what their construction promises.
// Unknown instructions produce an error rather than a silent skip.
func Eval(lines []string, env map[string]int32) error {
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}

		if m := icmpRe.FindStringSubmatch(line); m != nil {
			a, err := operand(m[3], env)
			if err != nil {
				return err
			}
			b, err := operand(m[4], env)
			if err != nil {
				return err
			}
			res, err := icmp(m[2], a, b)
			if err != nil {
				return err
			}
			env[m[1]] = res
			continue
		}

		if m := selectRe.FindStringSubmatch(line); m != nil {
			cond, err := operand(m[2], env)
			if err != nil {
				return err
			}
			tv, err := operand(m[3], env)
			if err != nil {
				return err
			}
			fv, err := operand(m[4], env)
			if err != nil {
				return err
			}
			if cond != 0 {
				env[m[1]] = tv
			} else {
				env[m[1]] = fv
			}
			continue
		}

		if m := binOpRe.FindStringSubmatch(line); m != nil {
			a, err := operand(m[3], env)
			if err != nil {
				return err
			}
			b, err := operand(m[4], env)
			if err != nil {
				return err
			}
			res, err := binOp(m[2], a, b)
			if err != nil {
				return fmt.Errorf("%s: %w", line, err)
			}
			env[m[1]] = res
			continue
		}

		return fmt.Errorf("cannot evaluate instruction: %s", line)
	}
	return nil
}

func operand(tok string, env map[string]int32) (int32, error) {
	tok = strings.TrimSpace(tok)
	if strings.HasPrefix(tok, "%") {
		v, ok := env[tok]
		if !ok {
			return 0, fmt.Errorf("undefined value %s", tok)
		}
		return v, nil
	}
	if tok == "true" {
		return 1, nil
	}
	if tok == "false" {
		return 0, nil
	}
	n, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad operand %q: %w", tok, err)
	}
	return int32(n), nil
}

func binOp(op string, a, b int32) (int32, error) {
	switch op {
	case "add":
		return a + b, nil
	case "sub":
		return a - b, nil
	case "mul":
		return a * b, nil
	case "and":
		return a & b, nil
	case "or":
		return a | b, nil
	case "xor":
		return a ^ b, nil
	case "shl":
		return a << (uint32(b) & 31), nil
	case "lshr":
		return int32(uint32(a) >> (uint32(b) & 31)), nil
	case "ashr":
		return a >> (uint32(b) & 31), nil
	case "srem":
		if b == 0 {
			return 0, fmt.Errorf("srem by zero")
		}
		return a % b, nil
	case "urem":
		if b == 0 {
			return 0, fmt.Errorf("urem by zero")
		}
		return int32(uint32(a) % uint32(b)), nil
	case "udiv":
		if b == 0 {
			return 0, fmt.Errorf("udiv by zero")
		}
		return int32(uint32(a) / uint32(b)), nil
	case "rotl":
		return int32(bits.RotateLeft32(uint32(a), int(b))), nil
	}
	return 0, fmt.Errorf("unsupported op %q", op)
}

func icmp(pred string, a, b int32) (int32, error) {
	var r bool
	switch pred {
	case "eq":
		r = a == b
	case "ne":
		r = a != b
	case "slt":
		r = a < b
	case "sle":
		r = a <= b
	case "sgt":
		r = a > b
	case "sge":
		r = a >= b
	case "ult":
		r = uint32(a) < uint32(b)
	case "ule":
		r = uint32(a) <= uint32(b)
	case "ugt":
		r = uint32(a) > uint32(b)
	case "uge":
		r = uint32(a) >= uint32(b)
	default:
		return 0, fmt.Errorf("unsupported icmp predicate %q", pred)
	}
	if r {
		return 1, nil
	}
	return 0, nil
}
