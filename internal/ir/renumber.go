package ir

import (
	"fmt"
	"regexp"
)

var (
	numericDefRe = regexp.MustCompile(`^\s*(%\d+)\s*=`)
	numericRefRe = regexp.MustCompile(`%\d+\b`)
)

// RenumberFunction rewrites the numeric SSA temps of one function region so
// their definition order is strictly sequential again, which transforms that
// insert or delete instructions break. Named temps are left untouched.
// The mapping starts at base, the number of unnamed values the function
// header already consumes.
func RenumberFunction(lines []string, start, end, base int) {
	mapping := make(map[string]string)
	next := base
	for i := start; i <= end && i < len(lines); i++ {
		m := numericDefRe.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		mapping[m[1]] = fmt.Sprintf("%%%d", next)
		next++
	}
	if len(mapping) == 0 {
		return
	}

	// A single regexp pass per line never rescans replaced text, so the
	// mapping can be applied directly even when ranges overlap.
	for i := start; i <= end && i < len(lines); i++ {
		lines[i] = numericRefRe.ReplaceAllStringFunc(lines[i], func(tok string) string {
			if repl, ok := mapping[tok]; ok {
				return repl
			}
			return tok
		})
	}
}

// RenumberModule renumbers every function region in the module. Unnamed
// parameters in the define header occupy %0..%k-1 and an unnamed entry block
// takes %k, so body temps in such functions start after them.
func RenumberModule(lines []string) {
	for _, fn := range FindFunctions(lines) {
		base := len(numericRefRe.FindAllString(lines[fn.Start], -1))
		if base > 0 && fn.Start < fn.End {
			if _, labeled := ParseLabel(lines[fn.Start+1]); !labeled {
				base++
			}
		}
		RenumberFunction(lines, fn.Start+1, fn.End, base)
	}
}
