// Package ir provides line-level utilities for working with textual LLVM-style
// intermediate representation: function discovery, label parsing, temp naming,
// SSA renumbering, and a small evaluator used to check generated snippets.
package ir

import (
	"regexp"
	"strings"
)

var (
	labelRe        = regexp.MustCompile(`^([\w.]+):`)
	funcNameRe     = regexp.MustCompile(`define\s+\S+\s+@([\w.]+)\s*\(`)
	funcAnyNameRe  = regexp.MustCompile(`@([\w.$]+)\s*\(`)
	defineHeaderRe = regexp.MustCompile(`^\s*define\b`)
)

// Function is a contiguous region of module lines holding one function body.
// Start is the line with the define header, End the line with the closing brace.
type Function struct {
	Name  string
	Start int
	End   int
}

// FindFunctions scans module lines and returns every function region. Nesting
// is tracked by brace depth so braces inside the body do not end the region.
func FindFunctions(lines []string) []Function {
	var funcs []Function
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !defineHeaderRe.MatchString(line) || !strings.Contains(line, "{") {
			continue
		}
		name := ""
		if m := funcNameRe.FindStringSubmatch(line); m != nil {
			name = m[1]
		} else if m := funcAnyNameRe.FindStringSubmatch(line); m != nil {
			name = m[1]
		}

		depth := strings.Count(line, "{") - strings.Count(line, "}")
		end := i
		for j := i + 1; j < len(lines) && depth > 0; j++ {
			depth += strings.Count(lines[j], "{") - strings.Count(lines[j], "}")
			end = j
		}
		funcs = append(funcs, Function{Name: name, Start: i, End: end})
		i = end
	}
	return funcs
}

// ParseLabel returns the label name if the trimmed line opens a basic block.
func ParseLabel(line string) (string, bool) {
	m := labelRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// IsDefineHeader reports whether the line opens a function definition.
func IsDefineHeader(line string) bool {
	return defineHeaderRe.MatchString(line) && strings.Contains(line, "{")
}

// SplitLines splits source text into lines without trailing newline artifacts.
func SplitLines(src string) []string {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	return strings.Split(src, "\n")
}

// JoinLines reassembles module lines into source text.
func JoinLines(lines []string) string {
	return strings.Join(lines, "\n")
}

// Indent returns the leading whitespace of a line.
func Indent(line string) string {
	trimmed := strings.TrimLeft(line, " \t")
	return line[:len(line)-len(trimmed)]
}

// ReplaceToken substitutes whole-token occurrences of an SSA name or label.
// Plain string replacement would corrupt names sharing a prefix, so the match
// requires a non-identifier character on both sides.
func ReplaceToken(line, old, new string) string {
	if !strings.Contains(line, old) {
		return line
	}
	re := regexp.MustCompile(regexp.QuoteMeta(old) + `([^\w.]|$)`)
	return re.ReplaceAllString(line, new+"$1")
}

// FirstDefineIndex returns the index of the first function definition line, or
// len(lines) when the module declares no functions. Global tables are emitted
// just above this point.
func FirstDefineIndex(lines []string) int {
	for i, line := range lines {
		if IsDefineHeader(line) {
			return i
		}
	}
	return len(lines)
}
