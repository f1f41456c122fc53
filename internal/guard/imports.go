package guard

import (
	"strings"

	"github.com/michaelbrown/labrunner/internal/execution"
)

// DefaultModules are the top-level modules ImportChecker refuses.
func DefaultModules() []string {
	return []string{
		"os", "sys", "subprocess", "shutil", "socket", "ctypes",
		"importlib", "multiprocessing", "pathlib", "signal", "pty",
	}
}

// DefaultBuiltins are the call targets ImportChecker refuses.
func DefaultBuiltins() []string {
	return []string{"__import__", "open", "exec", "eval", "compile", "breakpoint"}
}

// ImportChecker understands Python import statements, so it does not trip on
// comments or string literals and catches `import sys as s` or
// `import math, os`, which the substring denylist handles inconsistently.
type ImportChecker struct {
	modules  map[string]struct{}
	builtins []string
}

// NewImportChecker builds a checker; empty arguments select the defaults.
func NewImportChecker(modules, builtins []string) *ImportChecker {
	if len(modules) == 0 {
		modules = DefaultModules()
	}
	if len(builtins) == 0 {
		builtins = DefaultBuiltins()
	}
	set := make(map[string]struct{}, len(modules))
	for _, m := range modules {
		set[m] = struct{}{}
	}
	return &ImportChecker{modules: set, builtins: append([]string(nil), builtins...)}
}

func (c *ImportChecker) Screen(source string) error {
	code := stripStringsAndComments(source)

	for _, line := range strings.Split(code, "\n") {
		for _, stmt := range strings.Split(line, ";") {
			if mod, ok := c.forbiddenImport(strings.TrimSpace(stmt)); ok {
				return &execution.PolicyViolation{Pattern: "import " + mod}
			}
		}
	}

	for _, name := range c.builtins {
		if callsName(code, name) {
			return &execution.PolicyViolation{Pattern: name + "("}
		}
	}
	return nil
}

func (c *ImportChecker) forbiddenImport(stmt string) (string, bool) {
	switch {
	case strings.HasPrefix(stmt, "import "), strings.HasPrefix(stmt, "import\t"):
		for _, part := range strings.Split(stmt[len("import"):], ",") {
			fields := strings.Fields(part)
			if len(fields) == 0 {
				continue
			}
			if c.denied(fields[0]) {
				return fields[0], true
			}
		}
	case strings.HasPrefix(stmt, "from "), strings.HasPrefix(stmt, "from\t"):
		fields := strings.Fields(stmt)
		if len(fields) >= 2 && c.denied(fields[1]) {
			return fields[1], true
		}
	}
	return "", false
}

func (c *ImportChecker) denied(module string) bool {
	if strings.HasPrefix(module, ".") {
		return false
	}
	root, _, _ := strings.Cut(module, ".")
	_, ok := c.modules[root]
	return ok
}

// callsName reports whether name appears as an identifier followed by "(".
func callsName(code, name string) bool {
	for offset := 0; ; {
		idx := strings.Index(code[offset:], name)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(name)
		offset = end

		if start > 0 && isIdentByte(code[start-1]) {
			continue
		}
		rest := strings.TrimLeft(code[end:], " \t")
		if strings.HasPrefix(rest, "(") {
			return true
		}
	}
}

func isIdentByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// stripStringsAndComments blanks out string literal bodies and comments while
// keeping line structure intact.
func stripStringsAndComments(src string) string {
	var b strings.Builder
	b.Grow(len(src))

	for i := 0; i < len(src); {
		ch := src[i]
		switch {
		case ch == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case ch == '\'' || ch == '"':
			quote := src[i : i+1]
			if strings.HasPrefix(src[i:], strings.Repeat(quote, 3)) {
				quote = strings.Repeat(quote, 3)
			}
			i += len(quote)
			b.WriteString(`""`)
			for i < len(src) {
				if src[i] == '\\' {
					i += 2
					continue
				}
				if strings.HasPrefix(src[i:], quote) {
					i += len(quote)
					break
				}
				if src[i] == '\n' {
					if len(quote) == 1 {
						break
					}
					b.WriteByte('\n')
				}
				i++
			}
		default:
			b.WriteByte(ch)
			i++
		}
	}
	return b.String()
}
