package guard

import (
	"errors"
	"testing"

	"github.com/michaelbrown/labrunner/internal/execution"
)

func violation(t *testing.T, err error) string {
	t.Helper()
	var pv *execution.PolicyViolation
	if !errors.As(err, &pv) {
		t.Fatalf("expected PolicyViolation, got %v", err)
	}
	return pv.Pattern
}

func TestDenylistDefaults(t *testing.T) {
	g := NewDenylist(DefaultPatterns())

	tests := []struct {
		name    string
		source  string
		pattern string
	}{
		{"import os", "import os\nprint(os.listdir('.'))", "import os"},
		{"from sys", "from sys import argv", "from sys"},
		{"dunder import", "m = __import__('os')", "__import__"},
		{"open call", "f = open('x.txt')", "open("},
		{"inside comment", "# import subprocess\nprint(1)", "import subprocess"},
		{"inside string", "print('import sys')", "import sys"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := violation(t, g.Screen(tt.source)); got != tt.pattern {
				t.Errorf("pattern = %q, want %q", got, tt.pattern)
			}
		})
	}
}

func TestDenylistFirstMatchInPolicyOrder(t *testing.T) {
	g := NewDenylist([]string{"open(", "import os"})
	src := "import os\nopen('f')"
	if got := violation(t, g.Screen(src)); got != "open(" {
		t.Errorf("pattern = %q, want open( (policy order, not source order)", got)
	}
}

func TestDenylistAllowsCleanSource(t *testing.T) {
	g := NewDenylist(DefaultPatterns())
	for _, src := range []string{
		`print("Hello, World!")`,
		"import math\nprint(math.sqrt(16))",
		"IMPORT OS",
	} {
		if err := g.Screen(src); err != nil {
			t.Errorf("Screen(%q) = %v, want nil", src, err)
		}
	}
}

func TestImportChecker(t *testing.T) {
	g := NewImportChecker(nil, nil)

	rejected := []struct {
		source  string
		pattern string
	}{
		{"import math, os", "import os"},
		{"import sys as s", "import sys"},
		{"from os.path import join", "import os.path"},
		{"x = 1; import subprocess", "import subprocess"},
		{"m = __import__ ('os')", "__import__("},
		{"data = open('f').read()", "open("},
		{"eval('1+1')", "eval("},
	}
	for _, tt := range rejected {
		if got := violation(t, g.Screen(tt.source)); got != tt.pattern {
			t.Errorf("Screen(%q) pattern = %q, want %q", tt.source, got, tt.pattern)
		}
	}

	allowed := []string{
		"# import os\nprint('hi')",
		"print('import sys')",
		"s = \"\"\"\nimport subprocess\n\"\"\"\nprint(len(s))",
		"import math\nprint(math.pi)",
		"from . import helpers",
		"reopen = 1\nprint(reopen)",
		"def evaluate(x):\n    return x\nprint(evaluate(2))",
	}
	for _, src := range allowed {
		if err := g.Screen(src); err != nil {
			t.Errorf("Screen(%q) = %v, want nil", src, err)
		}
	}
}

func TestNewStrategies(t *testing.T) {
	for _, tc := range []struct {
		strategy string
		want     any
	}{
		{"", &Denylist{}},
		{StrategyDenylist, &Denylist{}},
		{StrategyImports, &ImportChecker{}},
		{StrategyNone, Noop{}},
	} {
		g, err := New(Config{Strategy: tc.strategy})
		if err != nil {
			t.Fatalf("New(%q): %v", tc.strategy, err)
		}
		switch tc.want.(type) {
		case *Denylist:
			if _, ok := g.(*Denylist); !ok {
				t.Errorf("New(%q) = %T", tc.strategy, g)
			}
		case *ImportChecker:
			if _, ok := g.(*ImportChecker); !ok {
				t.Errorf("New(%q) = %T", tc.strategy, g)
			}
		case Noop:
			if _, ok := g.(Noop); !ok {
				t.Errorf("New(%q) = %T", tc.strategy, g)
			}
		}
	}

	if _, err := New(Config{Strategy: "ast"}); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestNoopAcceptsEverything(t *testing.T) {
	if err := (Noop{}).Screen("import os"); err != nil {
		t.Errorf("Noop.Screen = %v", err)
	}
}
