package validator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestValidator(t *testing.T, opts ...Option) *Validator {
	t.Helper()
	return New(zaptest.NewLogger(t), opts...)
}

func TestValidateAcceptsCleanCode(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name string
		code string
	}{
		{"Arithmetic", "x = 1 + 2\nprint(x)\n"},
		{"AllowedImport", "import math\nprint(math.sqrt(2))\n"},
		{"AllowedFromImport", "from statistics import mean\nprint(mean([1, 2]))\n"},
		{"NumpyPandas", "import numpy\nimport pandas\n"},
		{"ScratchWrite", "f = open('/scratch/result.json', 'w')\nf.write('{}')\nf.close()\n"},
		{"DottedAllowedImport", "import collections.abc\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, violations := v.Validate(tt.code)
			assert.True(t, ok)
			assert.Empty(t, violations)
		})
	}
}

func TestValidateRejections(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name string
		code string
		kind RuleKind
	}{
		{"BlockedImport", "import os\n", RuleBlockedImport},
		{"BlockedDottedImport", "import os.path\n", RuleBlockedImport},
		{"BlockedFromImport", "from subprocess import run\n", RuleBlockedImport},
		{"RelativeImport", "from . import helpers\n", RuleBlockedImport},
		{"Eval", "eval('1+1')\n", RuleDynamicImport},
		{"Exec", "exec('x = 1')\n", RuleDynamicImport},
		{"Compile", "compile('x', 'f', 'exec')\n", RuleDynamicImport},
		{"DunderImport", "__import__('os')\n", RuleDynamicImport},
		{"AttributeChainEval", "builtins.eval('1+1')\n", RuleDynamicImport},
		{"OpenOutsideScratch", "open('/etc/passwd')\n", RuleDisallowedFileAccess},
		{"OpenNonLiteral", "p = '/scratch/x'\nopen(p)\n", RuleDisallowedFileAccess},
		{"OpenTraversal", "open('/scratch/../etc/passwd')\n", RuleDisallowedFileAccess},
		{"OpenNoArgs", "open()\n", RuleDisallowedFileAccess},
		{"IndirectOpen", "pathlib.Path('/scratch/x').open()\n", RuleDisallowedFileAccess},
		{"NetworkImport", "import socket\n", RuleBlockedImport},
		{"NetworkReference", "s = socket\n", RuleBlockedCall},
		{"UrllibImport", "from urllib.request import urlopen\n", RuleBlockedImport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, violations := v.Validate(tt.code)
			assert.False(t, ok)
			require.NotEmpty(t, violations)

			found := false
			for _, violation := range violations {
				if violation.Kind == tt.kind {
					found = true
				}
			}
			assert.True(t, found, "expected a %s violation, got %v", tt.kind, violations)
		})
	}
}

func TestValidateSyntaxError(t *testing.T) {
	v := newTestValidator(t)

	ok, violations := v.Validate("def broken(:\n")
	assert.False(t, ok)
	require.Len(t, violations, 1)
	assert.Equal(t, RuleSyntaxError, violations[0].Kind)
}

func TestValidateCollectsAllViolations(t *testing.T) {
	v := newTestValidator(t)

	code := "import os\nimport socket\neval('1')\nopen('/etc/passwd')\n"
	ok, violations := v.Validate(code)
	assert.False(t, ok)

	// One per offending construct, not short-circuited at the first.
	kinds := map[RuleKind]int{}
	for _, violation := range violations {
		kinds[violation.Kind]++
	}
	assert.GreaterOrEqual(t, kinds[RuleBlockedImport], 2)
	assert.Equal(t, 1, kinds[RuleDynamicImport])
	assert.Equal(t, 1, kinds[RuleDisallowedFileAccess])
}

func TestValidateDeterminism(t *testing.T) {
	v := newTestValidator(t)
	code := "import os\neval('1')\nopen('/tmp/x')\n"

	_, first := v.Validate(code)
	for i := 0; i < 5; i++ {
		_, again := v.Validate(code)
		assert.Equal(t, first, again)
	}
}

func TestValidateViolationPositions(t *testing.T) {
	v := newTestValidator(t)

	ok, violations := v.Validate("x = 1\nimport os\n")
	assert.False(t, ok)
	require.Len(t, violations, 1)
	assert.Equal(t, 2, violations[0].Line)
}

func TestValidateCapabilities(t *testing.T) {
	v := newTestValidator(t)

	t.Run("CapabilityExtendsAllowList", func(t *testing.T) {
		ok, _ := v.Validate("import finlab\n")
		assert.False(t, ok)

		ok, violations := v.Validate("import finlab\n", "finlab")
		assert.True(t, ok)
		assert.Empty(t, violations)
	})

	t.Run("CapabilityCoversNetworkingUse", func(t *testing.T) {
		code := "import requests\nr = requests.get('http://example.com')\n"

		ok, _ := v.Validate(code)
		assert.False(t, ok)

		ok, violations := v.Validate(code, "requests")
		assert.True(t, ok)
		assert.Empty(t, violations)
	})

	t.Run("CapabilityDoesNotLeakBetweenCalls", func(t *testing.T) {
		_, _ = v.Validate("import finlab\n", "finlab")
		ok, _ := v.Validate("import finlab\n")
		assert.False(t, ok)
	})
}

func TestWithAllowedModules(t *testing.T) {
	v := newTestValidator(t, WithAllowedModules("talib"))
	ok, violations := v.Validate("import talib\n")
	assert.True(t, ok)
	assert.Empty(t, violations)
}

func TestLoadAllowlist(t *testing.T) {
	t.Run("EmptyPath", func(t *testing.T) {
		modules, err := LoadAllowlist("")
		require.NoError(t, err)
		assert.Empty(t, modules)
	})

	t.Run("ValidFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "allowlist.yaml")
		require.NoError(t, os.WriteFile(path, []byte("allowed_modules:\n  - talib\n  - finlab\n"), 0o600))

		modules, err := LoadAllowlist(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"talib", "finlab"}, modules)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadAllowlist("/nonexistent/allowlist.yaml")
		require.Error(t, err)
	})

	t.Run("MalformedFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "allowlist.yaml")
		require.NoError(t, os.WriteFile(path, []byte("allowed_modules: {not a list"), 0o600))

		_, err := LoadAllowlist(path)
		require.Error(t, err)
	})
}
