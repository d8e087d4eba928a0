package validator

import (
	"fmt"
	"strings"

	"github.com/go-python/gpython/ast"
)

// RuleKind identifies which restriction a violation belongs to.
type RuleKind string

const (
	RuleBlockedImport        RuleKind = "blocked_import"
	RuleBlockedCall          RuleKind = "blocked_call"
	RuleDynamicImport        RuleKind = "dynamic_import"
	RuleSyntaxError          RuleKind = "syntax_error"
	RuleDisallowedFileAccess RuleKind = "disallowed_file_access"
)

// Violation is a single rule breach found during static analysis.
type Violation struct {
	Kind    RuleKind
	Message string
	Line    int
	Column  int
}

func (v Violation) String() string {
	if v.Line > 0 {
		return fmt.Sprintf("%s at %d:%d: %s", v.Kind, v.Line, v.Column, v.Message)
	}
	return fmt.Sprintf("%s: %s", v.Kind, v.Message)
}

// ScratchPrefix is the only path prefix candidate code may open files under.
const ScratchPrefix = "/scratch/"

// defaultAllowedModules is the built-in import allow-list: data and numeric
// libraries only. Request capabilities extend it per call.
var defaultAllowedModules = []string{
	"math",
	"statistics",
	"random",
	"datetime",
	"json",
	"collections",
	"itertools",
	"functools",
	"numpy",
	"pandas",
}

// dynamicEvalNames are callables that would let candidate code escape
// static analysis entirely.
var dynamicEvalNames = map[string]bool{
	"eval":       true,
	"exec":       true,
	"compile":    true,
	"__import__": true,
}

// networkingNames are modules and primitives whose mere mention is a
// violation: the sandbox has no network, code referencing these is either
// broken or probing.
var networkingNames = map[string]bool{
	"socket":    true,
	"ssl":       true,
	"http":      true,
	"urllib":    true,
	"urllib2":   true,
	"urllib3":   true,
	"requests":  true,
	"httplib":   true,
	"ftplib":    true,
	"smtplib":   true,
	"telnetlib": true,
	"aiohttp":   true,
	"websocket": true,
	"paramiko":  true,
}

// rule pairs a RuleKind with its matcher. New restrictions are rows in this
// table, not branches in the walk.
type rule struct {
	kind  RuleKind
	match func(s *scan, node ast.Ast) []Violation
}

var rules = []rule{
	{RuleBlockedImport, matchBlockedImport},
	{RuleDynamicImport, matchDynamicImport},
	{RuleDisallowedFileAccess, matchFileAccess},
	{RuleBlockedCall, matchNetworkingReference},
}

func matchBlockedImport(s *scan, node ast.Ast) []Violation {
	var out []Violation
	switch n := node.(type) {
	case *ast.Import:
		for _, alias := range n.Names {
			root := moduleRoot(string(alias.Name))
			if !s.allowed[root] {
				out = append(out, violationAt(RuleBlockedImport, n.Pos,
					fmt.Sprintf("import of %q is not in the allow-list", alias.Name)))
			}
		}
	case *ast.ImportFrom:
		if n.Level > 0 {
			out = append(out, violationAt(RuleBlockedImport, n.Pos,
				"relative imports are not permitted"))
			return out
		}
		root := moduleRoot(string(n.Module))
		if !s.allowed[root] {
			out = append(out, violationAt(RuleBlockedImport, n.Pos,
				fmt.Sprintf("import from %q is not in the allow-list", n.Module)))
		}
	}
	return out
}

func matchDynamicImport(s *scan, node ast.Ast) []Violation {
	call, ok := node.(*ast.Call)
	if !ok {
		return nil
	}
	name, ok := calleeName(call)
	if !ok || !dynamicEvalNames[name] {
		return nil
	}
	return []Violation{violationAt(RuleDynamicImport, call.Pos,
		fmt.Sprintf("call to %s bypasses static analysis", name))}
}

func matchFileAccess(s *scan, node ast.Ast) []Violation {
	call, ok := node.(*ast.Call)
	if !ok {
		return nil
	}

	switch fn := call.Func.(type) {
	case *ast.Name:
		if string(fn.Id) != "open" {
			return nil
		}
	case *ast.Attribute:
		if string(fn.Attr) != "open" {
			return nil
		}
		// No way to prove where an indirect open points; deny.
		return []Violation{violationAt(RuleDisallowedFileAccess, call.Pos,
			"indirect open call cannot be proven safe")}
	default:
		return nil
	}

	if len(call.Args) == 0 {
		return []Violation{violationAt(RuleDisallowedFileAccess, call.Pos,
			"open call without a path argument")}
	}

	lit, ok := call.Args[0].(*ast.Str)
	if !ok {
		return []Violation{violationAt(RuleDisallowedFileAccess, call.Pos,
			"open path must be a string literal")}
	}

	path := string(lit.S)
	if !strings.HasPrefix(path, ScratchPrefix) {
		return []Violation{violationAt(RuleDisallowedFileAccess, call.Pos,
			fmt.Sprintf("open path %q is outside the scratch area", path))}
	}
	if strings.Contains(path, "..") {
		return []Violation{violationAt(RuleDisallowedFileAccess, call.Pos,
			fmt.Sprintf("open path %q contains a parent reference", path))}
	}
	return nil
}

func matchNetworkingReference(s *scan, node ast.Ast) []Violation {
	name, ok := node.(*ast.Name)
	if !ok || !networkingNames[string(name.Id)] {
		return nil
	}
	// A capability grant covers uses of the module, not just its import.
	if s.allowed[string(name.Id)] {
		return nil
	}
	return []Violation{violationAt(RuleBlockedCall, name.Pos,
		fmt.Sprintf("reference to networking primitive %q", name.Id))}
}

// calleeName resolves the terminal name of a call target, following
// attribute access chains so that builtins.eval(...) is caught the same as
// eval(...).
func calleeName(call *ast.Call) (string, bool) {
	switch fn := call.Func.(type) {
	case *ast.Name:
		return string(fn.Id), true
	case *ast.Attribute:
		return string(fn.Attr), true
	default:
		return "", false
	}
}

// moduleRoot returns the first dotted segment of a module path, the unit at
// which the allow-list operates ("urllib.request" -> "urllib").
func moduleRoot(module string) string {
	if i := strings.IndexByte(module, '.'); i >= 0 {
		return module[:i]
	}
	return module
}

func violationAt(kind RuleKind, pos ast.Pos, message string) Violation {
	return Violation{
		Kind:    kind,
		Message: message,
		Line:    pos.Lineno,
		Column:  pos.ColOffset,
	}
}
