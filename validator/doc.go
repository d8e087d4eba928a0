// Package validator provides pre-execution static analysis of candidate code.
//
// The validator parses untrusted Python source into an AST and walks it
// once against a tagged rule table: imports outside a data/numeric
// allow-list, dynamic evaluation (eval, exec, compile, __import__,
// including attribute access chains), file opens not provably confined to
// the scratch area, and any reference to networking primitives. All
// violations are collected in a single pass so a caller can report
// everything wrong at once.
//
// The validator is the only gate that can reject work before any isolation
// resource is allocated; it has no side effects and is deterministic for a
// given code string.
package validator
