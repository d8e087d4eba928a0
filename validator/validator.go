package validator

import (
	"github.com/go-python/gpython/ast"
	"github.com/go-python/gpython/parser"
	"github.com/go-python/gpython/py"
	"go.uber.org/zap"
)

// Validator performs static analysis on candidate code before any
// execution resource is allocated. It has no side effects: the same code
// string always yields the same violation set.
type Validator struct {
	logger  *zap.Logger
	allowed map[string]bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithAllowedModules extends the built-in import allow-list.
func WithAllowedModules(modules ...string) Option {
	return func(v *Validator) {
		for _, m := range modules {
			v.allowed[moduleRoot(m)] = true
		}
	}
}

// New creates a Validator with the built-in allow-list plus any options.
func New(logger *zap.Logger, opts ...Option) *Validator {
	v := &Validator{
		logger:  logger,
		allowed: make(map[string]bool, len(defaultAllowedModules)),
	}
	for _, m := range defaultAllowedModules {
		v.allowed[m] = true
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// scan carries per-call state through the AST walk.
type scan struct {
	allowed    map[string]bool
	violations []Violation
}

// Validate parses the code and walks its AST once, collecting every
// violation rather than stopping at the first. extraAllowed names
// request-scoped capability modules permitted on top of the allow-list.
//
// A parse failure yields a single syntax violation and no further analysis.
func (v *Validator) Validate(code string, extraAllowed ...string) (bool, []Violation) {
	tree, err := parser.ParseString(code, py.ExecMode)
	if err != nil {
		v.logger.Debug("candidate code failed to parse", zap.Error(err))
		return false, []Violation{{
			Kind:    RuleSyntaxError,
			Message: err.Error(),
		}}
	}

	s := &scan{allowed: v.allowed}
	if len(extraAllowed) > 0 {
		s.allowed = make(map[string]bool, len(v.allowed)+len(extraAllowed))
		for m := range v.allowed {
			s.allowed[m] = true
		}
		for _, m := range extraAllowed {
			s.allowed[moduleRoot(m)] = true
		}
	}

	ast.Walk(tree, func(node ast.Ast) bool {
		for _, r := range rules {
			s.violations = append(s.violations, r.match(s, node)...)
		}
		return true
	})

	if len(s.violations) > 0 {
		v.logger.Info("candidate code rejected",
			zap.Int("violations", len(s.violations)),
			zap.String("first", s.violations[0].String()))
		return false, s.violations
	}
	return true, nil
}
