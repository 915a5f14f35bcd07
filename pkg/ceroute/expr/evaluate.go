package expr

import (
	"fmt"
	"strings"
)

// BinaryOp is a function that compares two values and returns a boolean result.
type BinaryOp func(left, right any) bool

// Evaluator evaluates boolean expressions with optional custom operators.
type Evaluator struct {
	customOps map[string]BinaryOp
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCustomOperator registers a custom binary operator written as a word
// between its operands ("source under '/orders'").
func WithCustomOperator(name string, fn BinaryOp) Option {
	return func(e *Evaluator) {
		if e.customOps == nil {
			e.customOps = make(map[string]BinaryOp)
		}
		e.customOps[name] = fn
	}
}

// New creates a new Evaluator with the given options.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate evaluates a boolean expression against the provided variables.
func (e *Evaluator) Evaluate(expr string, vars map[string]any) (bool, error) {
	return e.evaluateCondition(expr, vars)
}

// Eval is a convenience function that evaluates an expression using
// the default evaluator (no custom operators).
func Eval(expr string, vars map[string]any) (bool, error) {
	return New().Evaluate(expr, vars)
}

// Check reports syntax problems without evaluating: empty expressions,
// unbalanced quotes, operators missing an operand and invalid regular
// expressions. Routers call it when a configuration is loaded so a broken
// rule is rejected before any event reaches it.
func (e *Evaluator) Check(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return fmt.Errorf("empty expression")
	}
	if quotesUnbalanced(expr) {
		return fmt.Errorf("unbalanced quotes in %q", expr)
	}
	return e.check(expr)
}

func (e *Evaluator) check(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return fmt.Errorf("missing operand")
	}
	if inner, ok := cutNegation(expr); ok {
		return e.check(inner)
	}
	for _, sep := range []string{" and ", " or "} {
		if left, right, ok := splitOutsideQuotes(expr, sep); ok {
			if err := e.check(left); err != nil {
				return err
			}
			return e.check(right)
		}
	}
	for _, op := range e.operators() {
		left, right, ok := splitOutsideQuotes(expr, op.token)
		if !ok {
			continue
		}
		if strings.TrimSpace(left) == "" || strings.TrimSpace(right) == "" {
			return fmt.Errorf("operator %q is missing an operand in %q", strings.TrimSpace(op.token), expr)
		}
		if op.token == " matches " && isQuoted(right) {
			if _, err := compileLiteral(fmt.Sprint(Resolve(right, nil))); err != nil {
				return fmt.Errorf("invalid pattern in %q: %w", expr, err)
			}
		}
		return nil
	}
	return nil
}

// evaluateCondition evaluates a condition expression.
func (e *Evaluator) evaluateCondition(expr string, vars map[string]any) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, nil
	}

	if inner, ok := cutNegation(expr); ok {
		result, err := e.evaluateCondition(inner, vars)
		if err != nil {
			return false, err
		}
		return !result, nil
	}

	// "and" binds looser than "or" here: the expression is split at the
	// first "and" outside quotes, then at the first "or".
	if left, right, ok := splitOutsideQuotes(expr, " and "); ok {
		l, err := e.evaluateCondition(left, vars)
		if err != nil || !l {
			return false, err
		}
		return e.evaluateCondition(right, vars)
	}
	if left, right, ok := splitOutsideQuotes(expr, " or "); ok {
		l, err := e.evaluateCondition(left, vars)
		if err != nil {
			return false, err
		}
		if l {
			return true, nil
		}
		return e.evaluateCondition(right, vars)
	}

	for _, op := range e.operators() {
		if left, right, ok := splitOutsideQuotes(expr, op.token); ok {
			if op.token == " matches " && isQuoted(right) {
				_, _ = compileLiteral(fmt.Sprint(Resolve(right, nil)))
			}
			return op.compare(Resolve(left, vars), Resolve(right, vars)), nil
		}
	}

	return IsTruthy(Resolve(expr, vars)), nil
}

type operator struct {
	token   string
	compare BinaryOp
}

// operators returns the built-in operators, longer tokens first to avoid
// partial matches, followed by custom ones.
func (e *Evaluator) operators() []operator {
	ops := []operator{
		{"==", compareEquals},
		{"!=", compareNotEquals},
		{">=", compareGTE},
		{"<=", compareLTE},
		{">", compareGT},
		{"<", compareLT},
		{" contains ", compareContains},
		{" startswith ", compareStartsWith},
		{" endswith ", compareEndsWith},
		{" matches ", compareMatches},
	}
	for name, fn := range e.customOps {
		ops = append(ops, operator{token: " " + name + " ", compare: fn})
	}
	return ops
}

func cutNegation(expr string) (string, bool) {
	if rest, ok := strings.CutPrefix(expr, "not "); ok {
		return strings.TrimSpace(rest), true
	}
	if rest, ok := strings.CutPrefix(expr, "!"); ok && !strings.HasPrefix(rest, "=") {
		return strings.TrimSpace(rest), true
	}
	return "", false
}

// splitOutsideQuotes splits s at the first occurrence of sep that is not
// inside a quoted literal.
func splitOutsideQuotes(s, sep string) (string, string, bool) {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case strings.HasPrefix(s[i:], sep):
			return s[:i], s[i+len(sep):], true
		}
	}
	return "", "", false
}

// isQuoted reports whether s is a single quoted literal.
func isQuoted(s string) bool {
	s = strings.TrimSpace(s)
	return len(s) >= 2 &&
		((s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"'))
}

func quotesUnbalanced(s string) bool {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		}
	}
	return quote != 0
}
