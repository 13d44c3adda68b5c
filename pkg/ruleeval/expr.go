package ruleeval

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Expr is a CEL boolean expression over the candidate. The variables in scope
// are value, industry, source, tier, kind, age_minutes and attrs.
type Expr struct{ Source string }

func (Expr) Kind() Kind   { return KindExpr }
func (Expr) isPredicate() {}

var newExprEnv = func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("value", cel.DoubleType),
		cel.Variable("industry", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("tier", cel.StringType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("age_minutes", cel.DoubleType),
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.StringType)),
	)
}

// exprProgramCache holds compiled programs keyed by trimmed source. Compile
// failures are not cached.
var exprProgramCache sync.Map

func (e Expr) program() (cel.Program, error) {
	src := strings.TrimSpace(e.Source)
	if src == "" {
		return nil, errors.New("expr: expression required")
	}
	if cached, ok := exprProgramCache.Load(src); ok {
		return cached.(cel.Program), nil
	}
	program, err := compileExpr(src)
	if err != nil {
		return nil, err
	}
	actual, _ := exprProgramCache.LoadOrStore(src, program)
	return actual.(cel.Program), nil
}

func compileExpr(src string) (cel.Program, error) {
	env, err := newExprEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, errors.New("expr: " + issues.Err().Error())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.New("expr: expression must evaluate to bool")
	}
	return env.Program(ast)
}

func (e Expr) eval(c Candidate) bool {
	program, err := e.program()
	if err != nil {
		return false
	}
	attrs := c.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	out, _, err := program.Eval(map[string]any{
		"value":       c.Value,
		"industry":    c.Industry,
		"source":      c.Source,
		"tier":        c.Tier,
		"kind":        string(c.Kind),
		"age_minutes": c.Age.Minutes(),
		"attrs":       attrs,
	})
	if err != nil {
		return false
	}
	v, ok := out.Value().(bool)
	return ok && v
}
