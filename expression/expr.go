package expression

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// allowedOperators lists the binary operators accepted by the restricted
// grammar: comparison, logic, membership and basic arithmetic.
var allowedOperators = map[string]bool{
	"==": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true,
	"&&": true, "||": true, "and": true, "or": true,
	"in": true, "contains": true, "startsWith": true, "endsWith": true, "matches": true,
	"+": true, "-": true, "*": true, "/": true, "%": true, "??": true,
}

// ExprScript is a compiled expression.
type ExprScript struct {
	source  string
	program *vm.Program
}

// Source returns the expression source text.
func (s *ExprScript) Source() string {
	return s.source
}

func (s *ExprScript) Evaluate(ctx context.Context, env map[string]any) (Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if env == nil {
		env = map[string]any{}
	}
	out, err := expr.Run(s.program, env)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", s.source, err)
	}
	return NewValue(out), nil
}

// ExprEngine compiles expressions written in the restricted grammar. Only
// variable lookup, member access, literals, comparison, logic, membership and
// ternary conditionals are accepted. Function calls, closures, builtins,
// predicates, variable declarations and sequences are rejected before the
// expression is ever compiled.
type ExprEngine struct {
	mutex sync.RWMutex
	cache map[string]*ExprScript
}

// NewExprEngine returns a new engine with an empty compile cache.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: map[string]*ExprScript{}}
}

func (e *ExprEngine) Compile(ctx context.Context, code string) (Script, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("expression is empty")
	}

	e.mutex.RLock()
	cached, ok := e.cache[code]
	e.mutex.RUnlock()
	if ok {
		return cached, nil
	}

	if err := CheckGrammar(code); err != nil {
		return nil, err
	}
	program, err := expr.Compile(code, expr.AllowUndefinedVariables(), expr.DisableAllBuiltins())
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", code, err)
	}
	script := &ExprScript{source: code, program: program}

	e.mutex.Lock()
	e.cache[code] = script
	e.mutex.Unlock()
	return script, nil
}

// CheckGrammar parses the expression and verifies that it only uses the
// restricted grammar.
func CheckGrammar(code string) error {
	tree, err := parser.Parse(code)
	if err != nil {
		return fmt.Errorf("failed to parse expression %q: %w", code, err)
	}
	guard := &grammarGuard{}
	ast.Walk(&tree.Node, guard)
	if guard.err != nil {
		return fmt.Errorf("expression %q rejected: %w", code, guard.err)
	}
	return nil
}

type grammarGuard struct {
	err error
}

func (g *grammarGuard) Visit(node *ast.Node) {
	if g.err != nil {
		return
	}
	switch n := (*node).(type) {
	case *ast.NilNode, *ast.IdentifierNode, *ast.IntegerNode, *ast.FloatNode,
		*ast.BoolNode, *ast.StringNode, *ast.ConstantNode, *ast.UnaryNode,
		*ast.ConditionalNode, *ast.ArrayNode, *ast.MapNode, *ast.PairNode,
		*ast.MemberNode, *ast.ChainNode, *ast.SliceNode:
	case *ast.BinaryNode:
		if !allowedOperators[n.Operator] {
			g.err = fmt.Errorf("operator %q is not supported", n.Operator)
		}
	case *ast.CallNode, *ast.BuiltinNode:
		g.err = fmt.Errorf("function calls are not supported")
	case *ast.PredicateNode, *ast.PointerNode:
		g.err = fmt.Errorf("closures and predicates are not supported")
	case *ast.VariableDeclaratorNode:
		g.err = fmt.Errorf("variable declarations are not supported")
	default:
		g.err = fmt.Errorf("unsupported syntax %T", n)
	}
}

// Evaluate compiles and evaluates an expression in a single call.
func Evaluate(ctx context.Context, compiler Compiler, code string, env map[string]any) (Value, error) {
	script, err := compiler.Compile(ctx, code)
	if err != nil {
		return nil, err
	}
	return script.Evaluate(ctx, env)
}
