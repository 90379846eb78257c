package transition

import (
	"slices"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/types"
)

// ReferencedEventTypes parses expr and returns, sorted and deduplicated,
// the string literals it compares event.type against: operands of == and
// != and elements of a list on the right of `in`. Only the syntax is
// examined, so expr need not type-check.
func ReferencedEventTypes(expr string) ([]string, error) {
	env, err := cel.NewEnv()
	if err != nil {
		return nil, invalidExpression("environment setup failed", err)
	}
	parsed, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, invalidExpression("parse failed", iss.Err())
	}

	var found []string
	celast.PreOrderVisit(parsed.NativeRep().Expr(), celast.NewExprVisitor(func(e celast.Expr) {
		if e.Kind() != celast.CallKind {
			return
		}
		call := e.AsCall()
		args := call.Args()
		if len(args) != 2 {
			return
		}
		switch call.FunctionName() {
		case operators.Equals, operators.NotEquals:
			if isEventType(args[0]) {
				found = appendLiteral(found, args[1])
			} else if isEventType(args[1]) {
				found = appendLiteral(found, args[0])
			}
		case operators.In:
			if isEventType(args[0]) && args[1].Kind() == celast.ListKind {
				for _, el := range args[1].AsList().Elements() {
					found = appendLiteral(found, el)
				}
			}
		}
	}))

	slices.Sort(found)
	return slices.Compact(found), nil
}

// isEventType matches the selection event.type.
func isEventType(e celast.Expr) bool {
	if e.Kind() != celast.SelectKind {
		return false
	}
	sel := e.AsSelect()
	op := sel.Operand()
	return sel.FieldName() == "type" && op.Kind() == celast.IdentKind && op.AsIdent() == "event"
}

func appendLiteral(found []string, e celast.Expr) []string {
	if e.Kind() != celast.LiteralKind {
		return found
	}
	if s, ok := e.AsLiteral().(types.String); ok {
		return append(found, string(s))
	}
	return found
}
