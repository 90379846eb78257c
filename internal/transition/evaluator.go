package transition

import (
	"fmt"
	"slices"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/roach88/automata/internal/ir"
)

// DefaultCostLimit bounds the work a single evaluation may do.
const DefaultCostLimit = 100_000

// forbiddenFunctions would make evaluation depend on the wall clock.
var forbiddenFunctions = []string{"now", "timestamp", "duration"}

// Input is the event as seen by a transition.
type Input struct {
	Type string
	Data ir.State
}

// Evaluator compiles and runs transition expressions.
// Implementations must be pure: identical (expr, state, input) always
// yields identical output.
type Evaluator interface {
	// Compile checks expr without running it. Errors carry
	// CodeInvalidExpression.
	Compile(expr string) error

	// Evaluate applies expr to state and in. Errors carry
	// CodeInvalidExpression if expr does not compile and
	// CodeExecutionFailed otherwise. state is never modified.
	Evaluate(expr string, state ir.State, in Input) (ir.State, error)
}

// CELEvaluator implements Evaluator on google/cel-go.
type CELEvaluator struct {
	env       *cel.Env
	cache     *Cache
	costLimit uint64
}

// Option configures a CELEvaluator.
type Option func(*CELEvaluator)

// WithCostLimit overrides DefaultCostLimit.
func WithCostLimit(limit uint64) Option {
	return func(e *CELEvaluator) {
		e.costLimit = limit
	}
}

// NewCELEvaluator builds an evaluator that caches programs in cache.
// A nil cache gets a private one with default size and TTL.
func NewCELEvaluator(cache *Cache, opts ...Option) (*CELEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("state", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Function("merge",
			cel.Overload("merge_dyn_dyn",
				[]*cel.Type{cel.DynType, cel.DynType},
				cel.MapType(cel.StringType, cel.DynType),
				cel.BinaryBinding(mergeMaps),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("transition: new env: %w", err)
	}

	if cache == nil {
		cache = NewCache(0, 0)
	}
	e := &CELEvaluator{
		env:       env,
		cache:     cache,
		costLimit: DefaultCostLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Compile implements Evaluator.
func (e *CELEvaluator) Compile(expr string) error {
	_, err := e.program(expr)
	return err
}

// Evaluate implements Evaluator.
func (e *CELEvaluator) Evaluate(expr string, state ir.State, in Input) (ir.State, error) {
	prg, err := e.program(expr)
	if err != nil {
		return nil, err
	}

	data := in.Data
	if data == nil {
		data = ir.State{}
	}
	if state == nil {
		state = ir.State{}
	}

	out, _, err := prg.Eval(map[string]any{
		"state": map[string]any(state),
		"event": map[string]any{
			"type": in.Type,
			"data": map[string]any(data),
		},
	})
	if err != nil {
		return nil, executionFailed("evaluation failed", err)
	}
	return toState(out)
}

// program returns the cached program for expr, compiling on a miss.
func (e *CELEvaluator) program(expr string) (cel.Program, error) {
	if prg, ok := e.cache.get(expr); ok {
		return prg, nil
	}

	checked, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, invalidExpression("compile failed", issues.Err())
	}
	if err := checkPurity(checked); err != nil {
		return nil, err
	}
	switch checked.OutputType().Kind() {
	case types.MapKind, types.DynKind:
	default:
		return nil, invalidExpression(
			fmt.Sprintf("expression must produce an object, got %s", checked.OutputType()), nil)
	}

	prg, err := e.env.Program(checked, cel.CostLimit(e.costLimit))
	if err != nil {
		return nil, invalidExpression("program construction failed", err)
	}
	e.cache.add(expr, prg)
	return prg, nil
}

// checkPurity rejects calls that read the clock.
func checkPurity(checked *cel.Ast) error {
	var found string
	celast.PreOrderVisit(checked.NativeRep().Expr(), celast.NewExprVisitor(func(expr celast.Expr) {
		if found != "" || expr.Kind() != celast.CallKind {
			return
		}
		if name := expr.AsCall().FunctionName(); slices.Contains(forbiddenFunctions, name) {
			found = name
		}
	}))
	if found != "" {
		return invalidExpression(fmt.Sprintf("%s() is not allowed in a transition", found), nil)
	}
	return nil
}

// mergeMaps is the merge(a, b) binding: a shallow copy of a with every
// key of b written over it.
func mergeMaps(lhs, rhs ref.Val) ref.Val {
	a, ok := lhs.(traits.Mapper)
	if !ok {
		return types.NewErr("merge: first argument must be an object, got %s", lhs.Type())
	}
	b, ok := rhs.(traits.Mapper)
	if !ok {
		return types.NewErr("merge: second argument must be an object, got %s", rhs.Type())
	}

	out := make(map[ref.Val]ref.Val)
	for _, m := range []traits.Mapper{a, b} {
		it := m.Iterator()
		for it.HasNext() == types.True {
			k := it.Next()
			out[k] = m.Get(k)
		}
	}
	return types.NewRefValMap(types.DefaultTypeAdapter, out)
}

// toState converts a CEL result into a JSON-native State.
func toState(val ref.Val) (ir.State, error) {
	if _, ok := val.(traits.Mapper); !ok {
		return nil, executionFailed(fmt.Sprintf("transition must produce an object, got %s", val.Type()), nil)
	}
	native, err := val.ConvertToNative(types.JSONStructType)
	if err != nil {
		return nil, executionFailed("result is not representable as JSON", err)
	}
	st, ok := native.(*structpb.Struct)
	if !ok {
		return nil, executionFailed(fmt.Sprintf("unexpected result type %T", native), nil)
	}
	return ir.State(st.AsMap()), nil
}
